package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// FilterStats reports what FilterFields did.
type FilterStats struct {
	Written int
	Skipped int
}

// FilterFields copies src to dst keeping only the whitelisted top-level fields
// of every line. Malformed lines and lines that are not JSON objects are skipped.
func FilterFields(src io.Reader, dst io.Writer, fields []string) (FilterStats, error) {
	var stats FilterStats
	allowed := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		allowed[field] = struct{}{}
	}

	writer := NewWriter(dst)
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var record map[string]json.RawMessage
		if err := json.Unmarshal(raw, &record); err != nil {
			stats.Skipped++
			continue
		}
		for key := range record {
			if _, ok := allowed[key]; !ok {
				delete(record, key)
			}
		}
		if err := writer.Write(record); err != nil {
			return stats, err
		}
		stats.Written++
	}
	if err := scanner.Err(); err != nil {
		return stats, err
	}
	return stats, writer.Flush()
}
