package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	alarms "greenhouse-brain/internal/alarms/domain"
	estimator "greenhouse-brain/internal/estimator/domain"
	health "greenhouse-brain/internal/health/domain"
)

// Outputs groups estimator records read back from a JSONL file.
type Outputs struct {
	States    []estimator.State
	Anomalies []alarms.Anomaly
	Health    []health.SensorHealth
	// Unknown counts lines with an unrecognized schema_version.
	Unknown int
}

// ReadOutputs decodes state, anomaly and sensor health lines, dispatching on
// schema_version. A line that fails to decode aborts with a *LineError.
func ReadOutputs(src io.Reader) (Outputs, error) {
	var out Outputs
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var head struct {
			SchemaVersion string `json:"schema_version"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return out, &LineError{Line: line, Err: err}
		}
		var err error
		switch head.SchemaVersion {
		case estimator.StateSchemaV1:
			var state estimator.State
			if err = json.Unmarshal(raw, &state); err == nil {
				out.States = append(out.States, state)
			}
		case alarms.SchemaV1:
			var anomaly alarms.Anomaly
			if err = json.Unmarshal(raw, &anomaly); err == nil {
				out.Anomalies = append(out.Anomalies, anomaly)
			}
		case health.SchemaV1:
			var record health.SensorHealth
			if err = json.Unmarshal(raw, &record); err == nil {
				out.Health = append(out.Health, record)
			}
		default:
			out.Unknown++
		}
		if err != nil {
			return out, &LineError{Line: line, Err: fmt.Errorf("%s: %w", head.SchemaVersion, err)}
		}
	}
	return out, scanner.Err()
}
