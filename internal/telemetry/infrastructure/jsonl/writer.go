package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Writer appends one JSON record per line.
type Writer struct {
	mu   sync.Mutex
	buf  *bufio.Writer
	enc  *json.Encoder
	file *os.File
	sync bool
}

// NewWriter writes records to dst.
func NewWriter(dst io.Writer) *Writer {
	buf := bufio.NewWriter(dst)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &Writer{buf: buf, enc: enc}
}

// OpenFile appends to path, creating parent directories. With fsync set every
// Write is flushed to stable storage before returning.
func OpenFile(path string, fsync bool) (*Writer, error) {
	if path == "" {
		return nil, errors.New("jsonl: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	w := NewWriter(file)
	w.file = file
	w.sync = fsync
	return w, nil
}

// Write encodes record as one line.
func (w *Writer) Write(record any) error {
	if w == nil {
		return errors.New("jsonl: nil writer")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(record); err != nil {
		return err
	}
	if !w.sync {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Flush writes buffered lines to the destination.
func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes and closes the file opened by OpenFile.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
