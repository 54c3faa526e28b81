package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	estimator "greenhouse-brain/internal/estimator/domain"
	telemetry "greenhouse-brain/internal/telemetry/domain"
)

const maxLineBytes = 4 << 20

// MalformedPolicy decides what the reader does with a line it cannot decode.
type MalformedPolicy int

const (
	// SkipMalformed logs and skips the line.
	SkipMalformed MalformedPolicy = iota
	// FailFast returns a *LineError.
	FailFast
)

// LineError reports a malformed line.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("jsonl: malformed line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Input is one replayed estimation call.
type Input struct {
	Line         int                     `json:"-"`
	Observation  telemetry.Observation   `json:"observation"`
	DeviceStatus telemetry.DeviceStatus  `json:"device_status"`
	Cycle        *estimator.CycleContext `json:"cycle,omitempty"`
}

// Reader reads paired observation/device_status lines.
type Reader struct {
	scanner *bufio.Scanner
	policy  MalformedPolicy
	logger  logrus.FieldLogger
	line    int
	skipped int
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithPolicy sets the malformed line policy.
func WithPolicy(policy MalformedPolicy) ReaderOption {
	return func(r *Reader) {
		r.policy = policy
	}
}

// WithLogger sets the logger for skipped lines.
func WithLogger(logger logrus.FieldLogger) ReaderOption {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReader constructs a reader over src.
func NewReader(src io.Reader, opts ...ReaderOption) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	r := &Reader{scanner: scanner, logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next returns the next input, or io.EOF when the stream is exhausted.
func (r *Reader) Next() (Input, error) {
	for r.scanner.Scan() {
		r.line++
		raw := bytes.TrimSpace(r.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		input, err := decodeInput(raw)
		if err == nil {
			input.Line = r.line
			return input, nil
		}
		lineErr := &LineError{Line: r.line, Err: err}
		if r.policy == FailFast {
			return Input{}, lineErr
		}
		r.skipped++
		r.logger.WithError(err).WithField("line", r.line).Warn("skipping malformed jsonl line")
	}
	if err := r.scanner.Err(); err != nil {
		return Input{}, err
	}
	return Input{}, io.EOF
}

// Skipped returns the number of malformed lines skipped so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

func decodeInput(raw []byte) (Input, error) {
	var envelope struct {
		Observation  json.RawMessage         `json:"observation"`
		DeviceStatus json.RawMessage         `json:"device_status"`
		Cycle        *estimator.CycleContext `json:"cycle"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Input{}, err
	}
	if len(envelope.Observation) == 0 || len(envelope.DeviceStatus) == 0 {
		return Input{}, errors.New("observation and device_status required")
	}
	var input Input
	if err := json.Unmarshal(envelope.Observation, &input.Observation); err != nil {
		return Input{}, fmt.Errorf("observation: %w", err)
	}
	if err := json.Unmarshal(envelope.DeviceStatus, &input.DeviceStatus); err != nil {
		return Input{}, fmt.Errorf("device_status: %w", err)
	}
	if input.Observation.SchemaVersion != telemetry.ObservationSchemaV1 {
		return Input{}, fmt.Errorf("observation schema_version %q", input.Observation.SchemaVersion)
	}
	if input.DeviceStatus.SchemaVersion != telemetry.DeviceStatusSchemaV1 {
		return Input{}, fmt.Errorf("device_status schema_version %q", input.DeviceStatus.SchemaVersion)
	}
	input.Cycle = envelope.Cycle
	return input, nil
}
