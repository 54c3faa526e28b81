package telemetry

import "errors"

// ErrInvalidInput indicates a malformed observation or device status.
// Callers receive it wrapped with the offending field.
var ErrInvalidInput = errors.New("invalid input")
