package alarms

import "errors"

// ErrInvalidRule indicates an anomaly rule that fails validation.
var ErrInvalidRule = errors.New("anomaly rule: invalid")
