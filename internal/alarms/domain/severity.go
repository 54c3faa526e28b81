package alarms

import (
	"fmt"
	"strings"
)

// Severity is an ordered anomaly level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
	SeverityCrit
)

var severityNames = [...]string{"INFO", "WARN", "ERROR", "CRIT"}

// String returns the wire name of the severity.
func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCrit {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

// Valid reports whether s is a known level.
func (s Severity) Valid() bool {
	return s >= SeverityInfo && s <= SeverityCrit
}

// ParseSeverity parses a wire name, case-insensitively.
func ParseSeverity(value string) (Severity, error) {
	upper := strings.ToUpper(strings.TrimSpace(value))
	for i, name := range severityNames {
		if name == upper {
			return Severity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("anomaly: unknown severity %q", value)
}

// MarshalText encodes the wire name.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("anomaly: invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes the wire name.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
