package alarms

import (
	"fmt"
	"time"
)

// Operator compares a reading with a threshold.
type Operator string

const (
	OperatorGreater        Operator = ">"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLess           Operator = "<"
	OperatorLessOrEqual    Operator = "<="
)

// RuleKind selects how a rule is evaluated.
type RuleKind string

const (
	// KindThreshold compares the current value, optionally sustained over a duration.
	KindThreshold RuleKind = "threshold"
	// KindRate compares the change against the earliest reading in a window.
	KindRate RuleKind = "rate"
)

// RateDirection restricts which changes a rate rule reacts to.
type RateDirection string

const (
	DirectionAny  RateDirection = "any"
	DirectionDrop RateDirection = "drop"
	DirectionRise RateDirection = "rise"
)

// MetricEachSoilProbe expands a rule over every reporting soil probe.
const MetricEachSoilProbe = "soil_moisture_probe"

// Escalation raises the severity once the value passes a more extreme threshold.
type Escalation struct {
	Threshold float64  `json:"threshold" yaml:"threshold" toml:"threshold"`
	Severity  Severity `json:"severity" yaml:"severity" toml:"severity"`
}

// AnomalyRule defines a threshold or rate based anomaly rule.
type AnomalyRule struct {
	Type            string        `json:"type" yaml:"type" toml:"type" validate:"required"`
	Metric          string        `json:"metric" yaml:"metric" toml:"metric" validate:"required"`
	Kind            RuleKind      `json:"kind" yaml:"kind" toml:"kind"`
	Operator        Operator      `json:"operator,omitempty" yaml:"operator,omitempty" toml:"operator,omitempty"`
	Threshold       float64       `json:"threshold" yaml:"threshold" toml:"threshold"`
	DurationSeconds int           `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty" toml:"duration_seconds,omitempty" validate:"gte=0"`
	WindowSeconds   int           `json:"window_seconds,omitempty" yaml:"window_seconds,omitempty" toml:"window_seconds,omitempty" validate:"gte=0"`
	Direction       RateDirection `json:"direction,omitempty" yaml:"direction,omitempty" toml:"direction,omitempty"`
	Severity        Severity      `json:"severity" yaml:"severity" toml:"severity"`
	Escalations     []Escalation  `json:"escalations,omitempty" yaml:"escalations,omitempty" toml:"escalations,omitempty"`
	Responses       []string      `json:"responses,omitempty" yaml:"responses,omitempty" toml:"responses,omitempty"`
	Disabled        bool          `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled,omitempty"`
}

// Duration returns the sustain duration.
func (r AnomalyRule) Duration() time.Duration {
	return time.Duration(r.DurationSeconds) * time.Second
}

// Window returns the rate window.
func (r AnomalyRule) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// EffectiveKind defaults an empty kind to threshold.
func (r AnomalyRule) EffectiveKind() RuleKind {
	if r.Kind == "" {
		return KindThreshold
	}
	return r.Kind
}

// Validate checks rule invariants, including severity monotonicity: every
// escalation must be strictly more extreme and strictly more severe than the
// level before it.
func (r AnomalyRule) Validate() error {
	if r.Type == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidRule)
	}
	if r.Metric == "" {
		return fmt.Errorf("%w: %s: empty metric", ErrInvalidRule, r.Type)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("%w: %s: invalid severity", ErrInvalidRule, r.Type)
	}
	switch r.EffectiveKind() {
	case KindThreshold:
		if !r.Operator.Valid() {
			return fmt.Errorf("%w: %s: invalid operator %q", ErrInvalidRule, r.Type, r.Operator)
		}
		if r.DurationSeconds < 0 {
			return fmt.Errorf("%w: %s: negative duration", ErrInvalidRule, r.Type)
		}
	case KindRate:
		if r.WindowSeconds <= 0 {
			return fmt.Errorf("%w: %s: rate rule needs a window", ErrInvalidRule, r.Type)
		}
		if r.Threshold <= 0 {
			return fmt.Errorf("%w: %s: rate threshold must be positive", ErrInvalidRule, r.Type)
		}
		switch r.effectiveDirection() {
		case DirectionAny, DirectionDrop, DirectionRise:
		default:
			return fmt.Errorf("%w: %s: invalid direction %q", ErrInvalidRule, r.Type, r.Direction)
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidRule, r.Type, r.Kind)
	}

	prevThreshold, prevSeverity := r.Threshold, r.Severity
	for _, esc := range r.Escalations {
		if !esc.Severity.Valid() || esc.Severity <= prevSeverity {
			return fmt.Errorf("%w: %s: escalation severity must increase", ErrInvalidRule, r.Type)
		}
		if !r.moreExtreme(esc.Threshold, prevThreshold) {
			return fmt.Errorf("%w: %s: escalation threshold %.3f not beyond %.3f", ErrInvalidRule, r.Type, esc.Threshold, prevThreshold)
		}
		prevThreshold, prevSeverity = esc.Threshold, esc.Severity
	}
	return nil
}

// Grade returns the severity and threshold of the most extreme level breached by
// value. It assumes the base condition already holds.
func (r AnomalyRule) Grade(value float64) (Severity, float64) {
	severity, threshold := r.Severity, r.Threshold
	for _, esc := range r.Escalations {
		if !r.breaches(value, esc.Threshold) {
			break
		}
		severity, threshold = esc.Severity, esc.Threshold
	}
	return severity, threshold
}

func (r AnomalyRule) breaches(value, threshold float64) bool {
	if r.EffectiveKind() == KindRate {
		return value > threshold
	}
	return r.Operator.Compare(value, threshold)
}

func (r AnomalyRule) moreExtreme(candidate, previous float64) bool {
	if r.EffectiveKind() == KindRate {
		return candidate > previous
	}
	switch r.Operator {
	case OperatorGreater, OperatorGreaterOrEqual:
		return candidate > previous
	case OperatorLess, OperatorLessOrEqual:
		return candidate < previous
	default:
		return false
	}
}

func (r AnomalyRule) effectiveDirection() RateDirection {
	if r.Direction == "" {
		return DirectionAny
	}
	return r.Direction
}

// RateChange converts a signed change into the magnitude the rule compares.
func (r AnomalyRule) RateChange(delta float64) float64 {
	switch r.effectiveDirection() {
	case DirectionDrop:
		return -delta
	case DirectionRise:
		return delta
	default:
		if delta < 0 {
			return -delta
		}
		return delta
	}
}

// Valid returns true when operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OperatorGreater, OperatorGreaterOrEqual, OperatorLess, OperatorLessOrEqual:
		return true
	default:
		return false
	}
}

// Compare applies the operator as value <op> threshold.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OperatorGreater:
		return value > threshold
	case OperatorGreaterOrEqual:
		return value >= threshold
	case OperatorLess:
		return value < threshold
	case OperatorLessOrEqual:
		return value <= threshold
	default:
		return false
	}
}
