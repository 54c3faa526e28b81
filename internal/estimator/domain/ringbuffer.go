package estimator

import (
	"math"
	"time"
)

// Default history bounds.
const (
	DefaultRetention        = 48 * time.Hour
	DefaultDiscontinuityGap = 12 * time.Hour
)

// ContinuityKind classifies an incoming timestamp against the buffer head.
type ContinuityKind string

const (
	ContinuityOK        ContinuityKind = "ok"
	ContinuityBackwards ContinuityKind = "backwards"
	ContinuityGap       ContinuityKind = "gap"
)

// Continuity is the result of comparing a timestamp with the newest entry.
type Continuity struct {
	Kind     ContinuityKind
	Previous time.Time
	Gap      time.Duration
}

// Broken reports whether the buffer must be reset before accepting the timestamp.
func (c Continuity) Broken() bool {
	return c.Kind == ContinuityBackwards || c.Kind == ContinuityGap
}

// Stats summarizes a metric over a window. StdDev is the population deviation.
type Stats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// RingBuffer keeps a bounded, time-ordered history of states for one plant.
// It is not safe for concurrent use; callers serialize access per plant.
type RingBuffer struct {
	entries   []State
	retention time.Duration
	gap       time.Duration
}

// NewRingBuffer constructs a buffer. Non-positive values select the defaults.
func NewRingBuffer(retention, discontinuityGap time.Duration) *RingBuffer {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if discontinuityGap <= 0 {
		discontinuityGap = DefaultDiscontinuityGap
	}
	return &RingBuffer{retention: retention, gap: discontinuityGap}
}

// Retention returns the configured history length.
func (b *RingBuffer) Retention() time.Duration {
	return b.retention
}

// SetBounds updates retention and gap, evicting entries that fall outside.
func (b *RingBuffer) SetBounds(retention, discontinuityGap time.Duration) {
	if retention > 0 {
		b.retention = retention
	}
	if discontinuityGap > 0 {
		b.gap = discontinuityGap
	}
	b.evict()
}

// CheckContinuity compares ts with the newest entry without mutating the buffer.
func (b *RingBuffer) CheckContinuity(ts time.Time) Continuity {
	latest, ok := b.Latest()
	if !ok {
		return Continuity{Kind: ContinuityOK}
	}
	delta := ts.Sub(latest.Timestamp)
	switch {
	case delta < 0:
		return Continuity{Kind: ContinuityBackwards, Previous: latest.Timestamp, Gap: -delta}
	case delta > b.gap:
		return Continuity{Kind: ContinuityGap, Previous: latest.Timestamp, Gap: delta}
	default:
		return Continuity{Kind: ContinuityOK, Previous: latest.Timestamp, Gap: delta}
	}
}

// Add appends a state. A backwards timestamp or a gap beyond the discontinuity
// threshold clears the buffer first; the return value reports that reset.
func (b *RingBuffer) Add(state State) bool {
	reset := false
	if b.CheckContinuity(state.Timestamp).Broken() {
		b.Reset()
		reset = true
	}
	b.entries = append(b.entries, state)
	b.evict()
	return reset
}

// Reset drops every entry.
func (b *RingBuffer) Reset() {
	b.entries = nil
}

// Len returns the number of buffered states.
func (b *RingBuffer) Len() int {
	return len(b.entries)
}

// Latest returns the newest state.
func (b *RingBuffer) Latest() (State, bool) {
	if len(b.entries) == 0 {
		return State{}, false
	}
	return b.entries[len(b.entries)-1], true
}

// All returns a copy of the buffered states, oldest first.
func (b *RingBuffer) All() []State {
	out := make([]State, len(b.entries))
	copy(out, b.entries)
	return out
}

// Since returns states with timestamp at or after cutoff, oldest first.
func (b *RingBuffer) Since(cutoff time.Time) []State {
	idx := b.firstAtOrAfter(cutoff)
	out := make([]State, len(b.entries)-idx)
	copy(out, b.entries[idx:])
	return out
}

// LastNHours returns states within n hours of the newest entry.
func (b *RingBuffer) LastNHours(hours float64) []State {
	latest, ok := b.Latest()
	if !ok {
		return nil
	}
	return b.Since(latest.Timestamp.Add(-hoursToDuration(hours)))
}

// Stats summarizes metric over the last windowHours. Absent readings are skipped.
func (b *RingBuffer) Stats(metric Metric, windowHours float64) Stats {
	var values []float64
	for _, state := range b.LastNHours(windowHours) {
		if v, ok := state.Metric(metric); ok {
			values = append(values, v)
		}
	}
	return Summarize(values)
}

// Summarize computes count, min, max, mean and population stddev.
func Summarize(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	stats := Stats{Count: len(values), Min: values[0], Max: values[0]}
	sum := 0.0
	for _, v := range values {
		sum += v
		stats.Min = math.Min(stats.Min, v)
		stats.Max = math.Max(stats.Max, v)
	}
	stats.Mean = sum / float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - stats.Mean
		variance += d * d
	}
	stats.StdDev = math.Sqrt(variance / float64(len(values)))
	return stats
}

func (b *RingBuffer) evict() {
	latest, ok := b.Latest()
	if !ok {
		return
	}
	idx := b.firstAtOrAfter(latest.Timestamp.Add(-b.retention))
	if idx == 0 {
		return
	}
	kept := make([]State, len(b.entries)-idx)
	copy(kept, b.entries[idx:])
	b.entries = kept
}

func (b *RingBuffer) firstAtOrAfter(cutoff time.Time) int {
	for i, state := range b.entries {
		if !state.Timestamp.Before(cutoff) {
			return i
		}
	}
	return len(b.entries)
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
