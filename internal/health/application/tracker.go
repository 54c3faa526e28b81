package application

import (
	"errors"
	"math"
	"sort"
	"time"

	estimator "greenhouse-brain/internal/estimator/domain"
	health "greenhouse-brain/internal/health/domain"
	telemetry "greenhouse-brain/internal/telemetry/domain"
)

// Tracker classifies sensor faults from the current state and buffered history.
type Tracker struct {
	profiles     []health.SensorProfile
	probeDefault health.SensorProfile
	settings     health.Settings
}

// NewTracker constructs a tracker. Profiles keep their order in the output.
func NewTracker(profiles []health.SensorProfile, probeDefault health.SensorProfile, settings health.Settings) (*Tracker, error) {
	seen := make(map[string]struct{}, len(profiles))
	for _, profile := range profiles {
		if profile.Channel == "" {
			return nil, errors.New("health tracker: profile without channel")
		}
		if _, dup := seen[profile.Channel]; dup {
			return nil, errors.New("health tracker: duplicate profile " + profile.Channel)
		}
		seen[profile.Channel] = struct{}{}
	}
	if settings.StuckMinReadings < 2 || settings.DriftMinReadings < 3 || settings.DisconnectCycles < 1 {
		return nil, errors.New("health tracker: invalid settings")
	}
	return &Tracker{
		profiles:     append([]health.SensorProfile(nil), profiles...),
		probeDefault: probeDefault,
		settings:     settings,
	}, nil
}

type sample struct {
	at    time.Time
	value float64
}

// Evaluate diagnoses every tracked channel. Priority is disconnect, jump,
// stuck-at, drift; the first match wins.
func (t *Tracker) Evaluate(current estimator.State, history *estimator.RingBuffer) health.SensorHealth {
	var past []estimator.State
	if history != nil {
		past = history.All()
	}
	out := health.SensorHealth{
		SchemaVersion: health.SchemaV1,
		Timestamp:     current.Timestamp,
	}
	for _, profile := range t.channels(current, past) {
		status, tracked := t.evaluateChannel(profile, current, past)
		if tracked {
			out.Sensors = append(out.Sensors, status)
		}
	}
	out.Overall = health.ClassifyOverall(out.Sensors)
	return out
}

func (t *Tracker) channels(current estimator.State, past []estimator.State) []health.SensorProfile {
	known := make(map[string]struct{}, len(t.profiles))
	for _, profile := range t.profiles {
		known[profile.Channel] = struct{}{}
	}
	extra := make(map[string]struct{})
	collect := func(state estimator.State) {
		for _, probe := range state.Soil.Probes {
			channel := telemetry.SoilMoistureChannel(probe.ProbeID)
			if _, ok := known[channel]; !ok {
				extra[channel] = struct{}{}
			}
		}
	}
	collect(current)
	for _, state := range past {
		collect(state)
	}
	names := make([]string, 0, len(extra))
	for channel := range extra {
		names = append(names, channel)
	}
	sort.Strings(names)

	profiles := append([]health.SensorProfile(nil), t.profiles...)
	for _, channel := range names {
		profile := t.probeDefault
		profile.Channel = channel
		profile.Required = false
		profiles = append(profiles, profile)
	}
	return profiles
}

func (t *Tracker) evaluateChannel(profile health.SensorProfile, current estimator.State, past []estimator.State) (health.SensorStatus, bool) {
	metric := estimator.Metric(profile.Channel)
	var readings []sample
	for _, state := range past {
		if v, ok := state.Metric(metric); ok {
			readings = append(readings, sample{at: state.Timestamp, value: v})
		}
	}
	value, present := current.Metric(metric)
	if !present && !profile.Required && len(readings) == 0 {
		return health.SensorStatus{}, false
	}

	status := health.SensorStatus{
		Sensor:          profile.Channel,
		Critical:        profile.Critical,
		FaultType:       health.FaultNone,
		AnomalyCount24h: t.anomalyCount(profile.Channel, current.Timestamp, past),
	}
	var previous *sample
	if len(readings) > 0 {
		previous = &readings[len(readings)-1]
	}
	switch {
	case present:
		at := current.Timestamp
		status.LastValidReadingAt = &at
		status.LastReading = telemetry.Float(value)
	case previous != nil:
		at := previous.at
		status.LastValidReadingAt = &at
		status.LastReading = telemetry.Float(previous.value)
	}

	if !present {
		status.ConsecutiveMissing = 1 + trailingMissing(metric, past)
		if t.disconnected(status, current.Timestamp) {
			status.FaultType = health.FaultDisconnect
		}
	} else {
		window := append(readings, sample{at: current.Timestamp, value: value})
		switch {
		case previous != nil && jumped(profile, *previous, current.Timestamp, value):
			status.FaultType = health.FaultJump
		case t.stuck(profile, window, current.Timestamp):
			status.FaultType = health.FaultStuckAt
		case t.drifting(profile, window, current.Timestamp):
			status.FaultType = health.FaultDrift
		}
	}
	if status.Faulted() {
		status.ConfidenceDelta = -t.settings.Deduction(status.FaultType, profile.Critical)
	}
	return status, true
}

func (t *Tracker) disconnected(status health.SensorStatus, now time.Time) bool {
	if status.ConsecutiveMissing >= t.settings.DisconnectCycles {
		return true
	}
	if status.LastValidReadingAt != nil && now.Sub(*status.LastValidReadingAt) > t.settings.DisconnectAfter() {
		return true
	}
	return false
}

func jumped(profile health.SensorProfile, previous sample, now time.Time, value float64) bool {
	delta := math.Abs(value - previous.value)
	if profile.JumpPerReading > 0 && delta > profile.JumpPerReading {
		return true
	}
	minutes := now.Sub(previous.at).Minutes()
	if profile.JumpPerMinute > 0 && minutes > 0 && delta > profile.JumpPerMinute*minutes {
		return true
	}
	return false
}

func (t *Tracker) stuck(profile health.SensorProfile, readings []sample, now time.Time) bool {
	if profile.StuckTolerance <= 0 {
		return false
	}
	window := since(readings, now.Add(-t.settings.StuckWindow()))
	if len(window) < t.settings.StuckMinReadings {
		return false
	}
	lo, hi := window[0].value, window[0].value
	for _, s := range window[1:] {
		lo = math.Min(lo, s.value)
		hi = math.Max(hi, s.value)
	}
	return hi-lo < profile.StuckTolerance
}

func (t *Tracker) drifting(profile health.SensorProfile, readings []sample, now time.Time) bool {
	if profile.DriftPerHour <= 0 {
		return false
	}
	window := since(readings, now.Add(-t.settings.DriftWindow()))
	if len(window) < t.settings.DriftMinReadings {
		return false
	}
	if window[len(window)-1].at.Sub(window[0].at) < t.settings.DriftMinSpan() {
		return false
	}
	slope, ok := slopePerHour(window)
	return ok && math.Abs(slope) > profile.DriftPerHour
}

func (t *Tracker) anomalyCount(channel string, now time.Time, past []estimator.State) int {
	cutoff := now.Add(-t.settings.AnomalyWindow())
	count := 0
	for _, state := range past {
		if state.Timestamp.Before(cutoff) {
			continue
		}
		for _, tag := range state.AnomalyTags {
			if tag.Measurement == channel {
				count++
			}
		}
	}
	return count
}

func trailingMissing(metric estimator.Metric, past []estimator.State) int {
	count := 0
	for i := len(past) - 1; i >= 0; i-- {
		if _, ok := past[i].Metric(metric); ok {
			break
		}
		count++
	}
	return count
}

func since(readings []sample, cutoff time.Time) []sample {
	for i, s := range readings {
		if !s.at.Before(cutoff) {
			return readings[i:]
		}
	}
	return nil
}

// slopePerHour fits an ordinary least squares line through the samples.
func slopePerHour(samples []sample) (float64, bool) {
	origin := samples[0].at
	n := float64(len(samples))
	var sumX, sumY float64
	for _, s := range samples {
		sumX += s.at.Sub(origin).Hours()
		sumY += s.value
	}
	meanX, meanY := sumX/n, sumY/n
	var num, den float64
	for _, s := range samples {
		dx := s.at.Sub(origin).Hours() - meanX
		num += dx * (s.value - meanY)
		den += dx * dx
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}
