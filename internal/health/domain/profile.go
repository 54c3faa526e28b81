package health

import (
	"time"

	telemetry "greenhouse-brain/internal/telemetry/domain"
)

// SensorProfile holds the fault detection parameters of one channel.
// A zero threshold disables the corresponding check.
type SensorProfile struct {
	Channel        string  `json:"channel" yaml:"channel" toml:"channel" validate:"required"`
	Critical       bool    `json:"critical" yaml:"critical" toml:"critical"`
	Required       bool    `json:"required" yaml:"required" toml:"required"`
	StuckTolerance float64 `json:"stuck_tolerance" yaml:"stuck_tolerance" toml:"stuck_tolerance" validate:"gte=0"`
	JumpPerReading float64 `json:"jump_per_reading" yaml:"jump_per_reading" toml:"jump_per_reading" validate:"gte=0"`
	JumpPerMinute  float64 `json:"jump_per_minute" yaml:"jump_per_minute" toml:"jump_per_minute" validate:"gte=0"`
	DriftPerHour   float64 `json:"drift_per_hour" yaml:"drift_per_hour" toml:"drift_per_hour" validate:"gte=0"`
}

// Settings holds windows and deductions shared by every channel.
type Settings struct {
	StuckWindowSeconds     int     `json:"stuck_window_seconds" yaml:"stuck_window_seconds" toml:"stuck_window_seconds" validate:"gt=0"`
	StuckMinReadings       int     `json:"stuck_min_readings" yaml:"stuck_min_readings" toml:"stuck_min_readings" validate:"gte=2"`
	DriftWindowSeconds     int     `json:"drift_window_seconds" yaml:"drift_window_seconds" toml:"drift_window_seconds" validate:"gt=0"`
	DriftMinSpanSeconds    int     `json:"drift_min_span_seconds" yaml:"drift_min_span_seconds" toml:"drift_min_span_seconds" validate:"gt=0,ltefield=DriftWindowSeconds"`
	DriftMinReadings       int     `json:"drift_min_readings" yaml:"drift_min_readings" toml:"drift_min_readings" validate:"gte=3"`
	DisconnectCycles       int     `json:"disconnect_cycles" yaml:"disconnect_cycles" toml:"disconnect_cycles" validate:"gte=1"`
	DisconnectAfterSeconds int     `json:"disconnect_after_seconds" yaml:"disconnect_after_seconds" toml:"disconnect_after_seconds" validate:"gt=0"`
	AnomalyWindowSeconds   int     `json:"anomaly_window_seconds" yaml:"anomaly_window_seconds" toml:"anomaly_window_seconds" validate:"gt=0"`
	StuckDeduction         float64 `json:"stuck_deduction" yaml:"stuck_deduction" toml:"stuck_deduction" validate:"gte=0,lte=1"`
	JumpDeduction          float64 `json:"jump_deduction" yaml:"jump_deduction" toml:"jump_deduction" validate:"gte=0,lte=1"`
	DriftDeduction         float64 `json:"drift_deduction" yaml:"drift_deduction" toml:"drift_deduction" validate:"gte=0,lte=1"`
	DisconnectCritical     float64 `json:"disconnect_critical_deduction" yaml:"disconnect_critical_deduction" toml:"disconnect_critical_deduction" validate:"gte=0,lte=1"`
	DisconnectAdvisory     float64 `json:"disconnect_advisory_deduction" yaml:"disconnect_advisory_deduction" toml:"disconnect_advisory_deduction" validate:"gte=0,lte=1"`
}

// DefaultSettings returns the calibrated windows and deductions.
func DefaultSettings() Settings {
	return Settings{
		StuckWindowSeconds:     60 * 60,
		StuckMinReadings:       3,
		DriftWindowSeconds:     4 * 60 * 60,
		DriftMinSpanSeconds:    210 * 60,
		DriftMinReadings:       3,
		DisconnectCycles:       2,
		DisconnectAfterSeconds: 60 * 60,
		AnomalyWindowSeconds:   24 * 60 * 60,
		StuckDeduction:         0.5,
		JumpDeduction:          0.3,
		DriftDeduction:         0.25,
		DisconnectCritical:     0.7,
		DisconnectAdvisory:     0.5,
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// StuckWindow returns the stuck-at lookback.
func (s Settings) StuckWindow() time.Duration { return seconds(s.StuckWindowSeconds) }

// DriftWindow returns the drift lookback.
func (s Settings) DriftWindow() time.Duration { return seconds(s.DriftWindowSeconds) }

// DriftMinSpan returns the minimum time span of drift samples.
func (s Settings) DriftMinSpan() time.Duration { return seconds(s.DriftMinSpanSeconds) }

// DisconnectAfter returns the silence after which a sensor is disconnected.
func (s Settings) DisconnectAfter() time.Duration { return seconds(s.DisconnectAfterSeconds) }

// AnomalyWindow returns the lookback of the per-sensor anomaly count.
func (s Settings) AnomalyWindow() time.Duration { return seconds(s.AnomalyWindowSeconds) }

// DefaultProbeProfile is applied to soil probes without an explicit profile.
func DefaultProbeProfile() SensorProfile {
	return SensorProfile{
		Critical:       true,
		StuckTolerance: 0.2,
		JumpPerReading: 30,
		DriftPerHour:   2,
	}
}

// DefaultProfiles returns the profiles of the standard sensor set.
func DefaultProfiles() []SensorProfile {
	p1 := DefaultProbeProfile()
	p1.Channel = telemetry.SoilMoistureChannel("p1")
	p1.Required = true
	p2 := DefaultProbeProfile()
	p2.Channel = telemetry.SoilMoistureChannel("p2")
	return []SensorProfile{
		p1,
		p2,
		{Channel: telemetry.ChannelAirTemperature, Critical: true, Required: true, StuckTolerance: 0.1, JumpPerMinute: 1.0, DriftPerHour: 0.5},
		{Channel: telemetry.ChannelRelativeHumidity, Critical: true, Required: true, StuckTolerance: 0.5, JumpPerMinute: 5, DriftPerHour: 2},
		{Channel: telemetry.ChannelCO2, StuckTolerance: 5, JumpPerMinute: 100},
		{Channel: telemetry.ChannelLightIntensity},
		{Channel: telemetry.ChannelSoilTemperature, StuckTolerance: 0.05, JumpPerMinute: 0.5, DriftPerHour: 0.5},
	}
}

// Deduction returns the confidence deduction of a fault on a channel.
func (s Settings) Deduction(fault FaultType, critical bool) float64 {
	switch fault {
	case FaultStuckAt:
		return s.StuckDeduction
	case FaultJump:
		return s.JumpDeduction
	case FaultDrift:
		return s.DriftDeduction
	case FaultDisconnect:
		if critical {
			return s.DisconnectCritical
		}
		return s.DisconnectAdvisory
	default:
		return 0
	}
}
