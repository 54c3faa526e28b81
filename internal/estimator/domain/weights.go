package estimator

import "time"

// AgeBand deducts Deduction from readings at most MaxAgeSeconds old.
type AgeBand struct {
	MaxAgeSeconds int     `json:"max_age_seconds" yaml:"max_age_seconds" toml:"max_age_seconds" validate:"gt=0"`
	Deduction     float64 `json:"deduction" yaml:"deduction" toml:"deduction" validate:"gte=0,lte=1"`
}

// RangeCheck deducts when a value leaves [Min, Max].
type RangeCheck struct {
	Min       float64 `json:"min" yaml:"min" toml:"min"`
	Max       float64 `json:"max" yaml:"max" toml:"max" validate:"gtefield=Min"`
	Deduction float64 `json:"deduction" yaml:"deduction" toml:"deduction" validate:"gte=0,lte=1"`
}

// Outside reports whether v is outside the accepted range.
func (r RangeCheck) Outside(v float64) bool {
	return v < r.Min || v > r.Max
}

// VarianceCheck deducts when the window stddev exceeds MaxStdDev.
type VarianceCheck struct {
	MaxStdDev float64 `json:"max_stddev" yaml:"max_stddev" toml:"max_stddev" validate:"gte=0"`
	Deduction float64 `json:"deduction" yaml:"deduction" toml:"deduction" validate:"gte=0,lte=1"`
}

// SeverityDeductions maps anomaly severities to confidence deductions.
type SeverityDeductions struct {
	Info  float64 `json:"info" yaml:"info" toml:"info" validate:"gte=0,lte=1"`
	Warn  float64 `json:"warn" yaml:"warn" toml:"warn" validate:"gte=0,lte=1"`
	Error float64 `json:"error" yaml:"error" toml:"error" validate:"gte=0,lte=1"`
	Crit  float64 `json:"crit" yaml:"crit" toml:"crit" validate:"gte=0,lte=1"`
}

// ConfidenceWeights holds every constant of the confidence score.
type ConfidenceWeights struct {
	AgeBands               []AgeBand          `json:"age_bands" yaml:"age_bands" toml:"age_bands" validate:"required,dive"`
	StaleDeduction         float64            `json:"stale_deduction" yaml:"stale_deduction" toml:"stale_deduction" validate:"gte=0,lte=1"`
	SoilMoisture           RangeCheck         `json:"soil_moisture" yaml:"soil_moisture" toml:"soil_moisture"`
	AirTemperature         RangeCheck         `json:"air_temperature" yaml:"air_temperature" toml:"air_temperature"`
	RelativeHumidity       RangeCheck         `json:"relative_humidity" yaml:"relative_humidity" toml:"relative_humidity"`
	VPD                    RangeCheck         `json:"vpd" yaml:"vpd" toml:"vpd"`
	VarianceWindowSeconds  int                `json:"variance_window_seconds" yaml:"variance_window_seconds" toml:"variance_window_seconds" validate:"gt=0"`
	VarianceMinSamples     int                `json:"variance_min_samples" yaml:"variance_min_samples" toml:"variance_min_samples" validate:"gte=2"`
	SoilVariance           VarianceCheck      `json:"soil_variance" yaml:"soil_variance" toml:"soil_variance"`
	AirTemperatureVariance VarianceCheck      `json:"air_temperature_variance" yaml:"air_temperature_variance" toml:"air_temperature_variance"`
	HumidityVariance       VarianceCheck      `json:"humidity_variance" yaml:"humidity_variance" toml:"humidity_variance"`
	ProbeDisagreementPct   float64            `json:"probe_disagreement_pct" yaml:"probe_disagreement_pct" toml:"probe_disagreement_pct" validate:"gte=0,lte=100"`
	ProbeDisagreement      float64            `json:"probe_disagreement" yaml:"probe_disagreement" toml:"probe_disagreement" validate:"gte=0,lte=1"`
	MissingReading         float64            `json:"missing_reading" yaml:"missing_reading" toml:"missing_reading" validate:"gte=0,lte=1"`
	Severity               SeverityDeductions `json:"severity" yaml:"severity" toml:"severity"`
}

// DefaultConfidenceWeights returns the calibrated defaults.
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{
		AgeBands: []AgeBand{
			{MaxAgeSeconds: 5 * 60, Deduction: 0},
			{MaxAgeSeconds: 15 * 60, Deduction: 0.05},
			{MaxAgeSeconds: 30 * 60, Deduction: 0.10},
			{MaxAgeSeconds: 60 * 60, Deduction: 0.20},
		},
		StaleDeduction:         0.50,
		SoilMoisture:           RangeCheck{Min: 10, Max: 90, Deduction: 0.20},
		AirTemperature:         RangeCheck{Min: 8, Max: 32, Deduction: 0.20},
		RelativeHumidity:       RangeCheck{Min: 10, Max: 95, Deduction: 0.15},
		VPD:                    RangeCheck{Min: 0.2, Max: 3.5, Deduction: 0.15},
		VarianceWindowSeconds:  60 * 60,
		VarianceMinSamples:     2,
		SoilVariance:           VarianceCheck{MaxStdDev: 15, Deduction: 0.15},
		AirTemperatureVariance: VarianceCheck{MaxStdDev: 2, Deduction: 0.15},
		HumidityVariance:       VarianceCheck{MaxStdDev: 10, Deduction: 0.10},
		ProbeDisagreementPct:   40,
		ProbeDisagreement:      0.30,
		MissingReading:         0.10,
		Severity:               SeverityDeductions{Info: 0, Warn: 0.10, Error: 0.25, Crit: 0.50},
	}
}

// AgeDeduction returns the deduction for a reading of the given age.
// Bands are evaluated in order; ages beyond the last band are stale.
func (w ConfidenceWeights) AgeDeduction(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	for _, band := range w.AgeBands {
		if age <= time.Duration(band.MaxAgeSeconds)*time.Second {
			return band.Deduction
		}
	}
	return w.StaleDeduction
}

// VarianceWindow returns the variance lookback.
func (w ConfidenceWeights) VarianceWindow() time.Duration {
	return time.Duration(w.VarianceWindowSeconds) * time.Second
}

// BufferSettings bounds the per-plant history.
type BufferSettings struct {
	RetentionHours        float64 `json:"retention_hours" yaml:"retention_hours" toml:"retention_hours" validate:"gt=0"`
	DiscontinuityGapHours float64 `json:"discontinuity_gap_hours" yaml:"discontinuity_gap_hours" toml:"discontinuity_gap_hours" validate:"gt=0"`
}

// SoilSettings tunes derived soil values.
type SoilSettings struct {
	UniformSpreadPct float64 `json:"uniform_spread_pct" yaml:"uniform_spread_pct" toml:"uniform_spread_pct" validate:"gte=0,lte=100"`
}

// DefaultBufferSettings returns 48 h retention and a 12 h discontinuity gap.
func DefaultBufferSettings() BufferSettings {
	return BufferSettings{
		RetentionHours:        DefaultRetention.Hours(),
		DiscontinuityGapHours: DefaultDiscontinuityGap.Hours(),
	}
}

// Retention returns the retention as a duration.
func (s BufferSettings) Retention() time.Duration {
	return hoursToDuration(s.RetentionHours)
}

// DiscontinuityGap returns the gap as a duration.
func (s BufferSettings) DiscontinuityGap() time.Duration {
	return hoursToDuration(s.DiscontinuityGapHours)
}
