package estimator

import "time"

// CycleContext carries the calendar and budget context of one estimation call.
// It replaces any ambient clock or global state so that replays are reproducible.
type CycleContext struct {
	Now         time.Time       `json:"now"`
	PlantID     string          `json:"plant_id,omitempty"`
	Season      string          `json:"season,omitempty"`
	Daylight    *bool           `json:"daylight,omitempty"`
	LastResetAt *time.Time      `json:"last_reset_at,omitempty"`
	Budget      *ResourceBudget `json:"budget,omitempty"`
	Vision      *VisionSummary  `json:"vision,omitempty"`
}

// ResourceBudget is passed through from the external budget tracker.
type ResourceBudget struct {
	WaterRemainingML  *float64   `json:"water_remaining_ml,omitempty"`
	EnergyRemainingWh *float64   `json:"energy_remaining_wh,omitempty"`
	CO2RemainingG     *float64   `json:"co2_remaining_g,omitempty"`
	PeriodEnd         *time.Time `json:"period_end,omitempty"`
}

// VisionSummary is passed through from the external vision analysis.
type VisionSummary struct {
	CapturedAt  time.Time `json:"captured_at"`
	HealthScore *float64  `json:"health_score,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
}

// Clone returns a deep copy of b; nil stays nil.
func (b *ResourceBudget) Clone() *ResourceBudget {
	if b == nil {
		return nil
	}
	return &ResourceBudget{
		WaterRemainingML:  clonePtr(b.WaterRemainingML),
		EnergyRemainingWh: clonePtr(b.EnergyRemainingWh),
		CO2RemainingG:     clonePtr(b.CO2RemainingG),
		PeriodEnd:         clonePtr(b.PeriodEnd),
	}
}

// Clone returns a deep copy of v; nil stays nil.
func (v *VisionSummary) Clone() *VisionSummary {
	if v == nil {
		return nil
	}
	out := &VisionSummary{CapturedAt: v.CapturedAt, HealthScore: clonePtr(v.HealthScore)}
	if v.Labels != nil {
		out.Labels = append([]string(nil), v.Labels...)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// ReferenceTime returns Now, falling back to the observation timestamp.
func (c CycleContext) ReferenceTime(observedAt time.Time) time.Time {
	if c.Now.IsZero() {
		return observedAt
	}
	return c.Now
}
