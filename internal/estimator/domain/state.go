package estimator

import (
	"time"

	telemetry "greenhouse-brain/internal/telemetry/domain"
)

// StateSchemaV1 tags state records.
const StateSchemaV1 = "state_v1"

// Zone pattern labels for soil moisture distribution.
const (
	ZoneUnknown     = ""
	ZoneSingleProbe = "single-probe"
	ZoneUniform     = "uniform"
	ZoneTwoZone     = "two-zone"
	ZoneMultiZone   = "multi-zone"
)

// State is the normalized snapshot produced by one estimation cycle.
// States are immutable once appended to the ring buffer.
type State struct {
	SchemaVersion     string                 `json:"schema_version"`
	PlantID           string                 `json:"plant_id"`
	Timestamp         time.Time              `json:"timestamp"`
	Environment       Environment            `json:"environment"`
	Plant             PlantBlock             `json:"plant"`
	Soil              SoilBlock              `json:"soil"`
	Devices           telemetry.DeviceStatus `json:"devices"`
	Calendar          Calendar               `json:"calendar"`
	Budget            *ResourceBudget        `json:"budget,omitempty"`
	Confidence        float64                `json:"confidence"`
	ConfidenceFactors []ConfidenceFactor     `json:"confidence_factors,omitempty"`
	AnomalyTags       []AnomalyTag           `json:"anomaly_tags,omitempty"`
	EscalateSampling  bool                   `json:"escalate_sampling"`
}

// Environment holds air readings and derived VPD.
type Environment struct {
	AirTemperatureC     *float64 `json:"air_temperature_c,omitempty"`
	RelativeHumidityPct *float64 `json:"relative_humidity_pct,omitempty"`
	CO2PPM              *float64 `json:"co2_ppm,omitempty"`
	VPDKPa              *float64 `json:"vpd_kpa,omitempty"`
	LightIntensity      *float64 `json:"light_intensity,omitempty"`
}

// PlantBlock holds plant-level derived values.
type PlantBlock struct {
	LeafAirDeltaC *float64       `json:"leaf_air_delta_c,omitempty"`
	Vision        *VisionSummary `json:"vision,omitempty"`
}

// SoilBlock holds per-probe moisture and aggregates.
type SoilBlock struct {
	TemperatureC       *float64     `json:"temperature_c,omitempty"`
	Probes             []ProbeState `json:"probes,omitempty"`
	AverageMoisturePct *float64     `json:"average_moisture_pct,omitempty"`
	ZonePattern        string       `json:"zone_pattern,omitempty"`
}

// ProbeState is a probe reading with its own confidence.
type ProbeState struct {
	ProbeID     string   `json:"probe_id"`
	MoisturePct *float64 `json:"moisture_pct,omitempty"`
	Confidence  float64  `json:"confidence"`
}

// Calendar echoes the cycle calendar context.
type Calendar struct {
	Season   string `json:"season,omitempty"`
	Daylight *bool  `json:"daylight,omitempty"`
}

// ConfidenceFactor is one tagged deduction applied to the confidence score.
type ConfidenceFactor struct {
	Factor    string  `json:"factor"`
	Deduction float64 `json:"deduction"`
}

// AnomalyTag records an anomaly raised in the cycle that produced the state.
type AnomalyTag struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Measurement string `json:"measurement"`
}

// Probe returns the probe state for id.
func (s State) Probe(id string) (ProbeState, bool) {
	for _, probe := range s.Soil.Probes {
		if probe.ProbeID == id {
			return probe, true
		}
	}
	return ProbeState{}, false
}

// HasAnomalyOn reports whether the state recorded an anomaly for a measurement.
func (s State) HasAnomalyOn(measurement string) bool {
	for _, tag := range s.AnomalyTags {
		if tag.Measurement == measurement {
			return true
		}
	}
	return false
}
