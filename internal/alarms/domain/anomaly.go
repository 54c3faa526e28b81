package alarms

import "time"

// SchemaV1 tags anomaly records.
const SchemaV1 = "anomaly_v1"

// Anomaly types raised by the detector.
const (
	TypeSoilMoistureLow          = "soil_moisture_low"
	TypeSoilMoistureHigh         = "soil_moisture_high"
	TypeSoilMoistureDifferential = "soil_moisture_differential"
	TypeSoilMoistureDrop         = "soil_moisture_drop"
	TypeVPDHigh                  = "vpd_high"
	TypeVPDLow                   = "vpd_low"
	TypeTemperatureLow           = "temperature_low"
	TypeTemperatureHigh          = "temperature_high"
	TypeTemperatureRate          = "temperature_rate"
	TypeSensorStuck              = "sensor_stuck"
	TypeSensorJump               = "sensor_jump"
	TypeSensorDrift              = "sensor_drift"
	TypeSensorDisconnect         = "sensor_disconnect"
	TypeDeviceOffline            = "device_offline"
	TypeControllerReset          = "controller_reset"
	TypeTimestampDiscontinuity   = "timestamp_discontinuity"
)

// Detection modes.
const (
	ModeInstant   = "instant"
	ModeSustained = "sustained"
	ModeRate      = "rate"
	ModeFault     = "fault"
	ModeDevice    = "device"
)

// Recommended response tags.
const (
	ResponseIncreaseSampling    = "increase_sampling"
	ResponseNotify              = "notify"
	ResponseIrrigate            = "irrigate"
	ResponseReduceIrrigation    = "reduce_irrigation"
	ResponseIncreaseVentilation = "increase_ventilation"
	ResponseRaiseHumidity       = "raise_humidity"
	ResponseHeat                = "heat"
	ResponseCool                = "cool"
	ResponseInspectProbes       = "inspect_probes"
	ResponseInspectIrrigation   = "inspect_irrigation"
	ResponseInspectSensor       = "inspect_sensor"
	ResponseCheckController     = "check_controller"
	ResponseRebuildHistory      = "rebuild_history"
)

// Anomaly is a structured event describing an abnormal condition.
type Anomaly struct {
	SchemaVersion        string    `json:"schema_version"`
	ID                   string    `json:"id"`
	PlantID              string    `json:"plant_id"`
	Timestamp            time.Time `json:"timestamp"`
	Severity             Severity  `json:"severity"`
	Type                 string    `json:"type"`
	Measurement          string    `json:"measurement"`
	Value                float64   `json:"value"`
	Threshold            float64   `json:"threshold"`
	RecommendedResponses []string  `json:"recommended_responses"`
	DetectionMode        string    `json:"detection_mode"`
	Description          string    `json:"description,omitempty"`
	RequiresSafeMode     bool      `json:"requires_safe_mode"`
}

// HasResponse reports whether the anomaly recommends a response tag.
func (a Anomaly) HasResponse(tag string) bool {
	for _, response := range a.RecommendedResponses {
		if response == tag {
			return true
		}
	}
	return false
}

// EscalationPolicy decides when the sampling cadence should be increased.
type EscalationPolicy struct {
	MinSeverity Severity `json:"min_severity" yaml:"min_severity" toml:"min_severity"`
	WarnCount   int      `json:"warn_count" yaml:"warn_count" toml:"warn_count" validate:"gte=1"`
}

// DefaultEscalationPolicy escalates on any ERROR or three concurrent WARNs.
func DefaultEscalationPolicy() EscalationPolicy {
	return EscalationPolicy{MinSeverity: SeverityError, WarnCount: 3}
}

// ShouldEscalate applies the policy to a set of anomalies.
func (p EscalationPolicy) ShouldEscalate(anomalies []Anomaly) bool {
	warns := 0
	for _, anomaly := range anomalies {
		if anomaly.Severity >= p.MinSeverity {
			return true
		}
		if anomaly.Severity == SeverityWarn {
			warns++
		}
	}
	return p.WarnCount > 0 && warns >= p.WarnCount
}
