package health

import "time"

// SchemaV1 tags sensor health records.
const SchemaV1 = "sensor_health_v1"

// FaultType classifies a sensor fault.
type FaultType string

const (
	FaultNone       FaultType = "none"
	FaultStuckAt    FaultType = "stuck_at"
	FaultJump       FaultType = "jump"
	FaultDrift      FaultType = "drift"
	FaultDisconnect FaultType = "disconnect"
)

// Overall summarizes the health of all sensors.
type Overall string

const (
	OverallHealthy  Overall = "healthy"
	OverallDegraded Overall = "degraded"
	OverallFailing  Overall = "failing"
)

// SensorStatus is the diagnosis of one sensor channel.
type SensorStatus struct {
	Sensor             string     `json:"sensor"`
	Critical           bool       `json:"critical"`
	FaultType          FaultType  `json:"fault_type"`
	ConfidenceDelta    float64    `json:"confidence_delta"`
	LastValidReadingAt *time.Time `json:"last_valid_reading_at,omitempty"`
	LastReading        *float64   `json:"last_reading,omitempty"`
	ConsecutiveMissing int        `json:"consecutive_missing"`
	AnomalyCount24h    int        `json:"anomaly_count_24h"`
}

// Faulted reports whether any fault was detected.
func (s SensorStatus) Faulted() bool {
	return s.FaultType != "" && s.FaultType != FaultNone
}

// SensorHealth is the per-cycle diagnosis of every tracked sensor.
// Sensors keep a fixed order so that downstream sums are reproducible.
type SensorHealth struct {
	SchemaVersion string         `json:"schema_version"`
	Timestamp     time.Time      `json:"timestamp"`
	Sensors       []SensorStatus `json:"sensors"`
	Overall       Overall        `json:"overall_health"`
}

// Lookup returns the status of a sensor.
func (h SensorHealth) Lookup(sensor string) (SensorStatus, bool) {
	for _, status := range h.Sensors {
		if status.Sensor == sensor {
			return status, true
		}
	}
	return SensorStatus{}, false
}

// ClassifyOverall derives the overall health: failing when a critical sensor is
// disconnected or jumping, degraded on any other fault.
func ClassifyOverall(sensors []SensorStatus) Overall {
	overall := OverallHealthy
	for _, status := range sensors {
		if !status.Faulted() {
			continue
		}
		if status.Critical && (status.FaultType == FaultDisconnect || status.FaultType == FaultJump) {
			return OverallFailing
		}
		overall = OverallDegraded
	}
	return overall
}
