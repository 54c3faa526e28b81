package telemetry

import "time"

// DeviceStatusSchemaV1 tags device status records.
const DeviceStatusSchemaV1 = "device_status_v1"

// DeviceStatus is the actuator and controller snapshot reported with an observation.
type DeviceStatus struct {
	SchemaVersion       string     `json:"schema_version"`
	Timestamp           time.Time  `json:"timestamp"`
	LightOn             bool       `json:"light_on"`
	CirculationFanOn    bool       `json:"circulation_fan_on"`
	ExhaustFanOn        bool       `json:"exhaust_fan_on"`
	HumidifierOn        bool       `json:"humidifier_on"`
	HeaterOn            bool       `json:"heater_on"`
	WaterPumpOn         bool       `json:"water_pump_on"`
	CO2ValveOpen        bool       `json:"co2_valve_open"`
	ControllerConnected bool       `json:"controller_connected"`
	LastResetAt         *time.Time `json:"last_reset_at,omitempty"`
	ControllerUptimeSec *int64     `json:"controller_uptime_seconds,omitempty"`
	ControllerResets    *int64     `json:"controller_reset_count,omitempty"`
	LightSetpoint       *float64   `json:"light_setpoint,omitempty"`
	PumpPulseCount      *int64     `json:"pump_pulse_count,omitempty"`
}
