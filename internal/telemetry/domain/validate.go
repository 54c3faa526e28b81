package telemetry

import (
	"fmt"
	"math"
)

// Physical limits accepted for raw readings.
const (
	MinTemperatureC = -20.0
	MaxTemperatureC = 60.0
)

// Validate checks schema version, timestamp and reading ranges.
func (o Observation) Validate() error {
	if o.SchemaVersion != ObservationSchemaV1 {
		return fmt.Errorf("%w: observation schema_version %q", ErrInvalidInput, o.SchemaVersion)
	}
	if o.Timestamp.IsZero() {
		return fmt.Errorf("%w: observation timestamp missing", ErrInvalidInput)
	}
	if err := checkRange("air_temperature_c", o.AirTemperatureC, MinTemperatureC, MaxTemperatureC); err != nil {
		return err
	}
	if err := checkRange("relative_humidity_pct", o.RelativeHumidityPct, 0, 100); err != nil {
		return err
	}
	if err := checkRange("soil_temperature_c", o.SoilTemperatureC, MinTemperatureC, MaxTemperatureC); err != nil {
		return err
	}
	if err := checkRange("leaf_temperature_c", o.LeafTemperatureC, MinTemperatureC, MaxTemperatureC); err != nil {
		return err
	}
	if err := checkRange("co2_ppm", o.CO2PPM, 0, math.MaxFloat64); err != nil {
		return err
	}
	if err := checkRange("light_intensity", o.LightIntensity, 0, math.MaxFloat64); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(o.SoilProbes))
	for _, probe := range o.SoilProbes {
		if probe.ProbeID == "" {
			return fmt.Errorf("%w: soil probe without probe_id", ErrInvalidInput)
		}
		if ReservedSoilID(probe.ProbeID) {
			return fmt.Errorf("%w: soil id %q is reserved", ErrInvalidInput, probe.ProbeID)
		}
		if _, dup := seen[probe.ProbeID]; dup {
			return fmt.Errorf("%w: duplicate soil probe %q", ErrInvalidInput, probe.ProbeID)
		}
		seen[probe.ProbeID] = struct{}{}
		if err := checkRange("soil_probes."+probe.ProbeID+".moisture_pct", probe.MoisturePct, 0, 100); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks schema version, timestamp and counters.
func (d DeviceStatus) Validate() error {
	if d.SchemaVersion != DeviceStatusSchemaV1 {
		return fmt.Errorf("%w: device_status schema_version %q", ErrInvalidInput, d.SchemaVersion)
	}
	if d.Timestamp.IsZero() {
		return fmt.Errorf("%w: device_status timestamp missing", ErrInvalidInput)
	}
	counters := []struct {
		name  string
		value *int64
	}{
		{"controller_uptime_seconds", d.ControllerUptimeSec},
		{"controller_reset_count", d.ControllerResets},
		{"pump_pulse_count", d.PumpPulseCount},
	}
	for _, counter := range counters {
		if counter.value != nil && *counter.value < 0 {
			return fmt.Errorf("%w: %s negative", ErrInvalidInput, counter.name)
		}
	}
	if err := checkRange("light_setpoint", d.LightSetpoint, 0, math.MaxFloat64); err != nil {
		return err
	}
	return nil
}

func checkRange(field string, value *float64, min, max float64) error {
	if value == nil {
		return nil
	}
	v := *value
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s not finite", ErrInvalidInput, field)
	}
	if v < min || v > max {
		return fmt.Errorf("%w: %s %.3f outside [%g, %g]", ErrInvalidInput, field, v, min, max)
	}
	return nil
}
