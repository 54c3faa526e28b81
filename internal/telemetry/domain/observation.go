package telemetry

import (
	"strings"
	"time"
)

// ObservationSchemaV1 tags observation records.
const ObservationSchemaV1 = "observation_v1"

// Sensor channel identifiers. Soil probes use SoilMoistureChannel.
const (
	ChannelAirTemperature   = "air_temperature"
	ChannelRelativeHumidity = "relative_humidity"
	ChannelCO2              = "co2"
	ChannelSoilTemperature  = "soil_temperature"
	ChannelLightIntensity   = "light_intensity"
	ChannelLeafTemperature  = "leaf_temperature"

	soilMoisturePrefix = "soil_moisture_"
)

// Soil ids reserved for the aggregate metrics that share the soil moisture prefix.
const (
	SoilIDAverage      = "avg"
	SoilIDDifferential = "differential"
)

// ReservedSoilID reports whether id collides with an aggregate soil metric.
func ReservedSoilID(id string) bool {
	return id == SoilIDAverage || id == SoilIDDifferential
}

// Observation is one timestamped snapshot of sensor readings.
// Absent readings are nil.
type Observation struct {
	SchemaVersion       string             `json:"schema_version"`
	Timestamp           time.Time          `json:"timestamp"`
	AirTemperatureC     *float64           `json:"air_temperature_c,omitempty"`
	RelativeHumidityPct *float64           `json:"relative_humidity_pct,omitempty"`
	CO2PPM              *float64           `json:"co2_ppm,omitempty"`
	SoilTemperatureC    *float64           `json:"soil_temperature_c,omitempty"`
	LeafTemperatureC    *float64           `json:"leaf_temperature_c,omitempty"`
	LightIntensity      *float64           `json:"light_intensity,omitempty"`
	SoilProbes          []SoilProbeReading `json:"soil_probes,omitempty"`
}

// SoilProbeReading is a single soil moisture probe value in percent.
type SoilProbeReading struct {
	ProbeID     string   `json:"probe_id"`
	MoisturePct *float64 `json:"moisture_pct,omitempty"`
}

// SoilMoistureChannel returns the channel id of a soil probe.
func SoilMoistureChannel(probeID string) string {
	return soilMoisturePrefix + probeID
}

// ProbeFromChannel extracts the probe id from a soil moisture channel.
func ProbeFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, soilMoisturePrefix) {
		return "", false
	}
	id := strings.TrimPrefix(channel, soilMoisturePrefix)
	return id, id != ""
}

// Reading returns the value of a channel when present.
func (o Observation) Reading(channel string) (float64, bool) {
	switch channel {
	case ChannelAirTemperature:
		return deref(o.AirTemperatureC)
	case ChannelRelativeHumidity:
		return deref(o.RelativeHumidityPct)
	case ChannelCO2:
		return deref(o.CO2PPM)
	case ChannelSoilTemperature:
		return deref(o.SoilTemperatureC)
	case ChannelLeafTemperature:
		return deref(o.LeafTemperatureC)
	case ChannelLightIntensity:
		return deref(o.LightIntensity)
	}
	if probeID, ok := ProbeFromChannel(channel); ok {
		for _, probe := range o.SoilProbes {
			if probe.ProbeID == probeID {
				return deref(probe.MoisturePct)
			}
		}
	}
	return 0, false
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

func deref(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}
