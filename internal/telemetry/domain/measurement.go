package telemetry

import (
	"sort"
	"time"
)

// Measurement is a single channel value as delivered by flat telemetry feeds.
type Measurement struct {
	Channel string
	Value   float64
}

// ObservationFromMeasurements folds channel values into an observation.
// Unknown channels are returned separately. Soil probes are ordered by probe id.
func ObservationFromMeasurements(ts time.Time, measurements []Measurement) (Observation, []string) {
	obs := Observation{SchemaVersion: ObservationSchemaV1, Timestamp: ts}
	var unknown []string
	for _, m := range measurements {
		switch m.Channel {
		case ChannelAirTemperature:
			obs.AirTemperatureC = Float(m.Value)
		case ChannelRelativeHumidity:
			obs.RelativeHumidityPct = Float(m.Value)
		case ChannelCO2:
			obs.CO2PPM = Float(m.Value)
		case ChannelSoilTemperature:
			obs.SoilTemperatureC = Float(m.Value)
		case ChannelLeafTemperature:
			obs.LeafTemperatureC = Float(m.Value)
		case ChannelLightIntensity:
			obs.LightIntensity = Float(m.Value)
		default:
			probeID, ok := ProbeFromChannel(m.Channel)
			if !ok {
				unknown = append(unknown, m.Channel)
				continue
			}
			obs.SoilProbes = upsertProbe(obs.SoilProbes, probeID, m.Value)
		}
	}
	sort.Slice(obs.SoilProbes, func(i, j int) bool {
		return obs.SoilProbes[i].ProbeID < obs.SoilProbes[j].ProbeID
	})
	sort.Strings(unknown)
	return obs, unknown
}

func upsertProbe(probes []SoilProbeReading, probeID string, value float64) []SoilProbeReading {
	for i := range probes {
		if probes[i].ProbeID == probeID {
			probes[i].MoisturePct = Float(value)
			return probes
		}
	}
	return append(probes, SoilProbeReading{ProbeID: probeID, MoisturePct: Float(value)})
}
