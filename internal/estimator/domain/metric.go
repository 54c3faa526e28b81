package estimator

import (
	telemetry "greenhouse-brain/internal/telemetry/domain"
)

// Metric names a numeric field of a State. Sensor metrics share the
// telemetry channel identifiers.
type Metric string

const (
	MetricAirTemperature   Metric = telemetry.ChannelAirTemperature
	MetricRelativeHumidity Metric = telemetry.ChannelRelativeHumidity
	MetricCO2              Metric = telemetry.ChannelCO2
	MetricSoilTemperature  Metric = telemetry.ChannelSoilTemperature
	MetricLightIntensity   Metric = telemetry.ChannelLightIntensity
	MetricVPD              Metric = "vpd"
	MetricLeafAirDelta     Metric = "leaf_air_delta"
	MetricSoilMoistureAvg  Metric = "soil_moisture_" + telemetry.SoilIDAverage
	MetricSoilDifferential Metric = "soil_moisture_" + telemetry.SoilIDDifferential
	MetricConfidence       Metric = "confidence"
)

// SoilProbeMetric returns the metric of one soil probe.
func SoilProbeMetric(probeID string) Metric {
	return Metric(telemetry.SoilMoistureChannel(probeID))
}

// Metric extracts a named value. The boolean is false when the value is absent.
func (s State) Metric(m Metric) (float64, bool) {
	switch m {
	case MetricAirTemperature:
		return value(s.Environment.AirTemperatureC)
	case MetricRelativeHumidity:
		return value(s.Environment.RelativeHumidityPct)
	case MetricCO2:
		return value(s.Environment.CO2PPM)
	case MetricVPD:
		return value(s.Environment.VPDKPa)
	case MetricLightIntensity:
		return value(s.Environment.LightIntensity)
	case MetricSoilTemperature:
		return value(s.Soil.TemperatureC)
	case MetricLeafAirDelta:
		return value(s.Plant.LeafAirDeltaC)
	case MetricSoilMoistureAvg:
		return value(s.Soil.AverageMoisturePct)
	case MetricSoilDifferential:
		return SoilDifferential(s.Soil.Probes)
	case MetricConfidence:
		return s.Confidence, true
	}
	if probeID, ok := telemetry.ProbeFromChannel(string(m)); ok {
		if probe, found := s.Probe(probeID); found {
			return value(probe.MoisturePct)
		}
	}
	return 0, false
}

func value(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}
