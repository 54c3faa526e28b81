package application

import (
	"math"
	"time"

	alarms "greenhouse-brain/internal/alarms/domain"
	estimator "greenhouse-brain/internal/estimator/domain"
	health "greenhouse-brain/internal/health/domain"
)

// Confidence factor names.
const (
	FactorReadingAge        = "reading_age"
	FactorProbeDisagreement = "probe_disagreement"
	FactorMissingPrefix     = "missing:"
	FactorFaultPrefix       = "fault:"
	FactorAnomalyPrefix     = "anomaly:"
	FactorSoilExtreme       = "soil_moisture_extreme"
	FactorSoilVariance      = "soil_moisture_variance"
	factorExtremeSuffix     = "_extreme"
	factorVarianceSuffix    = "_variance"
)

// ScoreInput is what the scorer reads for one cycle.
type ScoreInput struct {
	Now       time.Time
	Current   estimator.State
	History   *estimator.RingBuffer
	Health    health.SensorHealth
	Anomalies []alarms.Anomaly
}

// Scorer turns data quality signals into a confidence in [0, 1].
type Scorer struct {
	weights estimator.ConfidenceWeights
}

// NewScorer constructs a scorer.
func NewScorer(weights estimator.ConfidenceWeights) *Scorer {
	return &Scorer{weights: weights}
}

// Score starts from 1 and subtracts, in a fixed order: reading age, extreme
// ranges, window variance, probe disagreement, missing readings, sensor faults
// and anomalies. Every applied deduction is returned as a factor.
func (s *Scorer) Score(in ScoreInput) (float64, []estimator.ConfidenceFactor) {
	w := s.weights
	var factors []estimator.ConfidenceFactor
	deduct := func(name string, amount float64) {
		if amount > 0 {
			factors = append(factors, estimator.ConfidenceFactor{Factor: name, Deduction: amount})
		}
	}

	deduct(FactorReadingAge, w.AgeDeduction(in.Now.Sub(in.Current.Timestamp)))

	for _, probe := range in.Current.Soil.Probes {
		if probe.MoisturePct != nil && w.SoilMoisture.Outside(*probe.MoisturePct) {
			deduct(FactorSoilExtreme, w.SoilMoisture.Deduction)
			break
		}
	}
	extremes := []struct {
		metric estimator.Metric
		check  estimator.RangeCheck
	}{
		{estimator.MetricAirTemperature, w.AirTemperature},
		{estimator.MetricRelativeHumidity, w.RelativeHumidity},
		{estimator.MetricVPD, w.VPD},
	}
	for _, e := range extremes {
		if v, ok := in.Current.Metric(e.metric); ok && e.check.Outside(v) {
			deduct(string(e.metric)+factorExtremeSuffix, e.check.Deduction)
		}
	}

	variances := []struct {
		name   string
		metric estimator.Metric
		check  estimator.VarianceCheck
	}{
		{FactorSoilVariance, estimator.MetricSoilMoistureAvg, w.SoilVariance},
		{string(estimator.MetricAirTemperature) + factorVarianceSuffix, estimator.MetricAirTemperature, w.AirTemperatureVariance},
		{string(estimator.MetricRelativeHumidity) + factorVarianceSuffix, estimator.MetricRelativeHumidity, w.HumidityVariance},
	}
	recent := s.recent(in)
	for _, v := range variances {
		stats := summarize(recent, v.metric)
		if stats.Count >= w.VarianceMinSamples && stats.StdDev > v.check.MaxStdDev {
			deduct(v.name, v.check.Deduction)
		}
	}

	if spread, ok := estimator.SoilDifferential(in.Current.Soil.Probes); ok && spread > w.ProbeDisagreementPct {
		deduct(FactorProbeDisagreement, w.ProbeDisagreement)
	}

	for _, status := range in.Health.Sensors {
		if status.ConsecutiveMissing > 0 && !status.Faulted() {
			deduct(FactorMissingPrefix+status.Sensor, w.MissingReading)
		}
	}

	for _, status := range in.Health.Sensors {
		if status.Faulted() {
			deduct(FactorFaultPrefix+status.Sensor, -status.ConfidenceDelta)
		}
	}

	for _, anomaly := range in.Anomalies {
		deduct(FactorAnomalyPrefix+anomaly.Type+":"+anomaly.Measurement, s.severityDeduction(anomaly.Severity))
	}

	score := 1.0
	for _, factor := range factors {
		score -= factor.Deduction
	}
	return clamp01(score), factors
}

// recent returns the buffered states inside the variance window of the current state.
func (s *Scorer) recent(in ScoreInput) []estimator.State {
	if in.History == nil {
		return nil
	}
	return in.History.Since(in.Current.Timestamp.Add(-s.weights.VarianceWindow()))
}

func (s *Scorer) severityDeduction(severity alarms.Severity) float64 {
	switch severity {
	case alarms.SeverityInfo:
		return s.weights.Severity.Info
	case alarms.SeverityWarn:
		return s.weights.Severity.Warn
	case alarms.SeverityError:
		return s.weights.Severity.Error
	case alarms.SeverityCrit:
		return s.weights.Severity.Crit
	default:
		return 0
	}
}

func summarize(states []estimator.State, metric estimator.Metric) estimator.Stats {
	values := make([]float64, 0, len(states))
	for _, state := range states {
		if v, ok := state.Metric(metric); ok {
			values = append(values, v)
		}
	}
	return estimator.Summarize(values)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
