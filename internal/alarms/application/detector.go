package application

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	alarms "greenhouse-brain/internal/alarms/domain"
	estimator "greenhouse-brain/internal/estimator/domain"
	health "greenhouse-brain/internal/health/domain"
	telemetry "greenhouse-brain/internal/telemetry/domain"
)

// MeasurementController names anomalies raised on the device controller.
const MeasurementController = "controller"

var anomalyNamespace = uuid.MustParse("6f3c1d0e-52a4-4b8e-9d47-1f0b9e2a7c31")

// DetectInput is everything the detector reads for one cycle.
type DetectInput struct {
	PlantID    string
	Current    estimator.State
	History    *estimator.RingBuffer
	Health     health.SensorHealth
	Continuity estimator.Continuity
}

// Detection is the outcome of one detector pass.
type Detection struct {
	Anomalies        []alarms.Anomaly
	EscalateSampling bool
}

// Detector evaluates the rule table, sensor faults and device status.
type Detector struct {
	rules  []alarms.AnomalyRule
	policy alarms.EscalationPolicy
}

// NewDetector validates the rules and constructs a detector. Disabled rules are dropped.
func NewDetector(rules []alarms.AnomalyRule, policy alarms.EscalationPolicy) (*Detector, error) {
	if policy.WarnCount < 1 {
		return nil, errors.New("anomaly detector: warn count must be positive")
	}
	active := make([]alarms.AnomalyRule, 0, len(rules))
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		if !rule.Disabled {
			active = append(active, rule)
		}
	}
	return &Detector{rules: active, policy: policy}, nil
}

// Detect returns anomalies in a fixed order: discontinuity, rules in table
// order (probes in probe order), sensor faults in sensor order, then device.
func (d *Detector) Detect(in DetectInput) Detection {
	if d == nil {
		return Detection{}
	}
	var past []estimator.State
	if in.History != nil {
		past = in.History.All()
	}
	now := in.Current.Timestamp
	var out []alarms.Anomaly
	emit := func(a alarms.Anomaly) {
		a.SchemaVersion = alarms.SchemaV1
		a.PlantID = in.PlantID
		a.Timestamp = now
		a.ID = buildAnomalyID(in.PlantID, now, a.Type, a.Measurement)
		a.RequiresSafeMode = a.Severity >= alarms.SeverityCrit
		if a.RecommendedResponses == nil {
			a.RecommendedResponses = []string{}
		}
		out = append(out, a)
	}

	if in.Continuity.Broken() {
		emit(alarms.Anomaly{
			Type:                 alarms.TypeTimestampDiscontinuity,
			Measurement:          "timestamp",
			Severity:             alarms.SeverityWarn,
			Value:                in.Continuity.Gap.Hours(),
			DetectionMode:        alarms.ModeInstant,
			RecommendedResponses: []string{alarms.ResponseRebuildHistory},
			Description:          fmt.Sprintf("timestamp %s after %s (%s); history reset", in.Continuity.Kind, in.Continuity.Previous.UTC().Format(time.RFC3339), in.Continuity.Gap),
		})
	}

	for _, rule := range d.rules {
		for _, metric := range expandMetric(rule, in.Current) {
			value, ok := in.Current.Metric(metric)
			if !ok {
				continue
			}
			var (
				anomaly alarms.Anomaly
				fired   bool
			)
			switch rule.EffectiveKind() {
			case alarms.KindThreshold:
				anomaly, fired = evaluateThreshold(rule, metric, value, now, past)
			case alarms.KindRate:
				anomaly, fired = evaluateRate(rule, metric, value, now, past)
			}
			if fired {
				emit(anomaly)
			}
		}
	}

	for _, status := range in.Health.Sensors {
		if status.Faulted() {
			emit(faultAnomaly(status))
		}
	}

	device := in.Current.Devices
	if !device.ControllerConnected {
		emit(alarms.Anomaly{
			Type:                 alarms.TypeDeviceOffline,
			Measurement:          MeasurementController,
			Severity:             alarms.SeverityError,
			DetectionMode:        alarms.ModeDevice,
			RecommendedResponses: []string{alarms.ResponseNotify, alarms.ResponseCheckController},
			Description:          "device controller disconnected",
		})
	}
	if previous, ok := latest(past); ok && controllerReset(previous.Devices, device) {
		value := 0.0
		if device.ControllerResets != nil {
			value = float64(*device.ControllerResets)
		}
		emit(alarms.Anomaly{
			Type:                 alarms.TypeControllerReset,
			Measurement:          MeasurementController,
			Severity:             alarms.SeverityInfo,
			Value:                value,
			DetectionMode:        alarms.ModeDevice,
			RecommendedResponses: []string{alarms.ResponseCheckController},
			Description:          "device controller reset since previous cycle",
		})
	}

	return Detection{Anomalies: out, EscalateSampling: d.policy.ShouldEscalate(out)}
}

func expandMetric(rule alarms.AnomalyRule, current estimator.State) []estimator.Metric {
	if rule.Metric != alarms.MetricEachSoilProbe {
		return []estimator.Metric{estimator.Metric(rule.Metric)}
	}
	metrics := make([]estimator.Metric, 0, len(current.Soil.Probes))
	for _, probe := range current.Soil.Probes {
		metrics = append(metrics, estimator.SoilProbeMetric(probe.ProbeID))
	}
	return metrics
}

func evaluateThreshold(rule alarms.AnomalyRule, metric estimator.Metric, value float64, now time.Time, past []estimator.State) (alarms.Anomaly, bool) {
	if !rule.Operator.Compare(value, rule.Threshold) {
		return alarms.Anomaly{}, false
	}
	mode := alarms.ModeInstant
	if rule.DurationSeconds > 0 {
		if now.Sub(pendingSince(rule, metric, now, past)) < rule.Duration() {
			return alarms.Anomaly{}, false
		}
		mode = alarms.ModeSustained
	}
	severity, threshold := rule.Grade(value)
	description := fmt.Sprintf("%s %.2f %s %.2f", metric, value, rule.Operator, threshold)
	if rule.DurationSeconds > 0 {
		description += fmt.Sprintf(" for at least %s", rule.Duration())
	}
	return alarms.Anomaly{
		Type:                 rule.Type,
		Measurement:          string(metric),
		Severity:             severity,
		Value:                value,
		Threshold:            threshold,
		DetectionMode:        mode,
		RecommendedResponses: append([]string(nil), rule.Responses...),
		Description:          description,
	}, true
}

// pendingSince walks back through history while the condition holds and returns
// the earliest timestamp of the unbroken run. Absent readings are skipped, but a
// gap longer than the rule duration between two breaching readings ends the run.
func pendingSince(rule alarms.AnomalyRule, metric estimator.Metric, now time.Time, past []estimator.State) time.Time {
	since := now
	for i := len(past) - 1; i >= 0; i-- {
		v, ok := past[i].Metric(metric)
		if !ok {
			continue
		}
		if since.Sub(past[i].Timestamp) > rule.Duration() {
			break
		}
		if !rule.Operator.Compare(v, rule.Threshold) {
			break
		}
		since = past[i].Timestamp
		if now.Sub(since) >= rule.Duration() {
			break
		}
	}
	return since
}

func evaluateRate(rule alarms.AnomalyRule, metric estimator.Metric, value float64, now time.Time, past []estimator.State) (alarms.Anomaly, bool) {
	cutoff := now.Add(-rule.Window())
	for _, state := range past {
		if state.Timestamp.Before(cutoff) || !state.Timestamp.Before(now) {
			continue
		}
		baseline, ok := state.Metric(metric)
		if !ok {
			continue
		}
		change := rule.RateChange(value - baseline)
		if change <= rule.Threshold {
			return alarms.Anomaly{}, false
		}
		severity, threshold := rule.Grade(change)
		return alarms.Anomaly{
			Type:                 rule.Type,
			Measurement:          string(metric),
			Severity:             severity,
			Value:                change,
			Threshold:            threshold,
			DetectionMode:        alarms.ModeRate,
			RecommendedResponses: append([]string(nil), rule.Responses...),
			Description:          fmt.Sprintf("%s changed %.2f -> %.2f within %s", metric, baseline, value, now.Sub(state.Timestamp)),
		}, true
	}
	return alarms.Anomaly{}, false
}

func faultAnomaly(status health.SensorStatus) alarms.Anomaly {
	anomaly := alarms.Anomaly{
		Measurement:          status.Sensor,
		Severity:             alarms.SeverityWarn,
		DetectionMode:        alarms.ModeFault,
		RecommendedResponses: []string{alarms.ResponseInspectSensor},
		Description:          fmt.Sprintf("sensor %s fault %s", status.Sensor, status.FaultType),
	}
	if status.LastReading != nil {
		anomaly.Value = *status.LastReading
	}
	switch status.FaultType {
	case health.FaultStuckAt:
		anomaly.Type = alarms.TypeSensorStuck
	case health.FaultJump:
		anomaly.Type = alarms.TypeSensorJump
	case health.FaultDrift:
		anomaly.Type = alarms.TypeSensorDrift
	case health.FaultDisconnect:
		anomaly.Type = alarms.TypeSensorDisconnect
		anomaly.Threshold = float64(status.ConsecutiveMissing)
		if status.Critical {
			anomaly.Severity = alarms.SeverityError
			anomaly.RecommendedResponses = []string{alarms.ResponseNotify, alarms.ResponseInspectSensor}
		}
	}
	return anomaly
}

func controllerReset(previous, current telemetry.DeviceStatus) bool {
	if current.LastResetAt != nil && (previous.LastResetAt == nil || current.LastResetAt.After(*previous.LastResetAt)) {
		return true
	}
	if current.ControllerResets != nil && previous.ControllerResets != nil && *current.ControllerResets > *previous.ControllerResets {
		return true
	}
	return false
}

func latest(past []estimator.State) (estimator.State, bool) {
	if len(past) == 0 {
		return estimator.State{}, false
	}
	return past[len(past)-1], true
}

func buildAnomalyID(plantID string, at time.Time, anomalyType, measurement string) string {
	name := plantID + "|" + at.UTC().Format(time.RFC3339Nano) + "|" + anomalyType + "|" + measurement
	return uuid.NewSHA1(anomalyNamespace, []byte(name)).String()
}
