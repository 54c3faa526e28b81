// Package application runs estimation cycles: one Pipeline per plant and a
// Registry that serializes access and fans results out.
package application

import (
	"errors"
	"fmt"

	alarmsapp "greenhouse-brain/internal/alarms/application"
	alarms "greenhouse-brain/internal/alarms/domain"
	"greenhouse-brain/internal/estimator/config"
	estimator "greenhouse-brain/internal/estimator/domain"
	healthapp "greenhouse-brain/internal/health/application"
	health "greenhouse-brain/internal/health/domain"
	telemetry "greenhouse-brain/internal/telemetry/domain"
)

// Result is the output of one estimation cycle.
type Result struct {
	State            estimator.State     `json:"state"`
	Anomalies        []alarms.Anomaly    `json:"anomalies"`
	Health           health.SensorHealth `json:"sensor_health"`
	EscalateSampling bool                `json:"escalate_sampling"`
	// HistoryReset reports why the buffer was cleared before this cycle, if it was.
	HistoryReset string `json:"-"`
}

// Reasons a pipeline clears its history.
const (
	ResetRequested = "requested"
	ResetBackwards = string(estimator.ContinuityBackwards)
	ResetGap       = string(estimator.ContinuityGap)
)

// Pipeline estimates the state of one plant. It is deterministic in its inputs,
// buffer contents and calibration. It is not safe for concurrent use.
type Pipeline struct {
	plantID  string
	cal      config.Calibration
	buffer   *estimator.RingBuffer
	tracker  *healthapp.Tracker
	detector *alarmsapp.Detector
	scorer   *Scorer
}

// NewPipeline builds a pipeline with the plant's calibration.
func NewPipeline(plantID string, cal config.Calibration) (*Pipeline, error) {
	if plantID == "" {
		return nil, errors.New("estimator pipeline: plant id required")
	}
	p := &Pipeline{plantID: plantID}
	if err := p.Reconfigure(cal); err != nil {
		return nil, err
	}
	return p, nil
}

// Reconfigure swaps the calibration. Buffered history is kept, trimmed to the
// new retention.
func (p *Pipeline) Reconfigure(cal config.Calibration) error {
	cal = cal.ForPlant(p.plantID)
	tracker, err := healthapp.NewTracker(cal.Sensors, cal.ProbeDefault, cal.Health)
	if err != nil {
		return err
	}
	detector, err := alarmsapp.NewDetector(cal.Rules, cal.Escalation)
	if err != nil {
		return err
	}
	if p.buffer == nil {
		p.buffer = estimator.NewRingBuffer(cal.Buffer.Retention(), cal.Buffer.DiscontinuityGap())
	} else {
		p.buffer.SetBounds(cal.Buffer.Retention(), cal.Buffer.DiscontinuityGap())
	}
	p.cal = cal
	p.tracker = tracker
	p.detector = detector
	p.scorer = NewScorer(cal.Confidence)
	return nil
}

// PlantID returns the plant this pipeline serves.
func (p *Pipeline) PlantID() string {
	return p.plantID
}

// Buffer exposes the history for read access.
func (p *Pipeline) Buffer() *estimator.RingBuffer {
	return p.buffer
}

// Estimate runs one cycle. Invalid input fails with telemetry.ErrInvalidInput
// and leaves the buffer untouched.
func (p *Pipeline) Estimate(obs telemetry.Observation, status telemetry.DeviceStatus, cycle estimator.CycleContext) (Result, error) {
	if err := obs.Validate(); err != nil {
		return Result{}, err
	}
	if err := status.Validate(); err != nil {
		return Result{}, err
	}
	if cycle.PlantID != "" && cycle.PlantID != p.plantID {
		return Result{}, fmt.Errorf("%w: cycle plant_id %q does not match %q", telemetry.ErrInvalidInput, cycle.PlantID, p.plantID)
	}
	state, err := p.derive(obs, status, cycle)
	if err != nil {
		return Result{}, err
	}
	now := cycle.ReferenceTime(obs.Timestamp)

	var reset string
	if latest, ok := p.buffer.Latest(); ok && cycle.LastResetAt != nil && cycle.LastResetAt.After(latest.Timestamp) {
		p.buffer.Reset()
		reset = ResetRequested
	}
	continuity := p.buffer.CheckContinuity(obs.Timestamp)
	if continuity.Broken() {
		p.buffer.Reset()
		reset = string(continuity.Kind)
	}

	sensorHealth := p.tracker.Evaluate(state, p.buffer)
	detection := p.detector.Detect(alarmsapp.DetectInput{
		PlantID:    p.plantID,
		Current:    state,
		History:    p.buffer,
		Health:     sensorHealth,
		Continuity: continuity,
	})
	score, factors := p.scorer.Score(ScoreInput{
		Now:       now,
		Current:   state,
		History:   p.buffer,
		Health:    sensorHealth,
		Anomalies: detection.Anomalies,
	})

	for i := range state.Soil.Probes {
		probe := &state.Soil.Probes[i]
		if probe.MoisturePct == nil {
			continue
		}
		probe.Confidence = 1
		if s, ok := sensorHealth.Lookup(telemetry.SoilMoistureChannel(probe.ProbeID)); ok {
			probe.Confidence = clamp01(1 + s.ConfidenceDelta)
		}
	}
	state.Confidence = score
	state.ConfidenceFactors = factors
	state.AnomalyTags = tags(detection.Anomalies)
	state.EscalateSampling = detection.EscalateSampling

	p.buffer.Add(state)

	anomalies := detection.Anomalies
	if anomalies == nil {
		anomalies = []alarms.Anomaly{}
	}
	return Result{
		State:            state,
		Anomalies:        anomalies,
		Health:           sensorHealth,
		EscalateSampling: detection.EscalateSampling,
		HistoryReset:     reset,
	}, nil
}

// derive builds the draft state: copied readings plus VPD, leaf-air delta and
// soil aggregates.
func (p *Pipeline) derive(obs telemetry.Observation, status telemetry.DeviceStatus, cycle estimator.CycleContext) (estimator.State, error) {
	state := estimator.State{
		SchemaVersion: estimator.StateSchemaV1,
		PlantID:       p.plantID,
		Timestamp:     obs.Timestamp,
		Environment: estimator.Environment{
			AirTemperatureC:     cloneFloat(obs.AirTemperatureC),
			RelativeHumidityPct: cloneFloat(obs.RelativeHumidityPct),
			CO2PPM:              cloneFloat(obs.CO2PPM),
			LightIntensity:      cloneFloat(obs.LightIntensity),
		},
		Plant:    estimator.PlantBlock{Vision: cycle.Vision.Clone()},
		Soil:     estimator.SoilBlock{TemperatureC: cloneFloat(obs.SoilTemperatureC)},
		Devices:  cloneStatus(status),
		Calendar: estimator.Calendar{Season: cycle.Season, Daylight: cycle.Daylight},
		Budget:   cycle.Budget.Clone(),
	}
	if obs.AirTemperatureC != nil && obs.RelativeHumidityPct != nil {
		vpd, err := estimator.VPD(*obs.AirTemperatureC, *obs.RelativeHumidityPct)
		if err != nil {
			return estimator.State{}, err
		}
		state.Environment.VPDKPa = telemetry.Float(vpd)
	}
	if obs.LeafTemperatureC != nil && obs.AirTemperatureC != nil {
		delta, err := estimator.LeafAirDelta(*obs.LeafTemperatureC, *obs.AirTemperatureC)
		if err != nil {
			return estimator.State{}, err
		}
		state.Plant.LeafAirDeltaC = telemetry.Float(delta)
	}
	if len(obs.SoilProbes) > 0 {
		state.Soil.Probes = make([]estimator.ProbeState, 0, len(obs.SoilProbes))
		for _, probe := range obs.SoilProbes {
			state.Soil.Probes = append(state.Soil.Probes, estimator.ProbeState{
				ProbeID:     probe.ProbeID,
				MoisturePct: cloneFloat(probe.MoisturePct),
			})
		}
	}
	if avg, ok := estimator.SoilAverage(state.Soil.Probes); ok {
		state.Soil.AverageMoisturePct = telemetry.Float(avg)
	}
	state.Soil.ZonePattern = estimator.ZonePattern(state.Soil.Probes, p.cal.Soil.UniformSpreadPct)
	return state, nil
}

func tags(anomalies []alarms.Anomaly) []estimator.AnomalyTag {
	if len(anomalies) == 0 {
		return nil
	}
	out := make([]estimator.AnomalyTag, 0, len(anomalies))
	for _, anomaly := range anomalies {
		out = append(out, estimator.AnomalyTag{
			Type:        anomaly.Type,
			Severity:    anomaly.Severity.String(),
			Measurement: anomaly.Measurement,
		})
	}
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return telemetry.Float(*v)
}

func cloneStatus(status telemetry.DeviceStatus) telemetry.DeviceStatus {
	out := status
	if status.LastResetAt != nil {
		at := *status.LastResetAt
		out.LastResetAt = &at
	}
	out.LightSetpoint = cloneFloat(status.LightSetpoint)
	out.ControllerUptimeSec = cloneInt(status.ControllerUptimeSec)
	out.ControllerResets = cloneInt(status.ControllerResets)
	out.PumpPulseCount = cloneInt(status.PumpPulseCount)
	return out
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
