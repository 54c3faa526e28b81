package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	alarmsapp "greenhouse-brain/internal/alarms/application"
	"greenhouse-brain/internal/estimator/config"
	estimator "greenhouse-brain/internal/estimator/domain"
	"greenhouse-brain/internal/observability/metrics"
	telemetry "greenhouse-brain/internal/telemetry/domain"
)

// ErrUnknownPlant is returned for plants that never reported.
var ErrUnknownPlant = errors.New("estimator: unknown plant")

// Sink persists cycle results.
type Sink interface {
	SaveResult(ctx context.Context, result Result) error
}

// Registry owns one pipeline per plant, each behind its own lock.
type Registry struct {
	mu       sync.RWMutex
	cal      config.Calibration
	plants   map[string]*plantEntry
	sink     Sink
	notifier alarmsapp.AnomalyNotifier
	logger   logrus.FieldLogger
}

type plantEntry struct {
	mu       sync.Mutex
	pipeline *Pipeline
}

// Option configures a Registry.
type Option func(*Registry)

// WithSink persists every result.
func WithSink(sink Sink) Option {
	return func(r *Registry) { r.sink = sink }
}

// WithNotifier publishes every anomaly.
func WithNotifier(notifier alarmsapp.AnomalyNotifier) Option {
	return func(r *Registry) { r.notifier = notifier }
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry validates the calibration and creates an empty registry.
func NewRegistry(cal config.Calibration, opts ...Option) (*Registry, error) {
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		cal:    cal,
		plants: make(map[string]*plantEntry),
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Estimate runs one cycle for a plant, creating its pipeline on first use.
// Persistence and notification failures are logged, not returned.
func (r *Registry) Estimate(ctx context.Context, plantID string, obs telemetry.Observation, status telemetry.DeviceStatus, cycle estimator.CycleContext) (Result, error) {
	start := time.Now()
	entry, err := r.entry(plantID, true)
	if err != nil {
		metrics.ObserveEstimate(metrics.ResultError, time.Since(start))
		return Result{}, err
	}

	entry.mu.Lock()
	result, err := entry.pipeline.Estimate(obs, status, cycle)
	buffered := entry.pipeline.Buffer().Len()
	entry.mu.Unlock()

	logger := r.logger.WithField("plant_id", plantID)
	if err != nil {
		outcome := metrics.ResultError
		if errors.Is(err, telemetry.ErrInvalidInput) {
			outcome = metrics.ResultInvalid
		}
		metrics.ObserveEstimate(outcome, time.Since(start))
		logger.WithError(err).Warn("estimate rejected")
		return Result{}, err
	}
	metrics.ObserveEstimate(metrics.ResultSuccess, time.Since(start))
	r.record(plantID, result, buffered)

	if result.HistoryReset != "" {
		logger.WithField("reason", result.HistoryReset).Info("history reset")
	}
	logger.WithFields(logrus.Fields{
		"timestamp":  result.State.Timestamp,
		"confidence": result.State.Confidence,
		"anomalies":  len(result.Anomalies),
		"health":     result.Health.Overall,
		"escalate":   result.EscalateSampling,
	}).Debug("state estimated")

	if r.sink != nil {
		if err := r.sink.SaveResult(ctx, result); err != nil {
			logger.WithError(err).Error("persist result failed")
		}
	}
	if r.notifier != nil {
		for _, anomaly := range result.Anomalies {
			r.notifier.Notify(ctx, alarmsapp.AnomalyEvent{PlantID: plantID, Anomaly: anomaly})
		}
	}
	return result, nil
}

func (r *Registry) record(plantID string, result Result, buffered int) {
	metrics.SetPlantState(plantID, result.State.Confidence, buffered)
	if result.HistoryReset != "" {
		metrics.IncBufferReset(result.HistoryReset)
	}
	if result.EscalateSampling {
		metrics.IncEscalation(plantID)
	}
	for _, anomaly := range result.Anomalies {
		metrics.IncAnomaly(anomaly.Type, anomaly.Severity.String())
	}
	for _, status := range result.Health.Sensors {
		if status.Faulted() {
			metrics.IncSensorFault(status.Sensor, string(status.FaultType))
		}
	}
}

// Latest returns the newest state of a plant.
func (r *Registry) Latest(plantID string) (estimator.State, error) {
	entry, err := r.entry(plantID, false)
	if err != nil {
		return estimator.State{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	state, ok := entry.pipeline.Buffer().Latest()
	if !ok {
		return estimator.State{}, ErrUnknownPlant
	}
	return state, nil
}

// History returns the states of the last hours, oldest first.
func (r *Registry) History(plantID string, hours float64) ([]estimator.State, error) {
	entry, err := r.entry(plantID, false)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.pipeline.Buffer().LastNHours(hours), nil
}

// Stats summarizes a metric over the last hours.
func (r *Registry) Stats(plantID string, metric estimator.Metric, hours float64) (estimator.Stats, error) {
	entry, err := r.entry(plantID, false)
	if err != nil {
		return estimator.Stats{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.pipeline.Buffer().Stats(metric, hours), nil
}

// Plants lists the known plants in order.
func (r *Registry) Plants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.plants))
	for id := range r.plants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetCalibration validates cal and applies it to every pipeline between cycles.
func (r *Registry) SetCalibration(cal config.Calibration) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.cal = cal
	entries := make([]*plantEntry, 0, len(r.plants))
	for _, entry := range r.plants {
		entries = append(entries, entry)
	}
	r.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		err := entry.pipeline.Reconfigure(cal)
		entry.mu.Unlock()
		if err != nil {
			return err
		}
	}
	r.logger.WithField("plants", len(entries)).Info("calibration applied")
	return nil
}

func (r *Registry) entry(plantID string, create bool) (*plantEntry, error) {
	if plantID == "" {
		return nil, errors.New("estimator: plant id required")
	}
	r.mu.RLock()
	entry, ok := r.plants[plantID]
	r.mu.RUnlock()
	if ok {
		return entry, nil
	}
	if !create {
		return nil, ErrUnknownPlant
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.plants[plantID]; ok {
		return entry, nil
	}
	pipeline, err := NewPipeline(plantID, r.cal)
	if err != nil {
		return nil, err
	}
	entry = &plantEntry{pipeline: pipeline}
	r.plants[plantID] = entry
	return entry, nil
}
