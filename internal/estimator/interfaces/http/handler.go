package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	alarmapp "greenhouse-brain/internal/alarms/application"
	alarms "greenhouse-brain/internal/alarms/domain"
	"greenhouse-brain/internal/auth"
	estimatorapp "greenhouse-brain/internal/estimator/application"
	estimator "greenhouse-brain/internal/estimator/domain"
	"greenhouse-brain/internal/observability/metrics"
	"greenhouse-brain/internal/reports"
	telemetry "greenhouse-brain/internal/telemetry/domain"
)

const (
	pathPrefix   = "/api/v1/plants"
	defaultHours = 24.0
	maxBodyBytes = 1 << 20
)

// Estimator is the registry surface served over HTTP.
type Estimator interface {
	Estimate(ctx context.Context, plantID string, obs telemetry.Observation, status telemetry.DeviceStatus, cycle estimator.CycleContext) (estimatorapp.Result, error)
	Latest(plantID string) (estimator.State, error)
	History(plantID string, hours float64) ([]estimator.State, error)
	Stats(plantID string, metric estimator.Metric, hours float64) (estimator.Stats, error)
	Plants() []string
}

// Handler serves /api/v1/plants and its subroutes.
type Handler struct {
	estimator Estimator
	anomalies alarmapp.AnomalyReader
	logger    logrus.FieldLogger
}

// Option configures the handler.
type Option func(*Handler)

// WithAnomalyReader enables stored anomalies in exports.
func WithAnomalyReader(reader alarmapp.AnomalyReader) Option {
	return func(h *Handler) {
		h.anomalies = reader
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(est Estimator, opts ...Option) (*Handler, error) {
	if est == nil {
		return nil, errors.New("plants handler: nil estimator")
	}
	h := &Handler{estimator: est, logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type estimateRequest struct {
	Observation  *telemetry.Observation  `json:"observation"`
	DeviceStatus *telemetry.DeviceStatus `json:"device_status"`
	Cycle        *estimator.CycleContext `json:"cycle"`
}

// ServeHTTP dispatches plant routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == pathPrefix {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, pathPrefix+"/")
	parts := strings.Split(rest, "/")
	if rest == r.URL.Path || len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	plantID, action := parts[0], parts[1]
	if err := auth.EnsurePlantAccess(r.Context(), plantID); err != nil {
		auth.RespondError(w, err)
		return
	}

	if action == "observations" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleEstimate(w, r, plantID)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch action {
	case "state":
		h.handleState(w, plantID)
	case "history":
		h.handleHistory(w, r, plantID)
	case "stats":
		h.handleStats(w, r, plantID)
	case "export.xlsx":
		h.handleExport(w, r, plantID, "xlsx")
	case "report.pdf":
		h.handleExport(w, r, plantID, "pdf")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	plants := make([]string, 0)
	for _, plantID := range h.estimator.Plants() {
		if auth.PlantAllowed(r.Context(), plantID) {
			plants = append(plants, plantID)
		}
	}
	writeJSON(w, map[string]any{"plants": plants})
}

func (h *Handler) handleEstimate(w http.ResponseWriter, r *http.Request, plantID string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	var req estimateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Observation == nil || req.DeviceStatus == nil {
		http.Error(w, "observation and device_status are required", http.StatusBadRequest)
		return
	}
	cycle := estimator.CycleContext{Now: req.Observation.Timestamp}
	if req.Cycle != nil {
		cycle = *req.Cycle
	}

	result, err := h.estimator.Estimate(r.Context(), plantID, *req.Observation, *req.DeviceStatus, cycle)
	if err != nil {
		if errors.Is(err, telemetry.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.WithError(err).WithField("plant_id", plantID).Error("estimate failed")
		http.Error(w, "estimate failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

func (h *Handler) handleState(w http.ResponseWriter, plantID string) {
	state, err := h.estimator.Latest(plantID)
	if err != nil {
		h.respondLookupError(w, plantID, err)
		return
	}
	writeJSON(w, state)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, plantID string) {
	hours, err := parseHours(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	states, err := h.estimator.History(plantID, hours)
	if err != nil {
		h.respondLookupError(w, plantID, err)
		return
	}
	if states == nil {
		states = []estimator.State{}
	}
	writeJSON(w, states)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request, plantID string) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		http.Error(w, "metric is required", http.StatusBadRequest)
		return
	}
	hours, err := parseHours(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stats, err := h.estimator.Stats(plantID, estimator.Metric(metric), hours)
	if err != nil {
		h.respondLookupError(w, plantID, err)
		return
	}
	writeJSON(w, map[string]any{"plant_id": plantID, "metric": metric, "hours": hours, "stats": stats})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, plantID, format string) {
	start := time.Now()
	hours, err := parseHours(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	states, err := h.estimator.History(plantID, hours)
	if err != nil {
		h.respondLookupError(w, plantID, err)
		return
	}
	anomalies, err := h.loadAnomalies(r.Context(), plantID, states)
	if err != nil {
		metrics.ObserveReportExport(format, metrics.ResultError, time.Since(start))
		h.logger.WithError(err).WithField("plant_id", plantID).Error("load anomalies for export failed")
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	var (
		data        []byte
		contentType string
	)
	switch format {
	case "xlsx":
		data, err = reports.BuildHistoryXLSX(plantID, states, anomalies)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		data, err = reports.BuildAnomalyPDF(plantID, states, anomalies)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveReportExport(format, metrics.ResultError, time.Since(start))
		h.logger.WithError(err).WithField("plant_id", plantID).Error("build export failed")
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveReportExport(format, metrics.ResultSuccess, time.Since(start))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+plantID+"-history."+format+"\"")
	_, _ = w.Write(data)
}

// loadAnomalies prefers the store and falls back to the tags kept on states.
func (h *Handler) loadAnomalies(ctx context.Context, plantID string, states []estimator.State) ([]alarms.Anomaly, error) {
	if len(states) == 0 {
		return nil, nil
	}
	if h.anomalies != nil {
		return h.anomalies.ListAnomalies(ctx, alarmapp.AnomalyQuery{
			PlantID: plantID,
			From:    states[0].Timestamp,
			To:      states[len(states)-1].Timestamp.Add(time.Millisecond),
		})
	}
	var out []alarms.Anomaly
	for _, state := range states {
		for _, tag := range state.AnomalyTags {
			severity, err := alarms.ParseSeverity(tag.Severity)
			if err != nil {
				continue
			}
			out = append(out, alarms.Anomaly{
				SchemaVersion: alarms.SchemaV1,
				PlantID:       plantID,
				Timestamp:     state.Timestamp,
				Severity:      severity,
				Type:          tag.Type,
				Measurement:   tag.Measurement,
			})
		}
	}
	return out, nil
}

func (h *Handler) respondLookupError(w http.ResponseWriter, plantID string, err error) {
	if errors.Is(err, estimatorapp.ErrUnknownPlant) {
		http.Error(w, "plant not found", http.StatusNotFound)
		return
	}
	h.logger.WithError(err).WithField("plant_id", plantID).Error("plant lookup failed")
	http.Error(w, "lookup failed", http.StatusInternalServerError)
}

func parseHours(r *http.Request) (float64, error) {
	value := r.URL.Query().Get("hours")
	if value == "" {
		return defaultHours, nil
	}
	hours, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(hours) || math.IsInf(hours, 0) || hours <= 0 {
		return 0, errors.New("hours must be a positive number")
	}
	return hours, nil
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
