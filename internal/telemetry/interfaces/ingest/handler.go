package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	estimatorapp "greenhouse-brain/internal/estimator/application"
	estimator "greenhouse-brain/internal/estimator/domain"
	"greenhouse-brain/internal/observability/metrics"
	telemetry "greenhouse-brain/internal/telemetry/domain"
)

const maxBodyBytes = 1 << 20

// Estimator runs one estimation cycle for a plant.
type Estimator interface {
	Estimate(ctx context.Context, plantID string, obs telemetry.Observation, status telemetry.DeviceStatus, cycle estimator.CycleContext) (estimatorapp.Result, error)
}

// Handler ingests flat channel/value telemetry pushed by greenhouse controllers
// and runs each point through the estimator in timestamp order.
type Handler struct {
	estimator Estimator
	logger    logrus.FieldLogger
}

// NewHandler constructs an ingest handler.
func NewHandler(est Estimator, logger logrus.FieldLogger) (*Handler, error) {
	if est == nil {
		return nil, errors.New("telemetry ingest: nil estimator")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{estimator: est, logger: logger}, nil
}

// ServeHTTP handles POST /ingest/v1/telemetry.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.reject(w, "read_body", err, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.reject(w, "decode", err, "invalid json", http.StatusBadRequest)
		return
	}

	cycles, err := req.toCycles()
	if err != nil {
		h.reject(w, "payload", err, "invalid payload", http.StatusBadRequest)
		return
	}

	log := h.logger.WithFields(logrus.Fields{"plant_id": req.PlantID, "device_id": req.DeviceID})
	resp := ingestResponse{Results: make([]pointResult, 0, len(cycles))}
	for _, c := range cycles {
		if len(c.unknown) > 0 {
			log.WithField("channels", c.unknown).Debug("ignoring unknown telemetry channels")
			resp.UnknownChannels = appendUnique(resp.UnknownChannels, c.unknown...)
		}
		result, err := h.estimator.Estimate(r.Context(), req.PlantID, c.observation, c.status, c.cycle)
		if err != nil {
			if errors.Is(err, telemetry.ErrInvalidInput) {
				h.reject(w, "invalid_input", err, err.Error(), http.StatusBadRequest)
				return
			}
			h.reject(w, "estimate", err, "estimate error", http.StatusInternalServerError)
			return
		}
		resp.Results = append(resp.Results, pointResult{
			Timestamp:        result.State.Timestamp,
			Confidence:       result.State.Confidence,
			Anomalies:        len(result.Anomalies),
			EscalateSampling: result.EscalateSampling,
		})
	}
	resp.Estimated = len(resp.Results)
	metrics.IncIngest(metrics.ResultSuccess)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) reject(w http.ResponseWriter, reason string, err error, message string, status int) {
	metrics.IncIngestError(reason)
	if status >= http.StatusInternalServerError {
		metrics.IncIngest(metrics.ResultError)
		h.logger.WithError(err).WithField("reason", reason).Error("telemetry ingest failed")
	} else {
		metrics.IncIngest(metrics.ResultInvalid)
		h.logger.WithError(err).WithField("reason", reason).Warn("telemetry ingest rejected")
	}
	http.Error(w, message, status)
}

type ingestRequest struct {
	PlantID  string             `json:"plantId"`
	DeviceID string             `json:"deviceId"`
	TS       int64              `json:"ts"`
	Values   map[string]float64 `json:"values"`
	Status   *deviceState       `json:"status"`
	Points   []ingestPoint      `json:"points"`
}

type ingestPoint struct {
	TS     int64              `json:"ts"`
	Values map[string]float64 `json:"values"`
	Status *deviceState       `json:"status"`
}

// deviceState is the subset of controller status a flat feed may carry.
// Connected defaults to true when omitted.
type deviceState struct {
	Connected        *bool      `json:"controller_connected"`
	LightOn          bool       `json:"light_on"`
	CirculationFanOn bool       `json:"circulation_fan_on"`
	ExhaustFanOn     bool       `json:"exhaust_fan_on"`
	HumidifierOn     bool       `json:"humidifier_on"`
	HeaterOn         bool       `json:"heater_on"`
	WaterPumpOn      bool       `json:"water_pump_on"`
	CO2ValveOpen     bool       `json:"co2_valve_open"`
	LastResetAt      *time.Time `json:"last_reset_at"`
	UptimeSeconds    *int64     `json:"controller_uptime_seconds"`
	ResetCount       *int64     `json:"controller_reset_count"`
}

type cycleInput struct {
	observation telemetry.Observation
	status      telemetry.DeviceStatus
	cycle       estimator.CycleContext
	unknown     []string
}

type pointResult struct {
	Timestamp        time.Time `json:"timestamp"`
	Confidence       float64   `json:"confidence"`
	Anomalies        int       `json:"anomalies"`
	EscalateSampling bool      `json:"escalate_sampling"`
}

type ingestResponse struct {
	Estimated       int           `json:"estimated"`
	Results         []pointResult `json:"results"`
	UnknownChannels []string      `json:"unknown_channels,omitempty"`
}

func (r ingestRequest) toCycles() ([]cycleInput, error) {
	if r.PlantID == "" {
		return nil, errors.New("missing plantId")
	}

	points := r.Points
	if len(points) == 0 && r.TS != 0 {
		points = []ingestPoint{{TS: r.TS, Values: r.Values, Status: r.Status}}
	}
	if len(points) == 0 {
		return nil, errors.New("no telemetry points")
	}

	cycles := make([]cycleInput, 0, len(points))
	for _, point := range points {
		ts, err := parseTimestamp(point.TS)
		if err != nil {
			return nil, err
		}
		if len(point.Values) == 0 {
			return nil, errors.New("empty values")
		}
		measurements := make([]telemetry.Measurement, 0, len(point.Values))
		for key, value := range point.Values {
			measurements = append(measurements, telemetry.Measurement{Channel: key, Value: value})
		}
		obs, unknown := telemetry.ObservationFromMeasurements(ts, measurements)
		status := point.Status
		if status == nil {
			status = r.Status
		}
		cycles = append(cycles, cycleInput{
			observation: obs,
			status:      status.toDeviceStatus(ts),
			cycle:       estimator.CycleContext{Now: ts, PlantID: r.PlantID},
			unknown:     unknown,
		})
	}
	sort.SliceStable(cycles, func(i, j int) bool {
		return cycles[i].observation.Timestamp.Before(cycles[j].observation.Timestamp)
	})
	return cycles, nil
}

func (d *deviceState) toDeviceStatus(ts time.Time) telemetry.DeviceStatus {
	status := telemetry.DeviceStatus{
		SchemaVersion:       telemetry.DeviceStatusSchemaV1,
		Timestamp:           ts,
		ControllerConnected: true,
	}
	if d == nil {
		return status
	}
	if d.Connected != nil {
		status.ControllerConnected = *d.Connected
	}
	status.LightOn = d.LightOn
	status.CirculationFanOn = d.CirculationFanOn
	status.ExhaustFanOn = d.ExhaustFanOn
	status.HumidifierOn = d.HumidifierOn
	status.HeaterOn = d.HeaterOn
	status.WaterPumpOn = d.WaterPumpOn
	status.CO2ValveOpen = d.CO2ValveOpen
	status.LastResetAt = d.LastResetAt
	status.ControllerUptimeSec = d.UptimeSeconds
	status.ControllerResets = d.ResetCount
	return status
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid ts")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}

func appendUnique(list []string, values ...string) []string {
	for _, value := range values {
		found := false
		for _, existing := range list {
			if existing == value {
				found = true
				break
			}
		}
		if !found {
			list = append(list, value)
		}
	}
	return list
}
