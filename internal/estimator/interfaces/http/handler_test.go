package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenhouse-brain/internal/auth"
	estimatorapp "greenhouse-brain/internal/estimator/application"
	"greenhouse-brain/internal/estimator/config"
	estimator "greenhouse-brain/internal/estimator/domain"
)

func observationBody(at time.Time, humidity float64) string {
	ts := at.Format(time.RFC3339)
	return fmt.Sprintf(`{
		"observation": {"schema_version": "observation_v1", "timestamp": %q, "air_temperature_c": 22, "relative_humidity_pct": %g,
			"soil_probes": [{"probe_id": "p1", "moisture_pct": 45}, {"probe_id": "p2", "moisture_pct": 44}]},
		"device_status": {"schema_version": "device_status_v1", "timestamp": %q, "controller_connected": true}
	}`, ts, humidity, ts)
}

func newTestHandler(t *testing.T) (*Handler, *estimatorapp.Registry) {
	t.Helper()
	registry, err := estimatorapp.NewRegistry(config.Default())
	require.NoError(t, err)
	handler, err := NewHandler(registry)
	require.NoError(t, err)
	return handler, registry
}

func do(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestEstimateAndQuery(t *testing.T) {
	handler, _ := newTestHandler(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		resp := do(handler, http.MethodPost, "/api/v1/plants/basil/observations", observationBody(start.Add(time.Duration(i)*5*time.Minute), 60+float64(i)))
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
		var result estimatorapp.Result
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
		assert.Equal(t, "basil", result.State.PlantID)
		assert.NotNil(t, result.Anomalies)
	}

	resp := do(handler, http.MethodGet, "/api/v1/plants/basil/state", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var state estimator.State
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &state))
	assert.Equal(t, start.Add(10*time.Minute), state.Timestamp)

	resp = do(handler, http.MethodGet, "/api/v1/plants/basil/history?hours=1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var states []estimator.State
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &states))
	assert.Len(t, states, 3)

	resp = do(handler, http.MethodGet, "/api/v1/plants/basil/stats?metric=relative_humidity&hours=1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var stats struct {
		Stats estimator.Stats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Stats.Count)
	assert.InDelta(t, 61, stats.Stats.Mean, 1e-9)

	resp = do(handler, http.MethodGet, "/api/v1/plants", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"plants":["basil"]}`, resp.Body.String())
}

func TestEstimateRejectsInvalidInput(t *testing.T) {
	handler, _ := newTestHandler(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	resp := do(handler, http.MethodPost, "/api/v1/plants/basil/observations", observationBody(at, 140))
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(handler, http.MethodPost, "/api/v1/plants/basil/observations", `{"observation": {}}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(handler, http.MethodPost, "/api/v1/plants/basil/observations", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestUnknownPlantAndRoutes(t *testing.T) {
	handler, _ := newTestHandler(t)

	assert.Equal(t, http.StatusNotFound, do(handler, http.MethodGet, "/api/v1/plants/tomato/state", "").Code)
	assert.Equal(t, http.StatusNotFound, do(handler, http.MethodGet, "/api/v1/plants/tomato/unknown", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(handler, http.MethodGet, "/api/v1/plants/tomato/history?hours=-1", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(handler, http.MethodGet, "/api/v1/plants/tomato/observations", "").Code)
}

func TestHoursMustBeFinite(t *testing.T) {
	handler, _ := newTestHandler(t)
	for _, hours := range []string{"NaN", "Inf", "+Inf", "-Inf", "0", "abc"} {
		query := url.Values{"hours": {hours}}
		for _, target := range []string{
			"/api/v1/plants/basil/history?" + query.Encode(),
			"/api/v1/plants/basil/stats?metric=relative_humidity&" + query.Encode(),
		} {
			assert.Equal(t, http.StatusBadRequest, do(handler, http.MethodGet, target, "").Code, target)
		}
	}
}

func TestPlantScopeEnforced(t *testing.T) {
	handler, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/plants/tomato/state", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.RoleViewer, "user-1", []string{"basil"}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestExports(t *testing.T) {
	handler, _ := newTestHandler(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, http.StatusOK, do(handler, http.MethodPost, "/api/v1/plants/basil/observations", observationBody(at, 60)).Code)

	resp := do(handler, http.MethodGet, "/api/v1/plants/basil/export.xlsx?hours=2", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(resp.Body.Bytes(), []byte("PK")))

	resp = do(handler, http.MethodGet, "/api/v1/plants/basil/report.pdf", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF-")))
}

type fakeSource struct {
	cal config.Calibration
	err error
}

func (f *fakeSource) Load() (config.Calibration, error) { return f.cal, f.err }

func (f *fakeSource) Current() config.Calibration { return f.cal }

func TestCalibrationReload(t *testing.T) {
	_, registry := newTestHandler(t)
	source := &fakeSource{cal: config.Default()}
	handler, err := NewCalibrationHandler(source, registry, nil)
	require.NoError(t, err)

	resp := do(handler, http.MethodPost, "/api/v1/calibration/reload", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"reloaded":true}`, resp.Body.String())

	resp = do(handler, http.MethodGet, "/api/v1/calibration", "")
	require.Equal(t, http.StatusOK, resp.Code)

	source.err = errors.New("bad file")
	resp = do(handler, http.MethodPost, "/api/v1/calibration/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(handler, http.MethodGet, "/api/v1/calibration/reload", "").Code)
}
