package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	estimatorapp "greenhouse-brain/internal/estimator/application"
	"greenhouse-brain/internal/estimator/config"
	estimator "greenhouse-brain/internal/estimator/domain"
	telemetry "greenhouse-brain/internal/telemetry/domain"
)

func cycleInputs(i int, connected bool) (telemetry.Observation, telemetry.DeviceStatus, estimator.CycleContext) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(i) * 5 * time.Minute)
	obs := telemetry.Observation{
		SchemaVersion:       telemetry.ObservationSchemaV1,
		Timestamp:           at,
		AirTemperatureC:     telemetry.Float(22 + 0.1*float64(i%2)),
		RelativeHumidityPct: telemetry.Float(60),
		LeafTemperatureC:    telemetry.Float(21),
		SoilProbes: []telemetry.SoilProbeReading{
			{ProbeID: "p1", MoisturePct: telemetry.Float(45)},
			{ProbeID: "p2", MoisturePct: telemetry.Float(30)},
		},
	}
	status := telemetry.DeviceStatus{
		SchemaVersion:       telemetry.DeviceStatusSchemaV1,
		Timestamp:           at,
		ControllerConnected: connected,
	}
	return obs, status, estimator.CycleContext{Now: at, PlantID: "basil"}
}

func TestSchemasCompile(t *testing.T) {
	schemas, err := load()
	require.NoError(t, err)
	assert.Len(t, schemas, len(Names()))
}

func TestPipelineOutputsMatchSchemas(t *testing.T) {
	pipeline, err := estimatorapp.NewPipeline("basil", config.Default())
	require.NoError(t, err)

	sawAnomaly := false
	for i := 0; i < 5; i++ {
		obs, status, cycle := cycleInputs(i, i != 4)
		require.NoError(t, Validate(Observation, obs))
		require.NoError(t, Validate(DeviceStatus, status))

		result, err := pipeline.Estimate(obs, status, cycle)
		require.NoError(t, err)
		require.NoError(t, Validate(State, result.State))
		require.NoError(t, Validate(SensorHealth, result.Health))
		for _, anomaly := range result.Anomalies {
			sawAnomaly = true
			require.NoError(t, Validate(Anomaly, anomaly))
		}
	}
	assert.True(t, sawAnomaly)
}

func TestSchemaRejectsBadRecords(t *testing.T) {
	cases := []struct {
		name string
		kind string
		data string
	}{
		{"observation wrong version", Observation, `{"schema_version":"observation_v2","timestamp":"2026-03-01T12:00:00Z"}`},
		{"observation humidity", Observation, `{"schema_version":"observation_v1","timestamp":"2026-03-01T12:00:00Z","relative_humidity_pct":140}`},
		{"device status missing connected", DeviceStatus, `{"schema_version":"device_status_v1","timestamp":"2026-03-01T12:00:00Z"}`},
		{"anomaly bad severity", Anomaly, `{"schema_version":"anomaly_v1","id":"a","plant_id":"p","timestamp":"2026-03-01T12:00:00Z","severity":"LOUD","type":"vpd_high","measurement":"vpd_kpa","value":2,"threshold":1.6,"recommended_responses":[],"detection_mode":"instant","requires_safe_mode":false}`},
		{"health bad fault", SensorHealth, `{"schema_version":"sensor_health_v1","timestamp":"2026-03-01T12:00:00Z","sensors":[{"sensor":"co2","critical":false,"fault_type":"melted","confidence_delta":0,"consecutive_missing":0,"anomaly_count_24h":0}],"overall_health":"healthy"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, ValidateJSON(tc.kind, []byte(tc.data)))
		})
	}
	assert.Error(t, ValidateJSON("forecast_v1", []byte(`{}`)))
}

func TestObservationToleratesUnknownFields(t *testing.T) {
	data := `{"schema_version":"observation_v1","timestamp":"2026-03-01T12:00:00Z","wind_speed":3}`
	assert.NoError(t, ValidateJSON(Observation, []byte(data)))
}
