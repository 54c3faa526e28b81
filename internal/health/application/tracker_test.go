package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	estimator "greenhouse-brain/internal/estimator/domain"
	health "greenhouse-brain/internal/health/domain"
	telemetry "greenhouse-brain/internal/telemetry/domain"
)

var base = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker, err := NewTracker(health.DefaultProfiles(), health.DefaultProbeProfile(), health.DefaultSettings())
	require.NoError(t, err)
	return tracker
}

func reading(i int, temp, rh *float64, p1 *float64) estimator.State {
	return estimator.State{
		SchemaVersion: estimator.StateSchemaV1,
		Timestamp:     base.Add(time.Duration(i) * 5 * time.Minute),
		Environment:   estimator.Environment{AirTemperatureC: temp, RelativeHumidityPct: rh},
		Soil:          estimator.SoilBlock{Probes: []estimator.ProbeState{{ProbeID: "p1", MoisturePct: p1}}},
	}
}

func varying(i int) (*float64, *float64, *float64) {
	return telemetry.Float(22 + 0.3*float64(i%2)), telemetry.Float(60 + float64(i%2)), telemetry.Float(45 + 0.5*float64(i%2))
}

func TestTrackerHealthyWithVaryingReadings(t *testing.T) {
	tracker := newTracker(t)
	buf := estimator.NewRingBuffer(0, 0)
	for i := 0; i < 4; i++ {
		temp, rh, p1 := varying(i)
		buf.Add(reading(i, temp, rh, p1))
	}
	temp, rh, p1 := varying(4)
	result := tracker.Evaluate(reading(4, temp, rh, p1), buf)

	assert.Equal(t, health.SchemaV1, result.SchemaVersion)
	assert.Equal(t, health.OverallHealthy, result.Overall)
	sensors := make([]string, 0, len(result.Sensors))
	for _, status := range result.Sensors {
		sensors = append(sensors, status.Sensor)
		assert.Equal(t, health.FaultNone, status.FaultType, status.Sensor)
	}
	// Optional sensors that never reported are not tracked.
	assert.Equal(t, []string{"soil_moisture_p1", "air_temperature", "relative_humidity"}, sensors)
}

func TestTrackerStuckAt(t *testing.T) {
	tracker := newTracker(t)
	buf := estimator.NewRingBuffer(0, 0)
	for i := 0; i < 2; i++ {
		_, rh, p1 := varying(i)
		buf.Add(reading(i, telemetry.Float(21.0), rh, p1))
	}
	_, rh, p1 := varying(2)
	result := tracker.Evaluate(reading(2, telemetry.Float(21.05), rh, p1), buf)

	status, ok := result.Lookup(telemetry.ChannelAirTemperature)
	require.True(t, ok)
	assert.Equal(t, health.FaultStuckAt, status.FaultType)
	assert.InDelta(t, -0.5, status.ConfidenceDelta, 1e-9)
	assert.Equal(t, health.OverallDegraded, result.Overall)
}

func TestTrackerStuckToleranceIsStrict(t *testing.T) {
	tests := []struct {
		name   string
		spread float64
		want   health.FaultType
	}{
		{name: "below tolerance", spread: 0.25, want: health.FaultStuckAt},
		{name: "equal to tolerance", spread: 0.5, want: health.FaultNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTracker(t)
			buf := estimator.NewRingBuffer(0, 0)
			for i := 0; i < 3; i++ {
				temp, _, p1 := varying(i)
				buf.Add(reading(i, temp, telemetry.Float(65+tt.spread*float64(i%2)), p1))
			}
			temp, _, p1 := varying(3)
			result := tracker.Evaluate(reading(3, temp, telemetry.Float(65+tt.spread), p1), buf)

			status, ok := result.Lookup(telemetry.ChannelRelativeHumidity)
			require.True(t, ok)
			assert.Equal(t, tt.want, status.FaultType)
		})
	}
}

func TestTrackerStuckNeedsThreeReadings(t *testing.T) {
	tracker := newTracker(t)
	buf := estimator.NewRingBuffer(0, 0)
	_, rh, p1 := varying(0)
	buf.Add(reading(0, telemetry.Float(21.0), rh, p1))
	_, rh, p1 = varying(1)
	result := tracker.Evaluate(reading(1, telemetry.Float(21.0), rh, p1), buf)

	status, _ := result.Lookup(telemetry.ChannelAirTemperature)
	assert.Equal(t, health.FaultNone, status.FaultType)
}

func TestTrackerDisconnectAfterTwoMissingCycles(t *testing.T) {
	tracker := newTracker(t)
	buf := estimator.NewRingBuffer(0, 0)
	temp, rh, p1 := varying(0)
	buf.Add(reading(0, temp, rh, p1))

	temp, rh, _ = varying(1)
	first := reading(1, temp, rh, nil)
	result := tracker.Evaluate(first, buf)
	status, ok := result.Lookup("soil_moisture_p1")
	require.True(t, ok)
	assert.Equal(t, health.FaultNone, status.FaultType)
	assert.Equal(t, 1, status.ConsecutiveMissing)
	require.NotNil(t, status.LastValidReadingAt)
	assert.Equal(t, base, *status.LastValidReadingAt)
	buf.Add(first)

	temp, rh, _ = varying(2)
	result = tracker.Evaluate(reading(2, temp, rh, nil), buf)
	status, _ = result.Lookup("soil_moisture_p1")
	assert.Equal(t, health.FaultDisconnect, status.FaultType)
	assert.Equal(t, 2, status.ConsecutiveMissing)
	assert.InDelta(t, -0.7, status.ConfidenceDelta, 1e-9)
	assert.Equal(t, health.OverallFailing, result.Overall)
}

func TestTrackerDisconnectAfterSilence(t *testing.T) {
	tracker := newTracker(t)
	buf := estimator.NewRingBuffer(0, 0)
	temp, rh, p1 := varying(0)
	state := reading(0, temp, rh, p1)
	state.Environment.CO2PPM = telemetry.Float(600)
	buf.Add(state)

	// 90 minutes later CO2 is absent once: silence exceeds one hour.
	temp, rh, p1 = varying(18)
	result := tracker.Evaluate(reading(18, temp, rh, p1), buf)
	status, ok := result.Lookup(telemetry.ChannelCO2)
	require.True(t, ok)
	assert.Equal(t, health.FaultDisconnect, status.FaultType)
	assert.False(t, status.Critical)
	assert.InDelta(t, -0.5, status.ConfidenceDelta, 1e-9)
	assert.Equal(t, health.OverallDegraded, result.Overall)
}

func TestTrackerJumpTakesPriorityOverStuck(t *testing.T) {
	tracker := newTracker(t)
	buf := estimator.NewRingBuffer(0, 0)
	for i := 0; i < 3; i++ {
		temp, rh, _ := varying(i)
		buf.Add(reading(i, temp, rh, telemetry.Float(40)))
	}
	temp, rh, _ := varying(3)
	result := tracker.Evaluate(reading(3, temp, rh, telemetry.Float(80)), buf)

	status, _ := result.Lookup("soil_moisture_p1")
	assert.Equal(t, health.FaultJump, status.FaultType)
	assert.InDelta(t, -0.3, status.ConfidenceDelta, 1e-9)
	assert.Equal(t, health.OverallFailing, result.Overall)
}

func TestTrackerTemperatureJumpPerMinute(t *testing.T) {
	tracker := newTracker(t)
	buf := estimator.NewRingBuffer(0, 0)
	_, rh, p1 := varying(0)
	buf.Add(reading(0, telemetry.Float(20), rh, p1))
	_, rh, p1 = varying(1)
	// 6 degrees in 5 minutes exceeds 1 degree per minute.
	result := tracker.Evaluate(reading(1, telemetry.Float(26), rh, p1), buf)
	status, _ := result.Lookup(telemetry.ChannelAirTemperature)
	assert.Equal(t, health.FaultJump, status.FaultType)
}

func TestTrackerDrift(t *testing.T) {
	tracker := newTracker(t)
	buf := estimator.NewRingBuffer(0, 0)
	// Soil moisture falls 3 points per hour, sampled every 15 minutes for 4 hours.
	for i := 0; i < 16; i++ {
		temp, rh, _ := varying(i)
		state := reading(i*3, temp, rh, telemetry.Float(60-0.75*float64(i)))
		buf.Add(state)
	}
	temp, rh, _ := varying(16)
	result := tracker.Evaluate(reading(48, temp, rh, telemetry.Float(48)), buf)
	status, _ := result.Lookup("soil_moisture_p1")
	assert.Equal(t, health.FaultDrift, status.FaultType)
	assert.InDelta(t, -0.25, status.ConfidenceDelta, 1e-9)
}

func TestTrackerExtraProbeUsesDefaultProfile(t *testing.T) {
	tracker := newTracker(t)
	buf := estimator.NewRingBuffer(0, 0)
	temp, rh, p1 := varying(0)
	state := reading(0, temp, rh, p1)
	state.Soil.Probes = append(state.Soil.Probes, estimator.ProbeState{ProbeID: "p7", MoisturePct: telemetry.Float(50)})
	result := tracker.Evaluate(state, buf)

	status, ok := result.Lookup("soil_moisture_p7")
	require.True(t, ok)
	assert.True(t, status.Critical)
	assert.Equal(t, "soil_moisture_p7", result.Sensors[len(result.Sensors)-1].Sensor)
}

func TestTrackerAnomalyCount(t *testing.T) {
	tracker := newTracker(t)
	buf := estimator.NewRingBuffer(0, 0)
	for i := 0; i < 3; i++ {
		temp, rh, p1 := varying(i)
		state := reading(i, temp, rh, p1)
		state.AnomalyTags = []estimator.AnomalyTag{{Type: "soil_moisture_low", Severity: "ERROR", Measurement: "soil_moisture_p1"}}
		buf.Add(state)
	}
	temp, rh, p1 := varying(3)
	result := tracker.Evaluate(reading(3, temp, rh, p1), buf)
	status, _ := result.Lookup("soil_moisture_p1")
	assert.Equal(t, 3, status.AnomalyCount24h)
	other, _ := result.Lookup(telemetry.ChannelAirTemperature)
	assert.Equal(t, 0, other.AnomalyCount24h)
}

func TestNewTrackerRejectsDuplicateProfiles(t *testing.T) {
	profiles := health.DefaultProfiles()
	profiles = append(profiles, profiles[0])
	_, err := NewTracker(profiles, health.DefaultProbeProfile(), health.DefaultSettings())
	assert.Error(t, err)
}
