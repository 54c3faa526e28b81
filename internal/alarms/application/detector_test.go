package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "greenhouse-brain/internal/alarms/domain"
	estimator "greenhouse-brain/internal/estimator/domain"
	health "greenhouse-brain/internal/health/domain"
	telemetry "greenhouse-brain/internal/telemetry/domain"
)

var start = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newDetector(t *testing.T) *Detector {
	t.Helper()
	detector, err := NewDetector(alarms.DefaultRules(), alarms.DefaultEscalationPolicy())
	require.NoError(t, err)
	return detector
}

func snapshot(minute int, temp float64, moisture float64) estimator.State {
	return estimator.State{
		SchemaVersion: estimator.StateSchemaV1,
		PlantID:       "basil-1",
		Timestamp:     start.Add(time.Duration(minute) * time.Minute),
		Environment:   estimator.Environment{AirTemperatureC: telemetry.Float(temp)},
		Soil: estimator.SoilBlock{Probes: []estimator.ProbeState{
			{ProbeID: "p1", MoisturePct: telemetry.Float(moisture)},
		}},
		Devices: telemetry.DeviceStatus{ControllerConnected: true},
	}
}

func history(states ...estimator.State) *estimator.RingBuffer {
	buf := estimator.NewRingBuffer(0, 0)
	for _, state := range states {
		buf.Add(state)
	}
	return buf
}

func types(anomalies []alarms.Anomaly) []string {
	out := make([]string, 0, len(anomalies))
	for _, anomaly := range anomalies {
		out = append(out, anomaly.Type)
	}
	return out
}

func TestDetectQuietPlant(t *testing.T) {
	detector := newDetector(t)
	result := detector.Detect(DetectInput{
		PlantID: "basil-1",
		Current: snapshot(10, 22, 45),
		History: history(snapshot(0, 22, 45), snapshot(5, 22.2, 45.5)),
	})
	assert.Empty(t, result.Anomalies)
	assert.False(t, result.EscalateSampling)
}

func TestDetectSustainedSoilLow(t *testing.T) {
	detector := newDetector(t)
	result := detector.Detect(DetectInput{
		PlantID: "basil-1",
		Current: snapshot(10, 22, 8),
		History: history(snapshot(0, 22, 8), snapshot(5, 22, 8.5)),
	})
	require.Len(t, result.Anomalies, 1)
	anomaly := result.Anomalies[0]
	assert.Equal(t, alarms.TypeSoilMoistureLow, anomaly.Type)
	assert.Equal(t, "soil_moisture_p1", anomaly.Measurement)
	assert.Equal(t, alarms.SeverityError, anomaly.Severity)
	assert.Equal(t, alarms.ModeSustained, anomaly.DetectionMode)
	assert.Equal(t, 10.0, anomaly.Threshold)
	assert.Equal(t, 8.0, anomaly.Value)
	assert.Equal(t, alarms.SchemaV1, anomaly.SchemaVersion)
	assert.Equal(t, "basil-1", anomaly.PlantID)
	assert.True(t, anomaly.HasResponse(alarms.ResponseIrrigate))
	assert.False(t, anomaly.RequiresSafeMode)
	assert.True(t, result.EscalateSampling)
}

func TestDetectSustainedNeedsDuration(t *testing.T) {
	detector := newDetector(t)

	fresh := detector.Detect(DetectInput{
		PlantID: "basil-1",
		Current: snapshot(10, 22, 8),
		History: history(snapshot(0, 22, 45), snapshot(5, 22, 45)),
	})
	assert.NotContains(t, types(fresh.Anomalies), alarms.TypeSoilMoistureLow)

	interrupted := detector.Detect(DetectInput{
		PlantID: "basil-1",
		Current: snapshot(10, 22, 8),
		History: history(snapshot(0, 22, 8), snapshot(5, 22, 20)),
	})
	assert.NotContains(t, types(interrupted.Anomalies), alarms.TypeSoilMoistureLow)
}

func TestDetectSustainedBrokenByOutage(t *testing.T) {
	silent := func(minute int) estimator.State {
		state := snapshot(minute, 22, 0)
		state.Soil.Probes[0].MoisturePct = nil
		return state
	}
	tests := []struct {
		name  string
		past  []estimator.State
		fires bool
	}{
		{
			name:  "one low reading then forty silent minutes",
			past:  []estimator.State{snapshot(0, 22, 8), silent(5), silent(10), silent(15), silent(20), silent(25), silent(30), silent(35)},
			fires: false,
		},
		{
			name:  "gap in history without states",
			past:  []estimator.State{snapshot(0, 22, 8)},
			fires: false,
		},
		{
			name:  "unbroken run",
			past:  []estimator.State{silent(25), snapshot(30, 22, 8), snapshot(35, 22, 8.5)},
			fires: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := newDetector(t).Detect(DetectInput{
				PlantID: "basil-1",
				Current: snapshot(40, 22, 8),
				History: history(tt.past...),
			})
			if tt.fires {
				assert.Contains(t, types(result.Anomalies), alarms.TypeSoilMoistureLow)
			} else {
				assert.NotContains(t, types(result.Anomalies), alarms.TypeSoilMoistureLow)
			}
		})
	}
}

func TestDetectEscalatesToCritical(t *testing.T) {
	detector := newDetector(t)
	result := detector.Detect(DetectInput{
		PlantID: "basil-1",
		Current: snapshot(10, 22, 3),
		History: history(snapshot(0, 22, 4), snapshot(5, 22, 4)),
	})
	require.NotEmpty(t, result.Anomalies)
	anomaly := result.Anomalies[0]
	assert.Equal(t, alarms.TypeSoilMoistureLow, anomaly.Type)
	assert.Equal(t, alarms.SeverityCrit, anomaly.Severity)
	assert.Equal(t, 5.0, anomaly.Threshold)
	assert.True(t, anomaly.RequiresSafeMode)
}

func TestDetectTemperatureRate(t *testing.T) {
	detector := newDetector(t)
	result := detector.Detect(DetectInput{
		PlantID: "basil-1",
		Current: snapshot(10, 24, 45),
		History: history(snapshot(0, 20, 45), snapshot(5, 22, 45)),
	})
	require.Equal(t, []string{alarms.TypeTemperatureRate}, types(result.Anomalies))
	anomaly := result.Anomalies[0]
	assert.Equal(t, alarms.ModeRate, anomaly.DetectionMode)
	assert.InDelta(t, 4.0, anomaly.Value, 1e-9)
	assert.Equal(t, alarms.SeverityWarn, anomaly.Severity)
	assert.False(t, result.EscalateSampling)
}

func TestDetectSoilDropOnlyOnDecrease(t *testing.T) {
	detector := newDetector(t)

	drop := detector.Detect(DetectInput{
		PlantID: "basil-1",
		Current: snapshot(25, 22, 38),
		History: history(snapshot(0, 22, 45), snapshot(10, 22, 42)),
	})
	require.Equal(t, []string{alarms.TypeSoilMoistureDrop}, types(drop.Anomalies))
	assert.InDelta(t, 7.0, drop.Anomalies[0].Value, 1e-9)

	rise := detector.Detect(DetectInput{
		PlantID: "basil-1",
		Current: snapshot(25, 22, 52),
		History: history(snapshot(0, 22, 45), snapshot(10, 22, 48)),
	})
	assert.Empty(t, rise.Anomalies)
}

func TestDetectSensorFaults(t *testing.T) {
	detector := newDetector(t)
	last := 21.5
	sensorHealth := health.SensorHealth{Sensors: []health.SensorStatus{
		{Sensor: telemetry.ChannelAirTemperature, Critical: true, FaultType: health.FaultDisconnect, ConsecutiveMissing: 2, LastReading: &last},
		{Sensor: telemetry.ChannelCO2, FaultType: health.FaultDisconnect, ConsecutiveMissing: 2},
		{Sensor: "soil_moisture_p1", Critical: true, FaultType: health.FaultStuckAt},
		{Sensor: telemetry.ChannelRelativeHumidity, Critical: true, FaultType: health.FaultNone},
	}}
	result := detector.Detect(DetectInput{
		PlantID: "basil-1",
		Current: snapshot(10, 22, 45),
		Health:  sensorHealth,
	})
	require.Equal(t, []string{alarms.TypeSensorDisconnect, alarms.TypeSensorDisconnect, alarms.TypeSensorStuck}, types(result.Anomalies))
	assert.Equal(t, alarms.SeverityError, result.Anomalies[0].Severity)
	assert.Equal(t, 21.5, result.Anomalies[0].Value)
	assert.Equal(t, alarms.SeverityWarn, result.Anomalies[1].Severity)
	assert.Equal(t, alarms.SeverityWarn, result.Anomalies[2].Severity)
	assert.Equal(t, alarms.ModeFault, result.Anomalies[2].DetectionMode)
	assert.True(t, result.EscalateSampling)
}

func TestDetectDeviceEvents(t *testing.T) {
	detector := newDetector(t)
	previous := snapshot(0, 22, 45)
	earlier := start.Add(-time.Hour)
	previous.Devices.LastResetAt = &earlier

	current := snapshot(5, 22, 45)
	resetAt := start.Add(2 * time.Minute)
	current.Devices.LastResetAt = &resetAt
	current.Devices.ControllerConnected = false

	result := detector.Detect(DetectInput{
		PlantID: "basil-1",
		Current: current,
		History: history(previous),
	})
	require.Equal(t, []string{alarms.TypeDeviceOffline, alarms.TypeControllerReset}, types(result.Anomalies))
	assert.Equal(t, alarms.SeverityError, result.Anomalies[0].Severity)
	assert.Equal(t, alarms.SeverityInfo, result.Anomalies[1].Severity)
	assert.Equal(t, MeasurementController, result.Anomalies[1].Measurement)
}

func TestDetectDiscontinuityFirst(t *testing.T) {
	detector := newDetector(t)
	result := detector.Detect(DetectInput{
		PlantID: "basil-1",
		Current: snapshot(0, 22, 3),
		Continuity: estimator.Continuity{
			Kind:     estimator.ContinuityGap,
			Previous: start.Add(-13 * time.Hour),
			Gap:      13 * time.Hour,
		},
	})
	require.NotEmpty(t, result.Anomalies)
	assert.Equal(t, alarms.TypeTimestampDiscontinuity, result.Anomalies[0].Type)
	assert.Equal(t, alarms.SeverityWarn, result.Anomalies[0].Severity)
	assert.InDelta(t, 13.0, result.Anomalies[0].Value, 1e-9)
	// A single low reading after a reset is not sustained.
	assert.NotContains(t, types(result.Anomalies), alarms.TypeSoilMoistureLow)
}

func TestDetectIDsAreDeterministic(t *testing.T) {
	detector := newDetector(t)
	input := DetectInput{
		PlantID: "basil-1",
		Current: snapshot(10, 22, 8),
		History: history(snapshot(0, 22, 8), snapshot(5, 22, 8)),
	}
	first := detector.Detect(input)
	second := detector.Detect(input)
	require.Len(t, first.Anomalies, 1)
	assert.Equal(t, first.Anomalies, second.Anomalies)

	input.PlantID = "basil-2"
	other := detector.Detect(input)
	assert.NotEqual(t, first.Anomalies[0].ID, other.Anomalies[0].ID)
}

func TestDetectWarnCountEscalates(t *testing.T) {
	detector := newDetector(t)
	sensorHealth := health.SensorHealth{Sensors: []health.SensorStatus{
		{Sensor: telemetry.ChannelAirTemperature, FaultType: health.FaultDrift},
		{Sensor: telemetry.ChannelRelativeHumidity, FaultType: health.FaultDrift},
		{Sensor: telemetry.ChannelCO2, FaultType: health.FaultJump},
	}}
	result := detector.Detect(DetectInput{PlantID: "basil-1", Current: snapshot(0, 22, 45), Health: sensorHealth})
	require.Len(t, result.Anomalies, 3)
	assert.True(t, result.EscalateSampling)
}

func TestNewDetectorRejectsInvalidRule(t *testing.T) {
	rules := alarms.DefaultRules()
	rules[0].Escalations = []alarms.Escalation{{Threshold: 12, Severity: alarms.SeverityCrit}}
	_, err := NewDetector(rules, alarms.DefaultEscalationPolicy())
	require.ErrorIs(t, err, alarms.ErrInvalidRule)
}
