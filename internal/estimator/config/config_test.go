package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarms "greenhouse-brain/internal/alarms/domain"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cal, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 48.0, cal.Buffer.RetentionHours)
	assert.Equal(t, 12.0, cal.Buffer.DiscontinuityGapHours)
	assert.Equal(t, 15.0, cal.Soil.UniformSpreadPct)
	assert.Len(t, cal.Rules, len(alarms.DefaultRules()))
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "calibration.yaml", `
buffer:
  retention_hours: 24
escalation:
  min_severity: CRIT
  warn_count: 2
plants:
  tomato-3:
    soil:
      uniform_spread_pct: 25
    rules:
      - type: soil_moisture_low
        metric: soil_moisture_probe
        operator: "<"
        threshold: 20
        duration_seconds: 300
        severity: ERROR
`)
	cal, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 24.0, cal.Buffer.RetentionHours)
	assert.Equal(t, 12.0, cal.Buffer.DiscontinuityGapHours)
	assert.Equal(t, alarms.SeverityCrit, cal.Escalation.MinSeverity)
	assert.Equal(t, 2, cal.Escalation.WarnCount)

	plant := cal.ForPlant("tomato-3")
	assert.Equal(t, 25.0, plant.Soil.UniformSpreadPct)
	assert.Len(t, plant.Rules, len(cal.Rules))
	assert.Equal(t, 20.0, plant.Rules[0].Threshold)
	assert.Empty(t, plant.Rules[0].Escalations)
	assert.Equal(t, 10.0, cal.ForPlant("basil-1").Rules[0].Threshold)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "calibration.toml", `
[health]
stuck_window_seconds = 1800
stuck_min_readings = 4
drift_window_seconds = 14400
drift_min_span_seconds = 12600
drift_min_readings = 3
disconnect_cycles = 3
disconnect_after_seconds = 3600
anomaly_window_seconds = 86400
stuck_deduction = 0.5
jump_deduction = 0.3
drift_deduction = 0.25
disconnect_critical_deduction = 0.7
disconnect_advisory_deduction = 0.5
`)
	cal, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cal.Health.DisconnectCycles)
	assert.Equal(t, 30*time.Minute, cal.Health.StuckWindow())
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "calibration.json", `{"soil": {"uniform_spread_pct": 20}}`)
	cal, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20.0, cal.Soil.UniformSpreadPct)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative retention":  "buffer:\n  retention_hours: -1\n",
		"deduction above one": "health:\n  stuck_deduction: 1.5\n",
		"non monotonic rule": `
rules:
  - type: vpd_high
    metric: vpd
    operator: ">"
    threshold: 3.5
    severity: ERROR
    escalations:
      - threshold: 3.0
        severity: CRIT
`,
		"invalid plant override": `
plants:
  basil-1:
    rules:
      - type: vpd_low
        metric: vpd
        operator: "~"
        threshold: 0.2
        severity: WARN
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "calibration.yaml", body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidCalibration)
		})
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	_, err := Load(writeFile(t, "calibration.ini", "x=1"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ESTIMATOR_RETENTION_HOURS", "6")
	t.Setenv("ESTIMATOR_DISCONNECT_CYCLES", "4")
	cal, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 6.0, cal.Buffer.RetentionHours)
	assert.Equal(t, 4, cal.Health.DisconnectCycles)
}

func TestLoaderReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "calibration.yaml", "soil:\n  uniform_spread_pct: 10\n")
	loader := NewLoader(path)
	t.Cleanup(func() { _ = loader.Close() })

	cal, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 10.0, cal.Soil.UniformSpreadPct)

	changed := make(chan Calibration, 1)
	loader.OnChange(func(c Calibration) {
		select {
		case changed <- c:
		default:
		}
	})
	require.NoError(t, loader.Watch())
	require.NoError(t, os.WriteFile(path, []byte("soil:\n  uniform_spread_pct: 30\n"), 0o600))

	select {
	case c := <-changed:
		assert.Equal(t, 30.0, c.Soil.UniformSpreadPct)
		assert.Equal(t, 30.0, loader.Current().Soil.UniformSpreadPct)
	case <-time.After(5 * time.Second):
		t.Fatal("calibration was not reloaded")
	}
}
