// Package config loads the estimator calibration: buffer bounds, sensor
// profiles, confidence weights and the anomaly rule table.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	alarms "greenhouse-brain/internal/alarms/domain"
	estimator "greenhouse-brain/internal/estimator/domain"
	health "greenhouse-brain/internal/health/domain"
)

// EnvCalibrationPath names the calibration file.
const EnvCalibrationPath = "ESTIMATOR_CALIBRATION"

// ErrInvalidCalibration wraps every validation failure.
var ErrInvalidCalibration = errors.New("calibration: invalid")

// Calibration holds every tunable of the estimator. Slices in a file replace
// the defaults wholesale; per-plant overrides merge on top.
type Calibration struct {
	Buffer       estimator.BufferSettings    `json:"buffer" yaml:"buffer" toml:"buffer"`
	Soil         estimator.SoilSettings      `json:"soil" yaml:"soil" toml:"soil"`
	Health       health.Settings             `json:"health" yaml:"health" toml:"health"`
	Sensors      []health.SensorProfile      `json:"sensors" yaml:"sensors" toml:"sensors" validate:"dive"`
	ProbeDefault health.SensorProfile        `json:"probe_default" yaml:"probe_default" toml:"probe_default" validate:"-"`
	Confidence   estimator.ConfidenceWeights `json:"confidence" yaml:"confidence" toml:"confidence"`
	Rules        []alarms.AnomalyRule        `json:"rules" yaml:"rules" toml:"rules" validate:"dive"`
	Escalation   alarms.EscalationPolicy     `json:"escalation" yaml:"escalation" toml:"escalation"`
	Plants       map[string]Override         `json:"plants,omitempty" yaml:"plants,omitempty" toml:"plants,omitempty" validate:"-"`
}

// Override adjusts the calibration of one plant. Zero values keep the default.
type Override struct {
	Buffer     estimator.BufferSettings `json:"buffer" yaml:"buffer" toml:"buffer"`
	Soil       estimator.SoilSettings   `json:"soil" yaml:"soil" toml:"soil"`
	Sensors    []health.SensorProfile   `json:"sensors,omitempty" yaml:"sensors,omitempty" toml:"sensors,omitempty"`
	Rules      []alarms.AnomalyRule     `json:"rules,omitempty" yaml:"rules,omitempty" toml:"rules,omitempty"`
	Escalation alarms.EscalationPolicy  `json:"escalation" yaml:"escalation" toml:"escalation"`
}

// Default returns the built-in calibration.
func Default() Calibration {
	return Calibration{
		Buffer:       estimator.DefaultBufferSettings(),
		Soil:         estimator.SoilSettings{UniformSpreadPct: 15},
		Health:       health.DefaultSettings(),
		Sensors:      health.DefaultProfiles(),
		ProbeDefault: health.DefaultProbeProfile(),
		Confidence:   estimator.DefaultConfidenceWeights(),
		Rules:        alarms.DefaultRules(),
		Escalation:   alarms.DefaultEscalationPolicy(),
	}
}

// LoadFromEnv loads the file named by ESTIMATOR_CALIBRATION, or the defaults.
func LoadFromEnv() (Calibration, error) {
	return Load(os.Getenv(EnvCalibrationPath))
}

// Load reads a calibration file. An empty path yields the defaults. The format
// follows the extension: .yaml/.yml, .toml or .json.
func Load(path string) (Calibration, error) {
	cal := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cal, fmt.Errorf("read calibration: %w", err)
		}
		if err := decode(path, data, &cal); err != nil {
			return cal, err
		}
	}
	cal.ApplyEnvOverrides()
	if err := cal.Validate(); err != nil {
		return cal, err
	}
	return cal, nil
}

func decode(path string, data []byte, cal *Calibration) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cal); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cal); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cal); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	default:
		return fmt.Errorf("calibration: unsupported extension %q", ext)
	}
	return nil
}

// ApplyEnvOverrides applies ESTIMATOR_* variables on top of the loaded values.
func (c *Calibration) ApplyEnvOverrides() {
	c.Buffer.RetentionHours = getenvFloatDefault("ESTIMATOR_RETENTION_HOURS", c.Buffer.RetentionHours)
	c.Buffer.DiscontinuityGapHours = getenvFloatDefault("ESTIMATOR_DISCONTINUITY_GAP_HOURS", c.Buffer.DiscontinuityGapHours)
	c.Health.DisconnectCycles = getenvIntDefault("ESTIMATOR_DISCONNECT_CYCLES", c.Health.DisconnectCycles)
	c.Escalation.WarnCount = getenvIntDefault("ESTIMATOR_ESCALATION_WARN_COUNT", c.Escalation.WarnCount)
}

var validate = validator.New()

// Validate checks struct constraints, rule monotonicity and every plant override.
func (c Calibration) Validate() error {
	if err := c.validateOne(); err != nil {
		return err
	}
	for plantID := range c.Plants {
		if err := c.ForPlant(plantID).validateOne(); err != nil {
			return fmt.Errorf("plant %s: %w", plantID, err)
		}
	}
	return nil
}

func (c Calibration) validateOne() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCalibration, err)
	}
	probe := c.ProbeDefault
	probe.Channel = "soil_moisture_*"
	if err := validate.Struct(probe); err != nil {
		return fmt.Errorf("%w: probe_default: %v", ErrInvalidCalibration, err)
	}
	seen := make(map[string]struct{}, len(c.Sensors))
	for _, profile := range c.Sensors {
		if _, dup := seen[profile.Channel]; dup {
			return fmt.Errorf("%w: duplicate sensor profile %s", ErrInvalidCalibration, profile.Channel)
		}
		seen[profile.Channel] = struct{}{}
	}
	for i := 1; i < len(c.Confidence.AgeBands); i++ {
		if c.Confidence.AgeBands[i].MaxAgeSeconds <= c.Confidence.AgeBands[i-1].MaxAgeSeconds {
			return fmt.Errorf("%w: age bands must be increasing", ErrInvalidCalibration)
		}
	}
	if !c.Escalation.MinSeverity.Valid() {
		return fmt.Errorf("%w: escalation min_severity", ErrInvalidCalibration)
	}
	for _, rule := range c.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCalibration, err)
		}
	}
	return nil
}

// ForPlant returns the calibration with the plant override merged in.
func (c Calibration) ForPlant(plantID string) Calibration {
	override, ok := c.Plants[plantID]
	if !ok {
		return c
	}
	merged := c
	merged.Plants = nil
	if override.Buffer.RetentionHours != 0 {
		merged.Buffer.RetentionHours = override.Buffer.RetentionHours
	}
	if override.Buffer.DiscontinuityGapHours != 0 {
		merged.Buffer.DiscontinuityGapHours = override.Buffer.DiscontinuityGapHours
	}
	if override.Soil.UniformSpreadPct != 0 {
		merged.Soil.UniformSpreadPct = override.Soil.UniformSpreadPct
	}
	if override.Escalation.WarnCount != 0 {
		merged.Escalation.WarnCount = override.Escalation.WarnCount
	}
	if override.Escalation.MinSeverity != 0 {
		merged.Escalation.MinSeverity = override.Escalation.MinSeverity
	}
	merged.Sensors = mergeSensors(c.Sensors, override.Sensors)
	merged.Rules = mergeRules(c.Rules, override.Rules)
	return merged
}

func mergeSensors(base, override []health.SensorProfile) []health.SensorProfile {
	out := append([]health.SensorProfile(nil), base...)
	for _, profile := range override {
		replaced := false
		for i := range out {
			if out[i].Channel == profile.Channel {
				out[i] = profile
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, profile)
		}
	}
	return out
}

// mergeRules replaces rules matching on (type, metric) and appends the rest.
func mergeRules(base, override []alarms.AnomalyRule) []alarms.AnomalyRule {
	out := append([]alarms.AnomalyRule(nil), base...)
	for _, rule := range override {
		replaced := false
		for i := range out {
			if out[i].Type == rule.Type && out[i].Metric == rule.Metric {
				out[i] = rule
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, rule)
		}
	}
	return out
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
