// Package schema holds the JSON Schemas of the estimator's line-delimited
// records and validates instances against them.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Record schema names.
const (
	Observation  = "observation_v1"
	DeviceStatus = "device_status_v1"
	State        = "state_v1"
	Anomaly      = "anomaly_v1"
	SensorHealth = "sensor_health_v1"
)

const baseURL = "https://greenhouse-brain.local/schema/"

//go:embed *.schema.json
var files embed.FS

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

// Names lists every known schema.
func Names() []string {
	return []string{Observation, DeviceStatus, State, Anomaly, SensorHealth}
}

func load() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		for _, name := range Names() {
			file := name + ".schema.json"
			data, err := files.ReadFile(file)
			if err != nil {
				compileErr = fmt.Errorf("read schema %s: %w", file, err)
				return
			}
			if err := compiler.AddResource(baseURL+file, bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("add schema resource %s: %w", file, err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(Names()))
		for _, name := range Names() {
			schema, err := compiler.Compile(baseURL + name + ".schema.json")
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", name, err)
				return
			}
			out[name] = schema
		}
		compiled = out
	})
	return compiled, compileErr
}

// ValidateJSON validates raw JSON against the named schema.
func ValidateJSON(name string, data []byte) error {
	schemas, err := load()
	if err != nil {
		return err
	}
	schema, ok := schemas[name]
	if !ok {
		return fmt.Errorf("schema: unknown record %q", name)
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("schema: decode %s: %w", name, err)
	}
	return schema.Validate(instance)
}

// Validate encodes record and validates it against the named schema.
func Validate(name string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("schema: encode %s: %w", name, err)
	}
	return ValidateJSON(name, data)
}
