package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"greenhouse-brain/internal/contracts/schema"
	estimatorapp "greenhouse-brain/internal/estimator/application"
	"greenhouse-brain/internal/estimator/config"
	estimator "greenhouse-brain/internal/estimator/domain"
	"greenhouse-brain/internal/estimator/infrastructure/sqlstore"
	"greenhouse-brain/internal/telemetry/infrastructure/jsonl"
)

type replayOptions struct {
	Input           string
	Output          string
	PlantID         string
	CalibrationPath string
	FailFast        bool
	Validate        bool
	Fsync           bool
	StorePath       string
}

type replayStats struct {
	Cycles    int
	Rejected  int
	Skipped   int
	Anomalies int
	Resets    int
}

var replayFlags replayOptions

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a JSONL observation log through the estimator",
	Long: `replay reads {"observation", "device_status", "cycle"} lines and writes
state_v1, anomaly_v1 and sensor_health_v1 records in input order.`,
	RunE: runReplay,
}

func init() {
	f := replayCmd.Flags()
	f.StringVarP(&replayFlags.Input, "input", "i", "-", "input JSONL file, - for stdin")
	f.StringVarP(&replayFlags.Output, "output", "o", "-", "output JSONL file, - for stdout")
	f.StringVar(&replayFlags.PlantID, "plant", "default", "plant id when the cycle does not name one")
	f.StringVar(&replayFlags.CalibrationPath, "calibration", getenvDefault(config.EnvCalibrationPath, ""), "calibration file")
	f.BoolVar(&replayFlags.FailFast, "fail-fast", false, "abort on the first malformed line")
	f.BoolVar(&replayFlags.Validate, "validate", false, "check every output record against its JSON schema")
	f.BoolVar(&replayFlags.Fsync, "fsync", false, "sync the output file after every record")
	f.StringVar(&replayFlags.StorePath, "store", "", "also persist results to this SQLite file")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	opts := replayFlags

	cal, err := config.Load(opts.CalibrationPath)
	if err != nil {
		return fmt.Errorf("calibration: %w", err)
	}

	var src io.Reader = cmd.InOrStdin()
	if opts.Input != "-" {
		file, err := os.Open(opts.Input)
		if err != nil {
			return err
		}
		defer file.Close()
		src = file
	}

	var writer *jsonl.Writer
	if opts.Output == "-" {
		writer = jsonl.NewWriter(cmd.OutOrStdout())
	} else {
		writer, err = jsonl.OpenFile(opts.Output, opts.Fsync)
		if err != nil {
			return err
		}
	}

	registryOpts := []estimatorapp.Option{estimatorapp.WithLogger(logger)}
	if opts.StorePath != "" {
		store, err := sqlstore.Open(sqlstore.DriverSQLite, opts.StorePath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		registryOpts = append(registryOpts, estimatorapp.WithSink(store))
	}
	registry, err := estimatorapp.NewRegistry(cal, registryOpts...)
	if err != nil {
		return err
	}

	stats, err := replay(cmd.Context(), registry, src, writer, opts, logger)
	closeErr := writer.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	logger.WithFields(logrus.Fields{
		"cycles":    stats.Cycles,
		"rejected":  stats.Rejected,
		"skipped":   stats.Skipped,
		"anomalies": stats.Anomalies,
		"resets":    stats.Resets,
	}).Info("replay finished")
	return nil
}

// replay feeds every input line to the registry and writes the state, its
// anomalies and the sensor health in that order. Rejected inputs are logged
// and counted; they produce no output.
func replay(ctx context.Context, registry *estimatorapp.Registry, src io.Reader, writer *jsonl.Writer, opts replayOptions, logger logrus.FieldLogger) (replayStats, error) {
	policy := jsonl.SkipMalformed
	if opts.FailFast {
		policy = jsonl.FailFast
	}
	reader := jsonl.NewReader(src, jsonl.WithPolicy(policy), jsonl.WithLogger(logger))

	var stats replayStats
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		input, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}

		cycle := estimator.CycleContext{Now: input.Observation.Timestamp}
		if input.Cycle != nil {
			cycle = *input.Cycle
			if cycle.Now.IsZero() {
				cycle.Now = input.Observation.Timestamp
			}
		}
		plantID := cycle.PlantID
		if plantID == "" {
			plantID = opts.PlantID
			cycle.PlantID = plantID
		}

		result, err := registry.Estimate(ctx, plantID, input.Observation, input.DeviceStatus, cycle)
		if err != nil {
			stats.Rejected++
			logger.WithError(err).WithField("line", input.Line).Warn("input rejected")
			continue
		}
		stats.Cycles++
		stats.Anomalies += len(result.Anomalies)
		if result.HistoryReset != "" {
			stats.Resets++
		}

		if err := emit(writer, schema.State, result.State, opts.Validate); err != nil {
			return stats, err
		}
		for _, anomaly := range result.Anomalies {
			if err := emit(writer, schema.Anomaly, anomaly, opts.Validate); err != nil {
				return stats, err
			}
		}
		if err := emit(writer, schema.SensorHealth, result.Health, opts.Validate); err != nil {
			return stats, err
		}
	}
	stats.Skipped = reader.Skipped()
	return stats, writer.Flush()
}

func emit(writer *jsonl.Writer, name string, record any, validate bool) error {
	if validate {
		if err := schema.Validate(name, record); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return writer.Write(record)
}
