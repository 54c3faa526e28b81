package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	alarms "greenhouse-brain/internal/alarms/domain"
	estimator "greenhouse-brain/internal/estimator/domain"
	"greenhouse-brain/internal/reports"
	"greenhouse-brain/internal/telemetry/infrastructure/jsonl"
)

var exportFlags struct {
	Input   string
	Output  string
	PlantID string
	Format  string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render replay output as an XLSX workbook or PDF anomaly report",
	RunE:  runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportFlags.Input, "input", "i", "", "replay output JSONL file")
	f.StringVarP(&exportFlags.Output, "output", "o", "", "report file; the extension selects the format unless --format is set")
	f.StringVar(&exportFlags.PlantID, "plant", "", "plant id to export; empty exports every state in the file")
	f.StringVar(&exportFlags.Format, "format", "", "xlsx or pdf")
	_ = exportCmd.MarkFlagRequired("input")
	_ = exportCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	format, err := exportFormat(exportFlags.Format, exportFlags.Output)
	if err != nil {
		return err
	}

	file, err := os.Open(exportFlags.Input)
	if err != nil {
		return err
	}
	defer file.Close()
	outputs, err := jsonl.ReadOutputs(file)
	if err != nil {
		return err
	}
	if outputs.Unknown > 0 {
		logger.WithField("lines", outputs.Unknown).Warn("ignored records with unknown schema_version")
	}

	plantID := exportFlags.PlantID
	if plantID == "" {
		plantID = "all"
	}
	states, anomalies := filterPlant(outputs, exportFlags.PlantID)

	var data []byte
	switch format {
	case "xlsx":
		data, err = reports.BuildHistoryXLSX(plantID, states, anomalies)
	case "pdf":
		data, err = reports.BuildAnomalyPDF(plantID, states, anomalies)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(exportFlags.Output, data, 0o644); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"output":    exportFlags.Output,
		"states":    len(states),
		"anomalies": len(anomalies),
	}).Info("report written")
	return nil
}

func exportFormat(format, output string) (string, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(output)), ".")
	}
	switch format {
	case "xlsx", "pdf":
		return format, nil
	case "":
		return "", errors.New("export: cannot infer format, set --format")
	default:
		return "", fmt.Errorf("export: unsupported format %q", format)
	}
}

// filterPlant keeps the states and anomalies of one plant.
func filterPlant(outputs jsonl.Outputs, plantID string) ([]estimator.State, []alarms.Anomaly) {
	if plantID == "" {
		return outputs.States, outputs.Anomalies
	}
	var states []estimator.State
	for _, state := range outputs.States {
		if state.PlantID == plantID {
			states = append(states, state)
		}
	}
	var anomalies []alarms.Anomaly
	for _, anomaly := range outputs.Anomalies {
		if anomaly.PlantID == plantID {
			anomalies = append(anomalies, anomaly)
		}
	}
	return states, anomalies
}
