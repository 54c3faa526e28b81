package reports

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alarms "greenhouse-brain/internal/alarms/domain"
	estimator "greenhouse-brain/internal/estimator/domain"
)

// Summary aggregates a plant history for reports.
type Summary struct {
	PlantID     string
	From        time.Time
	To          time.Time
	States      int
	Confidence  estimator.Stats
	VPD         estimator.Stats
	SoilAverage estimator.Stats
	Escalations int
	BySeverity  map[alarms.Severity]int
}

// Summarize aggregates states and anomalies of one plant.
func Summarize(plantID string, states []estimator.State, anomalies []alarms.Anomaly) Summary {
	summary := Summary{PlantID: plantID, States: len(states), BySeverity: make(map[alarms.Severity]int)}
	var confidence, vpd, soil []float64
	for i, state := range states {
		if i == 0 || state.Timestamp.Before(summary.From) {
			summary.From = state.Timestamp
		}
		if state.Timestamp.After(summary.To) {
			summary.To = state.Timestamp
		}
		confidence = append(confidence, state.Confidence)
		if v, ok := state.Metric(estimator.MetricVPD); ok {
			vpd = append(vpd, v)
		}
		if v, ok := state.Metric(estimator.MetricSoilMoistureAvg); ok {
			soil = append(soil, v)
		}
		if state.EscalateSampling {
			summary.Escalations++
		}
	}
	summary.Confidence = estimator.Summarize(confidence)
	summary.VPD = estimator.Summarize(vpd)
	summary.SoilAverage = estimator.Summarize(soil)
	for _, anomaly := range anomalies {
		summary.BySeverity[anomaly.Severity]++
	}
	return summary
}

// BuildHistoryXLSX renders a state history workbook with summary, states and
// anomalies sheets.
func BuildHistoryXLSX(plantID string, states []estimator.State, anomalies []alarms.Anomaly) ([]byte, error) {
	summary := Summarize(plantID, states, anomalies)
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	statesSheet := "states"
	anomaliesSheet := "anomalies"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(statesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(anomaliesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Plant State History")
	rows := [][2]any{
		{"Plant", summary.PlantID},
		{"From", formatTime(summary.From)},
		{"To", formatTime(summary.To)},
		{"States", summary.States},
		{"Mean Confidence", round3(summary.Confidence.Mean)},
		{"Min Confidence", round3(summary.Confidence.Min)},
		{"Mean VPD (kPa)", round3(summary.VPD.Mean)},
		{"Mean Soil Moisture (%)", round3(summary.SoilAverage.Mean)},
		{"Escalations", summary.Escalations},
	}
	for _, severity := range []alarms.Severity{alarms.SeverityInfo, alarms.SeverityWarn, alarms.SeverityError, alarms.SeverityCrit} {
		rows = append(rows, [2]any{"Anomalies " + severity.String(), summary.BySeverity[severity]})
	}
	for i, row := range rows {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+3), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+3), row[1])
	}

	headers := []string{"Timestamp", "Air Temp (C)", "RH (%)", "VPD (kPa)", "CO2 (ppm)", "Soil Avg (%)", "Zone", "Confidence", "Escalate"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(statesSheet, cell, header)
	}
	for i, state := range states {
		row := i + 2
		values := []any{
			formatTime(state.Timestamp),
			optional(state.Environment.AirTemperatureC),
			optional(state.Environment.RelativeHumidityPct),
			optional(state.Environment.VPDKPa),
			optional(state.Environment.CO2PPM),
			optional(state.Soil.AverageMoisturePct),
			state.Soil.ZonePattern,
			round3(state.Confidence),
			state.EscalateSampling,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(statesSheet, cell, value)
		}
	}

	anomalyHeaders := []string{"Timestamp", "Severity", "Type", "Measurement", "Value", "Threshold", "Mode", "Safe Mode"}
	for i, header := range anomalyHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(anomaliesSheet, cell, header)
	}
	for i, anomaly := range sortedAnomalies(anomalies) {
		row := i + 2
		values := []any{
			formatTime(anomaly.Timestamp),
			anomaly.Severity.String(),
			anomaly.Type,
			anomaly.Measurement,
			round3(anomaly.Value),
			round3(anomaly.Threshold),
			anomaly.DetectionMode,
			anomaly.RequiresSafeMode,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(anomaliesSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAnomalyPDF renders a short confidence and anomaly report.
func BuildAnomalyPDF(plantID string, states []estimator.State, anomalies []alarms.Anomaly) ([]byte, error) {
	summary := Summarize(plantID, states, anomalies)
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Plant Anomaly Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Plant: %s", summary.PlantID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s to %s", formatTime(summary.From), formatTime(summary.To)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("States: %d", summary.States))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Confidence: mean %.3f, min %.3f", summary.Confidence.Mean, summary.Confidence.Min))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("VPD (kPa): mean %.3f, max %.3f", summary.VPD.Mean, summary.VPD.Max))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Escalations: %d", summary.Escalations))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(55, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Measurement", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, anomaly := range sortedAnomalies(anomalies) {
		pdf.CellFormat(45, 6, formatTime(anomaly.Timestamp), "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, anomaly.Severity.String(), "1", 0, "C", false, 0, "")
		pdf.CellFormat(55, 6, anomaly.Type, "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, anomaly.Measurement, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, fmt.Sprintf("%.2f", anomaly.Value), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sortedAnomalies(anomalies []alarms.Anomaly) []alarms.Anomaly {
	out := make([]alarms.Anomaly, len(anomalies))
	copy(out, anomalies)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Severity > out[j].Severity
	})
	return out
}

func optional(v *float64) any {
	if v == nil {
		return ""
	}
	return round3(*v)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
