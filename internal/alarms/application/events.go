package application

import (
	"context"
	"time"

	alarms "greenhouse-brain/internal/alarms/domain"
)

// AnomalyNotifier publishes detected anomalies.
type AnomalyNotifier interface {
	Notify(ctx context.Context, event AnomalyEvent)
}

// AnomalyEvent wraps an anomaly raised for a plant.
type AnomalyEvent struct {
	PlantID string         `json:"plant_id"`
	Anomaly alarms.Anomaly `json:"anomaly"`
}

// AnomalyQuery selects stored anomalies for one plant.
type AnomalyQuery struct {
	PlantID     string
	From        time.Time
	To          time.Time
	MinSeverity alarms.Severity
}

// AnomalyReader loads stored anomalies, oldest first.
type AnomalyReader interface {
	ListAnomalies(ctx context.Context, query AnomalyQuery) ([]alarms.Anomaly, error)
}
