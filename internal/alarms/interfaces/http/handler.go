package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	alarmapp "greenhouse-brain/internal/alarms/application"
	alarms "greenhouse-brain/internal/alarms/domain"
	"greenhouse-brain/internal/auth"
)

const timeLayout = time.RFC3339

// Handler serves stored anomalies.
type Handler struct {
	reader alarmapp.AnomalyReader
	logger logrus.FieldLogger
}

// NewHandler constructs a handler.
func NewHandler(reader alarmapp.AnomalyReader, logger logrus.FieldLogger) (*Handler, error) {
	if reader == nil {
		return nil, errors.New("anomalies handler: nil reader")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{reader: reader, logger: logger}, nil
}

// ServeHTTP handles GET /api/v1/anomalies?plant_id=&from=&to=[&min_severity=].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	plantID := r.URL.Query().Get("plant_id")
	if plantID == "" {
		http.Error(w, "plant_id is required", http.StatusBadRequest)
		return
	}
	if err := auth.EnsurePlantAccess(r.Context(), plantID); err != nil {
		auth.RespondError(w, err)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	minSeverity := alarms.SeverityInfo
	if value := r.URL.Query().Get("min_severity"); value != "" {
		minSeverity, err = alarms.ParseSeverity(value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	list, err := h.reader.ListAnomalies(r.Context(), alarmapp.AnomalyQuery{
		PlantID:     plantID,
		From:        from,
		To:          to,
		MinSeverity: minSeverity,
	})
	if err != nil {
		h.logger.WithError(err).WithField("plant_id", plantID).Error("list anomalies failed")
		http.Error(w, "list anomalies failed", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alarms.Anomaly{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
