package http

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"greenhouse-brain/internal/estimator/config"
)

// CalibrationSource loads calibration from its backing file.
type CalibrationSource interface {
	Load() (config.Calibration, error)
	Current() config.Calibration
}

// CalibrationTarget receives reloaded calibration.
type CalibrationTarget interface {
	SetCalibration(cal config.Calibration) error
}

// CalibrationHandler serves /api/v1/calibration and /api/v1/calibration/reload.
type CalibrationHandler struct {
	source CalibrationSource
	target CalibrationTarget
	logger logrus.FieldLogger
}

// NewCalibrationHandler constructs a calibration handler.
func NewCalibrationHandler(source CalibrationSource, target CalibrationTarget, logger logrus.FieldLogger) (*CalibrationHandler, error) {
	if source == nil || target == nil {
		return nil, errors.New("calibration handler: nil dependency")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CalibrationHandler{source: source, target: target, logger: logger}, nil
}

// ServeHTTP returns the active calibration or reloads it from disk.
func (h *CalibrationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/calibration":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, h.source.Current())
	case "/api/v1/calibration/reload":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		cal, err := h.source.Load()
		if err != nil {
			h.logger.WithError(err).Warn("calibration reload rejected")
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		if err := h.target.SetCalibration(cal); err != nil {
			h.logger.WithError(err).Warn("calibration apply rejected")
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, map[string]any{"reloaded": true})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}
