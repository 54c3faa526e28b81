package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	metricPrefix = "estimator_"

	resultSuccess = "success"
	resultError   = "error"
	resultInvalid = "invalid"
)

var (
	registerOnce sync.Once

	estimatesTotal   *prometheus.CounterVec
	estimateLatency  *prometheus.HistogramVec
	confidenceGauge  *prometheus.GaugeVec
	bufferLength     *prometheus.GaugeVec
	bufferResets     *prometheus.CounterVec
	escalationsTotal *prometheus.CounterVec

	anomaliesTotal    *prometheus.CounterVec
	sensorFaultsTotal *prometheus.CounterVec

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec

	notificationsTotal *prometheus.CounterVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec
)

// Init registers estimator metrics and, when db is set, storage gauges.
func Init(db *sql.DB, logger logrus.FieldLogger) {
	registerOnce.Do(func() {
		estimatesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "estimates_total",
				Help: "Total estimation cycles by result",
			},
			[]string{"result"},
		)
		estimateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "estimate_latency_seconds",
				Help:    "Estimation cycle latency in seconds",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
			[]string{"result"},
		)
		confidenceGauge = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "confidence",
				Help: "Confidence of the latest state per plant",
			},
			[]string{"plant"},
		)
		bufferLength = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "buffer_states",
				Help: "Buffered states per plant",
			},
			[]string{"plant"},
		)
		bufferResets = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "buffer_resets_total",
				Help: "History resets by reason",
			},
			[]string{"reason"},
		)
		escalationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "escalations_total",
				Help: "Cycles that requested increased sampling",
			},
			[]string{"plant"},
		)
		anomaliesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "anomalies_total",
				Help: "Detected anomalies by type and severity",
			},
			[]string{"type", "severity"},
		)
		sensorFaultsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sensor_faults_total",
				Help: "Sensor faults by sensor and fault type",
			},
			[]string{"sensor", "fault"},
		)
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		notificationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Anomaly notifications by channel and result",
			},
			[]string{"channel", "result"},
		)
		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			estimatesTotal,
			estimateLatency,
			confidenceGauge,
			bufferLength,
			bufferResets,
			escalationsTotal,
			anomaliesTotal,
			sensorFaultsTotal,
			ingestRequests,
			ingestErrors,
			notificationsTotal,
			reportExportTotal,
			reportExportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveEstimate records cycle duration and result.
func ObserveEstimate(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if estimatesTotal != nil {
		estimatesTotal.WithLabelValues(result).Inc()
	}
	if estimateLatency != nil {
		estimateLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// SetPlantState publishes the latest confidence and buffer length of a plant.
func SetPlantState(plant string, confidence float64, buffered int) {
	if confidenceGauge != nil {
		confidenceGauge.WithLabelValues(plant).Set(confidence)
	}
	if bufferLength != nil {
		bufferLength.WithLabelValues(plant).Set(float64(buffered))
	}
}

// IncBufferReset counts a history reset.
func IncBufferReset(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if bufferResets != nil {
		bufferResets.WithLabelValues(reason).Inc()
	}
}

// IncEscalation counts a sampling escalation signal.
func IncEscalation(plant string) {
	if escalationsTotal != nil {
		escalationsTotal.WithLabelValues(plant).Inc()
	}
}

// IncAnomaly counts a detected anomaly.
func IncAnomaly(anomalyType, severity string) {
	if anomaliesTotal != nil {
		anomaliesTotal.WithLabelValues(anomalyType, severity).Inc()
	}
}

// IncSensorFault counts a sensor fault classification.
func IncSensorFault(sensor, fault string) {
	if sensorFaultsTotal != nil {
		sensorFaultsTotal.WithLabelValues(sensor, fault).Inc()
	}
}

// IncIngest counts an ingest request by result.
func IncIngest(result string) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncNotification counts a notification attempt.
func IncNotification(channel, result string) {
	if channel == "" {
		channel = "unknown"
	}
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(channel, result).Inc()
	}
}

// ObserveReportExport records export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultInvalid = resultInvalid
)
