package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	alarmapp "greenhouse-brain/internal/alarms/application"
	alarmhttp "greenhouse-brain/internal/alarms/interfaces/http"
	alarmnotify "greenhouse-brain/internal/alarms/notify"
	"greenhouse-brain/internal/auth"
	estimatorapp "greenhouse-brain/internal/estimator/application"
	"greenhouse-brain/internal/estimator/config"
	"greenhouse-brain/internal/estimator/infrastructure/sqlstore"
	estimatorhttp "greenhouse-brain/internal/estimator/interfaces/http"
	"greenhouse-brain/internal/observability/metrics"
	"greenhouse-brain/internal/telemetry/interfaces/ingest"
)

type serveConfig struct {
	HTTPAddr         string
	DatabaseDriver   string
	DatabaseURL      string
	CalibrationPath  string
	WatchCalibration bool
	JWTSecret        string
	IngestSecret     string
	IngestSkew       time.Duration
	WebhookURL       string
	WebhookToken     string
	NotifyTemplate   string
	NotifyCooldown   time.Duration
	NotifyDedupe     time.Duration
	NotifyEscalation time.Duration
	NotifyTimeout    time.Duration
	ReportBaseURL    string
	ShutdownTimeout  time.Duration
	DisableAuth      bool
}

var serveFlags serveConfig

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the estimator HTTP service",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.HTTPAddr, "addr", getenvDefault("HTTP_ADDR", ":8080"), "listen address")
	f.StringVar(&serveFlags.DatabaseDriver, "db-driver", getenvDefault("DATABASE_DRIVER", sqlstore.DriverPostgres), "storage driver (pgx, sqlite3)")
	f.StringVar(&serveFlags.DatabaseURL, "db-url", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "storage DSN; empty keeps history in memory only")
	f.StringVar(&serveFlags.CalibrationPath, "calibration", getenvDefault(config.EnvCalibrationPath, ""), "calibration file (.yaml, .toml, .json)")
	f.BoolVar(&serveFlags.WatchCalibration, "watch-calibration", getenvBool("ESTIMATOR_WATCH_CALIBRATION", false), "reload the calibration file on change")
	f.BoolVar(&serveFlags.DisableAuth, "insecure-no-auth", false, "serve without JWT authentication")

	serveFlags.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", ""))
	serveFlags.IngestSecret = getenvDefault("INGEST_HMAC_SECRET", "")
	serveFlags.IngestSkew = time.Duration(getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300)) * time.Second
	serveFlags.WebhookURL = getenvDefault("ANOMALY_WEBHOOK_URL", "")
	serveFlags.WebhookToken = getenvDefault("ANOMALY_WEBHOOK_TOKEN", "")
	serveFlags.NotifyTemplate = getenvDefault("ANOMALY_NOTIFY_TEMPLATE", "")
	serveFlags.NotifyCooldown = getenvDuration("ANOMALY_NOTIFY_COOLDOWN", 0)
	serveFlags.NotifyDedupe = getenvDuration("ANOMALY_NOTIFY_DEDUP_WINDOW", 0)
	serveFlags.NotifyEscalation = getenvDuration("ANOMALY_ESCALATION_AFTER", 0)
	serveFlags.NotifyTimeout = getenvDuration("ANOMALY_NOTIFY_TIMEOUT", 5*time.Second)
	serveFlags.ReportBaseURL = getenvDefault("ANOMALY_REPORT_BASE_URL", "")
	serveFlags.ShutdownTimeout = getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg := serveFlags
	if cfg.JWTSecret == "" && !cfg.DisableAuth {
		return errors.New("AUTH_JWT_SECRET is required")
	}
	if cfg.IngestSecret == "" && !cfg.DisableAuth {
		return errors.New("INGEST_HMAC_SECRET is required")
	}

	loader := config.NewLoader(cfg.CalibrationPath)
	cal, err := loader.Load()
	if err != nil {
		return fmt.Errorf("calibration: %w", err)
	}
	defer loader.Close()

	var store *sqlstore.Store
	if cfg.DatabaseURL != "" {
		store, err = sqlstore.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.DB().PingContext(cmd.Context()); err != nil {
			return fmt.Errorf("db ping: %w", err)
		}
		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		metrics.Init(store.DB(), logger)
	} else {
		logger.Warn("DATABASE_URL not set, history is kept in memory only")
		metrics.Init(nil, logger)
	}

	broker := alarmhttp.NewSSEBroker(logger)
	notifiers := []alarmapp.AnomalyNotifier{broker}
	if cfg.WebhookURL != "" {
		notifier, err := buildWebhookNotifier(cfg, logger)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, notifier)
	}

	opts := []estimatorapp.Option{
		estimatorapp.WithLogger(logger),
		estimatorapp.WithNotifier(alarmnotify.NewMultiNotifier(notifiers...)),
	}
	if store != nil {
		opts = append(opts, estimatorapp.WithSink(store))
	}
	registry, err := estimatorapp.NewRegistry(cal, opts...)
	if err != nil {
		return err
	}

	var (
		authMiddleware *auth.Middleware
		ingestAuth     *auth.IngestAuthMiddleware
	)
	if cfg.DisableAuth {
		logger.Warn("authentication disabled")
	} else {
		policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
		authMiddleware = auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
		authMiddleware.Logger = logger
		ingestAuth = auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), cfg.IngestSkew)
	}

	mux, err := buildMux(registry, loader, store, broker, ingestAuth, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.WatchCalibration && cfg.CalibrationPath != "" {
		loader.OnChange(func(next config.Calibration) {
			if err := registry.SetCalibration(next); err != nil {
				logger.WithError(err).Error("apply calibration failed")
				return
			}
			logger.WithField("path", cfg.CalibrationPath).Info("calibration reloaded")
		})
		if err := loader.Watch(); err != nil {
			return err
		}
	}

	group, ctx := errgroup.WithContext(cmd.Context())
	group.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-loader.Errors():
				logger.WithError(err).Warn("calibration watch")
			}
		}
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func buildMux(registry *estimatorapp.Registry, loader *config.Loader, store *sqlstore.Store, broker *alarmhttp.SSEBroker, ingestAuth *auth.IngestAuthMiddleware, logger logrus.FieldLogger) (*http.ServeMux, error) {
	handlerOpts := []estimatorhttp.Option{estimatorhttp.WithLogger(logger)}
	if store != nil {
		handlerOpts = append(handlerOpts, estimatorhttp.WithAnomalyReader(store))
	}
	plantHandler, err := estimatorhttp.NewHandler(registry, handlerOpts...)
	if err != nil {
		return nil, err
	}
	calibrationHandler, err := estimatorhttp.NewCalibrationHandler(loader, registry, logger)
	if err != nil {
		return nil, err
	}
	ingestHandler, err := ingest.NewHandler(registry, logger)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/plants", plantHandler)
	mux.Handle("/api/v1/plants/", plantHandler)
	mux.Handle("/api/v1/calibration", calibrationHandler)
	mux.Handle("/api/v1/calibration/reload", calibrationHandler)
	mux.Handle("/ingest/v1/telemetry", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/anomalies/stream", alarmhttp.NewStreamHandler(broker))
	if store != nil {
		anomalyHandler, err := alarmhttp.NewHandler(store, logger)
		if err != nil {
			return nil, err
		}
		mux.Handle("/api/v1/anomalies", anomalyHandler)
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux, nil
}

func buildWebhookNotifier(cfg serveConfig, logger logrus.FieldLogger) (*alarmnotify.Notifier, error) {
	channelOpts := []alarmnotify.WebhookOption{
		alarmnotify.WithHTTPClient(&http.Client{Timeout: cfg.NotifyTimeout}),
	}
	if cfg.WebhookToken != "" {
		channelOpts = append(channelOpts, alarmnotify.WithHeader("Authorization", "Bearer "+cfg.WebhookToken))
	}
	channel, err := alarmnotify.NewWebhookChannel(cfg.WebhookURL, channelOpts...)
	if err != nil {
		return nil, fmt.Errorf("anomaly webhook: %w", err)
	}
	tpl, err := alarmnotify.NewTemplate(cfg.NotifyTemplate)
	if err != nil {
		return nil, fmt.Errorf("anomaly template: %w", err)
	}
	opts := []alarmnotify.Option{
		alarmnotify.WithLogger(logger),
		alarmnotify.WithCooldown(cfg.NotifyCooldown),
		alarmnotify.WithDedupeWindow(cfg.NotifyDedupe),
		alarmnotify.WithEscalation(cfg.NotifyEscalation),
	}
	if resolver := reportURLResolver(cfg.ReportBaseURL); resolver != nil {
		opts = append(opts, alarmnotify.WithReportURLResolver(resolver))
	}
	return alarmnotify.NewNotifier(channel, tpl, opts...)
}

func reportURLResolver(baseURL string) alarmnotify.ReportURLResolver {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	return func(_ context.Context, event alarmapp.AnomalyEvent) string {
		return baseURL + "/api/v1/plants/" + event.PlantID + "/report.pdf"
	}
}
