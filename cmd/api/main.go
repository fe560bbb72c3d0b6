package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"smartstop.transitwatch.org/internal/alerts"
	"smartstop.transitwatch.org/internal/app"
	"smartstop.transitwatch.org/internal/appconf"
	"smartstop.transitwatch.org/internal/broadcast"
	"smartstop.transitwatch.org/internal/gtfs"
	"smartstop.transitwatch.org/internal/ingest"
	"smartstop.transitwatch.org/internal/logging"
	"smartstop.transitwatch.org/internal/metrics"
	"smartstop.transitwatch.org/internal/models"
	"smartstop.transitwatch.org/internal/notify"
	"smartstop.transitwatch.org/internal/predict"
	"smartstop.transitwatch.org/internal/restapi"
	"smartstop.transitwatch.org/internal/storage"
	"smartstop.transitwatch.org/internal/tracker"
)

// multiSink fans a changed estimate out to every consumer: the live hub and
// the delay-alert evaluation.
type multiSink []predict.Sink

func (s multiSink) EstimateUpdated(estimate models.ArrivalEstimate) {
	for _, sink := range s {
		sink.EstimateUpdated(estimate)
	}
}

// lastSeenFunc adapts a closure to the alert engine's watchdog source, which
// breaks the construction cycle between the engine and the ingestor.
type lastSeenFunc func() map[string]time.Time

func (f lastSeenFunc) LastSeenAll() map[string]time.Time { return f() }

// estimatesFunc does the same for the engine's delay-alert recheck, which
// reads the predictor constructed after the engine.
type estimatesFunc func(stopID string) []models.ArrivalEstimate

func (f estimatesFunc) CurrentEstimates(stopID string) []models.ArrivalEstimate { return f(stopID) }

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	appconf.LoadEnv()

	var cfg appconf.Config
	var envFlag, apiKeysFlag string

	flag.IntVar(&cfg.Port, "port", 4000, "API server port")
	flag.StringVar(&envFlag, "env", appconf.GetenvDefault("ENV", "development"), "Environment (development|test|production)")
	flag.StringVar(&apiKeysFlag, "api-keys", appconf.GetenvDefault("API_KEYS", "test"), "Comma separated API keys")
	flag.IntVar(&cfg.RateLimit, "rate-limit", 100, "Requests per second per API key")
	flag.StringVar(&cfg.GtfsURL, "gtfs-url", appconf.GetenvDefault("GTFS_URL", ""), "URL or path of a static GTFS zip file")
	flag.StringVar(&cfg.DatabaseURL, "database-url", appconf.GetenvDefault("DATABASE_URL", ""), "Postgres DSN; empty runs the in-memory store")
	flag.StringVar(&cfg.NATSURL, "nats-url", appconf.GetenvDefault("NATS_URL", ""), "NATS server URL; empty disables external fanout")
	flag.StringVar(&cfg.WebhookURL, "webhook-url", appconf.GetenvDefault("WEBHOOK_URL", ""), "Alert notification webhook; empty disables notifications")
	flag.StringVar(&cfg.AlertConfigPath, "alert-config", appconf.GetenvDefault("ALERT_CONFIG", ""), "YAML file with alert thresholds")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", appconf.GetenvDefault("METRICS_ADDR", ""), "Dedicated metrics listen address; empty disables the metrics server")
	flag.Parse()

	cfg.Env = appconf.EnvFlagToEnvironment(envFlag)
	if apiKeysFlag != "" {
		cfg.ApiKeys = strings.Split(apiKeysFlag, ",")
		for i := range cfg.ApiKeys {
			cfg.ApiKeys[i] = strings.TrimSpace(cfg.ApiKeys[i])
		}
	}

	var err error
	if cfg.ScheduleRefresh, err = appconf.GetenvDuration("SCHEDULE_REFRESH_SECONDS", 24*time.Hour); err != nil {
		return err
	}
	if cfg.VehicleFreshness, err = appconf.GetenvDuration("VEHICLE_FRESHNESS_SECONDS", 90*time.Second); err != nil {
		return err
	}
	if cfg.PredictInterval, err = appconf.GetenvDuration("PREDICT_INTERVAL_SECONDS", 30*time.Second); err != nil {
		return err
	}
	if cfg.TelemetryCadence, err = appconf.GetenvDuration("TELEMETRY_CADENCE_SECONDS", 0); err != nil {
		return err
	}
	if cfg.AlertResolveHold, err = appconf.GetenvDuration("ALERT_RESOLVE_HOLD_SECONDS", 0); err != nil {
		return err
	}
	if cfg.DelayAlertThreshold, err = appconf.GetenvDuration("DELAY_ALERT_THRESHOLD_SECONDS", 0); err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Env == appconf.Development {
		level = slog.LevelDebug
	}
	logger := logging.NewStructuredLogger(os.Stdout, level)

	if cfg.GtfsURL == "" {
		return errors.New("a GTFS feed is required: set -gtfs-url or GTFS_URL")
	}

	collector := metrics.NewCollector()

	schedule, err := gtfs.InitScheduleManager(gtfs.Config{
		GtfsURL:         cfg.GtfsURL,
		RefreshInterval: cfg.ScheduleRefresh,
	}, logger, collector)
	if err != nil {
		return fmt.Errorf("load schedule feed: %w", err)
	}
	defer schedule.Shutdown()

	var store storage.Store
	if cfg.DatabaseURL != "" {
		pg, err := storage.OpenPostgres(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		store = pg
		logger.Info("using postgres storage")
	} else {
		store = storage.NewMemoryStore()
		logger.Warn("no DATABASE_URL set, readings and alerts are held in memory")
	}
	defer logging.SafeCloseWithLogging(store, logger, "close storage")

	thresholds, err := alerts.LoadThresholds(cfg.AlertConfigPath)
	if err != nil {
		return err
	}
	if cfg.DelayAlertThreshold > 0 {
		thresholds.DelayThreshold = cfg.DelayAlertThreshold
	}
	if cfg.TelemetryCadence > 0 {
		thresholds.TelemetryCadence = cfg.TelemetryCadence
	}
	if cfg.AlertResolveHold > 0 {
		thresholds.ResolveHold = cfg.AlertResolveHold
	}

	var external broadcast.ExternalPublisher
	if cfg.NATSURL != "" {
		natsPub, err := broadcast.NewNATSPublisher(cfg.NATSURL, logger, collector)
		if err != nil {
			return fmt.Errorf("connect event broker: %w", err)
		}
		defer natsPub.Close()
		external = natsPub
	}

	var notifier alerts.Notifier
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.WebhookURL, logger)
	} else {
		notifier = notify.NoopNotifier{}
	}

	trk := tracker.New(cfg.VehicleFreshness)

	var predictor *predict.Predictor
	var engine *alerts.Engine

	hub := broadcast.NewHub(func(stopID string) models.StopSnapshot {
		snapshot := models.StopSnapshot{StopID: stopID}
		if predictor != nil {
			snapshot.Estimates = predictor.CurrentEstimates(stopID)
		}
		if engine != nil {
			snapshot.Alerts = engine.OpenForStop(context.Background(), stopID)
		}
		return snapshot
	}, external, logger, collector)

	var ingestor *ingest.Ingestor
	engine = alerts.NewEngine(store, thresholds, hub, notifier, lastSeenFunc(func() map[string]time.Time {
		if ingestor == nil {
			return nil
		}
		return ingestor.LastSeenAll()
	}), estimatesFunc(func(stopID string) []models.ArrivalEstimate {
		if predictor == nil {
			return nil
		}
		return predictor.CurrentEstimates(stopID)
	}), logger, collector)

	ingestor = ingest.New(schedule, store, engine, logger, collector)

	predictor = predict.New(schedule, trk, store, multiSink{hub, engine}, logger, collector, predict.Config{
		PollInterval: cfg.PredictInterval,
	})

	trk.OnUpdate(predictor.VehicleMoved)

	application := &app.Application{
		Config:    cfg,
		Logger:    logger,
		Schedule:  schedule,
		Tracker:   trk,
		Ingestor:  ingestor,
		Predictor: predictor,
		Alerts:    engine,
		Hub:       hub,
		Metrics:   collector,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go engine.Run(ctx)
	go predictor.Run(ctx)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := collector.Serve(cfg.MetricsAddr, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	api := restapi.NewRestAPI(application)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.Handler(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // SSE streams stay open indefinitely
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "env", cfg.Env.String())
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
