package app

import (
	"log/slog"

	"smartstop.transitwatch.org/internal/alerts"
	"smartstop.transitwatch.org/internal/appconf"
	"smartstop.transitwatch.org/internal/broadcast"
	"smartstop.transitwatch.org/internal/gtfs"
	"smartstop.transitwatch.org/internal/ingest"
	"smartstop.transitwatch.org/internal/metrics"
	"smartstop.transitwatch.org/internal/predict"
	"smartstop.transitwatch.org/internal/tracker"
)

// Application holds the dependencies for our HTTP handlers, helpers, and
// middleware: configuration, the schedule manager, and the telemetry,
// tracking, prediction, alerting and broadcasting subsystems.
type Application struct {
	Config    appconf.Config
	Logger    *slog.Logger
	Schedule  *gtfs.Manager
	Tracker   *tracker.Tracker
	Ingestor  *ingest.Ingestor
	Predictor *predict.Predictor
	Alerts    *alerts.Engine
	Hub       *broadcast.Hub
	Metrics   *metrics.Collector
}
