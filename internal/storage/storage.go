package storage

import (
	"context"
	"errors"
	"time"

	"smartstop.transitwatch.org/internal/models"
)

var (
	// ErrDuplicateReading is returned when a reading with the same
	// (stop, timestamp) already exists. Callers treat this as idempotent
	// acceptance, not a failure.
	ErrDuplicateReading = errors.New("storage: duplicate telemetry reading")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("storage: not found")
)

// TelemetryStore persists the append-only telemetry time series.
type TelemetryStore interface {
	// InsertReading stores a reading. Returns ErrDuplicateReading when a
	// record with the same (stop, timestamp) already exists.
	InsertReading(ctx context.Context, reading models.TelemetryReading) error

	// RecentReadings returns readings for a stop at or after since, oldest first.
	RecentReadings(ctx context.Context, stopID string, since time.Time) ([]models.TelemetryReading, error)
}

// AlertFilter narrows ListAlerts results. Zero values match everything.
type AlertFilter struct {
	StopID string
	Status models.AlertStatus
}

// AlertStore persists alerts across their full lifecycle. Alerts are never
// deleted; resolved alerts remain for audit.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert models.Alert) error
	GetAlert(ctx context.Context, id string) (models.Alert, error)

	// OpenAlert returns the open or acknowledged alert for (stop, type),
	// or ErrNotFound when the slot is clear.
	OpenAlert(ctx context.Context, stopID string, alertType models.AlertType) (models.Alert, error)

	ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error)
}

// AccuracySample records a prediction against the observed arrival so
// historical deviation statistics can be evaluated offline.
type AccuracySample struct {
	StopID    string
	RouteID   string
	VehicleID string
	Predicted time.Time
	Actual    time.Time
}

// StatsStore serves historical travel-time deviation statistics.
type StatsStore interface {
	// AverageDeviation returns the mean schedule deviation for a route at
	// the given hour of day. Zero with a nil error means no history.
	AverageDeviation(ctx context.Context, routeID string, hour int) (time.Duration, error)

	RecordAccuracySample(ctx context.Context, sample AccuracySample) error
}

// Store bundles the persistence interfaces behind a single value so wiring
// can swap the Postgres and in-memory implementations as a unit.
type Store interface {
	TelemetryStore
	AlertStore
	StatsStore
	Close() error
}
