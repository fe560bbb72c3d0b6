package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"smartstop.transitwatch.org/internal/models"
	"smartstop.transitwatch.org/internal/storage"
	"smartstop.transitwatch.org/internal/utils"
)

// ErrUnknownStop is returned when a reading references a stop that is not in
// the schedule.
var ErrUnknownStop = errors.New("ingest: unknown stop")

// ValidationError carries per-field messages for a rejected payload.
type ValidationError struct {
	FieldErrors map[string][]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.FieldErrors))
	for field := range e.FieldErrors {
		fields = append(fields, field)
	}
	return fmt.Sprintf("ingest: invalid reading (fields: %s)", strings.Join(fields, ", "))
}

// Reading is the inbound telemetry payload. Range rules follow the sensors:
// humidity is a percentage, temperature is ambient air in Celsius, and
// occupancy is a headcount.
type Reading struct {
	StopID      string    `json:"stopId" validate:"required"`
	Timestamp   time.Time `json:"timestamp" validate:"required"`
	Temperature float64   `json:"temperature" validate:"gte=-60,lte=80"`
	Humidity    float64   `json:"humidity" validate:"gte=0,lte=100"`
	Occupancy   int       `json:"occupancy" validate:"gte=0"`
}

// Result reports what happened to a submitted reading.
type Result struct {
	Accepted  bool `json:"accepted"`
	Duplicate bool `json:"duplicate"`
	Forwarded bool `json:"-"`
}

// StopResolver answers whether a stop exists in the current schedule.
type StopResolver interface {
	HasStop(stopID string) bool
}

// Forwarder hands accepted readings to the alerting pipeline. Offer must not
// block; it returns false when the reading was shed.
type Forwarder interface {
	Offer(reading models.TelemetryReading) bool
}

// Metrics receives ingestion counters.
type Metrics interface {
	ReadingAccepted()
	ReadingDuplicate()
	ReadingRejected()
	ReadingShed()
}

// Ingestor validates, deduplicates and persists telemetry readings, and
// forwards accepted readings for alert evaluation without ever blocking on
// the alerting side.
type Ingestor struct {
	validate *validator.Validate
	stops    StopResolver
	store    storage.TelemetryStore
	forward  Forwarder
	logger   *slog.Logger
	metrics  Metrics

	mu       sync.RWMutex
	lastSeen map[string]time.Time

	now func() time.Time
}

func New(stops StopResolver, store storage.TelemetryStore, forward Forwarder, logger *slog.Logger, metrics Metrics) *Ingestor {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Ingestor{
		validate: validate,
		stops:    stops,
		store:    store,
		forward:  forward,
		logger:   logger,
		metrics:  metrics,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Submit processes one reading. Duplicate submissions of the same
// (stop, timestamp) are idempotent: they report Duplicate=true and do not
// create a second record. raw is the original payload, retained alongside
// the parsed reading.
func (ing *Ingestor) Submit(ctx context.Context, reading Reading, raw []byte) (Result, error) {
	if err := ing.validateReading(reading); err != nil {
		if ing.metrics != nil {
			ing.metrics.ReadingRejected()
		}
		return Result{}, err
	}

	if !ing.stops.HasStop(reading.StopID) {
		if ing.metrics != nil {
			ing.metrics.ReadingRejected()
		}
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownStop, reading.StopID)
	}

	record := models.TelemetryReading{
		StopID:      reading.StopID,
		Timestamp:   reading.Timestamp.UTC(),
		Temperature: reading.Temperature,
		Humidity:    reading.Humidity,
		Occupancy:   reading.Occupancy,
		RawPayload:  raw,
		ReceivedAt:  ing.now().UTC(),
	}

	err := ing.store.InsertReading(ctx, record)
	if errors.Is(err, storage.ErrDuplicateReading) {
		if ing.metrics != nil {
			ing.metrics.ReadingDuplicate()
		}
		ing.touch(record.StopID, record.ReceivedAt)
		return Result{Accepted: true, Duplicate: true}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("persist reading: %w", err)
	}

	if ing.metrics != nil {
		ing.metrics.ReadingAccepted()
	}
	ing.touch(record.StopID, record.ReceivedAt)

	forwarded := true
	if ing.forward != nil {
		forwarded = ing.forward.Offer(record)
		if !forwarded {
			if ing.metrics != nil {
				ing.metrics.ReadingShed()
			}
			if ing.logger != nil {
				ing.logger.Warn("alert pipeline full, reading shed",
					"stop_id", record.StopID, "timestamp", record.Timestamp)
			}
		}
	}

	return Result{Accepted: true, Forwarded: forwarded}, nil
}

func (ing *Ingestor) validateReading(reading Reading) error {
	fieldErrors := make(map[string][]string)

	if err := ing.validate.Struct(reading); err != nil {
		var invalid validator.ValidationErrors
		if !errors.As(err, &invalid) {
			return fmt.Errorf("validate reading: %w", err)
		}
		for _, fe := range invalid {
			fieldErrors[fe.Field()] = append(fieldErrors[fe.Field()],
				fmt.Sprintf("failed %s validation", fe.Tag()))
		}
	}

	if reading.StopID != "" {
		if err := utils.ValidateID(reading.StopID); err != nil {
			fieldErrors["stopId"] = append(fieldErrors["stopId"], err.Error())
		}
	}
	if !reading.Timestamp.IsZero() {
		if err := utils.ValidateTimestamp(reading.Timestamp, ing.now()); err != nil {
			fieldErrors["timestamp"] = append(fieldErrors["timestamp"], err.Error())
		}
	}

	if len(fieldErrors) > 0 {
		return &ValidationError{FieldErrors: fieldErrors}
	}
	return nil
}

func (ing *Ingestor) touch(stopID string, ts time.Time) {
	ing.mu.Lock()
	if ts.After(ing.lastSeen[stopID]) {
		ing.lastSeen[stopID] = ts
	}
	ing.mu.Unlock()
}

// LastSeen returns when the stop's device last got a reading accepted. This
// is receipt time, not the reading's self-reported timestamp; a device that
// keeps submitting old readings is still alive.
func (ing *Ingestor) LastSeen(stopID string) (time.Time, bool) {
	ing.mu.RLock()
	defer ing.mu.RUnlock()
	ts, ok := ing.lastSeen[stopID]
	return ts, ok
}

// LastSeenAll snapshots the per-stop receipt times, for the device-offline
// watchdog.
func (ing *Ingestor) LastSeenAll() map[string]time.Time {
	ing.mu.RLock()
	defer ing.mu.RUnlock()

	out := make(map[string]time.Time, len(ing.lastSeen))
	for stopID, ts := range ing.lastSeen {
		out[stopID] = ts
	}
	return out
}
