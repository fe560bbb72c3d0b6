package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"smartstop.transitwatch.org/internal/models"
	"smartstop.transitwatch.org/internal/storage"
)

// ErrInvalidTransition is returned for operator actions that the alert's
// current status does not permit.
var ErrInvalidTransition = errors.New("alerts: invalid status transition")

// Sink receives alerts whose lifecycle changed (opened, acknowledged,
// resolved). Last-seen bumps on an already-open alert are persisted but not
// re-broadcast.
type Sink interface {
	AlertUpdated(alert models.Alert)
}

// Notifier dispatches an alert to an external push service, best effort.
type Notifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

// LastSeenSource reports the newest telemetry receipt time per stop, for the
// device-offline watchdog.
type LastSeenSource interface {
	LastSeenAll() map[string]time.Time
}

// EstimateSource reports the current arrival estimates for a stop. The
// predictor only emits changed estimates, so open delay alerts are also
// rechecked against this source on the watchdog tick; otherwise a settled
// estimate would leave a cleared alert open until the next change.
type EstimateSource interface {
	CurrentEstimates(stopID string) []models.ArrivalEstimate
}

// Metrics receives alert lifecycle counters.
type Metrics interface {
	AlertOpened()
	AlertResolved()
}

// Engine evaluates telemetry readings and arrival estimates against the
// configured thresholds. Open alerts are deduplicated per (stop, type), and
// resolution is either explicit or automatic after the condition stays clear
// for the hold period.
type Engine struct {
	store      storage.AlertStore
	thresholds Thresholds
	sink       Sink
	notifier   Notifier
	lastSeen   LastSeenSource
	estimates  EstimateSource
	logger     *slog.Logger
	metrics    Metrics

	mu         sync.Mutex
	clearSince map[string]time.Time
	queue      chan models.TelemetryReading

	now func() time.Time
}

func NewEngine(store storage.AlertStore, thresholds Thresholds, sink Sink, notifier Notifier, lastSeen LastSeenSource, estimates EstimateSource, logger *slog.Logger, metrics Metrics) *Engine {
	return &Engine{
		store:      store,
		thresholds: thresholds,
		sink:       sink,
		notifier:   notifier,
		lastSeen:   lastSeen,
		estimates:  estimates,
		logger:     logger,
		metrics:    metrics,
		clearSince: make(map[string]time.Time),
		queue:      make(chan models.TelemetryReading, 1024),
		now:        time.Now,
	}
}

// Offer enqueues a reading for evaluation without blocking. It returns
// false when the queue is full and the reading was shed; ingestion must
// never stall on a slow alert engine.
func (e *Engine) Offer(reading models.TelemetryReading) bool {
	select {
	case e.queue <- reading:
		return true
	default:
		return false
	}
}

// Run consumes queued readings and drives the device-offline watchdog until
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	interval := e.thresholds.TelemetryCadence
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case reading := <-e.queue:
			e.EvaluateReading(ctx, reading)
		case <-ticker.C:
			e.checkDeviceCadence(ctx)
			e.recheckDelayAlerts(ctx)
		}
	}
}

// EvaluateReading applies the environmental and occupancy rules to one
// accepted reading.
func (e *Engine) EvaluateReading(ctx context.Context, reading models.TelemetryReading) {
	overcrowded := reading.Occupancy > e.thresholds.OccupancyCapacity
	e.applyCondition(ctx, reading.StopID, models.AlertOvercrowding, overcrowded,
		fmt.Sprintf("occupancy %d exceeds capacity %d", reading.Occupancy, e.thresholds.OccupancyCapacity))

	faulty := reading.Temperature < e.thresholds.TemperatureMin ||
		reading.Temperature > e.thresholds.TemperatureMax ||
		reading.Humidity > e.thresholds.HumidityMax
	e.applyCondition(ctx, reading.StopID, models.AlertEnvironmentalFault, faulty,
		fmt.Sprintf("reading out of operating range: temperature %.1f, humidity %.1f", reading.Temperature, reading.Humidity))

	// A reporting device is, by definition, not offline.
	e.applyCondition(ctx, reading.StopID, models.AlertDeviceOffline, false, "")
}

// EvaluateEstimate applies the delay rule to a recomputed arrival estimate.
func (e *Engine) EvaluateEstimate(ctx context.Context, estimate models.ArrivalEstimate) {
	delayed := time.Duration(estimate.DelaySeconds())*time.Second > e.thresholds.DelayThreshold
	e.applyCondition(ctx, estimate.StopID, models.AlertDelay, delayed,
		fmt.Sprintf("route %s running %ds behind schedule", estimate.RouteID, estimate.DelaySeconds()))
}

// EstimateUpdated lets the engine act as a predictor sink.
func (e *Engine) EstimateUpdated(estimate models.ArrivalEstimate) {
	e.EvaluateEstimate(context.Background(), estimate)
}

// Acknowledge transitions an open alert to acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, alertID string) (models.Alert, error) {
	return e.transition(ctx, alertID, models.AlertAcknowledged)
}

// Resolve closes an alert by operator action.
func (e *Engine) Resolve(ctx context.Context, alertID string) (models.Alert, error) {
	return e.transition(ctx, alertID, models.AlertResolved)
}

// List returns alerts matching the filter.
func (e *Engine) List(ctx context.Context, filter storage.AlertFilter) ([]models.Alert, error) {
	return e.store.ListAlerts(ctx, filter)
}

// OpenForStop returns the stop's open and acknowledged alerts, for
// snapshots.
func (e *Engine) OpenForStop(ctx context.Context, stopID string) []models.Alert {
	var out []models.Alert
	for _, status := range []models.AlertStatus{models.AlertOpen, models.AlertAcknowledged} {
		alerts, err := e.store.ListAlerts(ctx, storage.AlertFilter{StopID: stopID, Status: status})
		if err != nil {
			if e.logger != nil {
				e.logger.Error("listing alerts for snapshot failed", "stop_id", stopID, "error", err)
			}
			continue
		}
		out = append(out, alerts...)
	}
	return out
}

func (e *Engine) transition(ctx context.Context, alertID string, to models.AlertStatus) (models.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return models.Alert{}, err
	}
	if !alert.CanTransition(to) {
		return models.Alert{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, alert.Status, to)
	}

	alert.Status = to
	if to == models.AlertResolved {
		alert.ResolvedAt = e.now()
		if e.metrics != nil {
			e.metrics.AlertResolved()
		}
	}
	if err := e.store.SaveAlert(ctx, alert); err != nil {
		return models.Alert{}, err
	}

	delete(e.clearSince, models.AlertKey(alert.StopID, alert.Type))
	e.emit(alert)
	return alert, nil
}

// applyCondition raises, refreshes, or clears the (stop, type) alert slot
// based on whether the condition currently holds.
func (e *Engine) applyCondition(ctx context.Context, stopID string, alertType models.AlertType, triggered bool, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := models.AlertKey(stopID, alertType)
	now := e.now()

	existing, err := e.store.OpenAlert(ctx, stopID, alertType)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		if e.logger != nil {
			e.logger.Error("open alert lookup failed", "stop_id", stopID, "type", alertType, "error", err)
		}
		return
	}
	exists := err == nil

	if triggered {
		delete(e.clearSince, key)

		if exists {
			// Deduplicated: refresh the open alert instead of creating
			// another one.
			existing.LastSeenAt = now
			existing.Message = message
			if err := e.store.SaveAlert(ctx, existing); err != nil && e.logger != nil {
				e.logger.Error("alert refresh failed", "alert_id", existing.ID, "error", err)
			}
			return
		}

		alert := models.Alert{
			ID:         fmt.Sprintf("%s-%s-%d", stopID, alertType, now.UnixNano()),
			StopID:     stopID,
			Type:       alertType,
			Message:    message,
			Status:     models.AlertOpen,
			CreatedAt:  now,
			LastSeenAt: now,
		}
		if err := e.store.SaveAlert(ctx, alert); err != nil {
			if e.logger != nil {
				e.logger.Error("alert create failed", "stop_id", stopID, "type", alertType, "error", err)
			}
			return
		}
		if e.metrics != nil {
			e.metrics.AlertOpened()
		}
		e.emit(alert)
		e.dispatch(alert)
		return
	}

	if !exists {
		delete(e.clearSince, key)
		return
	}

	// Condition is clear but an alert is open: resolve only after the
	// condition stays clear for the hold period, to avoid flapping.
	since, tracking := e.clearSince[key]
	if !tracking {
		e.clearSince[key] = now
		return
	}
	if now.Sub(since) < e.thresholds.ResolveHold {
		return
	}

	existing.Status = models.AlertResolved
	existing.ResolvedAt = now
	if err := e.store.SaveAlert(ctx, existing); err != nil {
		if e.logger != nil {
			e.logger.Error("alert auto-resolve failed", "alert_id", existing.ID, "error", err)
		}
		return
	}
	delete(e.clearSince, key)
	if e.metrics != nil {
		e.metrics.AlertResolved()
	}
	e.emit(existing)
}

// checkDeviceCadence raises device_offline alerts for stops whose telemetry
// has gone quiet.
func (e *Engine) checkDeviceCadence(ctx context.Context) {
	if e.lastSeen == nil {
		return
	}
	now := e.now()
	for stopID, ts := range e.lastSeen.LastSeenAll() {
		silent := now.Sub(ts) > e.thresholds.TelemetryCadence
		e.applyCondition(ctx, stopID, models.AlertDeviceOffline, silent,
			fmt.Sprintf("no telemetry since %s", ts.UTC().Format(time.RFC3339)))
	}
}

// recheckDelayAlerts re-runs the delay rule for every stop with an unresolved
// delay alert, so the resolve hold keeps counting between estimate emissions.
func (e *Engine) recheckDelayAlerts(ctx context.Context) {
	if e.estimates == nil {
		return
	}

	stops := make(map[string]bool)
	for _, status := range []models.AlertStatus{models.AlertOpen, models.AlertAcknowledged} {
		matched, err := e.store.ListAlerts(ctx, storage.AlertFilter{Status: status})
		if err != nil {
			if e.logger != nil {
				e.logger.Error("listing delay alerts for recheck failed", "error", err)
			}
			continue
		}
		for _, alert := range matched {
			if alert.Type == models.AlertDelay {
				stops[alert.StopID] = true
			}
		}
	}

	for stopID := range stops {
		var worst models.ArrivalEstimate
		delayed := false
		for _, estimate := range e.estimates.CurrentEstimates(stopID) {
			if time.Duration(estimate.DelaySeconds())*time.Second > e.thresholds.DelayThreshold {
				if !delayed || estimate.DelaySeconds() > worst.DelaySeconds() {
					worst = estimate
				}
				delayed = true
			}
		}

		message := ""
		if delayed {
			message = fmt.Sprintf("route %s running %ds behind schedule", worst.RouteID, worst.DelaySeconds())
		}
		e.applyCondition(ctx, stopID, models.AlertDelay, delayed, message)
	}
}

func (e *Engine) emit(alert models.Alert) {
	if e.sink != nil {
		e.sink.AlertUpdated(alert)
	}
}

// dispatch pushes a newly opened alert to the external notification
// service. Delivery is best effort and runs off the evaluation path.
func (e *Engine) dispatch(alert models.Alert) {
	if e.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.notifier.Notify(ctx, alert); err != nil && e.logger != nil {
			e.logger.Error("alert notification failed", "alert_id", alert.ID, "error", err)
		}
	}()
}
