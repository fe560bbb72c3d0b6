package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartstop.transitwatch.org/internal/models"
	"smartstop.transitwatch.org/internal/storage"
)

var alertNow = time.Date(2025, 10, 7, 10, 0, 0, 0, time.UTC)

type alertCollector struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (c *alertCollector) AlertUpdated(a models.Alert) {
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	c.mu.Unlock()
}

func (c *alertCollector) all() []models.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Alert(nil), c.alerts...)
}

func newTestEngine(t *testing.T) (*Engine, *storage.MemoryStore, *alertCollector) {
	t.Helper()
	store := storage.NewMemoryStore()
	sink := &alertCollector{}
	engine := NewEngine(store, DefaultThresholds(), sink, nil, nil, nil, nil, nil)
	engine.now = func() time.Time { return alertNow }
	return engine, store, sink
}

func reading(occupancy int, at time.Time) models.TelemetryReading {
	return models.TelemetryReading{
		StopID:      "S1",
		Timestamp:   at,
		Temperature: 20,
		Humidity:    50,
		Occupancy:   occupancy,
	}
}

func TestOvercrowdingAlertDeduplicated(t *testing.T) {
	engine, store, sink := newTestEngine(t)
	ctx := context.Background()

	// Capacity is 40; occupancy 45 opens exactly one alert.
	engine.EvaluateReading(ctx, reading(45, alertNow))

	open, err := store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.AlertOvercrowding, open[0].Type)
	created := open[0]

	// Five seconds later, occupancy 50 bumps last-seen without a second alert.
	engine.now = func() time.Time { return alertNow.Add(5 * time.Second) }
	engine.EvaluateReading(ctx, reading(50, alertNow.Add(5*time.Second)))

	open, err = store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertOpen})
	require.NoError(t, err)
	require.Len(t, open, 1, "repeat trigger must not create a second alert")
	assert.Equal(t, created.ID, open[0].ID)
	assert.Equal(t, alertNow.Add(5*time.Second), open[0].LastSeenAt)

	// Only the creation was broadcast.
	assert.Len(t, sink.all(), 1)
}

func TestEnvironmentalFault(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	r := reading(10, alertNow)
	r.Temperature = 72 // above the 50C operating maximum
	engine.EvaluateReading(ctx, r)

	open, err := store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.AlertEnvironmentalFault, open[0].Type)
}

func TestAutoResolveAfterSustainedClear(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	engine.EvaluateReading(ctx, reading(45, alertNow))

	// Condition clears, but the hold period has not elapsed yet.
	engine.now = func() time.Time { return alertNow.Add(30 * time.Second) }
	engine.EvaluateReading(ctx, reading(10, alertNow.Add(30*time.Second)))

	open, err := store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertOpen})
	require.NoError(t, err)
	assert.Len(t, open, 1, "alert must not flap on a single clear reading")

	// Still clear after the hold period: auto-resolve.
	engine.now = func() time.Time { return alertNow.Add(3 * time.Minute) }
	engine.EvaluateReading(ctx, reading(12, alertNow.Add(3*time.Minute)))

	open, err = store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertOpen})
	require.NoError(t, err)
	assert.Empty(t, open)

	resolved, err := store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertResolved})
	require.NoError(t, err)
	require.Len(t, resolved, 1, "resolved alerts are retained for audit")
	assert.Equal(t, alertNow.Add(3*time.Minute), resolved[0].ResolvedAt)
}

func TestReTriggerResetsClearTracking(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	engine.EvaluateReading(ctx, reading(45, alertNow))

	engine.now = func() time.Time { return alertNow.Add(time.Minute) }
	engine.EvaluateReading(ctx, reading(10, alertNow.Add(time.Minute)))

	// Condition returns before the hold expires; clear tracking resets.
	engine.now = func() time.Time { return alertNow.Add(90 * time.Second) }
	engine.EvaluateReading(ctx, reading(50, alertNow.Add(90*time.Second)))

	// Clear again; the hold restarts from here, so 1 minute later it is
	// still open.
	engine.now = func() time.Time { return alertNow.Add(2 * time.Minute) }
	engine.EvaluateReading(ctx, reading(10, alertNow.Add(2*time.Minute)))
	engine.now = func() time.Time { return alertNow.Add(3 * time.Minute) }
	engine.EvaluateReading(ctx, reading(10, alertNow.Add(3*time.Minute)))

	open, err := store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertOpen})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestDelayAlert(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	estimate := models.ArrivalEstimate{
		StopID:        "S1",
		RouteID:       "R1",
		ScheduledTime: alertNow,
		ArrivalTime:   alertNow.Add(10 * time.Minute),
	}
	engine.EvaluateEstimate(ctx, estimate)

	open, err := store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.AlertDelay, open[0].Type)

	// An on-time estimate does not trigger.
	engine.EvaluateEstimate(ctx, models.ArrivalEstimate{
		StopID:        "S2",
		RouteID:       "R1",
		ScheduledTime: alertNow,
		ArrivalTime:   alertNow.Add(time.Minute),
	})
	open, err = store.ListAlerts(ctx, storage.AlertFilter{StopID: "S2", Status: models.AlertOpen})
	require.NoError(t, err)
	assert.Empty(t, open)
}

type stubLastSeen struct{ seen map[string]time.Time }

func (s stubLastSeen) LastSeenAll() map[string]time.Time { return s.seen }

func TestDeviceOfflineWatchdog(t *testing.T) {
	store := storage.NewMemoryStore()
	engine := NewEngine(store, DefaultThresholds(), nil, nil, stubLastSeen{seen: map[string]time.Time{
		"S1": alertNow.Add(-10 * time.Minute), // silent past the cadence
		"S2": alertNow.Add(-30 * time.Second), // healthy
	}}, nil, nil, nil)
	engine.now = func() time.Time { return alertNow }
	ctx := context.Background()

	engine.checkDeviceCadence(ctx)

	open, err := store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "S1", open[0].StopID)
	assert.Equal(t, models.AlertDeviceOffline, open[0].Type)
}

type stubEstimates struct{ byStop map[string][]models.ArrivalEstimate }

func (s stubEstimates) CurrentEstimates(stopID string) []models.ArrivalEstimate {
	return s.byStop[stopID]
}

func TestDelayAlertResolvesAfterEstimateSettles(t *testing.T) {
	store := storage.NewMemoryStore()
	estimates := stubEstimates{byStop: map[string][]models.ArrivalEstimate{
		"S1": {{
			StopID:        "S1",
			RouteID:       "R1",
			ScheduledTime: alertNow.Add(30 * time.Minute),
			ArrivalTime:   alertNow.Add(30 * time.Minute),
		}},
	}}
	engine := NewEngine(store, DefaultThresholds(), nil, nil, nil, estimates, nil, nil)
	engine.now = func() time.Time { return alertNow }
	ctx := context.Background()

	// A badly delayed estimate opens the alert.
	engine.EvaluateEstimate(ctx, models.ArrivalEstimate{
		StopID:        "S1",
		RouteID:       "R1",
		ScheduledTime: alertNow,
		ArrivalTime:   alertNow.Add(10 * time.Minute),
	})
	open, err := store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)

	// The late bus departs and the estimate settles on the next scheduled
	// run. No change-driven evaluation arrives anymore; the periodic recheck
	// starts the clear window.
	engine.now = func() time.Time { return alertNow.Add(30 * time.Second) }
	engine.recheckDelayAlerts(ctx)
	open, err = store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertOpen})
	require.NoError(t, err)
	assert.Len(t, open, 1, "hold period has not elapsed yet")

	// Still clear a recheck later, past the hold: auto-resolve.
	engine.now = func() time.Time { return alertNow.Add(3 * time.Minute) }
	engine.recheckDelayAlerts(ctx)

	open, err = store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertOpen})
	require.NoError(t, err)
	assert.Empty(t, open)

	resolved, err := store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertResolved})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, models.AlertDelay, resolved[0].Type)
}

func TestDelayRecheckKeepsAlertWhileStillDelayed(t *testing.T) {
	store := storage.NewMemoryStore()
	estimates := stubEstimates{byStop: map[string][]models.ArrivalEstimate{
		"S1": {{
			StopID:        "S1",
			RouteID:       "R1",
			ScheduledTime: alertNow,
			ArrivalTime:   alertNow.Add(10 * time.Minute),
		}},
	}}
	engine := NewEngine(store, DefaultThresholds(), nil, nil, nil, estimates, nil, nil)
	engine.now = func() time.Time { return alertNow }
	ctx := context.Background()

	engine.EvaluateEstimate(ctx, models.ArrivalEstimate{
		StopID:        "S1",
		RouteID:       "R1",
		ScheduledTime: alertNow,
		ArrivalTime:   alertNow.Add(10 * time.Minute),
	})

	engine.now = func() time.Time { return alertNow.Add(5 * time.Minute) }
	engine.recheckDelayAlerts(ctx)

	open, err := store.ListAlerts(ctx, storage.AlertFilter{Status: models.AlertOpen})
	require.NoError(t, err)
	require.Len(t, open, 1, "an estimate still past the threshold keeps the alert open")
	assert.Equal(t, alertNow.Add(5*time.Minute), open[0].LastSeenAt)
}

func TestOperatorTransitions(t *testing.T) {
	engine, store, sink := newTestEngine(t)
	ctx := context.Background()

	engine.EvaluateReading(ctx, reading(45, alertNow))
	created := sink.all()[0]

	acked, err := engine.Acknowledge(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertAcknowledged, acked.Status)

	// Acknowledge twice is invalid.
	_, err = engine.Acknowledge(ctx, created.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	resolved, err := engine.Resolve(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, resolved.Status)
	assert.False(t, resolved.ResolvedAt.IsZero())

	// Resolved alerts are terminal.
	_, err = engine.Resolve(ctx, created.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = engine.Acknowledge(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	stored, err := store.GetAlert(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertResolved, stored.Status)
}

func TestOfferSheds(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	engine.queue = make(chan models.TelemetryReading, 1)

	assert.True(t, engine.Offer(reading(1, alertNow)))
	assert.False(t, engine.Offer(reading(2, alertNow)), "full queue must shed, not block")
}
