package predict

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"smartstop.transitwatch.org/internal/models"
	"smartstop.transitwatch.org/internal/storage"
)

// Schedule is the static timetable surface the predictor needs.
type Schedule interface {
	RoutesForStop(stopID string) []models.Route
	StopsForRoute(routeID string) []string
	NextDeparture(stopID, routeID string, now time.Time) (time.Time, bool)
	TravelSecondsFrom(routeID string, lat, lon float64, stopID string) (float64, bool)
	HasStop(stopID string) bool
}

// VehicleSource provides live vehicle positions per route.
type VehicleSource interface {
	VehiclesForRoute(routeID string) []models.VehiclePosition
}

// Sink receives estimates whose value changed since the last recompute.
type Sink interface {
	EstimateUpdated(estimate models.ArrivalEstimate)
}

// Metrics receives predictor instrumentation.
type Metrics interface {
	RecomputeObserve(d time.Duration)
	EstimateEmitted()
}

// Predictor computes arrival estimates per (stop, route). Recomputation for
// a stop is serialized: at most one recompute per stop is in flight, and a
// trigger arriving mid-recompute marks the stop dirty so the freshest inputs
// win.
type Predictor struct {
	sched        Schedule
	vehicles     VehicleSource
	stats        storage.StatsStore
	sink         Sink
	logger       *slog.Logger
	metrics      Metrics
	statsTimeout time.Duration
	pollInterval time.Duration

	mu        sync.Mutex
	inflight  map[string]chan struct{} // closed when the stop's recompute finishes
	dirty     map[string]bool
	current   map[string]map[string]models.ArrivalEstimate // stopID -> routeID -> estimate
	devCache  map[string]time.Duration                     // last-known-good deviation per route/hour
	degraded  bool
	wg        sync.WaitGroup
	now       func() time.Time
}

type Config struct {
	StatsTimeout time.Duration
	PollInterval time.Duration
}

func New(sched Schedule, vehicles VehicleSource, stats storage.StatsStore, sink Sink, logger *slog.Logger, metrics Metrics, config Config) *Predictor {
	statsTimeout := config.StatsTimeout
	if statsTimeout <= 0 {
		statsTimeout = 2 * time.Second
	}
	pollInterval := config.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}

	return &Predictor{
		sched:        sched,
		vehicles:     vehicles,
		stats:        stats,
		sink:         sink,
		logger:       logger,
		metrics:      metrics,
		statsTimeout: statsTimeout,
		pollInterval: pollInterval,
		inflight:     make(map[string]chan struct{}),
		dirty:        make(map[string]bool),
		current:      make(map[string]map[string]models.ArrivalEstimate),
		devCache:     make(map[string]time.Duration),
		now:          time.Now,
	}
}

// EstimatesForStop returns the ordered estimates for a stop, soonest first,
// computing them synchronously when the stop has not been seen before. The
// cold path shares the in-flight guard with Trigger: a query racing a
// vehicle-triggered recompute waits for it instead of running a second one.
func (p *Predictor) EstimatesForStop(ctx context.Context, stopID string) ([]models.ArrivalEstimate, error) {
	if !p.sched.HasStop(stopID) {
		return nil, fmt.Errorf("predict: unknown stop %s", stopID)
	}

	var done chan struct{}
	for {
		p.mu.Lock()
		if byRoute, ok := p.current[stopID]; ok {
			p.mu.Unlock()
			return orderedEstimates(byRoute), nil
		}
		inflight, busy := p.inflight[stopID]
		if !busy {
			done = make(chan struct{})
			p.inflight[stopID] = done
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()

		select {
		case <-inflight:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.recompute(ctx, stopID)

	p.mu.Lock()
	byRoute := p.current[stopID]
	redo := p.dirty[stopID]
	delete(p.dirty, stopID)
	delete(p.inflight, stopID)
	p.mu.Unlock()
	close(done)

	// A trigger landed mid-recompute; refresh asynchronously so the newest
	// inputs still win.
	if redo {
		p.Trigger(stopID)
	}

	return orderedEstimates(byRoute), nil
}

// Trigger schedules an asynchronous recompute for a stop. A recompute
// already in flight absorbs the trigger via the dirty bit.
func (p *Predictor) Trigger(stopID string) {
	p.mu.Lock()
	if _, busy := p.inflight[stopID]; busy {
		p.dirty[stopID] = true
		p.mu.Unlock()
		return
	}
	done := make(chan struct{})
	p.inflight[stopID] = done
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			p.recompute(context.Background(), stopID)

			p.mu.Lock()
			if !p.dirty[stopID] {
				delete(p.inflight, stopID)
				p.mu.Unlock()
				close(done)
				return
			}
			delete(p.dirty, stopID)
			p.mu.Unlock()
		}
	}()
}

// VehicleMoved triggers recomputes for every stop on the vehicle's route.
func (p *Predictor) VehicleMoved(position models.VehiclePosition) {
	for _, stopID := range p.sched.StopsForRoute(position.RouteID) {
		p.Trigger(stopID)
	}
}

// Run periodically recomputes every tracked stop until ctx is cancelled, so
// estimates stay fresh even when no position updates arrive.
func (p *Predictor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case <-ticker.C:
			p.mu.Lock()
			stopIDs := make([]string, 0, len(p.current))
			for stopID := range p.current {
				stopIDs = append(stopIDs, stopID)
			}
			p.mu.Unlock()

			for _, stopID := range stopIDs {
				p.Trigger(stopID)
			}
		}
	}
}

// Degraded reports whether the last historical-stats lookup fell back to
// cached data.
func (p *Predictor) Degraded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

func (p *Predictor) recompute(ctx context.Context, stopID string) {
	start := p.now()
	now := start

	fresh := make(map[string]models.ArrivalEstimate)
	for _, route := range p.sched.RoutesForStop(stopID) {
		estimate, ok := p.estimateForRoute(ctx, stopID, route.ID, now)
		if !ok {
			continue
		}
		fresh[route.ID] = estimate
	}

	p.mu.Lock()
	previous := p.current[stopID]
	p.current[stopID] = fresh
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecomputeObserve(time.Since(start))
	}

	if p.sink == nil {
		return
	}
	for routeID, estimate := range fresh {
		if prev, ok := previous[routeID]; ok && !estimateChanged(prev, estimate) {
			continue
		}
		p.sink.EstimateUpdated(estimate)
		if p.metrics != nil {
			p.metrics.EstimateEmitted()
		}
	}
}

// estimateForRoute produces the estimate for one route at a stop. ok is
// false when the route has no scheduled service remaining today.
func (p *Predictor) estimateForRoute(ctx context.Context, stopID, routeID string, now time.Time) (models.ArrivalEstimate, bool) {
	scheduled, hasService := p.sched.NextDeparture(stopID, routeID, now)
	if !hasService {
		return models.ArrivalEstimate{}, false
	}

	estimate := models.ArrivalEstimate{
		StopID:        stopID,
		RouteID:       routeID,
		ScheduledTime: scheduled,
		ComputedAt:    now,
	}

	vehicle, hasVehicle := p.approachingVehicle(routeID, stopID, now)
	if !hasVehicle {
		// Schedule-only fallback: the route still gets an estimate, marked
		// with lower confidence, rather than being omitted.
		estimate.ArrivalTime = scheduled
		estimate.Confidence = models.ConfidenceScheduleOnly
		estimate.SecondsRemaining = int64(scheduled.Sub(now).Seconds())
		return estimate, true
	}

	travelSecs, ok := p.sched.TravelSecondsFrom(routeID, vehicle.Lat, vehicle.Lon, stopID)
	if !ok {
		estimate.ArrivalTime = scheduled
		estimate.Confidence = models.ConfidenceScheduleOnly
		estimate.SecondsRemaining = int64(scheduled.Sub(now).Seconds())
		return estimate, true
	}

	arrival := now.Add(time.Duration(travelSecs * float64(time.Second)))
	arrival = arrival.Add(p.historicalDeviation(ctx, routeID, now))
	if arrival.Before(now) {
		arrival = now
	}

	estimate.VehicleID = vehicle.VehicleID
	estimate.ArrivalTime = arrival
	estimate.SecondsRemaining = int64(arrival.Sub(now).Seconds())
	estimate.Confidence = models.ConfidenceLive
	if vehicle.Stale {
		estimate.Confidence = models.ConfidenceStale
	}
	return estimate, true
}

// approachingVehicle picks the freshest vehicle on the route that has not
// yet passed the stop.
func (p *Predictor) approachingVehicle(routeID, stopID string, now time.Time) (models.VehiclePosition, bool) {
	for _, vehicle := range p.vehicles.VehiclesForRoute(routeID) {
		if _, ok := p.sched.TravelSecondsFrom(routeID, vehicle.Lat, vehicle.Lon, stopID); ok {
			return vehicle, true
		}
	}
	return models.VehiclePosition{}, false
}

// historicalDeviation looks up the mean schedule deviation for the route at
// this hour, with a bounded timeout. On lookup failure the last-known-good
// value is used and the predictor reports itself degraded.
func (p *Predictor) historicalDeviation(ctx context.Context, routeID string, now time.Time) time.Duration {
	if p.stats == nil {
		return 0
	}

	key := fmt.Sprintf("%s/%d", routeID, now.Hour())

	lookupCtx, cancel := context.WithTimeout(ctx, p.statsTimeout)
	defer cancel()

	dev, err := p.stats.AverageDeviation(lookupCtx, routeID, now.Hour())
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.degraded = true
		if p.logger != nil {
			p.logger.Warn("historical stats unavailable, using cached deviation",
				"route_id", routeID, "error", err)
		}
		return p.devCache[key]
	}
	p.degraded = false
	p.devCache[key] = dev
	return dev
}

func estimateChanged(a, b models.ArrivalEstimate) bool {
	if a.VehicleID != b.VehicleID || a.Confidence != b.Confidence {
		return true
	}
	diff := a.ArrivalTime.Sub(b.ArrivalTime)
	if diff < 0 {
		diff = -diff
	}
	return diff > time.Second
}

func orderedEstimates(byRoute map[string]models.ArrivalEstimate) []models.ArrivalEstimate {
	out := make([]models.ArrivalEstimate, 0, len(byRoute))
	for _, estimate := range byRoute {
		out = append(out, estimate)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArrivalTime.Equal(out[j].ArrivalTime) {
			return out[i].RouteID < out[j].RouteID
		}
		return out[i].ArrivalTime.Before(out[j].ArrivalTime)
	})
	return out
}

// CurrentEstimates returns the cached estimates for a stop without
// recomputing, soonest first. Used for snapshots.
func (p *Predictor) CurrentEstimates(stopID string) []models.ArrivalEstimate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return orderedEstimates(p.current[stopID])
}
