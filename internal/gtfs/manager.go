package gtfs

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"smartstop.transitwatch.org/internal/models"
)

// Metrics receives schedule feed instrumentation.
type Metrics interface {
	FeedRefreshFailed()
}

// Manager owns the schedule data and refreshes it in the background. The
// feed is treated as read-only input: when a refresh fails the manager keeps
// serving the last-known-good index and reports itself degraded.
type Manager struct {
	config       Config
	isLocalFile  bool
	logger       *slog.Logger
	metrics      Metrics
	mu           sync.RWMutex
	index        *Index
	lastFetch    time.Time
	degraded     bool
	shutdownChan chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// InitScheduleManager loads the schedule from the configured source and
// starts periodic refreshes for remote feeds.
func InitScheduleManager(config Config, logger *slog.Logger, metrics Metrics) (*Manager, error) {
	isLocalFile := !strings.HasPrefix(config.GtfsURL, "http://") && !strings.HasPrefix(config.GtfsURL, "https://")

	index, err := loadScheduleIndex(config.GtfsURL, isLocalFile, config.fetchTimeout())
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		config:       config,
		isLocalFile:  isLocalFile,
		logger:       logger,
		metrics:      metrics,
		index:        index,
		lastFetch:    time.Now(),
		shutdownChan: make(chan struct{}),
	}

	if !isLocalFile {
		manager.wg.Add(1)
		go manager.refreshPeriodically()
	}

	return manager, nil
}

// NewManagerWithIndex builds a manager around a prebuilt index. Used by
// tests and by callers that construct schedules programmatically.
func NewManagerWithIndex(index *Index) *Manager {
	return &Manager{
		index:        index,
		lastFetch:    time.Now(),
		shutdownChan: make(chan struct{}),
	}
}

// Shutdown gracefully stops the background refresh goroutine.
func (manager *Manager) Shutdown() {
	manager.shutdownOnce.Do(func() {
		close(manager.shutdownChan)
		manager.wg.Wait()
	})
}

func (manager *Manager) refreshPeriodically() {
	defer manager.wg.Done()

	ticker := time.NewTicker(manager.config.refreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			manager.refreshOnce()
		case <-manager.shutdownChan:
			return
		}
	}
}

// refreshOnce re-fetches the feed and swaps in the new index. On failure the
// previous index keeps serving and the manager reports itself degraded.
func (manager *Manager) refreshOnce() {
	index, err := loadScheduleIndex(manager.config.GtfsURL, manager.isLocalFile, manager.config.fetchTimeout())

	manager.mu.Lock()
	if err != nil {
		manager.degraded = true
		manager.mu.Unlock()
		if manager.metrics != nil {
			manager.metrics.FeedRefreshFailed()
		}
		if manager.logger != nil {
			manager.logger.Error("schedule feed refresh failed, serving last-known-good data",
				"error", err, "last_fetch", manager.LastFetch())
		}
		return
	}
	manager.index = index
	manager.lastFetch = time.Now()
	manager.degraded = false
	manager.mu.Unlock()

	if manager.logger != nil && manager.config.Verbose {
		manager.logger.Info("schedule feed refreshed", "stops", len(index.Stops), "routes", len(index.Routes))
	}
}

// Index returns the current schedule snapshot. The returned index is
// immutable; refreshes swap in a new one.
func (manager *Manager) Index() *Index {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return manager.index
}

// LastFetch is the time of the last successful feed load.
func (manager *Manager) LastFetch() time.Time {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return manager.lastFetch
}

// Degraded reports whether the most recent refresh attempt failed.
func (manager *Manager) Degraded() bool {
	manager.mu.RLock()
	defer manager.mu.RUnlock()
	return manager.degraded
}

func (manager *Manager) HasStop(stopID string) bool {
	return manager.Index().HasStop(stopID)
}

func (manager *Manager) GetStop(stopID string) (models.Stop, bool) {
	return manager.Index().GetStop(stopID)
}

func (manager *Manager) GetRoute(routeID string) (models.Route, bool) {
	return manager.Index().GetRoute(routeID)
}

func (manager *Manager) RoutesForStop(stopID string) []models.Route {
	return manager.Index().RoutesForStop(stopID)
}

func (manager *Manager) StopsForRoute(routeID string) []string {
	return manager.Index().StopsForRoute(routeID)
}

func (manager *Manager) NextDeparture(stopID, routeID string, now time.Time) (time.Time, bool) {
	return manager.Index().NextDeparture(stopID, routeID, now)
}

func (manager *Manager) TravelSecondsFrom(routeID string, lat, lon float64, stopID string) (float64, bool) {
	return manager.Index().TravelSecondsFrom(routeID, lat, lon, stopID)
}
