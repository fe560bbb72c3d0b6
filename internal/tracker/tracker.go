package tracker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"smartstop.transitwatch.org/internal/models"
)

// ErrStaleUpdate is returned when an update's timestamp is older than the
// position already stored for the vehicle. Last-writer-wins is decided on
// the reading's own timestamp, not on arrival order, so reordered transports
// cannot roll a vehicle backwards.
var ErrStaleUpdate = errors.New("tracker: update older than stored position")

// PositionUpdate is an inbound vehicle location report.
type PositionUpdate struct {
	VehicleID string
	RouteID   string
	Lat       float64
	Lon       float64
	Timestamp time.Time
}

// UpdateFunc is invoked after an update is applied, outside the tracker lock.
type UpdateFunc func(models.VehiclePosition)

// Tracker maintains the latest known position per vehicle.
type Tracker struct {
	mu        sync.RWMutex
	vehicles  map[string]models.VehiclePosition
	byRoute   map[string]map[string]bool // routeID -> vehicle IDs
	freshness time.Duration
	onUpdate  UpdateFunc
	now       func() time.Time
}

// New creates a Tracker. freshness is the window after which a position is
// flagged stale; zero disables staleness flagging.
func New(freshness time.Duration) *Tracker {
	return &Tracker{
		vehicles:  make(map[string]models.VehiclePosition),
		byRoute:   make(map[string]map[string]bool),
		freshness: freshness,
		now:       time.Now,
	}
}

// OnUpdate registers a callback fired for each applied update. Must be set
// before updates start flowing.
func (t *Tracker) OnUpdate(fn UpdateFunc) {
	t.onUpdate = fn
}

// Apply stores the update if it is newer than the current record for the
// vehicle. An update with an equal timestamp is idempotent and reports
// applied=false with no error; a strictly older update returns
// ErrStaleUpdate and leaves the stored position unchanged.
func (t *Tracker) Apply(update PositionUpdate) (bool, error) {
	t.mu.Lock()

	current, exists := t.vehicles[update.VehicleID]
	if exists {
		if update.Timestamp.Before(current.Timestamp) {
			t.mu.Unlock()
			return false, ErrStaleUpdate
		}
		if update.Timestamp.Equal(current.Timestamp) {
			t.mu.Unlock()
			return false, nil
		}
	}

	position := models.VehiclePosition{
		VehicleID: update.VehicleID,
		RouteID:   update.RouteID,
		Lat:       update.Lat,
		Lon:       update.Lon,
		Timestamp: update.Timestamp,
	}
	t.vehicles[update.VehicleID] = position

	if exists && current.RouteID != update.RouteID {
		delete(t.byRoute[current.RouteID], update.VehicleID)
	}
	if update.RouteID != "" {
		vehicles, ok := t.byRoute[update.RouteID]
		if !ok {
			vehicles = make(map[string]bool)
			t.byRoute[update.RouteID] = vehicles
		}
		vehicles[update.VehicleID] = true
	}

	fn := t.onUpdate
	t.mu.Unlock()

	if fn != nil {
		fn(position)
	}
	return true, nil
}

// Get returns the latest position for a vehicle with its staleness flag.
func (t *Tracker) Get(vehicleID string) (models.VehiclePosition, bool) {
	t.mu.RLock()
	position, ok := t.vehicles[vehicleID]
	t.mu.RUnlock()

	if !ok {
		return models.VehiclePosition{}, false
	}
	position.Stale = t.isStale(position.Timestamp)
	return position, true
}

// VehiclesForRoute returns the current positions of vehicles assigned to the
// route, freshest first.
func (t *Tracker) VehiclesForRoute(routeID string) []models.VehiclePosition {
	t.mu.RLock()
	ids := t.byRoute[routeID]
	positions := make([]models.VehiclePosition, 0, len(ids))
	for id := range ids {
		positions = append(positions, t.vehicles[id])
	}
	t.mu.RUnlock()

	for i := range positions {
		positions[i].Stale = t.isStale(positions[i].Timestamp)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Timestamp.After(positions[j].Timestamp)
	})
	return positions
}

func (t *Tracker) isStale(ts time.Time) bool {
	if t.freshness <= 0 {
		return false
	}
	return t.now().Sub(ts) > t.freshness
}

