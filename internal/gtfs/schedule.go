package gtfs

import (
	"sort"
	"time"

	"smartstop.transitwatch.org/internal/models"
	"smartstop.transitwatch.org/internal/utils"
)

// StopTime is one scheduled stop on a trip. Departure is measured from the
// start of the trip's service day and may exceed 24h for trips that run past
// midnight.
type StopTime struct {
	StopID    string
	Sequence  int
	Departure time.Duration
}

// Trip is a single scheduled run of a route.
type Trip struct {
	ID           string
	RouteID      string
	StopTimes    []StopTime
	Weekdays     [7]bool // indexed by time.Weekday
	StartDate    time.Time
	EndDate      time.Time
	AddedDates   map[string]bool // YYYY-MM-DD overrides
	RemovedDates map[string]bool
}

const dateKeyLayout = "2006-01-02"

// activeOn reports whether the trip's service runs on the given date.
func (t Trip) activeOn(date time.Time) bool {
	key := date.Format(dateKeyLayout)
	if t.RemovedDates[key] {
		return false
	}
	if t.AddedDates[key] {
		return true
	}
	if !t.StartDate.IsZero() && date.Before(t.StartDate) {
		return false
	}
	if !t.EndDate.IsZero() && date.After(t.EndDate) {
		return false
	}
	return t.Weekdays[date.Weekday()]
}

// Index is an immutable snapshot of the schedule. The Manager swaps the
// whole index on refresh, so readers never see a partially updated schedule.
type Index struct {
	Stops        map[string]models.Stop
	Routes       map[string]models.Route
	tripsByRoute map[string][]Trip
	routesByStop map[string][]string
}

func NewIndex() *Index {
	return &Index{
		Stops:        make(map[string]models.Stop),
		Routes:       make(map[string]models.Route),
		tripsByRoute: make(map[string][]Trip),
		routesByStop: make(map[string][]string),
	}
}

// AddTrip registers a trip and wires up the stop/route cross references.
func (idx *Index) AddTrip(trip Trip) {
	idx.tripsByRoute[trip.RouteID] = append(idx.tripsByRoute[trip.RouteID], trip)

	route := idx.Routes[trip.RouteID]
	route.ID = trip.RouteID
	if len(trip.StopTimes) > len(route.StopIDs) {
		stopIDs := make([]string, len(trip.StopTimes))
		for i, st := range trip.StopTimes {
			stopIDs[i] = st.StopID
		}
		route.StopIDs = stopIDs
	}
	idx.Routes[trip.RouteID] = route

	for _, st := range trip.StopTimes {
		if !containsString(idx.routesByStop[st.StopID], trip.RouteID) {
			idx.routesByStop[st.StopID] = append(idx.routesByStop[st.StopID], trip.RouteID)
		}
	}
}

func (idx *Index) HasStop(stopID string) bool {
	_, ok := idx.Stops[stopID]
	return ok
}

func (idx *Index) GetStop(stopID string) (models.Stop, bool) {
	stop, ok := idx.Stops[stopID]
	return stop, ok
}

func (idx *Index) GetRoute(routeID string) (models.Route, bool) {
	route, ok := idx.Routes[routeID]
	return route, ok
}

// RoutesForStop returns every route that serves the stop, sorted by ID.
func (idx *Index) RoutesForStop(stopID string) []models.Route {
	ids := append([]string(nil), idx.routesByStop[stopID]...)
	sort.Strings(ids)

	routes := make([]models.Route, 0, len(ids))
	for _, id := range ids {
		if route, ok := idx.Routes[id]; ok {
			routes = append(routes, route)
		}
	}
	return routes
}

// StopsForRoute returns the route's ordered stop sequence.
func (idx *Index) StopsForRoute(routeID string) []string {
	return idx.Routes[routeID].StopIDs
}

// NextDeparture returns the next scheduled departure from the stop on the
// route at or after now. The previous service day is also considered so
// trips running past midnight are not lost. ok is false when no service
// remains.
func (idx *Index) NextDeparture(stopID, routeID string, now time.Time) (time.Time, bool) {
	var best time.Time
	found := false

	for _, dayOffset := range []int{-1, 0} {
		serviceDate := startOfDay(now.AddDate(0, 0, dayOffset))
		for _, trip := range idx.tripsByRoute[routeID] {
			if !trip.activeOn(serviceDate) {
				continue
			}
			for _, st := range trip.StopTimes {
				if st.StopID != stopID {
					continue
				}
				departure := serviceDate.Add(st.Departure)
				if departure.Before(now) {
					continue
				}
				if !found || departure.Before(best) {
					best = departure
					found = true
				}
			}
		}
	}

	return best, found
}

// TravelSecondsFrom estimates the scheduled travel time from a vehicle
// position to the target stop, by locating the nearest upstream stop on the
// route and summing the scheduled segment durations from there to the
// target. ok is false when the route does not serve the stop or the position
// is already past it.
func (idx *Index) TravelSecondsFrom(routeID string, lat, lon float64, stopID string) (float64, bool) {
	trip, ok := idx.representativeTrip(routeID, stopID)
	if !ok {
		return 0, false
	}

	targetIdx := -1
	for i, st := range trip.StopTimes {
		if st.StopID == stopID {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		return 0, false
	}

	// Nearest stop at or before the target; the vehicle must be upstream.
	nearestIdx := -1
	nearestDist := 0.0
	for i := 0; i <= targetIdx; i++ {
		stop, ok := idx.Stops[trip.StopTimes[i].StopID]
		if !ok {
			continue
		}
		d := utils.Haversine(lat, lon, stop.Lat, stop.Lon)
		if nearestIdx < 0 || d < nearestDist {
			nearestIdx = i
			nearestDist = d
		}
	}
	if nearestIdx < 0 {
		return 0, false
	}

	travel := trip.StopTimes[targetIdx].Departure - trip.StopTimes[nearestIdx].Departure
	if travel < 0 {
		return 0, false
	}
	return travel.Seconds(), true
}

// representativeTrip picks the trip with the longest stop sequence that
// serves the stop, as a proxy for the route's full shape.
func (idx *Index) representativeTrip(routeID, stopID string) (Trip, bool) {
	var best Trip
	found := false
	for _, trip := range idx.tripsByRoute[routeID] {
		serves := false
		for _, st := range trip.StopTimes {
			if st.StopID == stopID {
				serves = true
				break
			}
		}
		if !serves {
			continue
		}
		if !found || len(trip.StopTimes) > len(best.StopTimes) {
			best = trip
			found = true
		}
	}
	return best, found
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
