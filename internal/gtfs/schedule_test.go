package gtfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartstop.transitwatch.org/internal/models"
)

// testIndex builds a small two-route schedule around stop S3.
//
// Route R1: S1 -> S2 -> S3, every weekday, departures at 08:00/08:04/08:08.
// Route R2: S4 -> S3, weekends only, departures at 09:00/09:10.
func testIndex() *Index {
	idx := NewIndex()

	idx.Stops["S1"] = models.Stop{ID: "S1", Name: "First & Main", Lat: 47.6000, Lon: -122.3300}
	idx.Stops["S2"] = models.Stop{ID: "S2", Name: "Second & Main", Lat: 47.6050, Lon: -122.3300}
	idx.Stops["S3"] = models.Stop{ID: "S3", Name: "Third & Main", Lat: 47.6100, Lon: -122.3300}
	idx.Stops["S4"] = models.Stop{ID: "S4", Name: "Harbor", Lat: 47.6100, Lon: -122.3400}

	weekdays := [7]bool{}
	for d := time.Monday; d <= time.Friday; d++ {
		weekdays[d] = true
	}
	weekend := [7]bool{time.Saturday: true, time.Sunday: true}

	idx.AddTrip(Trip{
		ID:      "R1-0800",
		RouteID: "R1",
		StopTimes: []StopTime{
			{StopID: "S1", Sequence: 1, Departure: 8 * time.Hour},
			{StopID: "S2", Sequence: 2, Departure: 8*time.Hour + 4*time.Minute},
			{StopID: "S3", Sequence: 3, Departure: 8*time.Hour + 8*time.Minute},
		},
		Weekdays: weekdays,
	})
	idx.AddTrip(Trip{
		ID:      "R1-0830",
		RouteID: "R1",
		StopTimes: []StopTime{
			{StopID: "S1", Sequence: 1, Departure: 8*time.Hour + 30*time.Minute},
			{StopID: "S2", Sequence: 2, Departure: 8*time.Hour + 34*time.Minute},
			{StopID: "S3", Sequence: 3, Departure: 8*time.Hour + 38*time.Minute},
		},
		Weekdays: weekdays,
	})
	idx.AddTrip(Trip{
		ID:      "R2-0900",
		RouteID: "R2",
		StopTimes: []StopTime{
			{StopID: "S4", Sequence: 1, Departure: 9 * time.Hour},
			{StopID: "S3", Sequence: 2, Departure: 9*time.Hour + 10*time.Minute},
		},
		Weekdays: weekend,
	})

	return idx
}

// A Tuesday.
var testDay = time.Date(2025, 10, 7, 0, 0, 0, 0, time.UTC)

func TestRoutesForStop(t *testing.T) {
	idx := testIndex()

	routes := idx.RoutesForStop("S3")
	require.Len(t, routes, 2)
	assert.Equal(t, "R1", routes[0].ID)
	assert.Equal(t, "R2", routes[1].ID)

	assert.Len(t, idx.RoutesForStop("S1"), 1)
	assert.Empty(t, idx.RoutesForStop("missing"))
}

func TestNextDeparture(t *testing.T) {
	idx := testIndex()

	t.Run("picks earliest remaining trip", func(t *testing.T) {
		departure, ok := idx.NextDeparture("S3", "R1", testDay.Add(8*time.Hour+5*time.Minute))
		require.True(t, ok)
		assert.Equal(t, testDay.Add(8*time.Hour+8*time.Minute), departure)
	})

	t.Run("skips passed trips", func(t *testing.T) {
		departure, ok := idx.NextDeparture("S3", "R1", testDay.Add(8*time.Hour+20*time.Minute))
		require.True(t, ok)
		assert.Equal(t, testDay.Add(8*time.Hour+38*time.Minute), departure)
	})

	t.Run("no service remaining today", func(t *testing.T) {
		_, ok := idx.NextDeparture("S3", "R1", testDay.Add(23*time.Hour))
		assert.False(t, ok)
	})

	t.Run("service day filter", func(t *testing.T) {
		// R2 runs weekends only; Tuesday has no departures.
		_, ok := idx.NextDeparture("S3", "R2", testDay.Add(8*time.Hour))
		assert.False(t, ok)

		saturday := time.Date(2025, 10, 11, 8, 0, 0, 0, time.UTC)
		departure, ok := idx.NextDeparture("S3", "R2", saturday)
		require.True(t, ok)
		assert.Equal(t, saturday.Add(time.Hour+10*time.Minute), departure)
	})
}

func TestNextDepartureOwlTrip(t *testing.T) {
	idx := NewIndex()
	idx.Stops["S1"] = models.Stop{ID: "S1", Lat: 47.6, Lon: -122.33}

	// Departure at 24:30 on a Monday service day lands at 00:30 Tuesday.
	idx.AddTrip(Trip{
		ID:      "owl",
		RouteID: "R9",
		StopTimes: []StopTime{
			{StopID: "S1", Sequence: 1, Departure: 24*time.Hour + 30*time.Minute},
		},
		Weekdays: [7]bool{time.Monday: true},
	})

	tuesdayEarly := time.Date(2025, 10, 7, 0, 10, 0, 0, time.UTC)
	departure, ok := idx.NextDeparture("S1", "R9", tuesdayEarly)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 10, 7, 0, 30, 0, 0, time.UTC), departure)
}

func TestTripCalendarOverrides(t *testing.T) {
	trip := Trip{
		Weekdays:     [7]bool{time.Tuesday: true},
		AddedDates:   map[string]bool{"2025-10-08": true},
		RemovedDates: map[string]bool{"2025-10-07": true},
	}

	assert.False(t, trip.activeOn(testDay))                  // removed Tuesday
	assert.True(t, trip.activeOn(testDay.AddDate(0, 0, 1)))  // added Wednesday
	assert.True(t, trip.activeOn(testDay.AddDate(0, 0, 7)))  // ordinary Tuesday
	assert.False(t, trip.activeOn(testDay.AddDate(0, 0, 2))) // ordinary Thursday
}

func TestTravelSecondsFrom(t *testing.T) {
	idx := testIndex()

	t.Run("vehicle near first stop", func(t *testing.T) {
		secs, ok := idx.TravelSecondsFrom("R1", 47.6001, -122.3300, "S3")
		require.True(t, ok)
		assert.InDelta(t, 480, secs, 1) // S1 -> S3 is 8 minutes
	})

	t.Run("vehicle near middle stop", func(t *testing.T) {
		secs, ok := idx.TravelSecondsFrom("R1", 47.6051, -122.3301, "S3")
		require.True(t, ok)
		assert.InDelta(t, 240, secs, 1) // S2 -> S3 is 4 minutes
	})

	t.Run("route does not serve stop", func(t *testing.T) {
		_, ok := idx.TravelSecondsFrom("R2", 47.61, -122.34, "S1")
		assert.False(t, ok)
	})
}

func TestManagerDelegation(t *testing.T) {
	manager := NewManagerWithIndex(testIndex())

	assert.True(t, manager.HasStop("S3"))
	assert.False(t, manager.HasStop("missing"))

	stop, ok := manager.GetStop("S1")
	require.True(t, ok)
	assert.Equal(t, "First & Main", stop.Name)

	assert.Len(t, manager.RoutesForStop("S3"), 2)
	assert.Equal(t, []string{"S1", "S2", "S3"}, manager.StopsForRoute("R1"))
	assert.False(t, manager.Degraded())
	assert.False(t, manager.LastFetch().IsZero())
}
