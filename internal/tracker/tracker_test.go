package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartstop.transitwatch.org/internal/models"
)

var baseTime = time.Date(2025, 10, 7, 10, 0, 0, 0, time.UTC)

func TestApplyStoresNewestPosition(t *testing.T) {
	tr := New(time.Minute)

	applied, err := tr.Apply(PositionUpdate{
		VehicleID: "V1", RouteID: "R1", Lat: 47.60, Lon: -122.33, Timestamp: baseTime,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = tr.Apply(PositionUpdate{
		VehicleID: "V1", RouteID: "R1", Lat: 47.61, Lon: -122.33, Timestamp: baseTime.Add(30 * time.Second),
	})
	require.NoError(t, err)
	assert.True(t, applied)

	position, ok := tr.Get("V1")
	require.True(t, ok)
	assert.Equal(t, 47.61, position.Lat)
	assert.Equal(t, baseTime.Add(30*time.Second), position.Timestamp)
}

func TestApplyRejectsOlderTimestamp(t *testing.T) {
	tr := New(time.Minute)

	_, err := tr.Apply(PositionUpdate{VehicleID: "V1", RouteID: "R1", Lat: 47.61, Timestamp: baseTime})
	require.NoError(t, err)

	applied, err := tr.Apply(PositionUpdate{
		VehicleID: "V1", RouteID: "R1", Lat: 40.0, Timestamp: baseTime.Add(-time.Second),
	})
	assert.ErrorIs(t, err, ErrStaleUpdate)
	assert.False(t, applied)

	position, ok := tr.Get("V1")
	require.True(t, ok)
	assert.Equal(t, 47.61, position.Lat, "stored position must be unchanged")
}

func TestApplyEqualTimestampIsIdempotent(t *testing.T) {
	tr := New(time.Minute)

	_, err := tr.Apply(PositionUpdate{VehicleID: "V1", Lat: 47.61, Timestamp: baseTime})
	require.NoError(t, err)

	applied, err := tr.Apply(PositionUpdate{VehicleID: "V1", Lat: 48.0, Timestamp: baseTime})
	require.NoError(t, err)
	assert.False(t, applied)

	position, _ := tr.Get("V1")
	assert.Equal(t, 47.61, position.Lat)
}

func TestStalenessFlag(t *testing.T) {
	tr := New(time.Minute)
	tr.now = func() time.Time { return baseTime.Add(2 * time.Minute) }

	_, err := tr.Apply(PositionUpdate{VehicleID: "V1", RouteID: "R1", Timestamp: baseTime})
	require.NoError(t, err)

	position, ok := tr.Get("V1")
	require.True(t, ok)
	assert.True(t, position.Stale)

	tr.now = func() time.Time { return baseTime.Add(30 * time.Second) }
	position, _ = tr.Get("V1")
	assert.False(t, position.Stale)
}

func TestVehiclesForRoute(t *testing.T) {
	tr := New(0)

	_, err := tr.Apply(PositionUpdate{VehicleID: "V1", RouteID: "R1", Timestamp: baseTime})
	require.NoError(t, err)
	_, err = tr.Apply(PositionUpdate{VehicleID: "V2", RouteID: "R1", Timestamp: baseTime.Add(time.Second)})
	require.NoError(t, err)
	_, err = tr.Apply(PositionUpdate{VehicleID: "V3", RouteID: "R2", Timestamp: baseTime})
	require.NoError(t, err)

	positions := tr.VehiclesForRoute("R1")
	require.Len(t, positions, 2)
	assert.Equal(t, "V2", positions[0].VehicleID, "freshest first")
	assert.Equal(t, "V1", positions[1].VehicleID)

	// Reassignment moves the vehicle between route buckets.
	_, err = tr.Apply(PositionUpdate{VehicleID: "V1", RouteID: "R2", Timestamp: baseTime.Add(time.Minute)})
	require.NoError(t, err)
	assert.Len(t, tr.VehiclesForRoute("R1"), 1)
	assert.Len(t, tr.VehiclesForRoute("R2"), 2)
}

func TestOnUpdateCallback(t *testing.T) {
	tr := New(time.Minute)

	var got []models.VehiclePosition
	tr.OnUpdate(func(p models.VehiclePosition) { got = append(got, p) })

	_, err := tr.Apply(PositionUpdate{VehicleID: "V1", RouteID: "R1", Timestamp: baseTime})
	require.NoError(t, err)

	// Rejected updates must not fire the callback.
	_, _ = tr.Apply(PositionUpdate{VehicleID: "V1", RouteID: "R1", Timestamp: baseTime.Add(-time.Hour)})

	require.Len(t, got, 1)
	assert.Equal(t, "V1", got[0].VehicleID)
}
