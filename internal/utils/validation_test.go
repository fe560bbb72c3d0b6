package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid simple id", "S1", false},
		{"valid id with separators", "stop_42.platform-A", false},
		{"empty id", "", true},
		{"id with spaces", "stop 1", true},
		{"id with angle brackets", "<script>", true},
		{"id too long", string(make([]byte, 101)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCoordinates(t *testing.T) {
	assert.NoError(t, ValidateLatitude(47.6))
	assert.Error(t, ValidateLatitude(91))
	assert.Error(t, ValidateLatitude(-91))
	assert.NoError(t, ValidateLongitude(-122.3))
	assert.Error(t, ValidateLongitude(181))
}

func TestValidateTimestamp(t *testing.T) {
	now := time.Date(2025, 10, 7, 10, 0, 0, 0, time.UTC)

	require.Error(t, ValidateTimestamp(time.Time{}, now))
	require.NoError(t, ValidateTimestamp(now.Add(-time.Hour), now))
	require.NoError(t, ValidateTimestamp(now.Add(time.Minute), now))
	require.Error(t, ValidateTimestamp(now.Add(time.Hour), now))
}

func TestHaversine(t *testing.T) {
	// Seattle King Street Station to Westlake Station, roughly 1.6km.
	d := Haversine(47.5952, -122.3316, 47.6114, -122.3381)
	assert.InDelta(t, 1860, d, 200)

	assert.Zero(t, Haversine(47.6, -122.3, 47.6, -122.3))
}
