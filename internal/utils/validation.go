package utils

import (
	"errors"
	"regexp"
	"time"
)

// Compiled regular expressions for validation
var (
	// Allow alphanumeric, underscore, hyphen, dot - common in transit IDs
	validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// ValidateID validates that an ID is safe and within reasonable limits
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if len(id) > 100 {
		return errors.New("id too long (max 100 characters)")
	}

	if !validIDPattern.MatchString(id) {
		return errors.New("id contains invalid characters")
	}

	return nil
}

// ValidateLatitude validates latitude values
func ValidateLatitude(lat float64) error {
	if lat < -90.0 || lat > 90.0 {
		return errors.New("latitude must be between -90 and 90")
	}
	return nil
}

// ValidateLongitude validates longitude values
func ValidateLongitude(lon float64) error {
	if lon < -180.0 || lon > 180.0 {
		return errors.New("longitude must be between -180 and 180")
	}
	return nil
}

// ValidateTimestamp rejects zero timestamps and timestamps implausibly far in
// the future. Devices with drifting clocks get a small grace window.
func ValidateTimestamp(ts time.Time, now time.Time) error {
	if ts.IsZero() {
		return errors.New("timestamp is required")
	}
	if ts.After(now.Add(5 * time.Minute)) {
		return errors.New("timestamp is in the future")
	}
	return nil
}
