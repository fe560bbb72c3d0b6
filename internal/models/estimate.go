package models

import "time"

// Confidence classifies how an arrival estimate was produced.
type Confidence string

const (
	// ConfidenceLive means the estimate is based on a fresh vehicle position.
	ConfidenceLive Confidence = "live"
	// ConfidenceScheduleOnly means no live vehicle was available and the
	// estimate comes from the static schedule alone.
	ConfidenceScheduleOnly Confidence = "schedule-only"
	// ConfidenceStale means the estimate was computed from a vehicle position
	// older than the freshness window.
	ConfidenceStale Confidence = "stale"
)

// ArrivalEstimate is the predicted arrival of the next vehicle on a route at
// a stop. VehicleID is empty for schedule-only estimates.
type ArrivalEstimate struct {
	StopID           string     `json:"stopId"`
	RouteID          string     `json:"routeId"`
	VehicleID        string     `json:"vehicleId,omitempty"`
	ArrivalTime      time.Time  `json:"arrivalTime"`
	SecondsRemaining int64      `json:"secondsRemaining"`
	ScheduledTime    time.Time  `json:"scheduledTime"`
	Confidence       Confidence `json:"confidence"`
	ComputedAt       time.Time  `json:"computedAt"`
}

// DelaySeconds is how far the estimate runs behind the schedule. Negative
// values mean the vehicle is early.
func (e ArrivalEstimate) DelaySeconds() int64 {
	if e.ScheduledTime.IsZero() {
		return 0
	}
	return int64(e.ArrivalTime.Sub(e.ScheduledTime).Seconds())
}
