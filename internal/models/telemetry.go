package models

import "time"

// TelemetryReading is a single sensor report from a stop's edge device.
// Readings are append-only; a reading is never mutated after acceptance.
type TelemetryReading struct {
	StopID      string    `json:"stopId"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Occupancy   int       `json:"occupancy"`
	RawPayload  []byte    `json:"-"`
	ReceivedAt  time.Time `json:"receivedAt,omitempty"`
}
