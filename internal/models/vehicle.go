package models

import "time"

// VehiclePosition is the latest known location of a vehicle. A position is
// stale when no update has arrived within the tracker's freshness window.
type VehiclePosition struct {
	VehicleID string    `json:"vehicleId"`
	RouteID   string    `json:"routeId"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
	Stale     bool      `json:"stale"`
}
