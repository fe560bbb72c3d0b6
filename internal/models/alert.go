package models

import (
	"fmt"
	"time"
)

// AlertType identifies the condition that raised an alert.
type AlertType string

const (
	AlertEnvironmentalFault AlertType = "environmental_fault"
	AlertOvercrowding       AlertType = "overcrowding"
	AlertDelay              AlertType = "delay"
	AlertDeviceOffline      AlertType = "device_offline"
)

// AlertStatus is the lifecycle state of an alert. Resolved alerts are
// retained for audit, never deleted.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Alert is a raised condition at a stop. At most one alert per (stop, type)
// is open at a time; repeat triggers bump LastSeenAt on the existing alert.
type Alert struct {
	ID         string      `json:"id"`
	StopID     string      `json:"stopId"`
	Type       AlertType   `json:"type"`
	Message    string      `json:"message"`
	Status     AlertStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	LastSeenAt time.Time   `json:"lastSeenAt"`
	ResolvedAt time.Time   `json:"resolvedAt,omitzero"`
}

// CanTransition reports whether the alert may move to the given status.
// Open alerts may be acknowledged or resolved; acknowledged alerts may only
// be resolved; resolved alerts are terminal.
func (a Alert) CanTransition(to AlertStatus) bool {
	switch a.Status {
	case AlertOpen:
		return to == AlertAcknowledged || to == AlertResolved
	case AlertAcknowledged:
		return to == AlertResolved
	default:
		return false
	}
}

// AlertKey uniquely identifies the open-alert slot for a stop and type.
func AlertKey(stopID string, alertType AlertType) string {
	return fmt.Sprintf("%s/%s", stopID, alertType)
}
