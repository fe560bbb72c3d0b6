package models

// EventKind distinguishes the payload carried by a StopEvent.
type EventKind string

const (
	EventSnapshot EventKind = "snapshot"
	EventEstimate EventKind = "estimate"
	EventAlert    EventKind = "alert"
)

// StopSnapshot is the full current view of a stop: every current estimate
// and every non-resolved alert. A new subscriber always receives a snapshot
// before any incremental event.
type StopSnapshot struct {
	StopID    string            `json:"stopId"`
	Estimates []ArrivalEstimate `json:"estimates"`
	Alerts    []Alert           `json:"alerts"`
}

// StopEvent is a single message on a stop's live update channel. Seq is
// monotonically increasing per stop, so a subscriber can detect reordering.
type StopEvent struct {
	StopID   string           `json:"stopId"`
	Seq      uint64           `json:"seq"`
	Kind     EventKind        `json:"kind"`
	Snapshot *StopSnapshot    `json:"snapshot,omitempty"`
	Estimate *ArrivalEstimate `json:"estimate,omitempty"`
	Alert    *Alert           `json:"alert,omitempty"`
}
