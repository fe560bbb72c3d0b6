package broadcast

import (
	"log/slog"
	"sync"

	"smartstop.transitwatch.org/internal/models"
)

// SnapshotFunc builds the full current view of a stop, delivered to every
// subscriber before incremental events.
type SnapshotFunc func(stopID string) models.StopSnapshot

// Metrics receives broadcaster instrumentation.
type Metrics interface {
	SubscriberAdded()
	SubscriberRemoved()
	EventPublished()
	EventDropped()
}

// Subscriber is one live-update consumer. Events arrive on C; the channel is
// closed when the subscriber is dropped or unsubscribed.
type Subscriber struct {
	C       chan models.StopEvent
	stopIDs []string
	closed  bool
}

// Hub fans out estimate and alert changes to per-stop subscribers. Delivery
// is best effort: a subscriber whose buffer is full is dropped rather than
// allowed to block publishers. Events for the same stop carry monotonically
// increasing sequence numbers.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]map[*Subscriber]bool // stopID -> subscribers
	seq      map[string]uint64
	snapshot SnapshotFunc
	external ExternalPublisher
	logger   *slog.Logger
	metrics  Metrics
	bufSize  int
}

// ExternalPublisher mirrors events to an out-of-process fanout (NATS).
// Failures are logged and counted, never retried.
type ExternalPublisher interface {
	PublishEvent(event models.StopEvent) error
}

func NewHub(snapshot SnapshotFunc, external ExternalPublisher, logger *slog.Logger, metrics Metrics) *Hub {
	return &Hub{
		subs:     make(map[string]map[*Subscriber]bool),
		seq:      make(map[string]uint64),
		snapshot: snapshot,
		external: external,
		logger:   logger,
		metrics:  metrics,
		bufSize:  64,
	}
}

// Subscribe registers a consumer for one or more stops. The snapshot for
// each stop is queued on the subscriber's channel before Subscribe returns,
// so no incremental event can precede it.
func (h *Hub) Subscribe(stopIDs ...string) *Subscriber {
	// The buffer must hold one snapshot per stop on top of the incremental
	// budget, or a wide subscription would block here with the mutex held.
	sub := &Subscriber{
		C:       make(chan models.StopEvent, len(stopIDs)+h.bufSize),
		stopIDs: stopIDs,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stopID := range stopIDs {
		var snapshot models.StopSnapshot
		if h.snapshot != nil {
			snapshot = h.snapshot(stopID)
		} else {
			snapshot = models.StopSnapshot{StopID: stopID}
		}

		h.seq[stopID]++
		sub.C <- models.StopEvent{
			StopID:   stopID,
			Seq:      h.seq[stopID],
			Kind:     models.EventSnapshot,
			Snapshot: &snapshot,
		}

		set, ok := h.subs[stopID]
		if !ok {
			set = make(map[*Subscriber]bool)
			h.subs[stopID] = set
		}
		set[sub] = true
	}

	if h.metrics != nil {
		h.metrics.SubscriberAdded()
	}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(sub)
}

// EstimateUpdated implements the predictor sink.
func (h *Hub) EstimateUpdated(estimate models.ArrivalEstimate) {
	e := estimate
	h.publish(models.StopEvent{
		StopID:   estimate.StopID,
		Kind:     models.EventEstimate,
		Estimate: &e,
	})
}

// AlertUpdated implements the alert engine sink.
func (h *Hub) AlertUpdated(alert models.Alert) {
	a := alert
	h.publish(models.StopEvent{
		StopID: alert.StopID,
		Kind:   models.EventAlert,
		Alert:  &a,
	})
}

// SubscriberCount reports the current number of subscribers for a stop.
func (h *Hub) SubscriberCount(stopID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[stopID])
}

func (h *Hub) publish(event models.StopEvent) {
	h.mu.Lock()
	h.seq[event.StopID]++
	event.Seq = h.seq[event.StopID]

	var dropped []*Subscriber
	for sub := range h.subs[event.StopID] {
		select {
		case sub.C <- event:
			if h.metrics != nil {
				h.metrics.EventPublished()
			}
		default:
			// Slow consumer: dropping it is the contract, blocking the
			// publisher is not.
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		h.drop(sub)
		if h.metrics != nil {
			h.metrics.EventDropped()
		}
		if h.logger != nil {
			h.logger.Warn("dropped slow subscriber", "stop_id", event.StopID)
		}
	}
	h.mu.Unlock()

	if h.external != nil {
		if err := h.external.PublishEvent(event); err != nil && h.logger != nil {
			h.logger.Warn("external event publish failed", "stop_id", event.StopID, "error", err)
		}
	}
}

// drop removes sub from every stop registration. Caller holds h.mu.
func (h *Hub) drop(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true

	for _, stopID := range sub.stopIDs {
		delete(h.subs[stopID], sub)
		if len(h.subs[stopID]) == 0 {
			delete(h.subs, stopID)
		}
	}
	close(sub.C)

	if h.metrics != nil {
		h.metrics.SubscriberRemoved()
	}
}
