package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the process metrics on a private registry, so only our own
// series are exported. It satisfies the small metrics interfaces declared by
// the ingest, predict, alerts and broadcast packages.
type Collector struct {
	registry *prometheus.Registry

	readingsAccepted  prometheus.Counter
	readingsDuplicate prometheus.Counter
	readingsRejected  prometheus.Counter
	readingsShed      prometheus.Counter

	positionsApplied  prometheus.Counter
	positionsRejected prometheus.Counter

	recomputeDuration prometheus.Histogram
	estimatesEmitted  prometheus.Counter

	alertsOpened   prometheus.Counter
	alertsResolved prometheus.Counter

	subscribers     prometheus.Gauge
	eventsPublished prometheus.Counter
	eventsDropped   prometheus.Counter

	natsConnected     prometheus.Gauge
	natsPublished     prometheus.Counter
	natsPublishFailed prometheus.Counter

	feedRefreshFailures prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		readingsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_telemetry_readings_accepted_total",
			Help: "Telemetry readings validated and persisted.",
		}),
		readingsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_telemetry_readings_duplicate_total",
			Help: "Telemetry readings rejected as duplicates of a stored reading.",
		}),
		readingsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_telemetry_readings_rejected_total",
			Help: "Telemetry readings rejected by validation.",
		}),
		readingsShed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_telemetry_readings_shed_total",
			Help: "Accepted readings dropped before alert evaluation because the queue was full.",
		}),

		positionsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_vehicle_positions_applied_total",
			Help: "Vehicle position updates applied to the tracker.",
		}),
		positionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_vehicle_positions_rejected_total",
			Help: "Vehicle position updates rejected as older than the stored position.",
		}),

		recomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartstop_prediction_recompute_seconds",
			Help:    "Duration of per-stop arrival estimate recomputation.",
			Buckets: prometheus.DefBuckets,
		}),
		estimatesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_arrival_estimates_emitted_total",
			Help: "Arrival estimates whose value changed and were broadcast.",
		}),

		alertsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_alerts_opened_total",
			Help: "Alerts opened by rule evaluation.",
		}),
		alertsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_alerts_resolved_total",
			Help: "Alerts resolved by operators or auto-resolution.",
		}),

		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartstop_live_subscribers",
			Help: "Currently connected live-update subscribers.",
		}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_live_events_published_total",
			Help: "Stop events delivered to subscriber channels.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_live_events_dropped_total",
			Help: "Events that forced a slow subscriber to be dropped.",
		}),

		natsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartstop_nats_connected",
			Help: "Whether the NATS connection is currently up.",
		}),
		natsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_nats_events_published_total",
			Help: "Stop events mirrored to NATS.",
		}),
		natsPublishFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_nats_publish_failures_total",
			Help: "Failed NATS publishes.",
		}),

		feedRefreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstop_schedule_refresh_failures_total",
			Help: "Schedule feed refreshes that failed and left the previous index in place.",
		}),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartstop_http_requests_total",
			Help: "HTTP requests by method and status class.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smartstop_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	c.registry.MustRegister(
		c.readingsAccepted, c.readingsDuplicate, c.readingsRejected, c.readingsShed,
		c.positionsApplied, c.positionsRejected,
		c.recomputeDuration, c.estimatesEmitted,
		c.alertsOpened, c.alertsResolved,
		c.subscribers, c.eventsPublished, c.eventsDropped,
		c.natsConnected, c.natsPublished, c.natsPublishFailed,
		c.feedRefreshFailures,
		c.httpRequests, c.httpDuration,
	)
	return c
}

func (c *Collector) ReadingAccepted()  { c.readingsAccepted.Inc() }
func (c *Collector) ReadingDuplicate() { c.readingsDuplicate.Inc() }
func (c *Collector) ReadingRejected()  { c.readingsRejected.Inc() }
func (c *Collector) ReadingShed()      { c.readingsShed.Inc() }

func (c *Collector) PositionApplied()  { c.positionsApplied.Inc() }
func (c *Collector) PositionRejected() { c.positionsRejected.Inc() }

func (c *Collector) RecomputeObserve(d time.Duration) { c.recomputeDuration.Observe(d.Seconds()) }
func (c *Collector) EstimateEmitted()                 { c.estimatesEmitted.Inc() }

func (c *Collector) AlertOpened()   { c.alertsOpened.Inc() }
func (c *Collector) AlertResolved() { c.alertsResolved.Inc() }

func (c *Collector) SubscriberAdded()   { c.subscribers.Inc() }
func (c *Collector) SubscriberRemoved() { c.subscribers.Dec() }
func (c *Collector) EventPublished()    { c.eventsPublished.Inc() }
func (c *Collector) EventDropped()      { c.eventsDropped.Inc() }

func (c *Collector) NATSConnected(connected bool) {
	if connected {
		c.natsConnected.Set(1)
	} else {
		c.natsConnected.Set(0)
	}
}
func (c *Collector) NATSPublished()     { c.natsPublished.Inc() }
func (c *Collector) NATSPublishFailed() { c.natsPublishFailed.Inc() }

func (c *Collector) FeedRefreshFailed() { c.feedRefreshFailures.Inc() }

// ObserveHTTP records one served request.
func (c *Collector) ObserveHTTP(method string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, statusClass(status)).Inc()
	c.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Handler exposes the registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve runs a dedicated metrics listener. It blocks until the server stops.
func (c *Collector) Serve(addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if logger != nil {
		logger.Info("metrics server listening", "addr", addr)
	}
	return srv.ListenAndServe()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
