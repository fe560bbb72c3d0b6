package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorExportsSeries(t *testing.T) {
	c := NewCollector()

	c.ReadingAccepted()
	c.ReadingAccepted()
	c.ReadingDuplicate()
	c.AlertOpened()
	c.SubscriberAdded()
	c.NATSConnected(true)
	c.RecomputeObserve(12 * time.Millisecond)
	c.ObserveHTTP("GET", 200, 3*time.Millisecond)
	c.ObserveHTTP("POST", 503, time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, "smartstop_telemetry_readings_accepted_total 2")
	assert.Contains(t, out, "smartstop_telemetry_readings_duplicate_total 1")
	assert.Contains(t, out, "smartstop_alerts_opened_total 1")
	assert.Contains(t, out, "smartstop_live_subscribers 1")
	assert.Contains(t, out, "smartstop_nats_connected 1")
	assert.Contains(t, out, `smartstop_http_requests_total{method="GET",status="2xx"} 1`)
	assert.Contains(t, out, `smartstop_http_requests_total{method="POST",status="5xx"} 1`)
}

func TestSubscriberGaugeTracksRemovals(t *testing.T) {
	c := NewCollector()
	c.SubscriberAdded()
	c.SubscriberAdded()
	c.SubscriberRemoved()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "smartstop_live_subscribers 1")
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "3xx", statusClass(304))
	assert.Equal(t, "4xx", statusClass(422))
	assert.Equal(t, "5xx", statusClass(500))
}
