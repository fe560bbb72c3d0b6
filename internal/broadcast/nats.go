package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"smartstop.transitwatch.org/internal/models"
)

// NATSMetrics tracks the publisher's connection state and traffic.
type NATSMetrics interface {
	NATSConnected(connected bool)
	NATSPublished()
	NATSPublishFailed()
}

// NATSPublisher mirrors stop events onto NATS subjects of the form
// stops.<stopID>.<kind>, so out-of-process consumers (signage controllers,
// analytics) can follow the same stream the in-process hub carries.
type NATSPublisher struct {
	conn    *nats.Conn
	logger  *slog.Logger
	metrics NATSMetrics
}

func NewNATSPublisher(url string, logger *slog.Logger, metrics NATSMetrics) (*NATSPublisher, error) {
	p := &NATSPublisher{logger: logger, metrics: metrics}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if metrics != nil {
				metrics.NATSConnected(false)
			}
			if logger != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if metrics != nil {
				metrics.NATSConnected(true)
			}
			if logger != nil {
				logger.Info("nats reconnected", "url", c.ConnectedUrl())
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if metrics != nil {
				metrics.NATSConnected(false)
			}
			if logger != nil {
				logger.Info("nats connection closed")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}

	p.conn = conn
	if metrics != nil {
		metrics.NATSConnected(true)
	}
	return p, nil
}

// PublishEvent implements ExternalPublisher.
func (p *NATSPublisher) PublishEvent(event models.StopEvent) error {
	subject := fmt.Sprintf("stops.%s.%s", subjectToken(event.StopID), event.Kind)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", subject, err)
	}

	if err := p.conn.Publish(subject, payload); err != nil {
		if p.metrics != nil {
			p.metrics.NATSPublishFailed()
		}
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	if p.metrics != nil {
		p.metrics.NATSPublished()
	}
	return nil
}

// Close drains the connection so buffered publishes flush before shutdown.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil && p.logger != nil {
		p.logger.Warn("nats drain failed", "error", err)
	}
}

// subjectToken makes an ID safe for use inside a NATS subject. Dots and
// whitespace are token separators on the wire, so they get replaced.
func subjectToken(id string) string {
	r := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	token := r.Replace(id)
	if token == "" {
		return "unknown"
	}
	return token
}
