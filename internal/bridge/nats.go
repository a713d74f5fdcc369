// Package bridge mirrors realtime traffic onto NATS so other backend
// services (billing, analytics, customs reporting) can consume the same
// feed the websocket clients see. Publishing is fire-and-forget: a broker
// outage never stalls the tick loop.
package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"freightwatch/internal/domain"
)

const (
	subjectGPSPrefix     = "freightwatch.gps."
	subjectGeofenceEvent = "freightwatch.events.geofence"
	subjectAlertPrefix   = "freightwatch.alerts."
)

type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewPublisher(url string, logger *slog.Logger) (*Publisher, error) {
	log := logger.With("component", "nats_bridge")

	opts := []nats.Option{
		nats.Name("freightwatch"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("nats connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Info("connected to nats", "url", conn.ConnectedUrl())

	return &Publisher{conn: conn, logger: log}, nil
}

func (p *Publisher) Close() {
	p.conn.Drain()
}

// PublishGPS mirrors one position sample onto the per-truck subject
func (p *Publisher) PublishGPS(sample domain.GPSSample) {
	p.publish(subjectGPSPrefix+sanitizeToken(sample.EntityID), sample)
}

func (p *Publisher) PublishGeofenceEvent(event domain.GeofenceEvent) {
	p.publish(subjectGeofenceEvent, event)
}

// PublishAlert routes by severity so consumers can subscribe to
// freightwatch.alerts.critical alone
func (p *Publisher) PublishAlert(a domain.Alert) {
	p.publish(subjectAlertPrefix+strings.ToLower(a.Severity.String()), a)
}

func (p *Publisher) publish(subject string, payload any) {
	if !p.conn.IsConnected() {
		p.logger.Warn("bridge publish dropped", "subject", subject, "error", domain.ErrTransportUnavailable)
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("bridge marshal failed", "subject", subject, "error", err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn("bridge publish dropped", "subject", subject, "error", err)
	}
}

// sanitizeToken keeps entity IDs legal as NATS subject tokens
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '-'
		}
		return r
	}, s)
}
