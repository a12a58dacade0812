package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/riskgrid/internal/core/domain"
)

// Subjects used on the wire.
const (
	SubjectObservations  = "risk.observations.>"
	SubjectGridUpdated   = "risk.grid.updated"
	SubjectAlerts        = "risk.alerts.>"
	SubjectCriticalAlert = "risk.alerts.critical"
)

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if err := ensureStreams(js); err != nil {
		conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, js: js}, nil
}

func streams() []nats.StreamConfig {
	return []nats.StreamConfig{
		{
			Name:      "RISK_OBSERVATIONS",
			Subjects:  []string{SubjectObservations},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:              "RISK_GRID",
			Subjects:          []string{"risk.grid.>"},
			Retention:         nats.LimitsPolicy,
			MaxAge:            1 * time.Hour,
			MaxMsgsPerSubject: 100,
			Storage:           nats.FileStorage,
		},
		{
			Name:      "RISK_ALERTS",
			Subjects:  []string{SubjectAlerts},
			Retention: nats.InterestPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}
}

func ensureStreams(js nats.JetStreamContext) error {
	for _, cfg := range streams() {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist with older settings.
			if _, err := js.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

// PublishObservation announces a stored observation on risk.observations.<source>.
func (p *Publisher) PublishObservation(ctx context.Context, o *domain.Observation) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(observationSubject(o.Source), data, nats.Context(ctx))
	return err
}

// PublishGridUpdated announces a freshly published grid.
func (p *Publisher) PublishGridUpdated(ctx context.Context, u *domain.GridUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectGridUpdated, data, nats.Context(ctx))
	return err
}

// PublishCriticalAlert announces the critical cells of a grid.
func (p *Publisher) PublishCriticalAlert(ctx context.Context, a *domain.CriticalAlert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectCriticalAlert, data, nats.Context(ctx))
	return err
}

// Conn exposes the underlying connection for health checks.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection (e.g. for the WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

func observationSubject(source string) string {
	return "risk.observations." + subjectToken(source)
}

// subjectToken makes s safe for use as a single subject token.
func subjectToken(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
