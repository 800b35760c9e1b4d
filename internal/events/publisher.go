// Package events publishes audit events from the authorization server.
// Publishing is best-effort: a broker outage never blocks a grant.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Event kinds emitted by the authorization server.
const (
	KindTokenIssued  = "token_issued"
	KindTokenRevoked = "token_revoked"
	KindCodeReplayed = "code_replayed"
)

// Event is the audit record published to the broker.
type Event struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	ClientID string    `json:"client_id,omitempty"`
	Username string    `json:"username,omitempty"`
	Scope    string    `json:"scope,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher emits audit events.
type Publisher interface {
	Publish(ctx context.Context, kind, clientID, username, scope string)
	Close() error
}

// NewEvent stamps a fresh event.
func NewEvent(kind, clientID, username, scope string) Event {
	return Event{
		ID:       uuid.New().String(),
		Kind:     kind,
		ClientID: clientID,
		Username: username,
		Scope:    scope,
		At:       time.Now().UTC(),
	}
}

// Noop discards all events. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, string, string, string) {}
func (Noop) Close() error                                            { return nil }

// AMQPPublisher publishes events to a fanout exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      *slog.Logger
}

// NewAMQPPublisher connects to the broker and declares the audit exchange.
func NewAMQPPublisher(url, exchange string, log *slog.Logger) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = "gatekeeper.audit"
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange, log: log}, nil
}

// Publish sends one event. Failures are logged and swallowed.
func (p *AMQPPublisher) Publish(ctx context.Context, kind, clientID, username, scope string) {
	event := NewEvent(kind, clientID, username, scope)
	body, err := json.Marshal(event)
	if err != nil {
		p.log.Warn("marshaling audit event", "kind", kind, "err", err)
		return
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   event.ID,
		Timestamp:   event.At,
		Body:        body,
	})
	if err != nil {
		p.log.Warn("publishing audit event", "kind", kind, "err", err)
	}
}

func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		_ = p.conn.Close()
		return err
	}
	return p.conn.Close()
}
