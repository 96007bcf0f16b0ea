// Package events implements a best-effort, fire-and-forget publisher of
// reservation/cart/session lifecycle events over a durable topic exchange,
// for downstream analytics and notification consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ExchangeName and ExchangeType describe the single exchange every
// lifecycle event goes through.
const (
	ExchangeName = "core.events"
	ExchangeType = "topic"
)

// RoutingKey values for every published event.
const (
	RoutingReservationCreated   = "reservation.created"
	RoutingReservationReleased  = "reservation.released"
	RoutingReservationConfirmed = "reservation.confirmed"
	RoutingCartUpdated          = "cart.updated"
	RoutingCartCleared          = "cart.cleared"
	RoutingSessionIssued        = "session.issued"
	RoutingSessionRevoked       = "session.revoked"
)

// event is the envelope every routing key shares. The UUID event_id lets
// downstream consumers dedupe redeliveries.
type event struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

func newEvent(eventType string, payload map[string]interface{}) event {
	return event{EventID: uuid.New().String(), EventType: eventType, Timestamp: time.Now(), Payload: payload}
}

// Publisher fans lifecycle events out to the exchange. Every Publish*
// method is best-effort: a failure is logged at warn and never returned to
// the caller — nothing downstream of the core depends on these events
// arriving.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Connect dials RabbitMQ and declares the durable topic exchange.
func Connect(url string) (*Publisher, error) {
	if url == "" {
		return nil, fmt.Errorf("events: RABBITMQ_URL is required")
	}

	log.Info().Str("url", sanitizeURL(url)).Msg("connecting_to_rabbitmq")
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial %s: %w", sanitizeURL(url), err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}

	if err := channel.ExchangeDeclare(ExchangeName, ExchangeType, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange %s: %w", ExchangeName, err)
	}

	return &Publisher{conn: conn, channel: channel}, nil
}

func (p *Publisher) publish(routingKey string, payload map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	evt := newEvent(routingKey, payload)
	body, err := json.Marshal(evt)
	if err != nil {
		log.Warn().Err(err).Str("routing_key", routingKey).Msg("event_marshal_failed")
		return
	}

	err = p.channel.PublishWithContext(ctx, ExchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.Timestamp,
		MessageId:    evt.EventID,
	})
	if err != nil {
		log.Warn().Err(err).Str("routing_key", routingKey).Str("event_id", evt.EventID).Msg("event_publish_failed")
	}
}

func (p *Publisher) PublishReservationCreated(ctx context.Context, itemID, userID string, qty int) {
	p.publish(RoutingReservationCreated, map[string]interface{}{"item_id": itemID, "user_id": userID, "quantity": qty})
}

func (p *Publisher) PublishReservationReleased(ctx context.Context, itemID, userID string) {
	p.publish(RoutingReservationReleased, map[string]interface{}{"item_id": itemID, "user_id": userID})
}

func (p *Publisher) PublishReservationConfirmed(ctx context.Context, itemID, userID string) {
	p.publish(RoutingReservationConfirmed, map[string]interface{}{"item_id": itemID, "user_id": userID})
}

func (p *Publisher) PublishCartUpdated(ctx context.Context, sessionID string) {
	p.publish(RoutingCartUpdated, map[string]interface{}{"session_id": sessionID})
}

func (p *Publisher) PublishCartCleared(ctx context.Context, sessionID string) {
	p.publish(RoutingCartCleared, map[string]interface{}{"session_id": sessionID})
}

func (p *Publisher) PublishSessionIssued(ctx context.Context, sessionID, userID string) {
	p.publish(RoutingSessionIssued, map[string]interface{}{"session_id": sessionID, "user_id": userID})
}

func (p *Publisher) PublishSessionRevoked(ctx context.Context, sessionID string) {
	p.publish(RoutingSessionRevoked, map[string]interface{}{"session_id": sessionID})
}

// Close releases the channel, then the connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			log.Warn().Err(err).Msg("event_channel_close_failed")
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// sanitizeURL redacts the password component of an amqp URL before it is
// logged.
func sanitizeURL(url string) string {
	scheme := strings.Index(url, "://")
	if scheme == -1 {
		return url
	}
	rest := url[scheme+3:]
	colon := strings.Index(rest, ":")
	at := strings.Index(rest, "@")
	if colon == -1 || at == -1 || at < colon {
		return url
	}
	return url[:scheme+3+colon+1] + "***" + rest[at:]
}
