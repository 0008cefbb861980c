// Package events publishes catalog updates to RabbitMQ so downstream
// consumers (catalog loader, price alerting) see new records and patches
// without polling the dataset.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"beanscout/config"
	"beanscout/models"
)

// Actions carried in a Message.
const (
	ActionRecord = "record"
	ActionPatch  = "patch"
)

// Message is the wire envelope for one catalog update. Payload holds the
// record or patch exactly as persisted to the dataset.
type Message struct {
	Action    string          `json:"action"`
	Roaster   string          `json:"roaster"`
	URL       string          `json:"url"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher sends catalog updates to one exchange. It satisfies
// catalog.Notifier.
type Publisher struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

// Dial connects to the broker and declares the exchange, queue, and binding.
// Declarations are idempotent; every producer and consumer declares the same
// topology.
func Dial(cfg config.EventsConfig) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	queue, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.QueueName, err)
	}
	if err := ch.QueueBind(queue.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind queue %s: %w", queue.Name, err)
	}

	return &Publisher{
		conn:       conn,
		ch:         ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
	}, nil
}

// PublishRecord emits a full-record update.
func (p *Publisher) PublishRecord(ctx context.Context, rec *models.BeanRecord) error {
	msg, err := newRecordMessage(rec)
	if err != nil {
		return err
	}
	return p.publish(ctx, msg)
}

// PublishPatch emits a diff-patch update.
func (p *Publisher) PublishPatch(ctx context.Context, patch *models.DiffPatch) error {
	msg, err := newPatchMessage(patch)
	if err != nil {
		return err
	}
	return p.publish(ctx, msg)
}

func (p *Publisher) publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.Timestamp,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s event for %s: %w", msg.Action, msg.URL, err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() error {
	if p.ch != nil {
		p.ch.Close()
	}
	return p.conn.Close()
}

func newRecordMessage(rec *models.BeanRecord) (Message, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return Message{}, fmt.Errorf("encode record payload: %w", err)
	}
	return Message{
		Action:    ActionRecord,
		Roaster:   rec.Roaster,
		URL:       rec.URL,
		Timestamp: rec.ScrapedAt,
		Payload:   payload,
	}, nil
}

func newPatchMessage(patch *models.DiffPatch) (Message, error) {
	payload, err := json.Marshal(patch)
	if err != nil {
		return Message{}, fmt.Errorf("encode patch payload: %w", err)
	}
	return Message{
		Action:    ActionPatch,
		Roaster:   patch.Roaster,
		URL:       patch.URL,
		Timestamp: patch.ScrapedAt,
		Payload:   payload,
	}, nil
}
