package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitConfig names the exchange outcome events go to.
type RabbitConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Rabbit publishes events as persistent JSON messages on a topic exchange.
type Rabbit struct {
	conn *amqp.Connection
	ch   channel
	cfg  RabbitConfig
	mu   sync.Mutex
}

// NewRabbit dials the broker and declares the exchange.
func NewRabbit(cfg RabbitConfig) (*Rabbit, error) {
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = TypeNotificationCompleted
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	return &Rabbit{conn: conn, ch: ch, cfg: cfg}, nil
}

// PublishCompleted implements Publisher.
func (r *Rabbit) PublishCompleted(ctx context.Context, ev Completed) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	err = r.ch.PublishWithContext(
		ctx,
		r.cfg.Exchange,
		r.cfg.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    ev.NotificationID,
			Type:         ev.Type,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (r *Rabbit) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.ch.Close()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
