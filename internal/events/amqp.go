package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeType = "topic"

// AMQPPublisher publishes to a durable topic exchange. When the broker
// drops the connection the next publish dials again.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

// DialAMQP connects and declares the exchange, retrying the dial a few times
// while the broker starts up.
func DialAMQP(ctx context.Context, url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, exchange: exchange, logger: logger}

	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		if err = p.connect(); err == nil {
			return p, nil
		}
		logger.Warn("rabbitmq dial failed", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return nil, fmt.Errorf("connect to rabbitmq: %w", err)
}

// connect must be called with mu held or before p is shared.
func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		p.exchange,   // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}

	closing := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if reason, ok := <-closing; ok {
			p.logger.Warn("rabbitmq connection lost", "reason", reason)
		}
	}()

	p.conn, p.ch = conn, ch
	return nil
}

func (p *AMQPPublisher) ensureOpen() error {
	if p.closed {
		return amqp.ErrClosed
	}
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.logger.Info("reconnecting to rabbitmq", "exchange", p.exchange)
	return p.connect()
}

func (p *AMQPPublisher) PublishOrderPlaced(ctx context.Context, event OrderPlaced) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order placed: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.OrderNumber,
		Timestamp:    event.PlacedAt,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureOpen(); err != nil {
		return fmt.Errorf("rabbitmq unavailable: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,            // exchange
		RoutingKeyOrderPlaced, // routing key
		false,                 // mandatory
		false,                 // immediate
		msg,
	)
	if errors.Is(err, amqp.ErrClosed) {
		// the close notification can trail the failed publish
		if err := p.ensureOpen(); err != nil {
			return fmt.Errorf("rabbitmq unavailable: %w", err)
		}
		err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKeyOrderPlaced, false, false, msg)
	}
	return err
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		p.conn.Close()
		return fmt.Errorf("close channel: %w", err)
	}
	return p.conn.Close()
}
