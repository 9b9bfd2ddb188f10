package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"taskhive/pkg/otel"
	"taskhive/pkg/trace"
)

const traceHeader = "x-trace-id"

// Message 一条待发布的消息；ID 作为 AMQP MessageId，供消费端去重
type Message struct {
	ID         string
	RoutingKey string
	Body       []byte
}

type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	// amqp091.Channel 不是并发安全的
	mu sync.Mutex
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := DeclareExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	return &Publisher{
		conn:    conn,
		channel: ch,
	}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected checks if the publisher connection is still alive
func (p *Publisher) IsConnected() bool {
	if p.conn == nil || p.channel == nil {
		return false
	}
	return !p.conn.IsClosed()
}

// PublishWithContext publishes msg to the events exchange, carrying the
// trace id and the otel trace context in the headers.
func (p *Publisher) PublishWithContext(ctx context.Context, msg Message) error {
	ctx, span := otel.MQPublishSpan(ctx, msg.RoutingKey, ExchangeName)
	err := p.publish(ctx, ExchangeName, msg, amqp091.Table{})
	otel.EndSpan(span, err)
	return err
}

// PublishToDLQ publishes a message to the dead letter exchange.
func (p *Publisher) PublishToDLQ(ctx context.Context, msg Message, reason string) error {
	return p.publish(ctx, DLQExchangeName, msg, amqp091.Table{
		"x-original-error": reason,
		"x-failed-at":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (p *Publisher) publish(ctx context.Context, exchange string, msg Message, headers amqp091.Table) error {
	if traceID := trace.FromContext(ctx); traceID != "" {
		headers[traceHeader] = traceID
	}
	otel.InjectHeaders(ctx, headers)

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.PublishWithContext(ctx,
		exchange,
		msg.RoutingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			MessageId:    msg.ID,
			Body:         msg.Body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers:      headers,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.RoutingKey, err)
	}
	return nil
}
