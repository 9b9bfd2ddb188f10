package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"taskhive/pkg/metrics"
	"taskhive/pkg/otel"
	"taskhive/pkg/trace"
)

// Delivery 交给 handler 的消息
type Delivery struct {
	ID         string
	RoutingKey string
	Body       []byte
}

type MessageHandler func(ctx context.Context, d Delivery) error

// PermanentError 不可重试的失败，消息转入死信队列
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent 标记 err 不可重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

type Consumer struct {
	conn        *amqp091.Connection
	channel     *amqp091.Channel
	queue       amqp091.Queue
	routingKeys []string
	tag         string
	handler     MessageHandler
	logger      *zap.Logger
}

// NewConsumer declares queueName, binds it to every routing key and prepares
// the matching dead letter queue.
func NewConsumer(url, queueName string, routingKeys []string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	c := &Consumer{
		conn:        conn,
		channel:     ch,
		routingKeys: routingKeys,
		tag:         "taskhive-worker",
		logger:      logger,
	}
	if err := c.declare(queueName); err != nil {
		c.Close()
		return nil, err
	}

	logger.Info("Consumer initialized",
		zap.Strings("routing_keys", routingKeys),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)
	return c, nil
}

func (c *Consumer) declare(queueName string) error {
	if err := DeclareExchange(c.channel); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(c.channel); err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}
	if _, err := DeclareDLQQueue(c.channel, queueName, c.routingKeys); err != nil {
		return err
	}

	q, err := c.channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	for _, key := range c.routingKeys {
		if err := c.channel.QueueBind(q.Name, key, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
	}
	if err := c.channel.Qos(16, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	c.queue = q
	return nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// Stop cancels the delivery stream; StartConsuming returns afterwards.
func (c *Consumer) Stop() {
	if c.channel != nil {
		_ = c.channel.Cancel(c.tag, false)
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming blocks until ctx is done or the delivery channel closes.
// Every message is acked, requeued or dead-lettered exactly once.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.tag,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages", zap.String("queue", c.queue.Name))

	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp091.Delivery) {
	start := time.Now()
	ctx = otel.ExtractHeaders(ctx, msg.Headers)
	if traceID, ok := msg.Headers[traceHeader].(string); ok && traceID != "" {
		ctx = trace.WithContext(ctx, traceID)
	}
	ctx, span := otel.MQConsumeSpan(ctx, msg.RoutingKey, c.queue.Name)

	var handlerErr error
	defer func() {
		if r := recover(); r != nil {
			handlerErr = fmt.Errorf("handler panic: %v", r)
			c.logger.Error("Handler panic recovered",
				zap.String("routing_key", msg.RoutingKey),
				zap.Any("panic", r),
			)
			c.nack(msg)
		}
		otel.EndSpan(span, handlerErr)
		metrics.RecordMQConsumeLatency(msg.RoutingKey, c.queue.Name, time.Since(start))
	}()

	handlerErr = c.handler(ctx, Delivery{ID: msg.MessageId, RoutingKey: msg.RoutingKey, Body: msg.Body})
	if handlerErr == nil {
		if err := msg.Ack(false); err != nil {
			c.logger.Error("Failed to ack message", zap.String("routing_key", msg.RoutingKey), zap.Error(err))
		}
		return
	}

	var permanent *PermanentError
	if errors.As(handlerErr, &permanent) {
		c.logger.Error("Handler failed permanently, dead-lettering",
			zap.String("routing_key", msg.RoutingKey),
			zap.String("message_id", msg.MessageId),
			zap.Error(handlerErr),
		)
		c.deadLetter(ctx, msg, handlerErr)
		return
	}

	c.logger.Warn("Handler error, requeueing",
		zap.String("routing_key", msg.RoutingKey),
		zap.String("message_id", msg.MessageId),
		zap.Error(handlerErr),
	)
	c.nack(msg)
}

func (c *Consumer) nack(msg amqp091.Delivery) {
	if err := msg.Nack(false, true); err != nil {
		c.logger.Error("Failed to nack message", zap.String("routing_key", msg.RoutingKey), zap.Error(err))
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg amqp091.Delivery, cause error) {
	err := c.channel.PublishWithContext(ctx, DLQExchangeName, msg.RoutingKey, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		MessageId:    msg.MessageId,
		Body:         msg.Body,
		DeliveryMode: amqp091.Persistent,
		Headers:      amqp091.Table{"x-original-error": cause.Error()},
	})
	if err != nil {
		c.logger.Error("Failed to publish to DLQ, requeueing", zap.Error(err))
		c.nack(msg)
		return
	}
	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack dead-lettered message", zap.Error(err))
	}
}
