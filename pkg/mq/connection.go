package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName    = "taskhive.events"
	DLQExchangeName = "taskhive.events.dlq"
)

// NewConnection creates a new RabbitMQ connection.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the events exchange.
func DeclareExchange(ch *amqp091.Channel) error {
	return declareTopic(ch, ExchangeName)
}

// DeclareDLQExchange declares the dead letter exchange.
func DeclareDLQExchange(ch *amqp091.Channel) error {
	return declareTopic(ch, DLQExchangeName)
}

func declareTopic(ch *amqp091.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// DeclareDLQQueue declares "<queue>.dlq" bound to the dead letter exchange
// for every routing key the main queue listens to.
func DeclareDLQQueue(ch *amqp091.Channel, queue string, routingKeys []string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(queue+".dlq", true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(q.Name, key, DLQExchangeName, false, nil); err != nil {
			return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
		}
	}
	return q, nil
}
