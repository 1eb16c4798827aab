package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer reads deliveries from one durable queue with a prefetch window of
// a single unacknowledged message. The next delivery arrives only after the
// current one is acked or nacked.
type Consumer struct {
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
}

// Consume opens a channel, declares the queue, and starts a manual-ack
// consumer on it.
func (s *Session) Consume(queueName string) (*Consumer, error) {
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queueName, err)
	}

	deliveries, err := ch.Consume(
		queueName,
		"",    // consumer tag, broker-generated
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume %q: %w", queueName, err)
	}

	return &Consumer{ch: ch, deliveries: deliveries}, nil
}

// Deliveries returns the stream of incoming messages. The channel closes when
// the broker connection or channel goes away.
func (c *Consumer) Deliveries() <-chan amqp.Delivery {
	return c.deliveries
}

// Close cancels the consumer channel, which also closes the delivery stream.
func (c *Consumer) Close() error {
	return c.ch.Close()
}
