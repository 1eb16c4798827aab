package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher writes persistent JSON messages to one durable fanout exchange.
// It owns its channel and must not be shared between goroutines.
type Publisher struct {
	session  *Session
	ch       *amqp.Channel
	exchange string
}

// Publisher opens a channel and declares the exchange. The declaration is
// idempotent so relay and dispatcher can both bind to the same exchange.
func (s *Session) Publisher(exchange string) (*Publisher, error) {
	p := &Publisher{session: s, exchange: exchange}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) open() error {
	ch, err := p.session.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		p.exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		return fmt.Errorf("declare exchange %q: %w", p.exchange, err)
	}
	p.ch = ch
	return nil
}

// Publish sends body as a persistent JSON message. Fanout routing ignores the
// routing key, so it stays empty.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	err := p.ch.PublishWithContext(ctx,
		p.exchange,
		"",    // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish to %q: %w", p.exchange, err)
	}
	return nil
}

// Reconnect replaces the channel after a broker-side channel error. The
// underlying connection is reused.
func (p *Publisher) Reconnect() error {
	if p.ch != nil {
		p.ch.Close()
	}
	return p.open()
}

// Close releases the channel.
func (p *Publisher) Close() error {
	if p.ch == nil {
		return nil
	}
	return p.ch.Close()
}
