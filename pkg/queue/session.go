// Package queue wraps the RabbitMQ connection handling the bridge needs:
// dial-with-retry, fanout publishers, and a prefetch-limited consumer.
//
// Each bridge unit owns its own Session. AMQP channels are single-owner and
// never shared across units.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultHeartbeat = 30 * time.Second
	maxDialDelay     = 60 * time.Second
)

// Options configures one broker session.
type Options struct {
	URL           string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

// Session owns one AMQP connection.
type Session struct {
	conn *amqp.Connection
	log  *slog.Logger
}

// Dial connects to RabbitMQ with exponential backoff, honoring context
// cancellation for graceful shutdown.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	if opts.URL == "" {
		return nil, errors.New("broker URL is required")
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "queue.session")

	var lastErr error
	for attempt := 1; attempt <= opts.RetryAttempts; attempt++ {
		conn, err := amqp.DialConfig(opts.URL, amqp.Config{Heartbeat: defaultHeartbeat})
		if err == nil {
			if attempt > 1 {
				log.Info("Broker connected", "attempt", attempt)
			}
			return &Session{conn: conn, log: log}, nil
		}
		lastErr = err

		sleep := backoffDelay(attempt, opts.Delay, maxDialDelay)
		log.Warn("Broker dial failed", "attempt", attempt, "sleep", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("failed to connect to broker after %d attempts: %w", opts.RetryAttempts, lastErr)
}

// backoffDelay computes the capped exponential delay before a retry.
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	sleep := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if cap > 0 && sleep > cap {
		sleep = cap
	}
	return sleep
}

// Close shuts down the underlying connection and all channels on it.
func (s *Session) Close() error {
	if s.conn == nil || s.conn.IsClosed() {
		return nil
	}
	return s.conn.Close()
}
