// Package dispatch consumes outbound delivery orders from the bot-message
// queue, sends them to the chat platform, and reports the per-recipient
// outcome on the status exchange.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"vkbridge/pkg/vk"
)

// ErrStreamClosed reports that the broker closed the delivery stream, which
// means the connection or channel died underneath the consumer.
var ErrStreamClosed = errors.New("delivery stream closed")

// Sender delivers one message to one recipient.
type Sender interface {
	SendMessage(ctx context.Context, userID int64, text string, randomID int64, keyboard *vk.Keyboard) error
}

// ReportPublisher writes delivery reports to the status exchange.
type ReportPublisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Dispatcher runs the outbound half of the bridge. The consumer it reads
// from has a prefetch window of one, so at most one request is in flight.
type Dispatcher struct {
	deliveries <-chan amqp.Delivery
	sender     Sender
	reports    ReportPublisher
	log        *slog.Logger
	now        func() time.Time
}

func New(deliveries <-chan amqp.Delivery, sender Sender, reports ReportPublisher, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		deliveries: deliveries,
		sender:     sender,
		reports:    reports,
		log:        log.With("component", "dispatch"),
		now:        time.Now,
	}
}

// Run processes deliveries until the context is cancelled or the stream
// closes. A request already picked up is finished before cancellation takes
// effect.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("Dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info("Dispatcher stopped")
			return ctx.Err()
		case delivery, ok := <-d.deliveries:
			if !ok {
				d.log.Error("Delivery stream closed by broker")
				return ErrStreamClosed
			}
			d.handle(ctx, delivery)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, delivery amqp.Delivery) {
	// A picked-up request runs to completion even when shutdown lands
	// mid-batch; cancellation is only observed between deliveries. Otherwise
	// untried recipients would be reported as delivery failures.
	ctx = context.WithoutCancel(ctx)

	var request SendRequest
	if err := json.Unmarshal(delivery.Body, &request); err != nil {
		d.log.Error("Dropping malformed request", "error", err)
		d.nack(delivery)
		return
	}

	keyboard, err := buildKeyboard(request.Message.Keyboard)
	if err != nil {
		d.log.Error("Dropping request with bad keyboard", "seed", request.Seed, "error", err)
		d.nack(delivery)
		return
	}

	report := DeliveryReport{
		Time: d.now().Truncate(time.Second).Format(time.RFC3339),
		Seed: request.Seed,
		VKUsers: UserReport{
			Success: []int64{},
			Failure: []int64{},
		},
	}

	for _, userID := range request.VKIDs {
		err := d.sender.SendMessage(ctx, userID, request.Message.Text, recipientID(request.Seed, userID), keyboard)
		if err != nil {
			d.log.Warn("Delivery failed", "seed", request.Seed, "user_id", userID, "error", err)
			report.VKUsers.Failure = append(report.VKUsers.Failure, userID)
			continue
		}
		report.VKUsers.Success = append(report.VKUsers.Success, userID)
	}

	d.publishReport(ctx, report)

	if len(report.VKUsers.Failure) > 0 {
		d.nack(delivery)
		return
	}
	if err := delivery.Ack(false); err != nil {
		d.log.Error("Ack failed", "seed", request.Seed, "error", err)
	}
}

func (d *Dispatcher) publishReport(ctx context.Context, report DeliveryReport) {
	body, err := json.Marshal(report)
	if err != nil {
		d.log.Error("Encode report failed", "seed", report.Seed, "error", err)
		return
	}
	if err := d.reports.Publish(ctx, body); err != nil {
		d.log.Error("Publish report failed", "seed", report.Seed, "error", err)
	}
}

// nack rejects without requeue. Redelivery would repeat the already-sent
// portion of a partially failed request.
func (d *Dispatcher) nack(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		d.log.Error("Nack failed", "error", err)
	}
}
