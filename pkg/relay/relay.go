// Package relay moves user-originated chat events from the long-poll stream
// into the human-message exchange.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"vkbridge/pkg/vk"
)

// pollPause keeps the poll loop from spinning hot when the long-poll server
// answers immediately.
const pollPause = time.Millisecond

// EventSource yields batches of chat platform events.
type EventSource interface {
	Poll(ctx context.Context) ([]vk.Event, error)
}

// Publisher writes one serialized envelope to the outbound exchange.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
	Reconnect() error
}

// CallbackAnswerer acknowledges a button press back to the chat platform so
// the client stops its spinner.
type CallbackAnswerer interface {
	AnswerCallback(ctx context.Context, eventID string, userID, peerID int64, eventData string) error
}

// MessageEnvelope is the wire form of a relayed incoming message. Every key
// is always present; absent attachments serialize as an empty list.
type MessageEnvelope struct {
	Type        string          `json:"type"`
	FromID      int64           `json:"from_id"`
	PeerID      int64           `json:"peer_id"`
	Text        string          `json:"text"`
	Date        int64           `json:"date"`
	Attachments json.RawMessage `json:"attachments"`
	Payload     json.RawMessage `json:"payload"`
}

// CallbackEnvelope is the wire form of a relayed button press.
type CallbackEnvelope struct {
	Type    string          `json:"type"`
	UserID  int64           `json:"user_id"`
	PeerID  int64           `json:"peer_id"`
	Payload json.RawMessage `json:"payload"`
}

// Relay runs the inbound half of the bridge.
type Relay struct {
	source    EventSource
	publisher Publisher
	answerer  CallbackAnswerer
	log       *slog.Logger
}

func New(source EventSource, publisher Publisher, answerer CallbackAnswerer, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		source:    source,
		publisher: publisher,
		answerer:  answerer,
		log:       log.With("component", "relay"),
	}
}

// Run polls for events until the context is cancelled. Poll and publish
// failures are logged and the loop keeps going; only cancellation stops it.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("Relay started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("Relay stopped")
			return ctx.Err()
		default:
		}

		events, err := r.source.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.log.Info("Relay stopped")
				return ctx.Err()
			}
			r.log.Error("Poll failed", "error", err)
			time.Sleep(pollPause)
			continue
		}

		for _, event := range events {
			if err := r.handleEvent(ctx, event); err != nil {
				r.log.Error("Event dropped", "type", event.Type, "error", err)
			}
		}

		time.Sleep(pollPause)
	}
}

func (r *Relay) handleEvent(ctx context.Context, event vk.Event) error {
	switch event.Type {
	case vk.EventMessageNew:
		return r.relayMessage(ctx, event)
	case vk.EventMessageEvent:
		return r.relayCallback(ctx, event)
	default:
		r.log.Debug("Ignoring event", "type", event.Type)
		return nil
	}
}

func (r *Relay) relayMessage(ctx context.Context, event vk.Event) error {
	msg, err := event.Message()
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if !msg.FromUser() {
		r.log.Debug("Skipping non-user message", "from_id", msg.FromID, "peer_id", msg.PeerID)
		return nil
	}

	attachments := msg.Attachments
	if len(attachments) == 0 {
		attachments = json.RawMessage("[]")
	}

	envelope := MessageEnvelope{
		Type:        vk.EventMessageNew,
		FromID:      msg.FromID,
		PeerID:      msg.PeerID,
		Text:        msg.Text,
		Date:        msg.Date,
		Attachments: attachments,
		Payload:     msg.Payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	r.log.Info("Relaying message", "from_id", msg.FromID)
	return r.publish(ctx, body)
}

func (r *Relay) relayCallback(ctx context.Context, event vk.Event) error {
	callback, err := event.Callback()
	if err != nil {
		return fmt.Errorf("decode callback: %w", err)
	}

	// Answer first so the client's spinner clears even if publishing has to
	// reconnect. A failed answer is logged, not fatal.
	if err := r.answerer.AnswerCallback(ctx, callback.EventID, callback.UserID, callback.PeerID, ""); err != nil {
		r.log.Warn("Callback answer failed", "event_id", callback.EventID, "error", err)
	}

	envelope := CallbackEnvelope{
		Type:    vk.EventMessageEvent,
		UserID:  callback.UserID,
		PeerID:  callback.PeerID,
		Payload: callback.Payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	r.log.Info("Relaying callback", "user_id", callback.UserID)
	return r.publish(ctx, body)
}

// publish retries once through a channel reconnect before giving up on the
// event.
func (r *Relay) publish(ctx context.Context, body []byte) error {
	err := r.publisher.Publish(ctx, body)
	if err == nil {
		return nil
	}
	r.log.Warn("Publish failed, reconnecting channel", "error", err)

	if rerr := r.publisher.Reconnect(); rerr != nil {
		return fmt.Errorf("reconnect after publish failure: %w", rerr)
	}
	if err := r.publisher.Publish(ctx, body); err != nil {
		return fmt.Errorf("publish after reconnect: %w", err)
	}
	return nil
}
