package vk

import (
	"encoding/json"
	"fmt"
)

// Event types delivered by the Bots Long Poll server.
const (
	EventMessageNew   = "message_new"
	EventMessageEvent = "message_event"
)

// Event is one raw long-poll update. Object stays opaque until a typed view
// is requested; payload shapes VK defines beyond these two types pass
// through untouched.
type Event struct {
	Type    string          `json:"type"`
	GroupID int64           `json:"group_id,omitempty"`
	EventID string          `json:"event_id,omitempty"`
	Object  json.RawMessage `json:"object"`
}

// Message is the message_new view of an event object.
type Message struct {
	FromID      int64           `json:"from_id"`
	PeerID      int64           `json:"peer_id"`
	Text        string          `json:"text"`
	Date        int64           `json:"date"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// FromUser reports whether the message originates from a genuine user
// dialog: positive sender id and a peer equal to the sender. Community
// echoes carry negative ids, chat messages a differing peer.
func (m Message) FromUser() bool {
	return m.FromID > 0 && m.FromID == m.PeerID
}

// Message decodes the event object as a message_new payload.
//
// Since API 5.103 the message sits nested under object.message; older
// versions inline it. Both shapes are accepted.
func (e Event) Message() (Message, error) {
	if e.Type != EventMessageNew {
		return Message{}, fmt.Errorf("event type %q is not %s", e.Type, EventMessageNew)
	}

	var nested struct {
		Message *Message `json:"message"`
	}
	if err := json.Unmarshal(e.Object, &nested); err == nil && nested.Message != nil {
		return *nested.Message, nil
	}

	var flat Message
	if err := json.Unmarshal(e.Object, &flat); err != nil {
		return Message{}, fmt.Errorf("parse message_new object: %w", err)
	}

	return flat, nil
}

// CallbackEvent is the message_event view of an event object: one inline
// keyboard interaction awaiting acknowledgment.
type CallbackEvent struct {
	EventID string          `json:"event_id"`
	UserID  int64           `json:"user_id"`
	PeerID  int64           `json:"peer_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Callback decodes the event object as a message_event payload.
func (e Event) Callback() (CallbackEvent, error) {
	if e.Type != EventMessageEvent {
		return CallbackEvent{}, fmt.Errorf("event type %q is not %s", e.Type, EventMessageEvent)
	}

	var callback CallbackEvent
	if err := json.Unmarshal(e.Object, &callback); err != nil {
		return CallbackEvent{}, fmt.Errorf("parse message_event object: %w", err)
	}
	if callback.EventID == "" {
		callback.EventID = e.EventID
	}

	return callback, nil
}
