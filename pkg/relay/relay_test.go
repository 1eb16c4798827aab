package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"vkbridge/pkg/vk"
)

type fakeSource struct {
	batches [][]vk.Event
	errs    []error
	calls   int
	cancel  context.CancelFunc
}

func (f *fakeSource) Poll(ctx context.Context) ([]vk.Event, error) {
	if f.calls >= len(f.batches) {
		// drained, stop the run loop
		f.cancel()
		return nil, ctx.Err()
	}
	batch := f.batches[f.calls]
	var err error
	if f.calls < len(f.errs) {
		err = f.errs[f.calls]
	}
	f.calls++
	return batch, err
}

type fakePublisher struct {
	published  [][]byte
	failFirst  bool
	reconnects int
	sequence   *[]string
}

func (f *fakePublisher) Publish(_ context.Context, body []byte) error {
	if f.failFirst {
		f.failFirst = false
		return errors.New("channel closed")
	}
	if f.sequence != nil {
		*f.sequence = append(*f.sequence, "publish")
	}
	f.published = append(f.published, body)
	return nil
}

func (f *fakePublisher) Reconnect() error {
	f.reconnects++
	return nil
}

type fakeAnswerer struct {
	eventIDs []string
	err      error
	sequence *[]string
}

func (f *fakeAnswerer) AnswerCallback(_ context.Context, eventID string, _, _ int64, _ string) error {
	if f.sequence != nil {
		*f.sequence = append(*f.sequence, "answer")
	}
	f.eventIDs = append(f.eventIDs, eventID)
	return f.err
}

func runRelay(t *testing.T, source *fakeSource, publisher *fakePublisher, answerer *fakeAnswerer) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	source.cancel = cancel

	r := New(source, publisher, answerer, nil)
	if err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}

func messageEvent(fromID, peerID int64, text string) vk.Event {
	object, _ := json.Marshal(map[string]any{
		"message": map[string]any{"from_id": fromID, "peer_id": peerID, "text": text, "date": 1600000000},
	})
	return vk.Event{Type: vk.EventMessageNew, Object: object}
}

func TestRelayPublishesUserMessages(t *testing.T) {
	source := &fakeSource{batches: [][]vk.Event{{messageEvent(10, 10, "hi")}}}
	publisher := &fakePublisher{}

	runRelay(t, source, publisher, &fakeAnswerer{})

	if len(publisher.published) != 1 {
		t.Fatalf("published = %d envelopes, want 1", len(publisher.published))
	}

	var envelope MessageEnvelope
	if err := json.Unmarshal(publisher.published[0], &envelope); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if envelope.Type != vk.EventMessageNew || envelope.FromID != 10 || envelope.Text != "hi" {
		t.Fatalf("envelope = %+v", envelope)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(publisher.published[0], &raw); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if string(raw["attachments"]) != "[]" {
		t.Fatalf("attachments = %s, want empty list when the message has none", raw["attachments"])
	}
	if _, ok := raw["payload"]; !ok {
		t.Fatalf("payload key missing from envelope: %s", publisher.published[0])
	}
}

func TestRelaySkipsNonUserMessages(t *testing.T) {
	source := &fakeSource{batches: [][]vk.Event{{
		messageEvent(-19, 10, "community echo"),
		messageEvent(10, 2000000001, "group chat"),
	}}}
	publisher := &fakePublisher{}

	runRelay(t, source, publisher, &fakeAnswerer{})

	if len(publisher.published) != 0 {
		t.Fatalf("published = %d envelopes, want 0", len(publisher.published))
	}
}

func TestRelayAnswersCallbackBeforePublishing(t *testing.T) {
	event := vk.Event{
		Type:   vk.EventMessageEvent,
		Object: json.RawMessage(`{"event_id":"evt-1","user_id":10,"peer_id":10,"payload":{"choice":"yes"}}`),
	}
	source := &fakeSource{batches: [][]vk.Event{{event}}}

	var sequence []string
	publisher := &fakePublisher{sequence: &sequence}
	answerer := &fakeAnswerer{sequence: &sequence}

	runRelay(t, source, publisher, answerer)

	if len(answerer.eventIDs) != 1 || answerer.eventIDs[0] != "evt-1" {
		t.Fatalf("answered = %v, want [evt-1]", answerer.eventIDs)
	}
	if len(sequence) != 2 || sequence[0] != "answer" || sequence[1] != "publish" {
		t.Fatalf("sequence = %v, want the answer before the publish", sequence)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("published = %d envelopes, want 1", len(publisher.published))
	}

	var envelope CallbackEnvelope
	if err := json.Unmarshal(publisher.published[0], &envelope); err != nil {
		t.Fatalf("envelope is not valid JSON: %v", err)
	}
	if envelope.UserID != 10 || string(envelope.Payload) != `{"choice":"yes"}` {
		t.Fatalf("envelope = %+v", envelope)
	}
}

func TestRelayPublishesEvenWhenAnswerFails(t *testing.T) {
	event := vk.Event{
		Type:   vk.EventMessageEvent,
		Object: json.RawMessage(`{"event_id":"evt-2","user_id":11,"peer_id":11}`),
	}
	source := &fakeSource{batches: [][]vk.Event{{event}}}
	publisher := &fakePublisher{}

	runRelay(t, source, publisher, &fakeAnswerer{err: errors.New("api down")})

	if len(publisher.published) != 1 {
		t.Fatalf("published = %d envelopes, want 1", len(publisher.published))
	}
}

func TestRelayRetriesPublishThroughReconnect(t *testing.T) {
	source := &fakeSource{batches: [][]vk.Event{{messageEvent(10, 10, "hi")}}}
	publisher := &fakePublisher{failFirst: true}

	runRelay(t, source, publisher, &fakeAnswerer{})

	if publisher.reconnects != 1 {
		t.Fatalf("reconnects = %d, want 1", publisher.reconnects)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("published = %d envelopes, want 1 after reconnect", len(publisher.published))
	}
}

func TestRelaySurvivesPollErrors(t *testing.T) {
	source := &fakeSource{
		batches: [][]vk.Event{nil, {messageEvent(10, 10, "after error")}},
		errs:    []error{errors.New("long poll timeout"), nil},
	}
	publisher := &fakePublisher{}

	runRelay(t, source, publisher, &fakeAnswerer{})

	if len(publisher.published) != 1 {
		t.Fatalf("published = %d envelopes, want the post-error message", len(publisher.published))
	}
}
