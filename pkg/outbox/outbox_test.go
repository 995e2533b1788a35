package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pkagent/pkg/trace"
)

type recordingPublisher struct {
	routingKey string
	payload    any
	traceID    string
	err        error
}

func (p *recordingPublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	p.routingKey = routingKey
	p.payload = payload
	p.traceID = trace.FromContext(ctx)
	return p.err
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	status, next := nextAttempt(2, 5, now)
	if status != StatusPending || next == nil || !next.Equal(now.Add(10*time.Second)) {
		t.Errorf("retry 2: got (%s, %v)", status, next)
	}

	status, next = nextAttempt(5, 5, now)
	if status != StatusFailed || next != nil {
		t.Errorf("retry 5: got (%s, %v), want failed with no next retry", status, next)
	}
}

func TestNewEvent(t *testing.T) {
	e, err := NewEvent("subtask", "abc", "subtask.intervention_due", map[string]string{"trace_id": "t1"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if e.Status != StatusPending || e.AggregateID != "abc" {
		t.Errorf("unexpected event %+v", e)
	}
	if !json.Valid(e.Payload) {
		t.Errorf("payload is not valid JSON: %s", e.Payload)
	}
}

func TestPublishEvent_PropagatesTraceID(t *testing.T) {
	pub := &recordingPublisher{}
	event := &Event{ID: 7, RoutingKey: "goal.created", Payload: json.RawMessage(`{"trace_id":"abc123","goal_id":"g"}`)}

	if err := publishEvent(context.Background(), pub, event); err != nil {
		t.Fatalf("publishEvent: %v", err)
	}
	if pub.routingKey != "goal.created" {
		t.Errorf("routing key: got %q", pub.routingKey)
	}
	if pub.traceID != "abc123" {
		t.Errorf("trace id: got %q, want abc123", pub.traceID)
	}
}

func TestPublishEvent_RejectsInvalidPayload(t *testing.T) {
	pub := &recordingPublisher{}
	err := publishEvent(context.Background(), pub, &Event{ID: 1, Payload: json.RawMessage(`{`)})
	if err == nil {
		t.Fatal("expected error for invalid payload")
	}
	if pub.routingKey != "" {
		t.Error("publisher must not be called for invalid payload")
	}
}

func TestPublishEvent_WrapsPublisherError(t *testing.T) {
	boom := errors.New("channel closed")
	pub := &recordingPublisher{err: boom}
	err := publishEvent(context.Background(), pub, &Event{ID: 1, RoutingKey: "x", Payload: json.RawMessage(`{}`)})
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped %v", err, boom)
	}
}
