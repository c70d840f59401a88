package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/morezero/coordinator/pkg/dispatch"
)

func TestNoOpPublisher(t *testing.T) {
	var pub Publisher = &NoOpPublisher{}
	ctx := context.Background()
	if err := pub.PublishRequest(ctx, &RequestEvent{}); err != nil {
		t.Errorf("events:publisher_test - PublishRequest: %v", err)
	}
	if err := pub.PublishTimeout(ctx, &RequestEvent{}); err != nil {
		t.Errorf("events:publisher_test - PublishTimeout: %v", err)
	}
	if err := pub.PublishTurn(ctx, &TurnEvent{}); err != nil {
		t.Errorf("events:publisher_test - PublishTurn: %v", err)
	}
	if err := pub.PublishCompletion(ctx, &CompletionEvent{}); err != nil {
		t.Errorf("events:publisher_test - PublishCompletion: %v", err)
	}
	if err := pub.PublishStream(ctx, &StreamEvent{}); err != nil {
		t.Errorf("events:publisher_test - PublishStream: %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var captured *TurnEvent
	boom := errors.New("boom")

	pub := &CallbackPublisher{
		OnTurn: func(_ context.Context, event *TurnEvent) error {
			captured = event
			return nil
		},
		OnTimeout: func(_ context.Context, _ *RequestEvent) error {
			return boom
		},
	}

	if err := pub.PublishTurn(context.Background(), &TurnEvent{Session: "s1", Reinvoke: true}); err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}
	if captured == nil || captured.Session != "s1" || !captured.Reinvoke {
		t.Fatalf("events:publisher_test - callback not called with event: %+v", captured)
	}
	if err := pub.PublishTimeout(context.Background(), &RequestEvent{}); !errors.Is(err, boom) {
		t.Errorf("events:publisher_test - callback error not returned: %v", err)
	}
	// Unset callbacks are skipped.
	if err := pub.PublishRequest(context.Background(), &RequestEvent{}); err != nil {
		t.Errorf("events:publisher_test - nil callback returned %v", err)
	}
}

func TestNewRequestEvent(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := dispatch.Request{
		BatchID:    "b1",
		Index:      2,
		Capability: "search",
		Action:     "web",
		Name:       "search.web",
		Parameters: map[string]string{"query": "go"},
		Originator: "coord-1",
		Result:     &dispatch.Result{TimedOut: true},
	}
	ev := NewRequestEvent(r, now)
	if ev.BatchID != "b1" || ev.Index != 2 || ev.Name != "search.web" || !ev.TimedOut {
		t.Errorf("events:publisher_test - event = %+v", ev)
	}
	if ev.Timestamp != "2024-05-01T12:00:00Z" {
		t.Errorf("events:publisher_test - Timestamp = %q", ev.Timestamp)
	}

	r.Result = nil
	if NewRequestEvent(r, now).TimedOut {
		t.Errorf("events:publisher_test - unresolved request marked timed out")
	}
}

func TestResultMessage_Result(t *testing.T) {
	m := &ResultMessage{Text: "ok", Error: "", Artifacts: []Artifact{{Name: "a.txt", URL: "blob://a"}}}
	res := m.Result()
	if res.Text != "ok" || len(res.Artifacts) != 1 || res.TimedOut {
		t.Errorf("events:publisher_test - Result() = %+v", res)
	}
}
