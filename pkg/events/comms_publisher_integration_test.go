package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/coordinator/pkg/stream"
)

const integrationTestPrefix = "events:comms_publisher_integration_test"

// startTestServer starts an in-process NATS server for testing.
func startTestServer(t *testing.T, port int) (*comms.Conn, func()) {
	t.Helper()

	opts := &commsserver.Options{
		Host:   "127.0.0.1",
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", integrationTestPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", integrationTestPrefix)
	}

	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", integrationTestPrefix, err)
	}

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	}

	return nc, cleanup
}

// expectOn subscribes to subject and returns a channel receiving raw payloads.
func expectOn(t *testing.T, nc *comms.Conn, subject string) (<-chan []byte, func()) {
	t.Helper()
	ch := make(chan []byte, 4)
	sub, err := nc.Subscribe(subject, func(msg *comms.Msg) {
		ch <- msg.Data
	})
	if err != nil {
		t.Fatalf("%s - failed to subscribe to %s: %v", integrationTestPrefix, subject, err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("%s - flush failed: %v", integrationTestPrefix, err)
	}
	return ch, func() { sub.Unsubscribe() }
}

func receive(t *testing.T, ch <-chan []byte, v interface{}) {
	t.Helper()
	select {
	case data := <-ch:
		if err := json.Unmarshal(data, v); err != nil {
			t.Fatalf("%s - failed to unmarshal: %v", integrationTestPrefix, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - timeout waiting for message", integrationTestPrefix)
	}
}

func TestCommsPublisher_Request(t *testing.T) {
	nc, cleanup := startTestServer(t, 14230)
	defer cleanup()

	ch, unsub := expectOn(t, nc, "capability.search.web")
	defer unsub()

	pub := NewCommsPublisher(nc)
	err := pub.PublishRequest(context.Background(), &RequestEvent{
		BatchID: "b1", Index: 1, Capability: "search", Action: "web", Name: "search.web",
		Parameters: map[string]string{"query": "go"}, Originator: "coord-1",
	})
	if err != nil {
		t.Fatalf("%s - PublishRequest failed: %v", integrationTestPrefix, err)
	}

	var got RequestEvent
	receive(t, ch, &got)
	if got.BatchID != "b1" || got.Index != 1 || got.Parameters["query"] != "go" {
		t.Errorf("%s - received %+v", integrationTestPrefix, got)
	}
}

func TestCommsPublisher_TimeoutRouting(t *testing.T) {
	nc, cleanup := startTestServer(t, 14231)
	defer cleanup()

	qualified, unsubQ := expectOn(t, nc, "capability.search.timeout")
	defer unsubQ()
	fallback, unsubF := expectOn(t, nc, "capability.default.timeout")
	defer unsubF()

	pub := NewCommsPublisher(nc)
	ctx := context.Background()
	if err := pub.PublishTimeout(ctx, &RequestEvent{BatchID: "b1", Name: "search.web", TimedOut: true}); err != nil {
		t.Fatalf("%s - PublishTimeout failed: %v", integrationTestPrefix, err)
	}
	if err := pub.PublishTimeout(ctx, &RequestEvent{BatchID: "b2", Name: "unqualified", TimedOut: true}); err != nil {
		t.Fatalf("%s - PublishTimeout failed: %v", integrationTestPrefix, err)
	}

	var q, f RequestEvent
	receive(t, qualified, &q)
	receive(t, fallback, &f)
	if q.BatchID != "b1" || !q.TimedOut {
		t.Errorf("%s - qualified timeout = %+v", integrationTestPrefix, q)
	}
	if f.BatchID != "b2" {
		t.Errorf("%s - fallback timeout = %+v", integrationTestPrefix, f)
	}
}

func TestCommsPublisher_CoordinatorSubjects(t *testing.T) {
	nc, cleanup := startTestServer(t, 14232)
	defer cleanup()

	turns, unsubT := expectOn(t, nc, "coordinator.coord-1.turn")
	defer unsubT()
	completes, unsubC := expectOn(t, nc, "coordinator.coord-1.complete")
	defer unsubC()
	streams, unsubS := expectOn(t, nc, "coordinator.coord-1.stream")
	defer unsubS()

	pub := NewCommsPublisher(nc)
	ctx := context.Background()

	if err := pub.PublishTurn(ctx, &TurnEvent{Originator: "coord-1", Session: "s1", Text: "[0] search.web returned:\nok", Reinvoke: true}); err != nil {
		t.Fatalf("%s - PublishTurn failed: %v", integrationTestPrefix, err)
	}
	if err := pub.PublishCompletion(ctx, &CompletionEvent{Originator: "coord-1", Session: "s1", ResponseID: "r1", Reason: CompletionReasonNoFurtherAction}); err != nil {
		t.Fatalf("%s - PublishCompletion failed: %v", integrationTestPrefix, err)
	}
	if err := pub.PublishStream(ctx, &StreamEvent{Originator: "coord-1", Session: "s1", Update: stream.Update{ResponseID: "r1", Reasoning: "plan"}}); err != nil {
		t.Fatalf("%s - PublishStream failed: %v", integrationTestPrefix, err)
	}

	var turn TurnEvent
	receive(t, turns, &turn)
	if !turn.Reinvoke || turn.Session != "s1" {
		t.Errorf("%s - turn = %+v", integrationTestPrefix, turn)
	}
	var done CompletionEvent
	receive(t, completes, &done)
	if done.Reason != CompletionReasonNoFurtherAction {
		t.Errorf("%s - completion = %+v", integrationTestPrefix, done)
	}
	var se StreamEvent
	receive(t, streams, &se)
	if se.ResponseID != "r1" || se.Reasoning != "plan" {
		t.Errorf("%s - stream event = %+v", integrationTestPrefix, se)
	}
}
