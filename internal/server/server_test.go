package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/morezero/coordinator/internal/config"
	"github.com/morezero/coordinator/pkg/bootstrap"
	"github.com/morezero/coordinator/pkg/dispatcher"
	"github.com/morezero/coordinator/pkg/registry"
)

const serverTestPrefix = "server:server_test"

func testConfig() *config.Config {
	return &config.Config{
		COMMSName:          "coord-test",
		BatchTimeout:       time.Minute,
		StaleSweepLimit:    3,
		StreamIdleTimeout:  time.Minute,
		SweepInterval:      time.Second,
		RegistryTTL:        time.Minute,
		RequestTimeout:     5 * time.Second,
		HTTPAddr:           "127.0.0.1:0",
		HealthCheckTimeout: 5 * time.Second,
	}
}

func testBootstrap() *bootstrap.Config {
	return &bootstrap.Config{
		Name:       "server-test",
		AlwaysOpen: []string{"memory"},
		Capabilities: []registry.Announcement{
			{Descriptor: registry.Descriptor{
				Capability:  "memory",
				Version:     "1.0.0",
				Description: "Conversation memory",
				Actions:     []registry.Action{{Name: "recall"}},
			}},
		},
	}
}

// testServer returns a Server without COMMS or journal for handler tests.
func testServer(t *testing.T) *Server {
	t.Helper()
	s, err := newServer(newServerParams{Config: testConfig(), Bootstrap: testBootstrap()})
	if err != nil {
		t.Fatalf("%s - newServer failed: %v", serverTestPrefix, err)
	}
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewServer_InvalidOriginator(t *testing.T) {
	cfg := testConfig()
	cfg.COMMSName = "has.dots"
	if _, err := newServer(newServerParams{Config: cfg}); err == nil {
		t.Errorf("%s - expected error for dotted originator", serverTestPrefix)
	}
}

func TestNewServer_RejectedBootstrap(t *testing.T) {
	boot := &bootstrap.Config{Capabilities: []registry.Announcement{
		{Descriptor: registry.Descriptor{Capability: "empty"}},
	}}
	if _, err := newServer(newServerParams{Config: testConfig(), Bootstrap: boot}); err == nil {
		t.Errorf("%s - expected error for capability without actions", serverTestPrefix)
	}
}

func TestNewServer_AppliesBootstrap(t *testing.T) {
	s := testServer(t)
	if !s.coord.Registry().Exists("memory") {
		t.Errorf("%s - bootstrap capability not registered", serverTestPrefix)
	}
	if !s.coord.Gate().IsOpen("any-session", "memory") {
		t.Errorf("%s - alwaysOpen capability is not open", serverTestPrefix)
	}
	if s.httpServer.Addr != "127.0.0.1:0" {
		t.Errorf("%s - Addr = %q", serverTestPrefix, s.httpServer.Addr)
	}
}

func TestSubscribe_RequiresConnection(t *testing.T) {
	s := testServer(t)
	if err := s.Subscribe(context.Background()); err == nil {
		t.Errorf("%s - expected error without COMMS connection", serverTestPrefix)
	}
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t)
	rec := get(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - status = %d, want 200", serverTestPrefix, rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s - invalid JSON: %v", serverTestPrefix, err)
	}
	if body["status"] != "ok" || body["originator"] != "coord-test" {
		t.Errorf("%s - body = %v", serverTestPrefix, body)
	}
}

func newFailingDispatcher(s *Server) *dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Coordinator: s.coord,
		Checks: map[string]dispatcher.HealthCheck{
			"journal": func(context.Context) error { return errors.New("unreachable") },
		},
	})
}

func TestHandleHealth_Degraded(t *testing.T) {
	s := testServer(t)
	s.disp = newFailingDispatcher(s)
	rec := get(t, s, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("%s - status = %d, want 503", serverTestPrefix, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "degraded") {
		t.Errorf("%s - body = %s", serverTestPrefix, rec.Body.String())
	}
}

func TestHandleReady(t *testing.T) {
	rec := get(t, testServer(t), "/ready")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ready") {
		t.Errorf("%s - /ready = %d %s", serverTestPrefix, rec.Code, rec.Body.String())
	}
}

func TestHandleCapabilities(t *testing.T) {
	s := testServer(t)
	rec := get(t, s, "/capabilities?session=s1")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - status = %d, body %s", serverTestPrefix, rec.Code, rec.Body.String())
	}
	var body struct {
		Session      string `json:"session"`
		Capabilities []struct {
			Capability string `json:"capability"`
			State      string `json:"state"`
		} `json:"capabilities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s - invalid JSON: %v", serverTestPrefix, err)
	}
	if body.Session != "s1" {
		t.Errorf("%s - session = %q, want s1", serverTestPrefix, body.Session)
	}
	states := make(map[string]string)
	for _, c := range body.Capabilities {
		states[c.Capability] = c.State
	}
	if states["memory"] != string(registry.StateOpen) {
		t.Errorf("%s - memory state = %q, want open", serverTestPrefix, states["memory"])
	}
	if _, ok := states[registry.BuiltinCapability]; !ok {
		t.Errorf("%s - built-in capability missing from %v", serverTestPrefix, states)
	}
}

func TestHandleHome(t *testing.T) {
	s := testServer(t)

	rec := get(t, s, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - status = %d", serverTestPrefix, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("%s - Content-Type = %q", serverTestPrefix, ct)
	}
	for _, want := range []string{"Coordinator coord-test", "memory", "Conversation memory", "No outstanding batches"} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("%s - home page missing %q", serverTestPrefix, want)
		}
	}

	if rec := get(t, s, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("%s - /nope status = %d, want 404", serverTestPrefix, rec.Code)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	s := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("%s - Serve returned %v", serverTestPrefix, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("%s - Serve did not stop after cancel", serverTestPrefix)
	}
}
