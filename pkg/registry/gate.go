package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

const gateLogPrefix = "registry:gate"

// State is a capability's state within one session.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// ParseState accepts "open" or "closed", case-sensitively.
func ParseState(s string) (State, bool) {
	switch State(s) {
	case StateOpen, StateClosed:
		return State(s), true
	}
	return "", false
}

// Gate holds per-session capability states. Sessions are created lazily and
// live for the lifetime of the process.
type Gate struct {
	mu         sync.Mutex
	alwaysOpen map[string]bool
	sessions   map[string]map[string]State
}

// NewGate creates a Gate. The built-in capability is always open in addition
// to the ones named.
func NewGate(alwaysOpen ...string) *Gate {
	g := &Gate{
		alwaysOpen: map[string]bool{BuiltinCapability: true},
		sessions:   make(map[string]map[string]State),
	}
	for _, c := range alwaysOpen {
		g.alwaysOpen[c] = true
	}
	return g
}

// AlwaysOpen reports whether capability is open in every session.
func (g *Gate) AlwaysOpen(capability string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.alwaysOpen[capability]
}

// IsOpen reports whether capability is open for session.
func (g *Gate) IsOpen(session, capability string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(session, capability) == StateOpen
}

// State returns capability's state for session.
func (g *Gate) State(session, capability string) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(session, capability)
}

func (g *Gate) stateLocked(session, capability string) State {
	if g.alwaysOpen[capability] {
		return StateOpen
	}
	if s, ok := g.sessions[session][capability]; ok {
		return s
	}
	return StateClosed
}

// Set moves capability to state for session and reports whether the state
// changed. Always-open capabilities cannot be closed.
func (g *Gate) Set(session, capability string, state State) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.alwaysOpen[capability] {
		return false
	}
	if g.stateLocked(session, capability) == state {
		return false
	}
	m, ok := g.sessions[session]
	if !ok {
		m = make(map[string]State)
		g.sessions[session] = m
	}
	m[capability] = state
	slog.Info(fmt.Sprintf("%s - session=%s capability=%s -> %s", gateLogPrefix, session, capability, state))
	return true
}

// Open is Set(session, capability, StateOpen).
func (g *Gate) Open(session, capability string) bool {
	return g.Set(session, capability, StateOpen)
}

// Close is Set(session, capability, StateClosed).
func (g *Gate) Close(session, capability string) bool {
	return g.Set(session, capability, StateClosed)
}

// OpenCapabilities returns the sorted names of every capability open for
// session, including the always-open set.
func (g *Gate) OpenCapabilities(session string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []string
	for c := range g.alwaysOpen {
		out = append(out, c)
	}
	for c, s := range g.sessions[session] {
		if s == StateOpen && !g.alwaysOpen[c] {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Forget drops all state for session.
func (g *Gate) Forget(session string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, session)
}

// Sessions returns how many sessions hold explicit state.
func (g *Gate) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}
