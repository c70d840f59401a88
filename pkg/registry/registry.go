package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morezero/coordinator/pkg/semver"
)

const logPrefix = "registry:registry"

const defaultTTL = 300 * time.Second

// reservedActionName would collide with the capability's timeout subject.
const reservedActionName = "timeout"

// Config holds registry configuration.
type Config struct {
	// DefaultTTL is the liveness TTL for announcements that do not set one.
	DefaultTTL time.Duration
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{DefaultTTL: defaultTTL}
}

type entry struct {
	versions map[string]*Descriptor
	expires  time.Time
	pinned   bool
}

func (e *entry) live(now time.Time) bool {
	return e.pinned || now.Before(e.expires)
}

// Registry holds one entry per capability name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	config  Config
	now     func() time.Time
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	Config Config
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewRegistry creates a new Registry with the built-in capability pinned.
func NewRegistry(params NewRegistryParams) *Registry {
	cfg := params.Config
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	r := &Registry{
		entries: make(map[string]*entry),
		config:  cfg,
		now:     now,
	}
	if _, err := r.Pin(BuiltinAnnouncement()); err != nil {
		panic(fmt.Sprintf("%s - built-in capability rejected: %v", logPrefix, err))
	}
	return r
}

// BuiltinAnnouncement describes the privileged capability that opens and
// closes other capabilities for a session.
func BuiltinAnnouncement() *Announcement {
	return &Announcement{Descriptor: Descriptor{
		Capability:  BuiltinCapability,
		Version:     "1.0.0",
		Description: "Enable or disable capabilities for this conversation.",
		Actions: []Action{{
			Name:        ActionChangeState,
			Description: "Open or close a capability. Opening one makes its actions available on the next turn.",
			Parameters: []Parameter{
				{Name: ParamCapability, Description: "Capability name", Type: "string", Required: true},
				{Name: ParamState, Description: "open or closed", Type: "string", Required: true},
			},
		}},
	}}
}

// Announce registers or refreshes a capability version and extends the
// capability's liveness.
func (r *Registry) Announce(a *Announcement) (*Descriptor, error) {
	ttl := r.config.DefaultTTL
	if a != nil && a.TTLSeconds > 0 {
		ttl = time.Duration(a.TTLSeconds) * time.Second
	}
	return r.register(a, ttl, false)
}

// Pin registers a capability version that never expires.
func (r *Registry) Pin(a *Announcement) (*Descriptor, error) {
	return r.register(a, 0, true)
}

func (r *Registry) register(a *Announcement, ttl time.Duration, pinned bool) (*Descriptor, error) {
	d, err := validate(a)
	if err != nil {
		return nil, err
	}
	now := r.now()

	r.mu.Lock()
	e, ok := r.entries[d.Capability]
	if !ok {
		e = &entry{versions: make(map[string]*Descriptor)}
		r.entries[d.Capability] = e
	}
	// Descriptors are immutable; a re-announcement only refreshes liveness.
	existing, known := e.versions[d.Version]
	if !known {
		e.versions[d.Version] = d
		existing = d
	}
	if pinned {
		e.pinned = true
	} else if exp := now.Add(ttl); exp.After(e.expires) {
		e.expires = exp
	}
	r.mu.Unlock()

	if !known {
		slog.Info(fmt.Sprintf("%s - registered %s@%s (actions=%v pinned=%v)", logPrefix, d.Capability, d.Version, d.ActionNames(), pinned))
	} else {
		slog.Debug(fmt.Sprintf("%s - refreshed %s@%s", logPrefix, d.Capability, d.Version))
	}
	return existing, nil
}

func validate(a *Announcement) (*Descriptor, error) {
	if a == nil {
		return nil, NewError(CodeInvalidArgument, "announcement is required")
	}
	if !semver.ValidateCapabilityName(a.Capability) {
		return nil, NewError(CodeInvalidArgument, fmt.Sprintf("invalid capability name: %q", a.Capability))
	}
	version, err := semver.Normalize(a.Version)
	if err != nil {
		return nil, NewError(CodeInvalidArgument, err.Error())
	}
	if len(a.Actions) == 0 {
		return nil, NewError(CodeInvalidArgument, fmt.Sprintf("capability %s announces no actions", a.Capability))
	}
	seen := make(map[string]bool, len(a.Actions))
	for _, act := range a.Actions {
		if !semver.ValidateActionName(act.Name) {
			return nil, NewError(CodeInvalidArgument, fmt.Sprintf("invalid action name: %q", act.Name))
		}
		if act.Name == reservedActionName {
			return nil, NewError(CodeInvalidArgument, fmt.Sprintf("action name %q is reserved", act.Name))
		}
		if seen[act.Name] {
			return nil, NewError(CodeInvalidArgument, fmt.Sprintf("duplicate action: %s", act.Name))
		}
		seen[act.Name] = true
	}

	d := a.Descriptor
	d.Version = version
	d.Actions = append([]Action(nil), a.Actions...)
	return &d, nil
}

// Purge removes entries whose liveness has lapsed and returns their names.
func (r *Registry) Purge(now time.Time) []string {
	r.mu.Lock()
	var purged []string
	for name, e := range r.entries {
		if !e.live(now) {
			delete(r.entries, name)
			purged = append(purged, name)
		}
	}
	r.mu.Unlock()

	for _, name := range purged {
		slog.Info(fmt.Sprintf("%s - capability %s went offline", logPrefix, name))
	}
	return purged
}

// Exists reports whether a capability is registered and live.
func (r *Registry) Exists(capability string) bool {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[capability]
	return ok && e.live(now)
}
