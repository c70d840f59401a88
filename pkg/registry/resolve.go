package registry

import (
	"fmt"
	"log/slog"

	"github.com/morezero/coordinator/pkg/semver"
)

const resolveLogPrefix = "registry:resolve"

// Resolved is the outcome of a successful lookup.
type Resolved struct {
	Descriptor *Descriptor
	Action     *Action
}

// Lookup selects the highest live version of capability that offers action
// and satisfies rng. An empty rng accepts any version.
func (r *Registry) Lookup(capability, action, rng string) (*Resolved, *Error) {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[capability]
	if !ok || !e.live(now) {
		return nil, NewError(CodeUnknownCapability, fmt.Sprintf("capability not available: %s", capability))
	}

	var versions []string
	for v, d := range e.versions {
		if d.Action(action) != nil {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return nil, NewError(CodeUnknownAction, fmt.Sprintf("capability %s has no action %s", capability, action))
	}

	v, ok := semver.SelectVersion(semver.SelectVersionParams{Versions: versions, Range: rng})
	if !ok {
		return nil, NewError(CodeUnknownCapability, fmt.Sprintf("no live version of %s satisfies %q", capability, rng))
	}
	d := e.versions[v]
	slog.Debug(fmt.Sprintf("%s - %s.%s@%s -> %s", resolveLogPrefix, capability, action, rng, v))
	return &Resolved{Descriptor: d, Action: d.Action(action)}, nil
}
