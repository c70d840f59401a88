package registry

import (
	"fmt"

	"github.com/morezero/coordinator/pkg/semver"
)

// Describe returns the latest live descriptor of a capability. Callers decide
// whether the session may see its detail text.
func (r *Registry) Describe(capability string) (*Descriptor, *Error) {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[capability]
	if !ok || !e.live(now) {
		return nil, NewError(CodeUnknownCapability, fmt.Sprintf("capability not available: %s", capability))
	}
	versions := make([]string, 0, len(e.versions))
	for v := range e.versions {
		versions = append(versions, v)
	}
	latest, _ := semver.SelectVersion(semver.SelectVersionParams{Versions: versions})
	d := *e.versions[latest]
	return &d, nil
}

// WithoutDetail returns a copy of d with every detail field cleared.
func (d *Descriptor) WithoutDetail() Descriptor {
	c := *d
	c.Detail = ""
	c.Actions = make([]Action, len(d.Actions))
	for i, a := range d.Actions {
		a.Detail = ""
		a.Examples = nil
		c.Actions[i] = a
	}
	return c
}
