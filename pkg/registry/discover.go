package registry

import (
	"sort"
	"time"

	"github.com/morezero/coordinator/pkg/semver"
)

// Available lists every live capability, sorted by name, with its latest
// version's description and actions.
func (r *Registry) Available() []Summary {
	now := r.now()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.entries))
	for name, e := range r.entries {
		if !e.live(now) {
			continue
		}
		versions := make([]string, 0, len(e.versions))
		for v := range e.versions {
			versions = append(versions, v)
		}
		semver.SortDesc(versions)
		latest, _ := semver.SelectVersion(semver.SelectVersionParams{Versions: versions})
		d := e.versions[latest]

		s := Summary{
			Capability:  name,
			Version:     latest,
			Versions:    versions,
			Description: d.Description,
			Actions:     d.ActionNames(),
			Pinned:      e.pinned,
		}
		if !e.pinned {
			s.ExpiresAt = e.expires.UTC().Format(time.RFC3339)
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Capability < out[j].Capability })
	return out
}
