package discovery

import (
	"sort"

	"github.com/canonical/packastack/internal/releases"
	"github.com/canonical/packastack/internal/upstream"
)

// CrossReference marks discovered packages absent from both release
// metadata and the upstream registry as "missing-upstream", and marks
// deliverables present in release metadata but absent from discovery as
// "missing-packaging". Registry lookups go through the same
// python-/alias resolution rules as internal/upstream.
func CrossReference(discovered []string, reg *upstream.Registry, known map[string]*releases.Deliverable) map[string]FilterReason {
	warnings := map[string]FilterReason{}

	inDiscovery := make(map[string]bool, len(discovered))
	for _, name := range discovered {
		inDiscovery[name] = true
		_, inReleases := known[name]
		if !inReleases && !reg.HasExplicitEntry(name) {
			warnings[name] = ReasonMissingUpstream
		}
	}

	names := make([]string, 0, len(known))
	for name := range known {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !inDiscovery[name] {
			warnings[name] = ReasonMissingPackaging
		}
	}
	return warnings
}
