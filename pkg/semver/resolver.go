package semver

import (
	"fmt"
	"log/slog"
	"sort"

	masterminds "github.com/Masterminds/semver/v3"
)

const resolverLogPrefix = "semver:resolver"

// SelectVersionParams holds parameters for SelectVersion.
type SelectVersionParams struct {
	// Versions are the candidate version strings; unparseable ones are skipped.
	Versions []string
	// Range is a SemVer range, a major-only specifier, an exact version, or empty.
	Range string
}

// SelectVersion returns the highest candidate satisfying the range. Without a
// range, stable releases are preferred over prereleases.
func SelectVersion(params SelectVersionParams) (string, bool) {
	parsed := make([]*masterminds.Version, 0, len(params.Versions))
	for _, v := range params.Versions {
		sv, err := masterminds.NewVersion(v)
		if err != nil {
			slog.Debug(fmt.Sprintf("%s - skipping unparseable version %q", resolverLogPrefix, v))
			continue
		}
		parsed = append(parsed, sv)
	}
	if len(parsed) == 0 {
		return "", false
	}
	sortVersionsDesc(parsed)

	// Case 1: No range - latest stable, else latest prerelease
	if params.Range == "" {
		for _, sv := range parsed {
			if sv.Prerelease() == "" {
				return sv.Original(), true
			}
		}
		return parsed[0].Original(), true
	}

	// Case 2: Major-only range (e.g., "3")
	if IsMajorOnly(params.Range) {
		major := uint64(ExtractMajorFromRange(params.Range))
		var fallback *masterminds.Version
		for _, sv := range parsed {
			if sv.Major() != major {
				continue
			}
			if sv.Prerelease() == "" {
				return sv.Original(), true
			}
			if fallback == nil {
				fallback = sv
			}
		}
		if fallback != nil {
			return fallback.Original(), true
		}
		return "", false
	}

	// Case 3: SemVer range (e.g., "^3.2.0", "~3.2.0", ">=3.0.0 <4.0.0")
	constraint, err := masterminds.NewConstraint(params.Range)
	if err != nil {
		// If range parsing fails, try as exact version
		for _, sv := range parsed {
			if sv.Original() == params.Range {
				return sv.Original(), true
			}
		}
		return "", false
	}
	for _, sv := range parsed {
		if constraint.Check(sv) {
			return sv.Original(), true
		}
	}
	return "", false
}

// SortDesc sorts version strings from highest to lowest. Unparseable strings
// sort last in their original order.
func SortDesc(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, err1 := masterminds.NewVersion(versions[i])
		vj, err2 := masterminds.NewVersion(versions[j])
		if err1 != nil || err2 != nil {
			return err1 == nil && err2 != nil
		}
		return vi.GreaterThan(vj)
	})
}

func sortVersionsDesc(versions []*masterminds.Version) {
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].GreaterThan(versions[j])
	})
}
