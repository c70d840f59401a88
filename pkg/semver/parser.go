// Package semver parses invocation references and selects capability versions.
package semver

import (
	"fmt"
	"regexp"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:parser"

// DefaultVersion is assumed for descriptors announced without a version.
const DefaultVersion = "0.0.0"

// InvocationRef holds the parsed components of an invocation reference.
type InvocationRef struct {
	// Capability name (e.g., "search")
	Capability string
	// Action within the capability (e.g., "web")
	Action string
	// Version range if specified (e.g., "^2.0.0", "2", ""); empty means any
	Range string
	// Raw input string
	Raw string
}

// Name returns "capability.action".
func (r *InvocationRef) Name() string {
	return r.Capability + "." + r.Action
}

var (
	identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
	majorOnlyRegex  = regexp.MustCompile(`^\d+$`)
)

// ParseInvocationRef parses an invocation reference.
//
// Supported formats:
//   - search.web           (no version)
//   - search.web@2         (major only)
//   - search.web@2.1.0     (exact version)
//   - search.web@^2.1.0    (caret range)
//   - search.web@>=2.0.0   (comparison range)
func ParseInvocationRef(input string) (*InvocationRef, error) {
	raw := strings.TrimSpace(input)

	namePart, rangeStr, _ := strings.Cut(raw, "@")

	capability, action, ok := strings.Cut(namePart, ".")
	if !ok {
		return nil, fmt.Errorf("%s - invalid invocation name, missing action: %s", logPrefix, raw)
	}
	if !ValidateCapabilityName(capability) {
		return nil, fmt.Errorf("%s - invalid capability name: %q", logPrefix, capability)
	}
	if !ValidateActionName(action) {
		return nil, fmt.Errorf("%s - invalid action name: %q", logPrefix, action)
	}

	return &InvocationRef{
		Capability: capability,
		Action:     action,
		Range:      rangeStr,
		Raw:        raw,
	}, nil
}

// Normalize returns the canonical form of a version string. An empty version
// becomes DefaultVersion.
func Normalize(version string) (string, error) {
	if strings.TrimSpace(version) == "" {
		return DefaultVersion, nil
	}
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return "", fmt.Errorf("%s - invalid version %q: %w", logPrefix, version, err)
	}
	return sv.String(), nil
}

// ValidateRange reports whether rangeStr is empty, a major-only specifier, or
// a parseable constraint.
func ValidateRange(rangeStr string) bool {
	if rangeStr == "" || IsMajorOnly(rangeStr) {
		return true
	}
	_, err := masterminds.NewConstraint(rangeStr)
	return err == nil
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	var major int
	fmt.Sscanf(rangeStr, "%d", &major)
	return major
}

// ValidateCapabilityName validates a capability name. Capability names become
// a single subject token, so dots are not allowed.
func ValidateCapabilityName(name string) bool {
	return identifierRegex.MatchString(name)
}

// ValidateActionName validates an action name.
func ValidateActionName(name string) bool {
	return identifierRegex.MatchString(name)
}
