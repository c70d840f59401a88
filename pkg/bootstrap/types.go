// Package bootstrap loads the capabilities and session defaults registered at
// startup, before any worker has announced itself.
package bootstrap

import "github.com/morezero/coordinator/pkg/registry"

// Config is the root bootstrap configuration.
type Config struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// AlwaysOpen capabilities are open in every session and cannot be closed.
	AlwaysOpen []string `json:"alwaysOpen,omitempty" yaml:"alwaysOpen,omitempty"`
	// Capabilities with ttlSeconds 0 are pinned and never expire; the rest
	// behave like a worker announcement and must be refreshed.
	Capabilities []registry.Announcement `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

// Summary describes what Apply registered.
type Summary struct {
	Pinned    []string `json:"pinned,omitempty"`
	Announced []string `json:"announced,omitempty"`
}
