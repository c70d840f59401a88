package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/morezero/coordinator/pkg/registry"
	"github.com/morezero/coordinator/pkg/semver"
)

const logPrefix = "bootstrap:loader"

// EnvBootstrapFile names the environment variable consulted after explicit paths.
const EnvBootstrapFile = "COORDINATOR_BOOTSTRAP_FILE"

// defaultPaths are tried last, relative to the working directory.
var defaultPaths = []string{"config/bootstrap.yaml", "config/bootstrap.json", "bootstrap.yaml", "bootstrap.json"}

// LoadConfig loads bootstrap config from file paths or environment.
// It tries paths in order: first any paths passed in, then the
// COORDINATOR_BOOTSTRAP_FILE env, then defaults. Files that cannot be read or
// parsed are skipped; when none loads, the default config is returned.
func LoadConfig(paths ...string) (*Config, error) {
	all := make([]string, 0, len(paths)+len(defaultPaths)+1)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv(EnvBootstrapFile); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, defaultPaths...)

	for _, p := range all {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		cfg, err := Parse(data, formatOf(p))
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse bootstrap file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded bootstrap config from %s (%d capabilities)", logPrefix, p, len(cfg.Capabilities)))
		return cfg, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default bootstrap config", logPrefix))
	return DefaultConfig(), nil
}

// DefaultConfig returns the fallback configuration: no capabilities beyond the
// built-in one, nothing always open.
func DefaultConfig() *Config {
	return &Config{
		Name:        "coordinator-bootstrap",
		Version:     "1.0.0",
		Description: "Default coordinator bootstrap configuration",
	}
}

// Format is a bootstrap file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse decodes and validates a bootstrap config.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s - invalid YAML: %w", logPrefix, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s - invalid JSON: %w", logPrefix, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks names only; descriptors are validated when registered.
func (c *Config) Validate() error {
	for _, name := range c.AlwaysOpen {
		if !semver.ValidateCapabilityName(name) {
			return fmt.Errorf("%s - invalid alwaysOpen capability %q", logPrefix, name)
		}
	}
	seen := make(map[string]bool, len(c.Capabilities))
	for _, a := range c.Capabilities {
		if a.TTLSeconds < 0 {
			return fmt.Errorf("%s - capability %s has negative ttlSeconds", logPrefix, a.Capability)
		}
		key := a.Capability + "@" + a.Version
		if seen[key] {
			return fmt.Errorf("%s - capability %s listed twice", logPrefix, key)
		}
		seen[key] = true
	}
	return nil
}

// Apply registers every configured capability with reg. It stops at the first
// descriptor the registry rejects.
func Apply(cfg *Config, reg *registry.Registry) (*Summary, error) {
	sum := &Summary{}
	for i := range cfg.Capabilities {
		a := cfg.Capabilities[i]
		if a.TTLSeconds == 0 {
			d, err := reg.Pin(&a)
			if err != nil {
				return sum, fmt.Errorf("%s - failed to pin %s: %w", logPrefix, a.Capability, err)
			}
			sum.Pinned = append(sum.Pinned, d.Capability+"@"+d.Version)
			continue
		}
		d, err := reg.Announce(&a)
		if err != nil {
			return sum, fmt.Errorf("%s - failed to announce %s: %w", logPrefix, a.Capability, err)
		}
		sum.Announced = append(sum.Announced, d.Capability+"@"+d.Version)
	}
	slog.Info(fmt.Sprintf("%s - Registered bootstrap capabilities: pinned=%v announced=%v", logPrefix, sum.Pinned, sum.Announced))
	return sum, nil
}
