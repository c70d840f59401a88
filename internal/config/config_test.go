package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var configEnvVars = []string{
	"COMMS_URL", "SERVICE_NAME", "COORDINATOR_BOOTSTRAP_FILE",
	"BATCH_TIMEOUT", "STALE_SWEEP_LIMIT", "STREAM_IDLE_TIMEOUT", "SWEEP_INTERVAL", "REGISTRY_TTL",
	"REQUEST_TIMEOUT", "JOURNAL_ENABLED", "DATABASE_URL", "RUN_MIGRATIONS", "MIGRATION_PATH",
	"COORDINATOR_HTTP_ADDR", "HTTP_PORT", "HEALTH_CHECK_TIMEOUT", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range configEnvVars {
		// Setenv registers the restore; Unsetenv makes envconfig see it as missing.
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.COMMSURL != "nats://127.0.0.1:4222" {
		t.Errorf("config:config_test - COMMSURL = %q, want %q", cfg.COMMSURL, "nats://127.0.0.1:4222")
	}
	if cfg.COMMSName != "coordinator" {
		t.Errorf("config:config_test - COMMSName = %q, want %q", cfg.COMMSName, "coordinator")
	}
	durations := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"BatchTimeout", cfg.BatchTimeout, 180 * time.Second},
		{"StreamIdleTimeout", cfg.StreamIdleTimeout, 60 * time.Second},
		{"SweepInterval", cfg.SweepInterval, 5 * time.Second},
		{"RegistryTTL", cfg.RegistryTTL, 300 * time.Second},
		{"RequestTimeout", cfg.RequestTimeout, 25 * time.Second},
		{"HealthCheckTimeout", cfg.HealthCheckTimeout, 5 * time.Second},
	}
	for _, d := range durations {
		if d.got != d.want {
			t.Errorf("config:config_test - %s = %v, want %v", d.name, d.got, d.want)
		}
	}
	if cfg.StaleSweepLimit != 10 {
		t.Errorf("config:config_test - StaleSweepLimit = %d, want 10", cfg.StaleSweepLimit)
	}
	if cfg.JournalEnabled || cfg.RunMigrations {
		t.Error("config:config_test - expected journal and migrations off by default")
	}
	if cfg.MigrationPath != "" {
		t.Errorf("config:config_test - MigrationPath = %q, want empty", cfg.MigrationPath)
	}
	if cfg.ListenAddr() != ":8080" {
		t.Errorf("config:config_test - ListenAddr = %q, want :8080", cfg.ListenAddr())
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - defaults should validate: %v", err)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	overrides := map[string]string{
		"COMMS_URL":                  "nats://custom:4222",
		"SERVICE_NAME":               "coord-7",
		"COORDINATOR_BOOTSTRAP_FILE": "/tmp/bootstrap.yaml",
		"BATCH_TIMEOUT":              "30s",
		"STALE_SWEEP_LIMIT":          "3",
		"SWEEP_INTERVAL":             "1s",
		"JOURNAL_ENABLED":            "true",
		"DATABASE_URL":               "postgres://test@localhost/test",
		"COORDINATOR_HTTP_ADDR":      "127.0.0.1:9090",
		"LOG_LEVEL":                  "debug",
	}
	for k, v := range overrides {
		t.Setenv(k, v)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}
	if cfg.COMMSURL != "nats://custom:4222" || cfg.COMMSName != "coord-7" {
		t.Errorf("config:config_test - COMMS = %q/%q", cfg.COMMSURL, cfg.COMMSName)
	}
	if cfg.BootstrapFile != "/tmp/bootstrap.yaml" {
		t.Errorf("config:config_test - BootstrapFile = %q", cfg.BootstrapFile)
	}
	if cfg.BatchTimeout != 30*time.Second || cfg.StaleSweepLimit != 3 || cfg.SweepInterval != time.Second {
		t.Errorf("config:config_test - dispatch settings = %v/%d/%v", cfg.BatchTimeout, cfg.StaleSweepLimit, cfg.SweepInterval)
	}
	if !cfg.JournalEnabled || cfg.DatabaseURL != "postgres://test@localhost/test" {
		t.Errorf("config:config_test - journal settings = %v/%q", cfg.JournalEnabled, cfg.DatabaseURL)
	}
	if cfg.ListenAddr() != "127.0.0.1:9090" {
		t.Errorf("config:config_test - ListenAddr = %q", cfg.ListenAddr())
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("config:config_test - LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("BATCH_TIMEOUT", "soon")
	if _, err := LoadConfig(); err == nil {
		t.Error("config:config_test - expected error for invalid BATCH_TIMEOUT")
	}
}

func TestValidateForServe(t *testing.T) {
	valid := func() *Config {
		return &Config{
			COMMSName:          "coordinator",
			BatchTimeout:       time.Minute,
			StaleSweepLimit:    10,
			StreamIdleTimeout:  time.Minute,
			SweepInterval:      time.Second,
			RegistryTTL:        time.Minute,
			RequestTimeout:     time.Second,
			HealthCheckTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"dotted service name", func(c *Config) { c.COMMSName = "a.b" }, "SERVICE_NAME"},
		{"zero batch timeout", func(c *Config) { c.BatchTimeout = 0 }, "BATCH_TIMEOUT"},
		{"negative sweep interval", func(c *Config) { c.SweepInterval = -time.Second }, "SWEEP_INTERVAL"},
		{"zero stale limit", func(c *Config) { c.StaleSweepLimit = 0 }, "STALE_SWEEP_LIMIT"},
		{"journal without database", func(c *Config) { c.JournalEnabled = true }, "DATABASE_URL"},
		{"journal with database", func(c *Config) { c.JournalEnabled = true; c.DatabaseURL = "postgres://x/y" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.ValidateForServe()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("config:config_test - unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("config:config_test - error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
