// Package config provides configuration tests for the federation server.
package config

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Server.ListenAddr == "" {
		t.Error("ListenAddr should not be empty")
	}
	if cfg.Server.Daemonize {
		t.Error("Daemonize should default to false")
	}

	if cfg.Federation.DestinationBurst != 10 {
		t.Errorf("DestinationBurst should default to 10, got %d", cfg.Federation.DestinationBurst)
	}
	if cfg.Federation.CircuitThreshold != 5 {
		t.Errorf("CircuitThreshold should default to 5, got %d", cfg.Federation.CircuitThreshold)
	}

	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend should default to sqlite, got %s", cfg.Storage.Backend)
	}

	if cfg.EDU.TypingIdleSeconds != 30 {
		t.Errorf("TypingIdleSeconds should default to 30, got %d", cfg.EDU.TypingIdleSeconds)
	}
	if cfg.EDU.DeviceMailboxDepth != 100 {
		t.Errorf("DeviceMailboxDepth should default to 100, got %d", cfg.EDU.DeviceMailboxDepth)
	}
}

func TestValidateRequiresServerName(t *testing.T) {
	cfg := DefaultConfig()

	// Defaults have no server_name set -- must fail until one is given.
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty server_name")
	}

	cfg.Server.ServerName = "example.org"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config once server_name is set, got: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.Server.ServerName = "example.org"
		return cfg
	}

	cfg := base()
	cfg.Logging.Level = "invalid"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for invalid log level")
	}

	cfg = base()
	cfg.Storage.Backend = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unsupported storage backend")
	}

	cfg = base()
	cfg.Federation.DestinationRate = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero destination rate")
	}

	cfg = base()
	cfg.EDU.TypingIdleSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero typing idle seconds")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.ServerName = "example.org"

	if cfg.RequestTimeout().Seconds() != float64(cfg.Federation.RequestTimeoutSeconds) {
		t.Errorf("RequestTimeout mismatch: %v", cfg.RequestTimeout())
	}
	if cfg.CircuitTimeout().Seconds() != float64(cfg.Federation.CircuitTimeoutSeconds) {
		t.Errorf("CircuitTimeout mismatch: %v", cfg.CircuitTimeout())
	}
	if cfg.TypingIdleTimeout().Seconds() != float64(cfg.EDU.TypingIdleSeconds) {
		t.Errorf("TypingIdleTimeout mismatch: %v", cfg.TypingIdleTimeout())
	}
}
