// Package config provides configuration loading and management for
// the federation server.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Load loads configuration from a file path.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// If path is empty, search for default config files
	if path == "" {
		for _, p := range ConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	// If no config file found, warn and return defaults
	if path == "" {
		log.Printf("Warning: No configuration file found in default locations")
		log.Printf("Default locations checked:")
		for _, p := range ConfigPaths() {
			log.Printf("  - %s", p)
		}
		log.Printf("Using default configuration")
		log.Printf("Create a config with: federationd init")
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDie loads configuration or exits on error.
func LoadOrDie(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	// Server overrides
	if v := os.Getenv("MATRIXCORE_SERVER_NAME"); v != "" {
		cfg.Server.ServerName = v
	}
	if v := os.Getenv("MATRIXCORE_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("MATRIXCORE_PID_FILE"); v != "" {
		cfg.Server.PidFile = v
	}
	if v := os.Getenv("MATRIXCORE_DAEMONIZE"); v != "" {
		cfg.Server.Daemonize = v == "true" || v == "1"
	}

	// Keystore overrides
	if v := os.Getenv("MATRIXCORE_KEYSTORE_DB"); v != "" {
		cfg.Keystore.DBPath = v
	}
	if v := os.Getenv("MATRIXCORE_MASTER_KEY"); v != "" {
		cfg.Keystore.MasterKey = v
	}
	if v := os.Getenv("MATRIXCORE_KEY_VALIDITY_SECONDS"); v != "" {
		var seconds int64
		if _, err := fmt.Sscanf(v, "%d", &seconds); err == nil {
			cfg.Keystore.KeyValiditySeconds = seconds
		}
	}

	// Federation client overrides
	if v := os.Getenv("MATRIXCORE_REQUEST_TIMEOUT_SECONDS"); v != "" {
		var seconds int
		if _, err := fmt.Sscanf(v, "%d", &seconds); err == nil {
			cfg.Federation.RequestTimeoutSeconds = seconds
		}
	}
	if v := os.Getenv("MATRIXCORE_DESTINATION_BURST"); v != "" {
		var burst int
		if _, err := fmt.Sscanf(v, "%d", &burst); err == nil {
			cfg.Federation.DestinationBurst = burst
		}
	}
	if v := os.Getenv("MATRIXCORE_DESTINATION_RATE"); v != "" {
		var rate float64
		if _, err := fmt.Sscanf(v, "%f", &rate); err == nil {
			cfg.Federation.DestinationRate = rate
		}
	}
	if v := os.Getenv("MATRIXCORE_CIRCUIT_THRESHOLD"); v != "" {
		var threshold int
		if _, err := fmt.Sscanf(v, "%d", &threshold); err == nil {
			cfg.Federation.CircuitThreshold = threshold
		}
	}
	if v := os.Getenv("MATRIXCORE_CIRCUIT_TIMEOUT_SECONDS"); v != "" {
		var seconds int
		if _, err := fmt.Sscanf(v, "%d", &seconds); err == nil {
			cfg.Federation.CircuitTimeoutSeconds = seconds
		}
	}

	// Storage overrides
	if v := os.Getenv("MATRIXCORE_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("MATRIXCORE_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}

	// EDU tracker overrides
	if v := os.Getenv("MATRIXCORE_MAX_PRESENCE_USERS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.EDU.MaxPresenceUsers = n
		}
	}
	if v := os.Getenv("MATRIXCORE_TYPING_IDLE_SECONDS"); v != "" {
		var seconds int
		if _, err := fmt.Sscanf(v, "%d", &seconds); err == nil {
			cfg.EDU.TypingIdleSeconds = seconds
		}
	}
	if v := os.Getenv("MATRIXCORE_DEVICE_MAILBOX_DEPTH"); v != "" {
		var depth int
		if _, err := fmt.Sscanf(v, "%d", &depth); err == nil {
			cfg.EDU.DeviceMailboxDepth = depth
		}
	}

	// Logging overrides
	if v := os.Getenv("MATRIXCORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MATRIXCORE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MATRIXCORE_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
	if v := os.Getenv("MATRIXCORE_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	return nil
}

// Save saves the configuration to a file.
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Normalize paths for TOML compatibility (forward slashes, no
	// backslashes -- avoids \U being read back as a Unicode escape).
	cfgCopy := *cfg
	cfgCopy.Keystore.DBPath = filepath.ToSlash(cfg.Keystore.DBPath)
	cfgCopy.Storage.DSN = filepath.ToSlash(cfg.Storage.DSN)
	if cfgCopy.Server.PidFile != "" {
		cfgCopy.Server.PidFile = filepath.ToSlash(cfgCopy.Server.PidFile)
	}

	data, err := toml.Marshal(&cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates an example configuration file.
func GenerateExampleConfig(path string) error {
	cfg := DefaultConfig()
	cfg.Server.ServerName = "example.org"
	cfg.Logging.Level = "info"

	return Save(cfg, path)
}
