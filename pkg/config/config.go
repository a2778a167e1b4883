// Package config provides configuration management for the federation
// server. Supports TOML configuration files with environment variable
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// validateDirectoryWritable checks that dir exists (creating it if
// necessary) and that this process can write to it.
func validateDirectoryWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("cannot create directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}

	testFile := filepath.Join(dir, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to directory: %w", err)
	}
	f.Close()
	os.Remove(testFile)

	return nil
}

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingValue  = errors.New("missing required configuration value")
)

// Config holds all federation server configuration.
type Config struct {
	// Server configuration
	Server ServerConfig `toml:"server"`

	// Keystore configuration
	Keystore KeystoreConfig `toml:"keystore"`

	// Federation client configuration
	Federation FederationConfig `toml:"federation"`

	// Event storage configuration
	Storage StorageConfig `toml:"storage"`

	// EDU tracker tuning
	EDU EDUConfig `toml:"edu"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	// ServerName is this server's federation name, carried in every
	// signed event and X-Matrix header (e.g. "example.org").
	ServerName string `toml:"server_name" env:"MATRIXCORE_SERVER_NAME"`

	// ListenAddr is the address the federation HTTP API binds to.
	ListenAddr string `toml:"listen_addr" env:"MATRIXCORE_LISTEN_ADDR"`

	// PidFile is the path to the PID file for daemon mode.
	PidFile string `toml:"pid_file" env:"MATRIXCORE_PID_FILE"`

	// Daemonize runs the server as a background daemon.
	Daemonize bool `toml:"daemonize" env:"MATRIXCORE_DAEMONIZE"`
}

// KeystoreConfig holds keystore-specific configuration.
type KeystoreConfig struct {
	// DBPath is the path to the encrypted SQLCipher keystore database
	// holding this server's signing keys and cached remote server keys.
	DBPath string `toml:"db_path" env:"MATRIXCORE_KEYSTORE_DB"`

	// MasterKey is an optional hex-encoded master key (if not provided,
	// the key is derived from this host's hardware identity and a salt
	// persisted beside the keystore database).
	MasterKey string `toml:"master_key" env:"MATRIXCORE_MASTER_KEY"`

	// KeyValiditySeconds bounds how long a minted signing key is
	// advertised as valid before rotation is required.
	KeyValiditySeconds int64 `toml:"key_validity_seconds" env:"MATRIXCORE_KEY_VALIDITY_SECONDS"`
}

// FederationConfig holds outbound federation client tuning, mirroring
// pkg/fedclient.Config's per-destination rate limit and circuit
// breaker knobs.
type FederationConfig struct {
	// RequestTimeoutSeconds bounds a single outbound HTTP round trip.
	RequestTimeoutSeconds int `toml:"request_timeout_seconds" env:"MATRIXCORE_REQUEST_TIMEOUT_SECONDS"`

	// DestinationBurst/DestinationRate bound in-flight requests per
	// remote destination server.
	DestinationBurst int     `toml:"destination_burst" env:"MATRIXCORE_DESTINATION_BURST"`
	DestinationRate  float64 `toml:"destination_rate" env:"MATRIXCORE_DESTINATION_RATE"`

	// CircuitThreshold is the number of consecutive failures before a
	// destination's circuit opens.
	CircuitThreshold int `toml:"circuit_threshold" env:"MATRIXCORE_CIRCUIT_THRESHOLD"`

	// CircuitTimeoutSeconds is how long a circuit stays open before
	// probing half-open.
	CircuitTimeoutSeconds int `toml:"circuit_timeout_seconds" env:"MATRIXCORE_CIRCUIT_TIMEOUT_SECONDS"`

	// WellKnownCacheSeconds is loaded from configuration but not passed
	// to pkg/resolver, which caches a resolved .well-known delegation
	// for a fixed hour.
	WellKnownCacheSeconds int `toml:"well_known_cache_seconds" env:"MATRIXCORE_WELLKNOWN_CACHE_SECONDS"`
}

// StorageConfig holds event storage backend configuration.
type StorageConfig struct {
	// Backend selects the eventstore.Store implementation: "memory" or
	// "sqlite".
	Backend string `toml:"backend" env:"MATRIXCORE_STORAGE_BACKEND"`

	// DSN is the modernc.org/sqlite data source used when Backend is
	// "sqlite", e.g. "file:/var/lib/matrixcore/events.db".
	DSN string `toml:"dsn" env:"MATRIXCORE_STORAGE_DSN"`
}

// EDUConfig tunes the ephemeral-data-unit trackers in pkg/txningress.
type EDUConfig struct {
	// MaxPresenceUsers bounds how many users' presence state is held in
	// memory before further updates are dropped.
	MaxPresenceUsers int `toml:"max_presence_users" env:"MATRIXCORE_MAX_PRESENCE_USERS"`

	// TypingIdleSeconds is loaded from configuration but not passed to
	// pkg/txningress: TypingTracker expires a typing notification after
	// a fixed 30 seconds.
	TypingIdleSeconds int `toml:"typing_idle_seconds" env:"MATRIXCORE_TYPING_IDLE_SECONDS"`

	// DeviceMailboxDepth bounds how many pending to-device messages are
	// held per device before the oldest is dropped.
	DeviceMailboxDepth int `toml:"device_mailbox_depth" env:"MATRIXCORE_DEVICE_MAILBOX_DEPTH"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `toml:"level" env:"MATRIXCORE_LOG_LEVEL"`

	// Format is the log format (json, text)
	Format string `toml:"format" env:"MATRIXCORE_LOG_FORMAT"`

	// Output is the log output (stdout, stderr, or file path)
	Output string `toml:"output" env:"MATRIXCORE_LOG_OUTPUT"`

	// File is the log file path when output is "file"
	File string `toml:"file" env:"MATRIXCORE_LOG_FILE"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Server: ServerConfig{
			ServerName: "",
			ListenAddr: ":8448",
			PidFile:    "/run/matrixcore/federationd.pid",
			Daemonize:  false,
		},
		Keystore: KeystoreConfig{
			DBPath:             filepath.Join(homeDir, ".matrixcore", "keystore.db"),
			MasterKey:          "",
			KeyValiditySeconds: 7 * 24 * 3600,
		},
		Federation: FederationConfig{
			RequestTimeoutSeconds: 10,
			DestinationBurst:      10,
			DestinationRate:       10,
			CircuitThreshold:      5,
			CircuitTimeoutSeconds: 60,
			WellKnownCacheSeconds: 24 * 3600,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			DSN:     filepath.Join(homeDir, ".matrixcore", "events.db"),
		},
		EDU: EDUConfig{
			MaxPresenceUsers:   10000,
			TypingIdleSeconds:  30,
			DeviceMailboxDepth: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			File:   "",
		},
	}
}

// ConfigPaths returns the list of default configuration file paths to check.
func ConfigPaths() []string {
	homeDir, _ := os.UserHomeDir()
	return []string{
		filepath.Join(homeDir, ".matrixcore", "config.toml"),
		filepath.Join("/etc", "matrixcore", "config.toml"),
		"./config.toml",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.ServerName == "" {
		return fmt.Errorf("%w: server.server_name is required", ErrInvalidConfig)
	}

	if c.Server.ListenAddr == "" {
		return fmt.Errorf("%w: server.listen_addr is required", ErrInvalidConfig)
	}

	// Validate keystore configuration
	if c.Keystore.DBPath == "" {
		return fmt.Errorf("%w: keystore.db_path is required", ErrInvalidConfig)
	}

	keystoreDir := filepath.Dir(c.Keystore.DBPath)
	if err := validateDirectoryWritable(keystoreDir); err != nil {
		return fmt.Errorf("%w: keystore directory %s: %w", ErrInvalidConfig, keystoreDir, err)
	}

	if c.Keystore.KeyValiditySeconds < 0 {
		return fmt.Errorf("%w: keystore.key_validity_seconds cannot be negative", ErrInvalidConfig)
	}

	// Validate federation client configuration
	if c.Federation.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("%w: federation.request_timeout_seconds must be at least 1", ErrInvalidConfig)
	}
	if c.Federation.DestinationBurst < 1 {
		return fmt.Errorf("%w: federation.destination_burst must be at least 1", ErrInvalidConfig)
	}
	if c.Federation.DestinationRate <= 0 {
		return fmt.Errorf("%w: federation.destination_rate must be positive", ErrInvalidConfig)
	}
	if c.Federation.CircuitThreshold < 1 {
		return fmt.Errorf("%w: federation.circuit_threshold must be at least 1", ErrInvalidConfig)
	}
	if c.Federation.CircuitTimeoutSeconds < 1 {
		return fmt.Errorf("%w: federation.circuit_timeout_seconds must be at least 1", ErrInvalidConfig)
	}

	// Validate storage configuration
	switch c.Storage.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("%w: storage.backend must be one of: memory, sqlite", ErrInvalidConfig)
	}
	if c.Storage.Backend == "sqlite" && c.Storage.DSN == "" {
		return fmt.Errorf("%w: storage.dsn is required when storage.backend is sqlite", ErrInvalidConfig)
	}

	// Validate EDU tracker tuning
	if c.EDU.MaxPresenceUsers < 0 {
		return fmt.Errorf("%w: edu.max_presence_users cannot be negative", ErrInvalidConfig)
	}
	if c.EDU.TypingIdleSeconds < 1 {
		return fmt.Errorf("%w: edu.typing_idle_seconds must be at least 1", ErrInvalidConfig)
	}
	if c.EDU.DeviceMailboxDepth < 1 {
		return fmt.Errorf("%w: edu.device_mailbox_depth must be at least 1", ErrInvalidConfig)
	}

	// Validate logging configuration
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: logging.level must be one of: debug, info, warn, error", ErrInvalidConfig)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("%w: logging.format must be one of: json, text", ErrInvalidConfig)
	}

	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("%w: logging.output must be one of: stdout, stderr, file", ErrInvalidConfig)
	}

	if c.Logging.Output == "file" && c.Logging.File == "" {
		return fmt.Errorf("%w: logging.file is required when logging.output is 'file'", ErrInvalidConfig)
	}

	return nil
}

// RequestTimeout returns the federation client's request timeout as a
// Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Federation.RequestTimeoutSeconds) * time.Second
}

// CircuitTimeout returns the federation client's circuit-open timeout
// as a Duration.
func (c *Config) CircuitTimeout() time.Duration {
	return time.Duration(c.Federation.CircuitTimeoutSeconds) * time.Second
}

// TypingIdleTimeout returns the typing-notification idle timeout as a
// Duration.
func (c *Config) TypingIdleTimeout() time.Duration {
	return time.Duration(c.EDU.TypingIdleSeconds) * time.Second
}

// KeyValidity returns how long a minted signing key stays valid, as a
// Duration.
func (c *Config) KeyValidity() time.Duration {
	return time.Duration(c.Keystore.KeyValiditySeconds) * time.Second
}
