// Package keystore provides encrypted persistence for a federation
// server's own Ed25519 signing keys and for verify keys fetched from
// remote servers. The database uses SQLCipher with a hardware-derived
// master key for zero-touch reboot operation.
//
// Zero-Touch Reboot Strategy:
// - Entropy collected from machine-specific markers (machine-id, MAC, DMI UUID)
// - Key derived via PBKDF2-HMAC-SHA512 with persisted salt
// - No password required on reboot
// - Database useless if stolen/moved to different server
package keystore

import (
	"bufio"
	cryptorand "crypto/rand"
	"crypto/sha512"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sync/singleflight"

	"github.com/armorclaw/matrixcore/pkg/logger"
)

const (
	saltLength       = 32
	pbkdf2Iterations = 256000 // matches SQLCipher's default KDF
	keyLength        = 32

	cipherPageSize     = 4096
	cipherKdfIter       = 256000
	cipherHmacAlg       = "HMAC_SHA512"
	cipherKdfAlgorithm  = "PBKDF2_HMAC_SHA512"
)

var (
	ErrKeyNotFound    = errors.New("keystore: key not found")
	ErrKeyExpired     = errors.New("keystore: key has expired")
	ErrNotOpen        = errors.New("keystore: not open")
)

// KeyStore manages this server's Ed25519 signing keys and a cache of
// remote servers' verify keys, both persisted in a single SQLCipher
// database.
type KeyStore struct {
	db        *sql.DB
	dbPath    string
	serverName string
	mu        sync.RWMutex
	masterKey []byte
	salt      []byte
	isOpen    bool
	log       *logger.Logger

	fetchGroup singleflight.Group
}

// Config holds keystore configuration.
type Config struct {
	DBPath     string // path to the SQLCipher database file
	ServerName string // this server's name, used when minting new signing keys
	MasterKey  []byte // optional explicit master key (nil derives from hardware)
	Logger     *logger.Logger
}

// New creates a KeyStore instance. It does not open the database; call
// Open before using it.
func New(cfg Config) (*KeyStore, error) {
	if cfg.DBPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("keystore: get home directory: %w", err)
		}
		cfg.DBPath = filepath.Join(homeDir, ".matrixcore", "keystore.db")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0700); err != nil {
		return nil, fmt.Errorf("keystore: create keystore directory: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Global()
	}

	ks := &KeyStore{
		dbPath:     cfg.DBPath,
		serverName: cfg.ServerName,
		log:        log,
	}

	if err := ks.loadOrGenerateSalt(); err != nil {
		return nil, fmt.Errorf("keystore: initialize salt: %w", err)
	}

	if cfg.MasterKey == nil {
		var err error
		cfg.MasterKey, err = ks.deriveHardwareKey()
		if err != nil {
			return nil, fmt.Errorf("keystore: derive hardware key: %w", err)
		}
	}
	ks.masterKey = cfg.MasterKey

	return ks, nil
}

// loadOrGenerateSalt loads an existing salt or generates a new one. The
// salt persists across reboots to enable zero-touch operation.
func (ks *KeyStore) loadOrGenerateSalt() error {
	saltPath := ks.dbPath + ".salt"

	if data, err := os.ReadFile(saltPath); err == nil {
		decoded, err := base64.StdEncoding.DecodeString(string(data))
		if err == nil && len(decoded) == saltLength {
			ks.salt = decoded
			return nil
		}
	}

	ks.salt = make([]byte, saltLength)
	if _, err := io.ReadFull(cryptorand.Reader, ks.salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	if err := os.WriteFile(saltPath, []byte(base64.StdEncoding.EncodeToString(ks.salt)), 0600); err != nil {
		return fmt.Errorf("persist salt: %w", err)
	}
	return nil
}

// deriveHardwareKey derives a master key from hardware-specific entropy
// plus the persisted salt, binding the database to this machine.
func (ks *KeyStore) deriveHardwareKey() ([]byte, error) {
	entropy := ks.collectEntropy()
	return pbkdf2.Key(entropy, ks.salt, pbkdf2Iterations, keyLength, sha512.New), nil
}

func (ks *KeyStore) collectEntropy() []byte {
	var parts []string

	if id, err := readFile("/etc/machine-id"); err == nil && id != "" {
		parts = append(parts, strings.TrimSpace(id))
	}
	if id, err := readFile("/var/lib/dbus/machine-id"); err == nil && id != "" {
		parts = append(parts, strings.TrimSpace(id))
	}
	if uuid, err := readDMIProductUUID(); err == nil && uuid != "" {
		parts = append(parts, uuid)
	}
	if mac, err := getPrimaryMAC(); err == nil && mac != "" {
		parts = append(parts, mac)
	}
	if hostname, err := os.Hostname(); err == nil {
		parts = append(parts, hostname)
	}
	parts = append(parts, runtime.GOOS, runtime.GOARCH)
	if cpuInfo, err := getCPUInfo(); err == nil && cpuInfo != "" {
		parts = append(parts, cpuInfo)
	}

	return []byte(strings.Join(parts, ":"))
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readDMIProductUUID() (string, error) {
	if uuid, err := readFile("/sys/class/dmi/id/product_uuid"); err == nil {
		uuid = strings.TrimSpace(uuid)
		if uuid != "" && uuid != "Not Settable" && uuid != "Not Present" {
			return uuid, nil
		}
	}
	if _, err := exec.LookPath("dmidecode"); err == nil {
		cmd := exec.Command("dmidecode", "-s", "system-uuid")
		if output, err := cmd.Output(); err == nil {
			uuid := strings.TrimSpace(string(output))
			if uuid != "" && uuid != "Not Settable" && uuid != "Not Present" {
				return uuid, nil
			}
		}
	}
	return "", errors.New("could not read DMI product UUID")
}

func getPrimaryMAC() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 && len(iface.HardwareAddr) > 0 {
			return iface.HardwareAddr.String(), nil
		}
	}
	return "", errors.New("no suitable network interface found")
}

func getCPUInfo() (string, error) {
	info, err := readFile("/proc/cpuinfo")
	if err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(strings.NewReader(info))
	var fields []string
	for scanner.Scan() && len(fields) < 3 {
		line := scanner.Text()
		if strings.Contains(line, "model name") || strings.Contains(line, "vendor_id") {
			fields = append(fields, strings.TrimSpace(line))
		}
	}
	if len(fields) == 0 {
		return "", errors.New("could not read CPU info")
	}
	return strings.Join(fields, ","), nil
}

// Open opens and initializes the keystore database with SQLCipher
// encryption.
func (ks *KeyStore) Open() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.isOpen {
		return nil
	}

	keyHex := hex.EncodeToString(ks.masterKey)
	dsn := fmt.Sprintf(
		"file:%s?_pragma_key=x'%s'&_pragma_cipher_page_size=%d&_pragma_kdf_iter=%d&_pragma_cipher_hmac_algorithm=%s&_pragma_cipher_kdf_algorithm=%s&_foreign_keys=ON",
		ks.dbPath, keyHex, cipherPageSize, cipherKdfIter, cipherHmacAlg, cipherKdfAlgorithm,
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("keystore: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("keystore: connect to database: %w", err)
	}
	if err := ks.initSchema(db); err != nil {
		db.Close()
		return fmt.Errorf("keystore: initialize schema: %w", err)
	}

	ks.db = db
	ks.isOpen = true
	return nil
}

func (ks *KeyStore) initSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS signing_keys (
		key_id TEXT PRIMARY KEY,
		seed_encrypted BLOB NOT NULL,
		nonce BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		valid_until_ts INTEGER NOT NULL DEFAULT 0,
		expired_ts INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_signing_keys_expired ON signing_keys(expired_ts);

	CREATE TABLE IF NOT EXISTS server_keys (
		server_name TEXT NOT NULL,
		key_id TEXT NOT NULL,
		public_key TEXT NOT NULL,
		valid_until_ts INTEGER NOT NULL,
		fetched_at INTEGER NOT NULL,
		PRIMARY KEY (server_name, key_id)
	);

	CREATE INDEX IF NOT EXISTS idx_server_keys_valid_until ON server_keys(valid_until_ts);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
	INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', ?);
	`
	_, err := db.Exec(query, time.Now().Unix())
	return err
}

// Close closes the keystore database.
func (ks *KeyStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if !ks.isOpen {
		return nil
	}
	if ks.db != nil {
		if err := ks.db.Close(); err != nil {
			return err
		}
		ks.db = nil
	}
	ks.isOpen = false
	return nil
}

// encrypt seals plaintext with XChaCha20-Poly1305 under the master key.
// This is a second layer over SQLCipher's page-level encryption, so a
// leaked row (e.g. via a backup taken mid-write) does not expose a raw
// seed.
func (ks *KeyStore) encrypt(plaintext []byte) (encrypted, nonce []byte, err error) {
	nonce = make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(cryptorand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}
	aead, err := chacha20poly1305.NewX(ks.masterKey)
	if err != nil {
		return nil, nil, fmt.Errorf("create cipher: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (ks *KeyStore) decrypt(encrypted, nonce []byte) ([]byte, error) {
	if len(encrypted) == 0 {
		return nil, fmt.Errorf("cannot decrypt empty data")
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("invalid nonce size: %d (expected %d)", len(nonce), chacha20poly1305.NonceSizeX)
	}
	aead, err := chacha20poly1305.NewX(ks.masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (data may be tampered or corrupted): %w", err)
	}
	return plaintext, nil
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database is busy") ||
		strings.Contains(msg, "I/O") ||
		strings.Contains(msg, "timeout")
}

func withRetry[T any](attempts int, fn func() (T, error)) (T, error) {
	if attempts <= 0 {
		attempts = 3
	}
	const baseDelay = 50 * time.Millisecond
	var zero T
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !isRetryableError(err) {
			return zero, err
		}
		lastErr = err
		if attempt < attempts-1 {
			time.Sleep(baseDelay * time.Duration(attempt+1))
		}
	}
	return zero, fmt.Errorf("failed after retries: %w", lastErr)
}
