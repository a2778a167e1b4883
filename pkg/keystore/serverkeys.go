package keystore

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"
)

// ServerVerifyKey is a single verify key as published in a remote
// server's /_matrix/key/v2/server response.
type ServerVerifyKey struct {
	KeyID      string
	PublicKey  ed25519.PublicKey
	ValidUntil time.Time
}

// FetchServerKeysFunc retrieves the current verify keys for serverName,
// either directly (/_matrix/key/v2/server) or via a notary. Supplied by
// pkg/fedclient; kept as a plain function type here so keystore has no
// import-time dependency on the federation transport.
type FetchServerKeysFunc func(ctx context.Context, serverName string) ([]ServerVerifyKey, error)

// RememberServerKeys persists a batch of verify keys fetched for
// serverName, replacing any previously cached key with the same ID.
func (ks *KeyStore) RememberServerKeys(serverName string, keys []ServerVerifyKey) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if !ks.isOpen {
		return ErrNotOpen
	}

	tx, err := ks.db.Begin()
	if err != nil {
		return fmt.Errorf("keystore: begin remember tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO server_keys (server_name, key_id, public_key, valid_until_ts, fetched_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("keystore: prepare remember stmt: %w", err)
	}
	defer stmt.Close()

	for _, k := range keys {
		_, err := stmt.Exec(
			serverName, k.KeyID,
			base64.RawURLEncoding.EncodeToString(k.PublicKey),
			k.ValidUntil.Unix(), now,
		)
		if err != nil {
			return fmt.Errorf("keystore: remember key %s/%s: %w", serverName, k.KeyID, err)
		}
	}

	return tx.Commit()
}

// cachedServerKey looks up a single cached verify key, returning
// ErrKeyNotFound if absent and ErrKeyExpired if its valid_until_ts has
// passed.
func (ks *KeyStore) cachedServerKey(serverName, keyID string) (ServerVerifyKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if !ks.isOpen {
		return ServerVerifyKey{}, ErrNotOpen
	}

	row := ks.db.QueryRow(`
		SELECT public_key, valid_until_ts FROM server_keys
		WHERE server_name = ? AND key_id = ?`, serverName, keyID)

	var pubB64 string
	var validUntil int64
	if err := row.Scan(&pubB64, &validUntil); err != nil {
		if err == sql.ErrNoRows {
			return ServerVerifyKey{}, ErrKeyNotFound
		}
		return ServerVerifyKey{}, fmt.Errorf("keystore: query server key: %w", err)
	}

	pub, err := base64.RawURLEncoding.DecodeString(pubB64)
	if err != nil {
		return ServerVerifyKey{}, fmt.Errorf("keystore: decode cached public key: %w", err)
	}

	key := ServerVerifyKey{
		KeyID:      keyID,
		PublicKey:  ed25519.PublicKey(pub),
		ValidUntil: time.Unix(validUntil, 0).UTC(),
	}
	if time.Now().After(key.ValidUntil) {
		return key, ErrKeyExpired
	}
	return key, nil
}

// VerifyKey resolves the verify key for (serverName, keyID), serving
// from cache when unexpired and otherwise invoking fetch (a nil fetch
// yields ErrKeyNotFound). Concurrent
// lookups for the same server are coalesced via singleflight so a burst
// of events from one remote server triggers at most one key fetch.
func (ks *KeyStore) VerifyKey(ctx context.Context, serverName, keyID string, fetch FetchServerKeysFunc) (ed25519.PublicKey, error) {
	if cached, err := ks.cachedServerKey(serverName, keyID); err == nil {
		return cached.PublicKey, nil
	}
	if fetch == nil {
		return nil, ErrKeyNotFound
	}

	result, err, _ := ks.fetchGroup.Do(serverName, func() (interface{}, error) {
		keys, err := fetch(ctx, serverName)
		if err != nil {
			return nil, fmt.Errorf("keystore: fetch keys for %s: %w", serverName, err)
		}
		if err := ks.RememberServerKeys(serverName, keys); err != nil {
			ks.log.Warn("failed to persist fetched server keys", "server_name", serverName, "error", err)
		}
		return keys, nil
	})
	if err != nil {
		return nil, err
	}

	keys := result.([]ServerVerifyKey)
	for _, k := range keys {
		if k.KeyID == keyID {
			if time.Now().After(k.ValidUntil) {
				return nil, ErrKeyExpired
			}
			return k.PublicKey, nil
		}
	}
	return nil, ErrKeyNotFound
}
