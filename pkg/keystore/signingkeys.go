package keystore

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/armorclaw/matrixcore/pkg/securerandom"
)

// keyIDRandomBytes is how many random bytes follow the "ed25519:"
// prefix in a generated key ID, e.g. "ed25519:a1b2c3d4".
const keyIDRandomBytes = 4

// SigningKey is a locally held Ed25519 keypair along with its validity
// window. ValidUntil is zero while the key is still the active signing
// key; it is set when the key is superseded by rotation, per spec.md
// §4.2's "old_verify_keys" semantics.
type SigningKey struct {
	KeyID      string
	Seed       ed25519.PrivateKey
	Public     ed25519.PublicKey
	CreatedAt  time.Time
	ValidUntil time.Time // zero if still active
	ExpiredAt  time.Time // zero if still active
}

func generateKeyID() (string, error) {
	id, err := securerandom.ID(keyIDRandomBytes)
	if err != nil {
		return "", err
	}
	return "ed25519:" + id, nil
}

// ActiveSigningKey returns the current signing key, generating one on
// first use if none exists yet.
func (ks *KeyStore) ActiveSigningKey() (SigningKey, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if !ks.isOpen {
		return SigningKey{}, ErrNotOpen
	}

	key, err := ks.loadActiveSigningKeyLocked()
	if err == nil {
		return key, nil
	}
	if err != ErrKeyNotFound {
		return SigningKey{}, err
	}
	return ks.generateSigningKeyLocked()
}

func (ks *KeyStore) loadActiveSigningKeyLocked() (SigningKey, error) {
	row := ks.db.QueryRow(`
		SELECT key_id, seed_encrypted, nonce, created_at
		FROM signing_keys WHERE expired_ts = 0
		ORDER BY created_at DESC LIMIT 1`)

	var keyID string
	var encSeed, nonce []byte
	var createdAt int64
	if err := row.Scan(&keyID, &encSeed, &nonce, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return SigningKey{}, ErrKeyNotFound
		}
		return SigningKey{}, fmt.Errorf("keystore: query signing key: %w", err)
	}

	seed, err := ks.decrypt(encSeed, nonce)
	if err != nil {
		return SigningKey{}, fmt.Errorf("keystore: decrypt signing key %s: %w", keyID, err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return SigningKey{
		KeyID:     keyID,
		Seed:      priv,
		Public:    priv.Public().(ed25519.PublicKey),
		CreatedAt: time.Unix(createdAt, 0).UTC(),
	}, nil
}

func (ks *KeyStore) generateSigningKeyLocked() (SigningKey, error) {
	keyID, err := generateKeyID()
	if err != nil {
		return SigningKey{}, fmt.Errorf("keystore: generate key id: %w", err)
	}
	pub, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	if err != nil {
		return SigningKey{}, fmt.Errorf("keystore: generate ed25519 key: %w", err)
	}
	seed := priv.Seed()

	encSeed, nonce, err := ks.encrypt(seed)
	if err != nil {
		return SigningKey{}, fmt.Errorf("keystore: encrypt signing key: %w", err)
	}

	now := time.Now().Unix()
	_, err = ks.db.Exec(`
		INSERT INTO signing_keys (key_id, seed_encrypted, nonce, created_at, valid_until_ts, expired_ts)
		VALUES (?, ?, ?, ?, 0, 0)`,
		keyID, encSeed, nonce, now)
	if err != nil {
		return SigningKey{}, fmt.Errorf("keystore: persist signing key: %w", err)
	}

	ks.log.Info("minted new signing key", "key_id", keyID)

	return SigningKey{
		KeyID:     keyID,
		Seed:      priv,
		Public:    pub,
		CreatedAt: time.Unix(now, 0).UTC(),
	}, nil
}

// RotateSigningKey marks the current active key as superseded (so it
// remains in old_verify_keys until validUntil) and mints a new active
// key. validUntil is how long the outgoing key stays publishable as a
// historical verify key; it does not affect the new key.
func (ks *KeyStore) RotateSigningKey(validUntil time.Duration) (SigningKey, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if !ks.isOpen {
		return SigningKey{}, ErrNotOpen
	}

	now := time.Now()
	_, err := ks.db.Exec(`
		UPDATE signing_keys SET valid_until_ts = ?, expired_ts = ?
		WHERE expired_ts = 0`,
		now.Add(validUntil).Unix(), now.Unix())
	if err != nil {
		return SigningKey{}, fmt.Errorf("keystore: expire current signing key: %w", err)
	}

	return ks.generateSigningKeyLocked()
}

// Sign signs message with the active signing key, returning the key ID
// used so the caller can place it in signatures[server_name][key_id].
func (ks *KeyStore) Sign(message []byte) (keyID string, signature []byte, err error) {
	key, err := ks.ActiveSigningKey()
	if err != nil {
		return "", nil, err
	}
	return key.KeyID, ed25519.Sign(key.Seed, message), nil
}

// LocalVerifyKeys returns every signing key this server has ever
// minted that is still eligible to be published -- the active key plus
// any superseded key whose valid_until_ts has not passed -- as a slice
// of SigningKey values. This backs the /_matrix/key/v2/server verify_keys and
// old_verify_keys response sections.
func (ks *KeyStore) LocalVerifyKeys() ([]SigningKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if !ks.isOpen {
		return nil, ErrNotOpen
	}

	rows, err := ks.db.Query(`
		SELECT key_id, seed_encrypted, nonce, created_at, valid_until_ts, expired_ts
		FROM signing_keys
		WHERE expired_ts = 0 OR valid_until_ts > ?`, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("keystore: query verify keys: %w", err)
	}
	defer rows.Close()

	var keys []SigningKey
	for rows.Next() {
		var keyID string
		var encSeed, nonce []byte
		var createdAt, validUntil, expiredAt int64
		if err := rows.Scan(&keyID, &encSeed, &nonce, &createdAt, &validUntil, &expiredAt); err != nil {
			return nil, fmt.Errorf("keystore: scan verify key: %w", err)
		}
		seed, err := ks.decrypt(encSeed, nonce)
		if err != nil {
			return nil, fmt.Errorf("keystore: decrypt verify key %s: %w", keyID, err)
		}
		priv := ed25519.NewKeyFromSeed(seed)
		sk := SigningKey{
			KeyID:     keyID,
			Seed:      priv,
			Public:    priv.Public().(ed25519.PublicKey),
			CreatedAt: time.Unix(createdAt, 0).UTC(),
		}
		if validUntil > 0 {
			sk.ValidUntil = time.Unix(validUntil, 0).UTC()
		}
		if expiredAt > 0 {
			sk.ExpiredAt = time.Unix(expiredAt, 0).UTC()
		}
		keys = append(keys, sk)
	}
	return keys, rows.Err()
}
