// Package keystore tests for encrypted signing-key storage and the
// remote verify-key cache.
package keystore

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4"
)

func testKeyStore(t *testing.T) *KeyStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	masterKey := make([]byte, 32)
	for i := range masterKey {
		masterKey[i] = byte(i)
	}

	ks, err := New(Config{DBPath: dbPath, ServerName: "test.example.org", MasterKey: masterKey})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ks.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ks.Close() })
	return ks
}

func TestKeystoreEncryptDecryptRoundTrips(t *testing.T) {
	ks := testKeyStore(t)

	testData := []byte("a 32-byte ed25519 seed goes here")
	encrypted, nonce, err := ks.encrypt(testData)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(nonce) != 24 {
		t.Fatalf("nonce has wrong length: got %d, want 24", len(nonce))
	}

	decrypted, err := ks.decrypt(encrypted, nonce)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(decrypted) != string(testData) {
		t.Errorf("decrypted data mismatch:\ngot:  %s\nwant: %s", decrypted, testData)
	}

	wrongNonce := make([]byte, 24)
	if _, err := ks.decrypt(encrypted, wrongNonce); err == nil {
		t.Error("expected error when decrypting with wrong nonce")
	}
}

func TestActiveSigningKeyGeneratesThenPersists(t *testing.T) {
	ks := testKeyStore(t)

	first, err := ks.ActiveSigningKey()
	if err != nil {
		t.Fatalf("ActiveSigningKey: %v", err)
	}
	if first.KeyID == "" {
		t.Fatal("expected a generated key id")
	}
	if len(first.Seed) != ed25519.PrivateKeySize {
		t.Fatalf("seed has wrong size: got %d", len(first.Seed))
	}

	second, err := ks.ActiveSigningKey()
	if err != nil {
		t.Fatalf("ActiveSigningKey (second call): %v", err)
	}
	if second.KeyID != first.KeyID {
		t.Errorf("expected the same active key across calls, got %s then %s", first.KeyID, second.KeyID)
	}
}

func TestSignUsesActiveKey(t *testing.T) {
	ks := testKeyStore(t)

	keyID, sig, err := ks.Sign([]byte("hello"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	keys, err := ks.LocalVerifyKeys()
	if err != nil {
		t.Fatalf("LocalVerifyKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected exactly one verify key, got %d", len(keys))
	}
	if keys[0].KeyID != keyID {
		t.Fatalf("verify key id mismatch: got %s, want %s", keys[0].KeyID, keyID)
	}
	if !ed25519.Verify(keys[0].Public, []byte("hello"), sig) {
		t.Error("signature does not verify under the published verify key")
	}
}

func TestRotateSigningKeyKeepsOldKeyPublishable(t *testing.T) {
	ks := testKeyStore(t)

	original, err := ks.ActiveSigningKey()
	if err != nil {
		t.Fatalf("ActiveSigningKey: %v", err)
	}

	rotated, err := ks.RotateSigningKey(time.Hour)
	if err != nil {
		t.Fatalf("RotateSigningKey: %v", err)
	}
	if rotated.KeyID == original.KeyID {
		t.Fatal("rotation should mint a new key id")
	}

	active, err := ks.ActiveSigningKey()
	if err != nil {
		t.Fatalf("ActiveSigningKey after rotation: %v", err)
	}
	if active.KeyID != rotated.KeyID {
		t.Errorf("active key after rotation should be the new key: got %s, want %s", active.KeyID, rotated.KeyID)
	}

	keys, err := ks.LocalVerifyKeys()
	if err != nil {
		t.Fatalf("LocalVerifyKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected both the old and new key to remain publishable, got %d", len(keys))
	}
}

func TestVerifyKeyServesFromCacheWithoutFetching(t *testing.T) {
	ks := testKeyStore(t)

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	err = ks.RememberServerKeys("remote.example.org", []ServerVerifyKey{
		{KeyID: "ed25519:1", PublicKey: pub, ValidUntil: time.Now().Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("RememberServerKeys: %v", err)
	}

	fetchCalls := 0
	fetch := func(ctx context.Context, serverName string) ([]ServerVerifyKey, error) {
		fetchCalls++
		return nil, nil
	}

	got, err := ks.VerifyKey(context.Background(), "remote.example.org", "ed25519:1", fetch)
	if err != nil {
		t.Fatalf("VerifyKey: %v", err)
	}
	if string(got) != string(pub) {
		t.Error("cached public key mismatch")
	}
	if fetchCalls != 0 {
		t.Errorf("expected cache hit to avoid fetching, called %d times", fetchCalls)
	}
}

func TestVerifyKeyFetchesAndCoalescesConcurrentMisses(t *testing.T) {
	ks := testKeyStore(t)

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	fetchCalls := 0
	fetch := func(ctx context.Context, serverName string) ([]ServerVerifyKey, error) {
		fetchCalls++
		time.Sleep(10 * time.Millisecond)
		return []ServerVerifyKey{
			{KeyID: "ed25519:1", PublicKey: pub, ValidUntil: time.Now().Add(time.Hour)},
		}, nil
	}

	const concurrency = 8
	results := make(chan ed25519.PublicKey, concurrency)
	errs := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			got, err := ks.VerifyKey(context.Background(), "remote.example.org", "ed25519:1", fetch)
			results <- got
			errs <- err
		}()
	}

	for i := 0; i < concurrency; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("VerifyKey: %v", err)
		}
		if string(<-results) != string(pub) {
			t.Error("returned public key mismatch")
		}
	}

	if fetchCalls != 1 {
		t.Errorf("expected concurrent misses to coalesce into one fetch, got %d", fetchCalls)
	}
}

func TestVerifyKeyRefetchesOnStaleCacheEntry(t *testing.T) {
	ks := testKeyStore(t)

	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	err = ks.RememberServerKeys("remote.example.org", []ServerVerifyKey{
		{KeyID: "ed25519:1", PublicKey: pub, ValidUntil: time.Now().Add(-time.Hour)},
	})
	if err != nil {
		t.Fatalf("RememberServerKeys: %v", err)
	}

	fetch := func(ctx context.Context, serverName string) ([]ServerVerifyKey, error) {
		return nil, nil
	}
	_, err = ks.VerifyKey(context.Background(), "remote.example.org", "ed25519:1", fetch)
	if err != ErrKeyNotFound {
		t.Errorf("expected a re-fetch attempt on an expired cache entry, got err=%v", err)
	}
}
