package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/armorclaw/matrixcore/pkg/fedclient"
	"github.com/armorclaw/matrixcore/pkg/keystore"
)

// verifierKeyAdapter wraps a *keystore.KeyStore (cache-then-fetch) into
// the eventcrypto.VerifierKey shape pkg/roomdag.Processor needs: a
// synchronous (serverName, keyID) -> (publicKey, ok) lookup. roomdag
// never supplies its own fetch fallback, so the adapter closes over the
// same fetchServerKeys used by pkg/matrixauth.Middleware.
func verifierKeyAdapter(ks *keystore.KeyStore, fetch keystore.FetchServerKeysFunc) func(serverName, keyID string) (ed25519.PublicKey, bool) {
	return func(serverName, keyID string) (ed25519.PublicKey, bool) {
		pub, err := ks.VerifyKey(context.Background(), serverName, keyID, fetch)
		if err != nil {
			return nil, false
		}
		return pub, true
	}
}

// fetchServerKeys implements keystore.FetchServerKeysFunc over the
// outbound federation client: GET /_matrix/key/v2/server on a cache
// miss, converting the wire response's base64 keys into
// keystore.ServerVerifyKey. Shared by pkg/matrixauth.Middleware (to
// verify an inbound request's origin) and keystore.VerifyKey (to verify
// signatures on fetched PDUs).
func fetchServerKeys(client *fedclient.Client) keystore.FetchServerKeysFunc {
	b64 := base64.RawStdEncoding
	return func(ctx context.Context, serverName string) ([]keystore.ServerVerifyKey, error) {
		resp, err := client.ServerKeys(ctx, serverName)
		if err != nil {
			return nil, err
		}
		validUntil := time.UnixMilli(resp.ValidUntilTS)
		keys := make([]keystore.ServerVerifyKey, 0, len(resp.VerifyKeys))
		for keyID, entry := range resp.VerifyKeys {
			pub, err := b64.DecodeString(entry.Key)
			if err != nil {
				continue
			}
			keys = append(keys, keystore.ServerVerifyKey{
				KeyID:      keyID,
				PublicKey:  pub,
				ValidUntil: validUntil,
			})
		}
		return keys, nil
	}
}
