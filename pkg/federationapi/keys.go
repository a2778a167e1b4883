package federationapi

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/fedclient"
	"github.com/armorclaw/matrixcore/pkg/ferrors"
)

var b64 = base64.RawStdEncoding

// handleServerKeys serves GET /_matrix/key/v2/server: this server's
// current and recent verify keys, self-signed (spec.md §6, §4.2).
// Unauthenticated -- a server must be able to fetch this document
// before it has any key to verify a request with.
func (s *Server) handleServerKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.LocalVerifyKeys()
	if err != nil {
		writeError(w, ferrors.NewBuilder("KEY-003").Wrap(err).Build())
		return
	}
	active, err := s.keys.ActiveSigningKey()
	if err != nil {
		writeError(w, ferrors.NewBuilder("KEY-003").Wrap(err).Build())
		return
	}

	resp := fedclient.ServerKeyResponse{
		ServerName:   s.config.ServerName,
		ValidUntilTS: time.Now().Add(24 * time.Hour).UnixMilli(),
		VerifyKeys:   make(map[string]fedclient.VerifyKeyEntry),
	}
	for _, k := range keys {
		if !k.ExpiredAt.IsZero() {
			if resp.OldVerifyKeys == nil {
				resp.OldVerifyKeys = make(map[string]fedclient.OldVerifyKey)
			}
			resp.OldVerifyKeys[k.KeyID] = fedclient.OldVerifyKey{
				Key:       b64.EncodeToString(k.Public),
				ExpiredTS: k.ExpiredAt.UnixMilli(),
			}
			continue
		}
		resp.VerifyKeys[k.KeyID] = fedclient.VerifyKeyEntry{Key: b64.EncodeToString(k.Public)}
	}

	doc, err := signedKeyDocument(resp, s.config.ServerName, active.KeyID, active.Seed)
	if err != nil {
		writeError(w, ferrors.NewBuilder("KEY-003").Wrap(err).Build())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// signedKeyDocument canonicalizes resp (minus signatures), signs it
// with seed, and returns a map ready for JSON encoding with the
// signature attached. The key document isn't an event, so it bypasses
// pkg/eventcrypto's redaction/content-hash machinery and is signed
// directly, the same way pkg/eventcrypto.SignEvent signs the
// redacted+hashed form.
func signedKeyDocument(resp fedclient.ServerKeyResponse, serverName, keyID string, seed ed25519.PrivateKey) (map[string]interface{}, error) {
	verifyKeys := make(map[string]interface{}, len(resp.VerifyKeys))
	for id, k := range resp.VerifyKeys {
		verifyKeys[id] = map[string]string{"key": k.Key}
	}
	doc := map[string]interface{}{
		"server_name":    resp.ServerName,
		"valid_until_ts": resp.ValidUntilTS,
		"verify_keys":    verifyKeys,
	}
	if len(resp.OldVerifyKeys) > 0 {
		old := make(map[string]interface{}, len(resp.OldVerifyKeys))
		for id, k := range resp.OldVerifyKeys {
			old[id] = map[string]interface{}{"key": k.Key, "expired_ts": k.ExpiredTS}
		}
		doc["old_verify_keys"] = old
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	value, err := canonicaljson.Parse(raw)
	if err != nil {
		return nil, err
	}
	canon, err := canonicaljson.Canonicalize(value)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(seed, canon)

	doc["signatures"] = map[string]interface{}{
		serverName: map[string]string{keyID: b64.EncodeToString(sig)},
	}
	return doc, nil
}
