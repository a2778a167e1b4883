package eventcrypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
)

// buildSignableRequest reconstructs the JSON object that gets signed
// for an X-Matrix request: {method, uri, origin, destination, content?}.
func buildSignableRequest(method, uri, origin, destination string, body []byte) (canonicaljson.Value, error) {
	obj := canonicaljson.NewObject()
	obj.Set("method", canonicaljson.String(method))
	obj.Set("uri", canonicaljson.String(uri))
	obj.Set("origin", canonicaljson.String(origin))
	obj.Set("destination", canonicaljson.String(destination))
	if len(body) > 0 {
		content, err := canonicaljson.Parse(body)
		if err != nil {
			return canonicaljson.Value{}, fmt.Errorf("eventcrypto: request body is not valid JSON: %w", err)
		}
		obj.Set("content", content)
	}
	return obj, nil
}

// CanonicalRequestBytes reconstructs and canonicalizes the JSON object
// that gets signed for an X-Matrix request. Callers that hold a
// detached signer (e.g. pkg/keystore.KeyStore.Sign, which never
// exposes the raw private seed) sign these bytes directly instead of
// going through SignRequest.
func CanonicalRequestBytes(method, uri, origin, destination string, body []byte) ([]byte, error) {
	obj, err := buildSignableRequest(method, uri, origin, destination, body)
	if err != nil {
		return nil, err
	}
	canon, err := canonicaljson.Canonicalize(obj)
	if err != nil {
		return nil, fmt.Errorf("eventcrypto: canonicalize request: %w", err)
	}
	return canon, nil
}

// SignRequest signs an outbound federation request per spec.md §4.3,
// returning the base64 signature to place in the X-Matrix
// Authorization header's "sig" field.
func SignRequest(method, uri, origin, destination string, body []byte, seed ed25519.PrivateKey) (string, error) {
	canon, err := CanonicalRequestBytes(method, uri, origin, destination, body)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(seed, canon)
	return b64.EncodeToString(sig), nil
}

// VerifyRequestSignature checks a single X-Matrix clause's signature
// against the reconstructed signed object.
func VerifyRequestSignature(method, uri, origin, destination string, body []byte, sigB64 string, pub ed25519.PublicKey) (bool, error) {
	obj, err := buildSignableRequest(method, uri, origin, destination, body)
	if err != nil {
		return false, err
	}
	canon, err := canonicaljson.Canonicalize(obj)
	if err != nil {
		return false, fmt.Errorf("eventcrypto: canonicalize request: %w", err)
	}
	sig, err := b64.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("eventcrypto: invalid signature encoding: %w", err)
	}
	return ed25519.Verify(pub, canon, sig), nil
}
