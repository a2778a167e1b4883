package eventcrypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/roomversion"
)

// SignEvent computes the content hash, writes it into "hashes", signs
// the redacted event (minus "signatures" and "unsigned") with the
// given key, and writes the signature into
// signatures[serverName][keyID]. The returned value retains "unsigned".
func SignEvent(event canonicaljson.Value, rv roomversion.Descriptor, serverName, keyID string, seed ed25519.PrivateKey) (canonicaljson.Value, error) {
	hashed, err := WithContentHash(event)
	if err != nil {
		return canonicaljson.Value{}, err
	}

	unsigned, hadUnsigned := hashed.Get("unsigned")
	signable := hashed.CloneWithout("unsigned")

	redacted, err := Redact(signable, rv)
	if err != nil {
		return canonicaljson.Value{}, err
	}
	toSign := redacted.CloneWithout("signatures")
	canon, err := canonicaljson.Canonicalize(toSign)
	if err != nil {
		return canonicaljson.Value{}, fmt.Errorf("eventcrypto: canonicalize for signing: %w", err)
	}
	sig := ed25519.Sign(seed, canon)

	out := signable
	sigs, ok := out.Get("signatures")
	if !ok {
		sigs = canonicaljson.NewObject()
	}
	serverSigs, ok := sigs.Get(serverName)
	if !ok {
		serverSigs = canonicaljson.NewObject()
	}
	serverSigs.Set(keyID, canonicaljson.String(b64.EncodeToString(sig)))
	sigs.Set(serverName, serverSigs)
	out.Set("signatures", sigs)

	if hadUnsigned {
		out.Set("unsigned", unsigned)
	}
	return out, nil
}

// VerifierKey identifies the (server, key_id) -> public key lookup
// VerifyEvent needs; supplied by pkg/keystore in production and by a
// plain map in tests.
type VerifierKey func(serverName, keyID string) (ed25519.PublicKey, bool)

// VerifyEvent recomputes the content hash and checks it against the
// declared hash, then verifies that at least one signature from each
// required server verifies under a key that VerifierKey resolves.
// requiredServers is computed by the caller per spec.md §4.3 (sender's
// server, plus the membership target's server for certain room
// versions) -- eventcrypto itself does not know Matrix ID parsing
// rules beyond extracting the domain after ':'.
func VerifyEvent(event canonicaljson.Value, rv roomversion.Descriptor, requiredServers []string, lookup VerifierKey) error {
	ok, err := CheckContentHash(event)
	if err != nil {
		return fmt.Errorf("eventcrypto: content hash check: %w", err)
	}
	if !ok {
		return fmt.Errorf("eventcrypto: content hash mismatch")
	}

	redacted, err := Redact(event, rv)
	if err != nil {
		return err
	}
	toVerify := redacted.CloneWithout("signatures", "unsigned")
	canon, err := canonicaljson.Canonicalize(toVerify)
	if err != nil {
		return fmt.Errorf("eventcrypto: canonicalize for verification: %w", err)
	}

	sigsField, ok := event.Get("signatures")
	if !ok {
		return fmt.Errorf("eventcrypto: event has no signatures")
	}

	for _, server := range requiredServers {
		serverSigs, ok := sigsField.Get(server)
		if !ok {
			return fmt.Errorf("eventcrypto: missing signature from required server %q", server)
		}
		if !anySignatureVerifies(serverSigs, server, canon, lookup) {
			return fmt.Errorf("eventcrypto: no valid signature from server %q", server)
		}
	}
	return nil
}

func anySignatureVerifies(serverSigs canonicaljson.Value, server string, message []byte, lookup VerifierKey) bool {
	for _, keyID := range serverSigs.Keys() {
		sigField, _ := serverSigs.Get(keyID)
		sigStr, ok := sigField.AsString()
		if !ok {
			continue
		}
		sig, err := b64.DecodeString(sigStr)
		if err != nil {
			continue
		}
		pub, ok := lookup(server, keyID)
		if !ok {
			continue
		}
		if ed25519.Verify(pub, message, sig) {
			return true
		}
	}
	return false
}
