// Package eventcrypto implements the pure cryptographic functions over
// events and requests that spec.md §4.3 defines: content hashing,
// reference hashing (and the event_id it produces for modern room
// versions), Ed25519 event signing/verification, and the X-Matrix
// request-signing primitive. Grounded on the reference federation
// library's eventcrypto.go/redactevent.go hash-strip-canonicalize-sign
// pipeline, re-expressed over this repo's canonicaljson package.
package eventcrypto

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/roomversion"
)

// base64url-unpadded encoding, used throughout Matrix federation for
// hashes and signatures.
var b64 = base64.RawURLEncoding

// ContentHash computes the SHA-256 of the canonical JSON of event with
// "hashes", "signatures", and "unsigned" stripped.
func ContentHash(event canonicaljson.Value) ([]byte, error) {
	stripped := event.CloneWithout("hashes", "signatures", "unsigned")
	canon, err := canonicaljson.Canonicalize(stripped)
	if err != nil {
		return nil, fmt.Errorf("eventcrypto: canonicalize for content hash: %w", err)
	}
	sum := sha256.Sum256(canon)
	return sum[:], nil
}

// WithContentHash returns a copy of event with its "hashes.sha256"
// field set.
func WithContentHash(event canonicaljson.Value) (canonicaljson.Value, error) {
	hash, err := ContentHash(event)
	if err != nil {
		return canonicaljson.Value{}, err
	}
	out := event.CloneWithout("hashes")
	hashes := canonicaljson.NewObject()
	hashes.Set("sha256", canonicaljson.String(b64.EncodeToString(hash)))
	out.Set("hashes", hashes)
	return out, nil
}

// CheckContentHash recomputes the content hash and compares it against
// the event's declared "hashes.sha256".
func CheckContentHash(event canonicaljson.Value) (bool, error) {
	hashesField, ok := event.Get("hashes")
	if !ok {
		return false, fmt.Errorf("eventcrypto: event has no hashes field")
	}
	declared, ok := hashesField.Get("sha256")
	if !ok {
		return false, fmt.Errorf("eventcrypto: event has no hashes.sha256 field")
	}
	declaredStr, ok := declared.AsString()
	if !ok {
		return false, fmt.Errorf("eventcrypto: hashes.sha256 is not a string")
	}
	declaredBytes, err := b64.DecodeString(declaredStr)
	if err != nil {
		return false, fmt.Errorf("eventcrypto: invalid base64 in hashes.sha256: %w", err)
	}
	computed, err := ContentHash(event)
	if err != nil {
		return false, err
	}
	return string(computed) == string(declaredBytes), nil
}

// Redact returns the redacted form of event per the room version's
// redaction table, keeping only the envelope fields and the content
// keys the version allows for the event's type.
func Redact(event canonicaljson.Value, rv roomversion.Descriptor) (canonicaljson.Value, error) {
	eventType, _ := event.Get("type")
	typeStr, _ := eventType.AsString()

	keep := map[string]bool{
		"event_id": true, "type": true, "room_id": true, "sender": true,
		"state_key": true, "content": true, "hashes": true, "signatures": true,
		"depth": true, "prev_events": true, "auth_events": true,
		"origin_server_ts": true, "membership": true,
	}
	out := canonicaljson.NewObject()
	for _, key := range event.Keys() {
		if !keep[key] {
			continue
		}
		val, _ := event.Get(key)
		if key == "content" {
			if roomversion.KeepAllContent(rv, typeStr) {
				out.Set(key, val)
				continue
			}
			var allowed map[string]bool
			if rv.RedactionAllowedKeys != nil {
				allowed = rv.RedactionAllowedKeys(typeStr)
			}
			prunedContent := canonicaljson.NewObject()
			for _, ck := range val.Keys() {
				if allowed[ck] {
					cv, _ := val.Get(ck)
					prunedContent.Set(ck, cv)
				}
			}
			out.Set(key, prunedContent)
			continue
		}
		out.Set(key, val)
	}
	return out, nil
}

// EventReference is the (event_id, reference hash) pair spec.md §4.3
// produces for referencing an event from another event's
// prev_events/auth_events.
type EventReference struct {
	EventID string
	Hash    []byte
}

// ReferenceHash computes the redacted-and-stripped reference hash of
// event. For room versions that carry an explicit event_id (v1/v2),
// EventReference.EventID is read from the event; for modern versions it
// is derived as "$" + base64url(hash).
func ReferenceHash(event canonicaljson.Value, rv roomversion.Descriptor) (EventReference, error) {
	redacted, err := Redact(event, rv)
	if err != nil {
		return EventReference{}, err
	}
	stripped := redacted.CloneWithout("signatures", "unsigned", "age_ts")
	canon, err := canonicaljson.Canonicalize(stripped)
	if err != nil {
		return EventReference{}, fmt.Errorf("eventcrypto: canonicalize for reference hash: %w", err)
	}
	sum := sha256.Sum256(canon)

	if rv.EventIDCarried {
		idField, ok := event.Get("event_id")
		if !ok {
			return EventReference{}, fmt.Errorf("eventcrypto: room version %s requires a carried event_id", rv.Version)
		}
		id, _ := idField.AsString()
		return EventReference{EventID: id, Hash: sum[:]}, nil
	}
	return EventReference{EventID: "$" + b64.EncodeToString(sum[:]), Hash: sum[:]}, nil
}
