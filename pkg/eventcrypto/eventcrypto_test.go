package eventcrypto

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/roomversion"
)

func TestContentHashMinimalEventVector(t *testing.T) {
	event, err := canonicaljson.Parse([]byte(
		`{"event_id":"$0:domain","origin_server_ts":1000000,"type":"X","signatures":{}}`))
	require.NoError(t, err)

	hash, err := ContentHash(event)
	require.NoError(t, err)
	assert.Equal(t, "A6Nco6sqoy18PPfPDVdYvoowfc0PVBk9g9OiyT3ncRM", b64.EncodeToString(hash))
}

func TestContentHashIgnoresKeyOrderAndReservedFields(t *testing.T) {
	a, err := canonicaljson.Parse([]byte(`{"type":"X","origin_server_ts":1000000,"event_id":"$0:domain"}`))
	require.NoError(t, err)
	b, err := canonicaljson.Parse([]byte(`{"event_id":"$0:domain","origin_server_ts":1000000,"type":"X","unsigned":{"age":5},"hashes":{"sha256":"stale"},"signatures":{"x":{"y":"z"}}}`))
	require.NoError(t, err)

	ha, err := ContentHash(a)
	require.NoError(t, err)
	hb, err := ContentHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestSignEventThenVerifyRoundTrips(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	event := canonicaljson.NewObject()
	event.Set("room_id", canonicaljson.String("!room:example.org"))
	event.Set("sender", canonicaljson.String("@alice:example.org"))
	event.Set("type", canonicaljson.String("m.room.message"))
	event.Set("origin_server_ts", canonicaljson.Int(1234))
	content := canonicaljson.NewObject()
	content.Set("body", canonicaljson.String("hello"))
	event.Set("content", content)
	event.Set("prev_events", canonicaljson.Array(nil))
	event.Set("auth_events", canonicaljson.Array(nil))

	rv := roomversion.MustGet("10")
	signed, err := SignEvent(event, rv, "example.org", "ed25519:1", priv)
	require.NoError(t, err)

	ok, err := CheckContentHash(signed)
	require.NoError(t, err)
	assert.True(t, ok)

	lookup := func(server, keyID string) (ed25519.PublicKey, bool) {
		if server == "example.org" && keyID == "ed25519:1" {
			return pub, true
		}
		return nil, false
	}
	err = VerifyEvent(signed, rv, []string{"example.org"}, lookup)
	assert.NoError(t, err)
}

func TestVerifyEventFailsOnTamperedSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	event := canonicaljson.NewObject()
	event.Set("room_id", canonicaljson.String("!room:example.org"))
	event.Set("sender", canonicaljson.String("@alice:example.org"))
	event.Set("type", canonicaljson.String("m.room.message"))
	event.Set("origin_server_ts", canonicaljson.Int(1234))
	event.Set("content", canonicaljson.NewObject())

	rv := roomversion.MustGet("10")
	signed, err := SignEvent(event, rv, "example.org", "ed25519:1", priv)
	require.NoError(t, err)

	tampered := signed.CloneWithout("content")
	c := canonicaljson.NewObject()
	c.Set("body", canonicaljson.String("tampered"))
	tampered.Set("content", c)

	lookup := func(server, keyID string) (ed25519.PublicKey, bool) { return pub, true }
	err = VerifyEvent(tampered, rv, []string{"example.org"}, lookup)
	assert.Error(t, err)
}

func TestReferenceHashDerivesEventIDForModernVersions(t *testing.T) {
	event := canonicaljson.NewObject()
	event.Set("room_id", canonicaljson.String("!room:example.org"))
	event.Set("sender", canonicaljson.String("@alice:example.org"))
	event.Set("type", canonicaljson.String("m.room.create"))
	event.Set("state_key", canonicaljson.String(""))
	event.Set("origin_server_ts", canonicaljson.Int(1))
	content := canonicaljson.NewObject()
	content.Set("room_version", canonicaljson.String("10"))
	event.Set("content", content)

	rv := roomversion.MustGet("10")
	ref, err := ReferenceHash(event, rv)
	require.NoError(t, err)
	assert.True(t, len(ref.EventID) > 1 && ref.EventID[0] == '$')

	// Deterministic: re-hashing the same event yields the
	// same ID.
	ref2, err := ReferenceHash(event, rv)
	require.NoError(t, err)
	assert.Equal(t, ref.EventID, ref2.EventID)
}
