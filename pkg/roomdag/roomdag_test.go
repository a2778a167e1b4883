package roomdag

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/eventcrypto"
	"github.com/armorclaw/matrixcore/pkg/eventstore/memstore"
	"github.com/armorclaw/matrixcore/pkg/pdu"
	"github.com/armorclaw/matrixcore/pkg/roomversion"
)

const testServer = "example.org"
const testKeyID = "ed25519:1"

func newTestSigner(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func verifierFor(pub ed25519.PublicKey) eventcrypto.VerifierKey {
	return func(serverName, keyID string) (ed25519.PublicKey, bool) {
		if serverName == testServer && keyID == testKeyID {
			return pub, true
		}
		return nil, false
	}
}

func signedEvent(t *testing.T, priv ed25519.PrivateKey, rv roomversion.Descriptor, sender, eventType string, stateKey *string, content canonicaljson.Value, authEvents, prevEvents []string) (*pdu.Event, canonicaljson.Value) {
	t.Helper()
	obj := canonicaljson.NewObject()
	obj.Set("room_id", canonicaljson.String("!room:"+testServer))
	obj.Set("sender", canonicaljson.String(sender))
	obj.Set("type", canonicaljson.String(eventType))
	obj.Set("origin_server_ts", canonicaljson.Int(1000))
	obj.Set("content", content)
	if stateKey != nil {
		obj.Set("state_key", canonicaljson.String(*stateKey))
	}
	authArr := make([]canonicaljson.Value, len(authEvents))
	for i, a := range authEvents {
		authArr[i] = canonicaljson.String(a)
	}
	obj.Set("auth_events", canonicaljson.Array(authArr))
	prevArr := make([]canonicaljson.Value, len(prevEvents))
	for i, p := range prevEvents {
		prevArr[i] = canonicaljson.String(p)
	}
	obj.Set("prev_events", canonicaljson.Array(prevArr))

	signed, err := eventcrypto.SignEvent(obj, rv, testServer, testKeyID, priv)
	if err != nil {
		t.Fatalf("sign event: %v", err)
	}
	ev, err := pdu.FromValue(signed)
	if err != nil {
		t.Fatalf("FromValue: %v", err)
	}
	return ev, signed
}

func membershipContent(membership string) canonicaljson.Value {
	c := canonicaljson.NewObject()
	c.Set("membership", canonicaljson.String(membership))
	return c
}

func TestProcessPDUAcceptsRoomCreateAndJoin(t *testing.T) {
	ctx := context.Background()
	pub, priv := newTestSigner(t)
	rv := roomversion.MustGet("11")
	store := memstore.New()
	p := New(store, verifierFor(pub), nil, nil)

	_, createRaw := signedEvent(t, priv, rv, "@alice:"+testServer, "m.room.create", strPtr(""), canonicaljson.NewObject(), nil, nil)
	createOut := p.ProcessPDU(ctx, testServer, createRaw)
	if createOut.Err != nil || createOut.Rejected {
		t.Fatalf("create event rejected: %+v", createOut)
	}
	if err := store.CreateRoom(ctx, "!room:"+testServer, "11", createOut.EventID); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	_, joinRaw := signedEvent(t, priv, rv, "@alice:"+testServer, "m.room.member", strPtr("@alice:"+testServer), membershipContent("join"), []string{createOut.EventID}, []string{createOut.EventID})
	joinOut := p.ProcessPDU(ctx, testServer, joinRaw)
	if joinOut.Err != nil || joinOut.Rejected {
		t.Fatalf("join event rejected: %+v", joinOut)
	}

	resolved, err := store.ResolvedState(ctx, "!room:"+testServer)
	if err != nil {
		t.Fatalf("ResolvedState: %v", err)
	}
	if resolved[pdu.StateTuple{Type: "m.room.member", StateKey: "@alice:" + testServer}] != joinOut.EventID {
		t.Fatalf("expected join event to be resolved state, got %+v", resolved)
	}
}

func TestProcessPDURejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	_, priv := newTestSigner(t)
	otherPub, _ := newTestSigner(t)
	rv := roomversion.MustGet("11")
	store := memstore.New()
	p := New(store, verifierFor(otherPub), nil, nil)

	_, createRaw := signedEvent(t, priv, rv, "@alice:"+testServer, "m.room.create", strPtr(""), canonicaljson.NewObject(), nil, nil)
	out := p.ProcessPDU(ctx, testServer, createRaw)
	if !out.Rejected {
		t.Fatalf("expected signature verification failure to reject the event, got %+v", out)
	}
}

func TestProcessPDURejectsMalformedRoomID(t *testing.T) {
	ctx := context.Background()
	obj := canonicaljson.NewObject()
	obj.Set("room_id", canonicaljson.String("not-a-room-id"))
	obj.Set("sender", canonicaljson.String("@alice:"+testServer))
	obj.Set("type", canonicaljson.String("m.room.message"))
	obj.Set("content", canonicaljson.NewObject())
	obj.Set("auth_events", canonicaljson.Array(nil))
	obj.Set("prev_events", canonicaljson.Array(nil))

	store := memstore.New()
	p := New(store, nil, nil, nil)
	out := p.ProcessPDU(ctx, testServer, obj)
	if !out.Rejected {
		t.Fatalf("expected malformed room_id to be rejected, got %+v", out)
	}
}

func TestProcessPDUIsIdempotentOnEventID(t *testing.T) {
	ctx := context.Background()
	pub, priv := newTestSigner(t)
	rv := roomversion.MustGet("11")
	store := memstore.New()
	p := New(store, verifierFor(pub), nil, nil)

	_, createRaw := signedEvent(t, priv, rv, "@alice:"+testServer, "m.room.create", strPtr(""), canonicaljson.NewObject(), nil, nil)
	first := p.ProcessPDU(ctx, testServer, createRaw)
	second := p.ProcessPDU(ctx, testServer, createRaw)
	if first.Err != nil || second.Err != nil {
		t.Fatalf("unexpected errors: first=%v second=%v", first.Err, second.Err)
	}
	if first.EventID != second.EventID {
		t.Fatalf("expected stable event ID across duplicate puts, got %s vs %s", first.EventID, second.EventID)
	}
}

func strPtr(s string) *string { return &s }
