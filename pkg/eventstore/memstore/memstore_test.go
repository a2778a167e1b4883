package memstore

import (
	"context"
	"testing"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/eventstore"
	"github.com/armorclaw/matrixcore/pkg/pdu"
)

func mustEvent(t *testing.T, roomID, eventType string, prevEvents, authEvents []string) *pdu.Event {
	t.Helper()
	obj := canonicaljson.NewObject()
	obj.Set("room_id", canonicaljson.String(roomID))
	obj.Set("sender", canonicaljson.String("@alice:example.org"))
	obj.Set("type", canonicaljson.String(eventType))
	obj.Set("origin_server_ts", canonicaljson.Int(1000))

	prevArr := make([]canonicaljson.Value, len(prevEvents))
	for i, p := range prevEvents {
		prevArr[i] = canonicaljson.String(p)
	}
	obj.Set("prev_events", canonicaljson.Array(prevArr))

	authArr := make([]canonicaljson.Value, len(authEvents))
	for i, a := range authEvents {
		authArr[i] = canonicaljson.String(a)
	}
	obj.Set("auth_events", canonicaljson.Array(authArr))

	ev, err := pdu.FromValue(obj)
	if err != nil {
		t.Fatalf("FromValue: %v", err)
	}
	return ev
}

func TestPutIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	ev := mustEvent(t, "!room:example.org", "m.room.message", nil, nil)

	if err := s.Put(ctx, "!room:example.org", "$a", ev, false, false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "!room:example.org", "$a", ev, false, false); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	got, err := s.Get(ctx, "$a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.EventID != "$a" {
		t.Errorf("got %+v", got)
	}
}

func TestGetReturnsNotFoundForUnknownEvent(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "$missing")
	if err != eventstore.ErrEventNotFound {
		t.Errorf("got %v", err)
	}
}

func TestCreateRoomThenRoomVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateRoom(ctx, "!room:example.org", "11", "$create"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	version, err := s.RoomVersion(ctx, "!room:example.org")
	if err != nil {
		t.Fatalf("RoomVersion: %v", err)
	}
	if version != "11" {
		t.Errorf("got %q", version)
	}
}

func TestRoomVersionUnknownRoom(t *testing.T) {
	s := New()
	_, err := s.RoomVersion(context.Background(), "!nope:example.org")
	if err != eventstore.ErrRoomNotFound {
		t.Errorf("got %v", err)
	}
}

func TestLatestForwardExtremitiesExcludesEventsWithChildren(t *testing.T) {
	s := New()
	ctx := context.Background()
	room := "!room:example.org"

	root := mustEvent(t, room, "m.room.create", nil, nil)
	_ = s.Put(ctx, room, "$root", root, false, false)

	child := mustEvent(t, room, "m.room.message", []string{"$root"}, nil)
	_ = s.Put(ctx, room, "$child", child, false, false)

	extremities, err := s.LatestForwardExtremities(ctx, room)
	if err != nil {
		t.Fatalf("LatestForwardExtremities: %v", err)
	}
	if len(extremities) != 1 || extremities[0] != "$child" {
		t.Errorf("got %v", extremities)
	}
}

func TestAuthChainFollowsAuthEventsTransitively(t *testing.T) {
	s := New()
	ctx := context.Background()
	room := "!room:example.org"

	create := mustEvent(t, room, "m.room.create", nil, nil)
	_ = s.Put(ctx, room, "$create", create, false, false)

	member := mustEvent(t, room, "m.room.member", nil, []string{"$create"})
	_ = s.Put(ctx, room, "$member", member, false, false)

	message := mustEvent(t, room, "m.room.message", nil, []string{"$member"})
	_ = s.Put(ctx, room, "$message", message, false, false)

	chain, err := s.AuthChain(ctx, []string{"$message"})
	if err != nil {
		t.Fatalf("AuthChain: %v", err)
	}
	want := map[string]bool{"$message": true, "$member": true, "$create": true}
	if len(chain) != len(want) {
		t.Fatalf("got %v", chain)
	}
	for _, id := range chain {
		if !want[id] {
			t.Errorf("unexpected id %q in chain", id)
		}
	}
}

func TestMissingEventsFiltersStoredIDs(t *testing.T) {
	s := New()
	ctx := context.Background()
	room := "!room:example.org"
	ev := mustEvent(t, room, "m.room.message", nil, nil)
	_ = s.Put(ctx, room, "$known", ev, false, false)

	missing, err := s.MissingEvents(ctx, room, []string{"$known", "$unknown"})
	if err != nil {
		t.Fatalf("MissingEvents: %v", err)
	}
	if len(missing) != 1 || missing[0] != "$unknown" {
		t.Errorf("got %v", missing)
	}
}

func TestResolvedStateRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()
	room := "!room:example.org"
	if err := s.CreateRoom(ctx, room, "11", "$create"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	state := map[pdu.StateTuple]string{
		{Type: "m.room.create", StateKey: ""}: "$create",
		{Type: "m.room.member", StateKey: "@alice:example.org"}: "$member",
	}
	if err := s.SetResolvedState(ctx, room, state); err != nil {
		t.Fatalf("SetResolvedState: %v", err)
	}

	got, err := s.ResolvedState(ctx, room)
	if err != nil {
		t.Fatalf("ResolvedState: %v", err)
	}
	if len(got) != 2 || got[pdu.StateTuple{Type: "m.room.create", StateKey: ""}] != "$create" {
		t.Errorf("got %+v", got)
	}
}
