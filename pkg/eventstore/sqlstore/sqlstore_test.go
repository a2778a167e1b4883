package sqlstore

import (
	"context"
	"testing"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/eventstore"
	"github.com/armorclaw/matrixcore/pkg/pdu"
)

func mustEvent(t *testing.T, roomID, eventType string, prevEvents, authEvents []string, depth int) *pdu.Event {
	t.Helper()
	return mustStateEvent(t, roomID, eventType, nil, prevEvents, authEvents, depth)
}

func mustStateEvent(t *testing.T, roomID, eventType string, stateKey *string, prevEvents, authEvents []string, depth int) *pdu.Event {
	t.Helper()
	obj := canonicaljson.NewObject()
	obj.Set("room_id", canonicaljson.String(roomID))
	obj.Set("sender", canonicaljson.String("@alice:example.org"))
	obj.Set("type", canonicaljson.String(eventType))
	obj.Set("origin_server_ts", canonicaljson.Int(1000))
	obj.Set("depth", canonicaljson.Int(int64(depth)))
	if stateKey != nil {
		obj.Set("state_key", canonicaljson.String(*stateKey))
	}

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

func strPtr(s string) *string { return &s }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, Config{DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ev := mustEvent(t, "!room:example.org", "m.room.message", nil, nil, 1)

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
	if got.EventID != "$a" || got.Event.Type() != "m.room.message" {
		t.Errorf("got %+v", got)
	}
}

func TestGetReturnsNotFoundForUnknownEvent(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "$missing")
	if err != eventstore.ErrEventNotFound {
		t.Errorf("got %v", err)
	}
}

func TestGetManyOmitsMissingIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ev := mustEvent(t, "!room:example.org", "m.room.message", nil, nil, 1)
	_ = s.Put(ctx, "!room:example.org", "$known", ev, false, false)

	got, err := s.GetMany(ctx, []string{"$known", "$missing"})
	if err != nil {
		t.Fatalf("GetMany: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %+v", got)
	}
	if _, ok := got["$known"]; !ok {
		t.Error("expected $known present")
	}
}

func TestCreateRoomIsIdempotentAndRoomVersionRoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.CreateRoom(ctx, "!room:example.org", "11", "$create"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := s.CreateRoom(ctx, "!room:example.org", "11", "$create"); err != nil {
		t.Fatalf("second CreateRoom: %v", err)
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
	s := openTestStore(t)
	_, err := s.RoomVersion(context.Background(), "!nope:example.org")
	if err != eventstore.ErrRoomNotFound {
		t.Errorf("got %v", err)
	}
}

func TestLatestForwardExtremitiesExcludesEventsWithChildren(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	room := "!room:example.org"

	root := mustEvent(t, room, "m.room.create", nil, nil, 1)
	if err := s.Put(ctx, room, "$root", root, false, false); err != nil {
		t.Fatalf("Put root: %v", err)
	}

	child := mustEvent(t, room, "m.room.message", []string{"$root"}, nil, 2)
	if err := s.Put(ctx, room, "$child", child, false, false); err != nil {
		t.Fatalf("Put child: %v", err)
	}

	extremities, err := s.LatestForwardExtremities(ctx, room)
	if err != nil {
		t.Fatalf("LatestForwardExtremities: %v", err)
	}
	if len(extremities) != 1 || extremities[0] != "$child" {
		t.Errorf("got %v", extremities)
	}
}

func TestAuthChainFollowsAuthEventsTransitively(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	room := "!room:example.org"

	create := mustEvent(t, room, "m.room.create", nil, nil, 1)
	_ = s.Put(ctx, room, "$create", create, false, false)

	member := mustEvent(t, room, "m.room.member", nil, []string{"$create"}, 2)
	_ = s.Put(ctx, room, "$member", member, false, false)

	message := mustEvent(t, room, "m.room.message", nil, []string{"$member"}, 3)
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
	s := openTestStore(t)
	ctx := context.Background()
	room := "!room:example.org"
	ev := mustEvent(t, room, "m.room.message", nil, nil, 1)
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
	s := openTestStore(t)
	ctx := context.Background()
	room := "!room:example.org"
	if err := s.CreateRoom(ctx, room, "11", "$create"); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	state := map[pdu.StateTuple]string{
		{Type: "m.room.create", StateKey: ""}:                 "$create",
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

func TestResolvedStateUnknownRoom(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ResolvedState(context.Background(), "!nope:example.org")
	if err != eventstore.ErrRoomNotFound {
		t.Errorf("got %v", err)
	}
}

func TestStateBeforeReplaysStateEventsByDepth(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	room := "!room:example.org"

create := mustStateEvent(t, room, "m.room.create", strPtr(""), nil, nil, 1)
	_ = s.Put(ctx, room, "$create", create, false, false)

	join := mustStateEvent(t, room, "m.room.member", strPtr("@alice:example.org"), []string{"$create"}, []string{"$create"}, 2)
	_ = s.Put(ctx, room, "$join", join, false, false)

	message := mustEvent(t, room, "m.room.message", []string{"$join"}, []string{"$create"}, 3)
	_ = s.Put(ctx, room, "$message", message, false, false)

	state, err := s.StateBefore(ctx, room, "$message")
	if err != nil {
		t.Fatalf("StateBefore: %v", err)
	}
	if len(state) != 2 {
		t.Errorf("got %+v", state)
	}
}
