package authrules

import (
	"strings"
	"testing"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/pdu"
	"github.com/armorclaw/matrixcore/pkg/roomversion"
)

func mustEvent(t *testing.T, sender, eventType string, stateKey *string, content canonicaljson.Value, authEvents []string) *pdu.Event {
	t.Helper()
	obj := canonicaljson.NewObject()
	obj.Set("room_id", canonicaljson.String("!room:example.org"))
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
	obj.Set("prev_events", canonicaljson.Array(nil))

	ev, err := pdu.FromValue(obj)
	if err != nil {
		t.Fatalf("FromValue: %v", err)
	}
	return ev
}

func strPtr(s string) *string { return &s }

func membershipContent(membership string) canonicaljson.Value {
	c := canonicaljson.NewObject()
	c.Set("membership", canonicaljson.String(membership))
	return c
}

var v11 = roomversion.MustGet("11")
var v10 = roomversion.MustGet("10") // still gives the creator implicit max power

func TestAuthorizedCreateMustBeFirstEvent(t *testing.T) {
	create := mustEvent(t, "@alice:example.org", "m.room.create", strPtr(""), canonicaljson.NewObject(), nil)
	if err := Authorized(create, NewState(nil), v11); err != nil {
		t.Fatalf("expected first create to be authorized, got %v", err)
	}

	existing := map[pdu.StateTuple]*pdu.Event{{Type: "m.room.create", StateKey: ""}: create}
	second := mustEvent(t, "@mallory:example.org", "m.room.create", strPtr(""), canonicaljson.NewObject(), nil)
	if err := Authorized(second, NewState(existing), v11); err == nil {
		t.Fatal("expected a second create event to be rejected")
	}
}

func TestAuthorizedRejectsMissingCreateInAuthState(t *testing.T) {
	member := mustEvent(t, "@alice:example.org", "m.room.member", strPtr("@alice:example.org"), membershipContent("join"), nil)
	err := Authorized(member, NewState(nil), v11)
	if err == nil || !strings.Contains(err.Error(), "AUTH-002") {
		t.Fatalf("expected AUTH-002, got %v", err)
	}
}

func TestAuthorizedAllowsCreatorFirstSelfJoin(t *testing.T) {
	create := mustEvent(t, "@alice:example.org", "m.room.create", strPtr(""), canonicaljson.NewObject(), nil)
	join := mustEvent(t, "@alice:example.org", "m.room.member", strPtr("@alice:example.org"), membershipContent("join"), nil)

	state := NewState(map[pdu.StateTuple]*pdu.Event{{Type: "m.room.create", StateKey: ""}: create})
	if err := Authorized(join, state, v11); err != nil {
		t.Fatalf("expected creator's own first join to be authorized, got %v", err)
	}
}

func roomWithCreatorAndMember(t *testing.T, memberID, membership string) State {
	t.Helper()
	create := mustEvent(t, "@alice:example.org", "m.room.create", strPtr(""), canonicaljson.NewObject(), nil)
	creatorMember := mustEvent(t, "@alice:example.org", "m.room.member", strPtr("@alice:example.org"), membershipContent("join"), nil)
	events := map[pdu.StateTuple]*pdu.Event{
		{Type: "m.room.create", StateKey: ""}:                         create,
		{Type: "m.room.member", StateKey: "@alice:example.org"}:       creatorMember,
	}
	if memberID != "" {
		events[pdu.StateTuple{Type: "m.room.member", StateKey: memberID}] =
			mustEvent(t, "@alice:example.org", "m.room.member", strPtr(memberID), membershipContent(membership), nil)
	}
	return NewState(events)
}

func TestAuthorizedRejectsJoinByOtherUser(t *testing.T) {
	state := roomWithCreatorAndMember(t, "@bob:example.org", "invite")
	joinOnBobsBehalf := mustEvent(t, "@alice:example.org", "m.room.member", strPtr("@bob:example.org"), membershipContent("join"), nil)
	if err := Authorized(joinOnBobsBehalf, state, v11); err == nil {
		t.Fatal("expected a join sent by someone other than the target to be rejected")
	}
}

func TestAuthorizedAllowsInvitedUserToJoin(t *testing.T) {
	state := roomWithCreatorAndMember(t, "@bob:example.org", "invite")
	join := mustEvent(t, "@bob:example.org", "m.room.member", strPtr("@bob:example.org"), membershipContent("join"), nil)
	if err := Authorized(join, state, v11); err != nil {
		t.Fatalf("expected invited user's join to be authorized, got %v", err)
	}
}

func TestAuthorizedRejectsJoinWithoutInviteInInviteOnlyRoom(t *testing.T) {
	state := roomWithCreatorAndMember(t, "", "")
	join := mustEvent(t, "@bob:example.org", "m.room.member", strPtr("@bob:example.org"), membershipContent("join"), nil)
	if err := Authorized(join, state, v11); err == nil {
		t.Fatal("expected uninvited join in an invite-only room to be rejected")
	}
}

func TestAuthorizedRejectsBannedSender(t *testing.T) {
	create := mustEvent(t, "@alice:example.org", "m.room.create", strPtr(""), canonicaljson.NewObject(), nil)
	creatorMember := mustEvent(t, "@alice:example.org", "m.room.member", strPtr("@alice:example.org"), membershipContent("join"), nil)
	bannedMember := mustEvent(t, "@alice:example.org", "m.room.member", strPtr("@mallory:example.org"), membershipContent("ban"), nil)
	state := NewState(map[pdu.StateTuple]*pdu.Event{
		{Type: "m.room.create", StateKey: ""}:                     create,
		{Type: "m.room.member", StateKey: "@alice:example.org"}:   creatorMember,
		{Type: "m.room.member", StateKey: "@mallory:example.org"}: bannedMember,
	})

	message := mustEvent(t, "@mallory:example.org", "m.room.message", nil, canonicaljson.NewObject(), nil)
	err := Authorized(message, state, v11)
	if err == nil || !strings.Contains(err.Error(), "AUTH-003") {
		t.Fatalf("expected AUTH-003 for banned sender, got %v", err)
	}
}

func TestAuthorizedDefaultRuleRequiresPowerLevel(t *testing.T) {
	state := roomWithCreatorAndMember(t, "@bob:example.org", "join")
	// bob has no power_levels entry, so his default user level (0) is
	// below the default state_default (50) required to send state events.
	topic := mustEvent(t, "@bob:example.org", "m.room.topic", strPtr(""), canonicaljson.NewObject(), nil)
	if err := Authorized(topic, state, v11); err == nil {
		t.Fatal("expected state event from a default-power user to be rejected")
	}

	message := mustEvent(t, "@bob:example.org", "m.room.message", nil, canonicaljson.NewObject(), nil)
	if err := Authorized(message, state, v11); err != nil {
		t.Fatalf("expected a plain message from a default-power user to be authorized, got %v", err)
	}
}

func TestAuthorizedPowerLevelsCannotRaiseBeyondSender(t *testing.T) {
	state := roomWithCreatorAndMember(t, "@bob:example.org", "join")

	content := canonicaljson.NewObject()
	users := canonicaljson.NewObject()
	users.Set("@bob:example.org", canonicaljson.Int(100))
	content.Set("users", users)

	raise := mustEvent(t, "@bob:example.org", "m.room.power_levels", strPtr(""), content, nil)
	if err := Authorized(raise, state, v11); err == nil {
		t.Fatal("expected bob to be unable to raise his own power above his current level")
	}
}

func TestAuthorizedCreatorCanSetPowerLevels(t *testing.T) {
	state := roomWithCreatorAndMember(t, "", "")

	content := canonicaljson.NewObject()
	users := canonicaljson.NewObject()
	users.Set("@bob:example.org", canonicaljson.Int(50))
	content.Set("users", users)

	set := mustEvent(t, "@alice:example.org", "m.room.power_levels", strPtr(""), content, nil)
	if err := Authorized(set, state, v10); err != nil {
		t.Fatalf("expected creator (implicit max power) to set power levels, got %v", err)
	}
}
