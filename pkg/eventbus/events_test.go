package eventbus

import "testing"

func TestRoomPDUEventJSONRoundTrip(t *testing.T) {
	key := "@alice:example.org"
	event := NewRoomPDUEvent("!room:example.org", "$event1", "@alice:example.org", "m.room.member", &key, false)
	data, err := event.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty JSON")
	}
	if event.EventType() != EventTypeRoomPDU {
		t.Errorf("got event type %q", event.EventType())
	}
}

func TestWrapEventRoundTrips(t *testing.T) {
	event := NewRoomSoftFailedEvent("!room:example.org", "$event1", "@alice:example.org", "auth check failed")
	wrapper, err := WrapEvent(event)
	if err != nil {
		t.Fatalf("WrapEvent: %v", err)
	}
	if wrapper.Type != EventTypeRoomSoftFailed {
		t.Errorf("got wrapper type %q", wrapper.Type)
	}
	if _, err := wrapper.ToJSON(); err != nil {
		t.Fatalf("wrapper ToJSON: %v", err)
	}
}

func TestRoomStateUpdatedEventFields(t *testing.T) {
	event := NewRoomStateUpdatedEvent("!room:example.org", "m.room.power_levels", "", "$plevent")
	if event.EventType() != EventTypeRoomStateUpdated {
		t.Errorf("got event type %q", event.EventType())
	}
	if event.ResolvedEvent != "$plevent" {
		t.Errorf("got resolved event %q", event.ResolvedEvent)
	}
}

func TestRoomEDUEventFields(t *testing.T) {
	event := NewRoomEDUEvent("m.typing", "!room:example.org", map[string]interface{}{"user_ids": []string{"@alice:example.org"}})
	if event.EventType() != EventTypeRoomEDU {
		t.Errorf("got event type %q", event.EventType())
	}
	if event.EDUType != "m.typing" {
		t.Errorf("got edu type %q", event.EDUType)
	}
}
