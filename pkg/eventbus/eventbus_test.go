package eventbus

import (
	"testing"
	"time"
)

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	bus := NewEventBus(DefaultConfig())
	defer bus.Stop()

	sub, err := bus.Subscribe(EventFilter{RoomID: "!room:example.org"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := bus.Publish(&RoomEvent{Type: "m.room.message", RoomID: "!room:example.org", Sender: "@alice:example.org", EventID: "$1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case wrapper := <-sub.EventChannel:
		if wrapper.Event.RoomID != "!room:example.org" {
			t.Errorf("got room %q", wrapper.Event.RoomID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event to be delivered")
	}
}

func TestPublishSkipsNonMatchingSubscriber(t *testing.T) {
	bus := NewEventBus(DefaultConfig())
	defer bus.Stop()

	sub, err := bus.Subscribe(EventFilter{RoomID: "!other:example.org"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := bus.Publish(&RoomEvent{Type: "m.room.message", RoomID: "!room:example.org", EventID: "$1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-sub.EventChannel:
		t.Fatal("did not expect event for non-matching room filter")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishNilEventReturnsError(t *testing.T) {
	bus := NewEventBus(DefaultConfig())
	defer bus.Stop()

	if err := bus.Publish(nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}

func TestPublishPDUWrapsFieldsIntoRoomEvent(t *testing.T) {
	bus := NewEventBus(DefaultConfig())
	defer bus.Stop()

	sub, err := bus.Subscribe(EventFilter{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := bus.PublishPDU("!room:example.org", "$1", "@alice:example.org", "m.room.message", true, "auth check failed"); err != nil {
		t.Fatalf("PublishPDU: %v", err)
	}

	select {
	case wrapper := <-sub.EventChannel:
		softFailed, _ := wrapper.Event.Content["soft_failed"].(bool)
		if !softFailed {
			t.Errorf("expected soft_failed=true in content, got %+v", wrapper.Event.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event to be delivered")
	}
}

func TestUnsubscribeRemovesSubscriber(t *testing.T) {
	bus := NewEventBus(DefaultConfig())
	defer bus.Stop()

	sub, err := bus.Subscribe(EventFilter{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := bus.Unsubscribe(sub.ID); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := bus.Unsubscribe(sub.ID); err == nil {
		t.Fatal("expected error unsubscribing an already-removed subscriber")
	}
}

func TestPublishBridgeEventReturnsErrorForNil(t *testing.T) {
	bus := NewEventBus(DefaultConfig())
	defer bus.Stop()

	if err := bus.PublishBridgeEvent(nil); err == nil {
		t.Fatal("expected error for nil bridge event")
	}
}

func TestPublishBridgeEventSucceedsWithoutWebSocket(t *testing.T) {
	bus := NewEventBus(DefaultConfig())
	defer bus.Stop()

	event := NewRoomStateUpdatedEvent("!room:example.org", "m.room.power_levels", "", "$plevent")
	if err := bus.PublishBridgeEvent(event); err != nil {
		t.Fatalf("PublishBridgeEvent: %v", err)
	}
}
