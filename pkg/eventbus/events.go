// Package eventbus provides event types broadcast to local subscribers
// for real-time room activity: accepted PDUs, soft-failures, and
// resolved-state updates produced by RoomDagProcessor.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType constants for all bus events.
const (
	EventTypeRoomPDU          = "room.pdu"
	EventTypeRoomSoftFailed   = "room.soft_failed"
	EventTypeRoomRejected     = "room.rejected"
	EventTypeRoomStateUpdated = "room.state_updated"
	EventTypeRoomEDU          = "room.edu"
)

// BridgeEvent is the base event interface.
type BridgeEvent interface {
	EventType() string
	Timestamp() time.Time
	ToJSON() ([]byte, error)
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Type string    `json:"type"`
	Ts   time.Time `json:"timestamp"`
}

// EventType returns the event type.
func (e *BaseEvent) EventType() string {
	return e.Type
}

// Timestamp returns the event timestamp.
func (e *BaseEvent) Timestamp() time.Time {
	return e.Ts
}

// ToJSON serializes the event to JSON.
func (e *BaseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ============================================================================
// Room events
// ============================================================================

// RoomPDUEvent is emitted when RoomDagProcessor accepts an event into a
// room's DAG (outlier or not), after persistence.
type RoomPDUEvent struct {
	BaseEvent
	RoomID   string  `json:"room_id"`
	EventID  string  `json:"event_id"`
	Sender   string  `json:"sender"`
	PDUType  string  `json:"pdu_type"`
	StateKey *string `json:"state_key,omitempty"`
	Outlier  bool    `json:"outlier"`
}

// NewRoomPDUEvent creates a new room PDU event.
func NewRoomPDUEvent(roomID, eventID, sender, pduType string, stateKey *string, outlier bool) *RoomPDUEvent {
	return &RoomPDUEvent{
		BaseEvent: BaseEvent{Type: EventTypeRoomPDU, Ts: time.Now()},
		RoomID:    roomID,
		EventID:   eventID,
		Sender:    sender,
		PDUType:   pduType,
		StateKey:  stateKey,
		Outlier:   outlier,
	}
}

// RoomSoftFailedEvent is emitted when an event fails authorization
// against the room's current state but is persisted and kept off the
// forward-extremity/notification set rather than being hard-rejected.
type RoomSoftFailedEvent struct {
	BaseEvent
	RoomID  string `json:"room_id"`
	EventID string `json:"event_id"`
	Sender  string `json:"sender"`
	Reason  string `json:"reason"`
}

// NewRoomSoftFailedEvent creates a new soft-failure event.
func NewRoomSoftFailedEvent(roomID, eventID, sender, reason string) *RoomSoftFailedEvent {
	return &RoomSoftFailedEvent{
		BaseEvent: BaseEvent{Type: EventTypeRoomSoftFailed, Ts: time.Now()},
		RoomID:    roomID,
		EventID:   eventID,
		Sender:    sender,
		Reason:    reason,
	}
}

// RoomRejectedEvent is emitted when an inbound event is rejected outright
// (failed signature/hash checks, or failed auth against its own auth
// events rather than current state).
type RoomRejectedEvent struct {
	BaseEvent
	RoomID  string `json:"room_id"`
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

// NewRoomRejectedEvent creates a new rejection event.
func NewRoomRejectedEvent(roomID, eventID, reason string) *RoomRejectedEvent {
	return &RoomRejectedEvent{
		BaseEvent: BaseEvent{Type: EventTypeRoomRejected, Ts: time.Now()},
		RoomID:    roomID,
		EventID:   eventID,
		Reason:    reason,
	}
}

// RoomStateUpdatedEvent is emitted when StateResolver produces a new
// resolved-state snapshot for a room (a state event landed, or a fork
// was resolved).
type RoomStateUpdatedEvent struct {
	BaseEvent
	RoomID         string `json:"room_id"`
	StateEventType string `json:"event_type"`
	StateKey       string `json:"state_key"`
	ResolvedEvent  string `json:"resolved_event"`
}

// NewRoomStateUpdatedEvent creates a new state-updated event.
func NewRoomStateUpdatedEvent(roomID, eventType, stateKey, resolvedEvent string) *RoomStateUpdatedEvent {
	return &RoomStateUpdatedEvent{
		BaseEvent:      BaseEvent{Type: EventTypeRoomStateUpdated, Ts: time.Now()},
		RoomID:         roomID,
		StateEventType: eventType,
		StateKey:       stateKey,
		ResolvedEvent:  resolvedEvent,
	}
}

// RoomEDUEvent is emitted when TransactionIngress processes an ephemeral
// data unit (presence, typing, receipt, direct_to_device) destined for
// local subscribers.
type RoomEDUEvent struct {
	BaseEvent
	EDUType string                 `json:"edu_type"`
	RoomID  string                 `json:"room_id,omitempty"`
	Content map[string]interface{} `json:"content"`
}

// NewRoomEDUEvent creates a new EDU event.
func NewRoomEDUEvent(eduType, roomID string, content map[string]interface{}) *RoomEDUEvent {
	return &RoomEDUEvent{
		BaseEvent: BaseEvent{Type: EventTypeRoomEDU, Ts: time.Now()},
		EDUType:   eduType,
		RoomID:    roomID,
		Content:   content,
	}
}

// ============================================================================
// Event wrapper for transmission
// ============================================================================

// EventWrapper wraps any event for JSON serialization.
type EventWrapper struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// WrapEvent wraps a BridgeEvent for transmission.
func WrapEvent(event BridgeEvent) (*EventWrapper, error) {
	// Marshal the concrete event: its promoted BaseEvent.ToJSON would
	// serialize only the type and timestamp.
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}

	return &EventWrapper{
		Type:      event.EventType(),
		Timestamp: event.Timestamp(),
		Data:      data,
	}, nil
}

// ToJSON serializes the EventWrapper.
func (w *EventWrapper) ToJSON() ([]byte, error) {
	return json.Marshal(w)
}
