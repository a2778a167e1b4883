// Package pdu defines the in-memory representation of a Matrix
// federation event (a PDU): a thin typed wrapper around a
// canonicaljson.Value object, with accessors cached at parse time.
// Grounded on the teacher's pattern of wrapping a generic payload with
// a small typed struct (pkg/eventbus's RoomEventWrapper/RoomEvent).
package pdu

import (
	"fmt"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
)

// Event wraps a parsed PDU. The zero value is not usable; build one
// via Parse or New.
type Event struct {
	raw canonicaljson.Value

	roomID         string
	sender         string
	eventType      string
	stateKey       *string
	originServerTS int64
	depth          int64
	prevEvents     []string
	authEvents     []string
	eventID        string // only populated for room versions that carry it
}

// Parse decodes raw PDU bytes and extracts the fields the core needs to
// route and order the event. It does not verify signatures or hashes --
// that is pkg/eventcrypto's job -- nor does it validate shape; callers
// run pkg/roomdag's shape check first.
func Parse(data []byte) (*Event, error) {
	v, err := canonicaljson.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("pdu: invalid JSON: %w", err)
	}
	return FromValue(v)
}

// FromValue builds an Event from an already-parsed canonical value.
func FromValue(v canonicaljson.Value) (*Event, error) {
	e := &Event{raw: v}

	if s, ok := stringField(v, "room_id"); ok {
		e.roomID = s
	}
	if s, ok := stringField(v, "sender"); ok {
		e.sender = s
	}
	if s, ok := stringField(v, "type"); ok {
		e.eventType = s
	}
	if s, ok := stringField(v, "state_key"); ok {
		e.stateKey = &s
	}
	if s, ok := stringField(v, "event_id"); ok {
		e.eventID = s
	}
	if i, ok := intField(v, "origin_server_ts"); ok {
		e.originServerTS = i
	}
	if i, ok := intField(v, "depth"); ok {
		e.depth = i
	}
	e.prevEvents = idListField(v, "prev_events")
	e.authEvents = idListField(v, "auth_events")

	return e, nil
}

func stringField(v canonicaljson.Value, key string) (string, bool) {
	field, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return field.AsString()
}

func intField(v canonicaljson.Value, key string) (int64, bool) {
	field, ok := v.Get(key)
	if !ok {
		return 0, false
	}
	return field.AsInt()
}

// idListField extracts event IDs from either a flat ["$id", ...] array
// (room version 3+) or a [["$id", {"sha256": "..."}], ...] pair array
// (room version 1/2), per roomversion.Descriptor.AuthEventsArePairs.
func idListField(v canonicaljson.Value, key string) []string {
	field, ok := v.Get(key)
	if !ok {
		return nil
	}
	items, ok := field.AsArray()
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.AsString(); ok {
			ids = append(ids, s)
			continue
		}
		if arr, ok := item.AsArray(); ok && len(arr) > 0 {
			if s, ok := arr[0].AsString(); ok {
				ids = append(ids, s)
			}
		}
	}
	return ids
}

func (e *Event) RoomID() string         { return e.roomID }
func (e *Event) Sender() string         { return e.sender }
func (e *Event) Type() string           { return e.eventType }
func (e *Event) OriginServerTS() int64  { return e.originServerTS }
func (e *Event) Depth() int64           { return e.depth }
func (e *Event) PrevEvents() []string   { return e.prevEvents }
func (e *Event) AuthEvents() []string   { return e.authEvents }
func (e *Event) Content() canonicaljson.Value {
	v, _ := e.raw.Get("content")
	return v
}
func (e *Event) Unsigned() canonicaljson.Value {
	v, _ := e.raw.Get("unsigned")
	return v
}
func (e *Event) Value() canonicaljson.Value { return e.raw }

// StateKey returns the event's state_key and whether it is a state
// event at all (presence, not content, makes it a state event -- an
// empty string is a valid, common state_key).
func (e *Event) StateKey() (string, bool) {
	if e.stateKey == nil {
		return "", false
	}
	return *e.stateKey, true
}

func (e *Event) IsState() bool {
	_, ok := e.StateKey()
	return ok
}

// CarriedEventID returns the event_id field as literally present in
// the JSON, for room versions that carry it explicitly (see
// roomversion.Descriptor.EventIDCarried). For modern versions this is
// empty; use pkg/eventcrypto.ReferenceHash to derive the ID instead.
func (e *Event) CarriedEventID() string { return e.eventID }

// StateTuple identifies a state event's slot in a room's state map.
type StateTuple struct {
	Type     string
	StateKey string
}

// Tuple returns the event's (type, state_key) slot. Panics if the
// event is not a state event -- callers must check IsState first.
func (e *Event) Tuple() StateTuple {
	sk, ok := e.StateKey()
	if !ok {
		panic("pdu: Tuple called on a non-state event")
	}
	return StateTuple{Type: e.eventType, StateKey: sk}
}
