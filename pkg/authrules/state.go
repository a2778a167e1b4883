package authrules

import "github.com/armorclaw/matrixcore/pkg/pdu"

// State is the subset of a room's resolved state an auth check needs,
// keyed by the same (type, state_key) tuples pkg/eventstore tracks.
// RoomDagProcessor builds one of these from the auth events an inbound
// PDU names (or from resolved state when applying StateResolver's
// control-event ordering), never from the full room state.
type State struct {
	events map[pdu.StateTuple]*pdu.Event
}

// NewState wraps a tuple->event map for auth checks.
func NewState(events map[pdu.StateTuple]*pdu.Event) State {
	return State{events: events}
}

func (s State) lookup(eventType, stateKey string) *pdu.Event {
	return s.events[pdu.StateTuple{Type: eventType, StateKey: stateKey}]
}

// Create returns the room's m.room.create event, if present.
func (s State) Create() *pdu.Event { return s.lookup("m.room.create", "") }

// PowerLevelsEvent returns the room's current m.room.power_levels
// event, if one has been set.
func (s State) PowerLevelsEvent() *pdu.Event { return s.lookup("m.room.power_levels", "") }

// PowerLevels returns the room's effective power levels: the parsed
// m.room.power_levels content, or Matrix defaults (with the creator
// implicitly at maximum power, on room versions where that applies)
// when none has been set.
func (s State) PowerLevels(creatorIsMaxPower bool) PowerLevels {
	if ev := s.PowerLevelsEvent(); ev != nil {
		return ParsePowerLevels(ev.Content())
	}
	pl := DefaultPowerLevels()
	if creatorIsMaxPower {
		if create := s.Create(); create != nil {
			pl.Users[create.Sender()] = 100
		}
	}
	return pl
}

// JoinRules returns the room's current m.room.join_rules event, if set.
func (s State) JoinRules() *pdu.Event { return s.lookup("m.room.join_rules", "") }

// JoinRule returns the room's join rule, defaulting to "invite" per
// the Matrix spec when no m.room.join_rules event has been set.
func (s State) JoinRule() string {
	ev := s.JoinRules()
	if ev == nil {
		return "invite"
	}
	if rule, ok := ev.Content().Get("join_rule"); ok {
		if str, ok := rule.AsString(); ok {
			return str
		}
	}
	return "invite"
}

// Member returns userID's current m.room.member event, if any.
func (s State) Member(userID string) *pdu.Event { return s.lookup("m.room.member", userID) }

// Membership returns userID's current membership, defaulting to
// "leave" (never joined) when no member event is on record.
func (s State) Membership(userID string) string {
	ev := s.Member(userID)
	if ev == nil {
		return "leave"
	}
	if m, ok := ev.Content().Get("membership"); ok {
		if str, ok := m.AsString(); ok {
			return str
		}
	}
	return "leave"
}
