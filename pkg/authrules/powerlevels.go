package authrules

import "github.com/armorclaw/matrixcore/pkg/canonicaljson"

// PowerLevels is the parsed content of an m.room.power_levels event,
// grounded on the teacher's pkg/invite/roles.go Role.ToMatrixPower
// idiom (per-role power comparisons) generalized to the full
// per-user/per-event-type table spec.md §4.7 requires.
type PowerLevels struct {
	Users        map[string]int64
	UsersDefault int64
	Events       map[string]int64
	EventsDefault int64
	StateDefault int64
	Ban, Kick, Invite, Redact int64
}

// DefaultPowerLevels returns the Matrix spec defaults used when a room
// has no m.room.power_levels event yet (only the creator has spoken).
func DefaultPowerLevels() PowerLevels {
	return PowerLevels{
		Users:         map[string]int64{},
		UsersDefault:  0,
		Events:        map[string]int64{},
		EventsDefault: 0,
		StateDefault:  50,
		Ban:           50,
		Kick:          50,
		Invite:        0,
		Redact:        50,
	}
}

// ParsePowerLevels reads an m.room.power_levels event's content,
// falling back to Matrix defaults for any absent field.
func ParsePowerLevels(content canonicaljson.Value) PowerLevels {
	pl := DefaultPowerLevels()

	if users, ok := content.Get("users"); ok && users.Kind() == canonicaljson.KindObject {
		for _, key := range users.Keys() {
			v, _ := users.Get(key)
			if n, ok := v.AsInt(); ok {
				pl.Users[key] = n
			}
		}
	}
	if v, ok := content.Get("users_default"); ok {
		if n, ok := v.AsInt(); ok {
			pl.UsersDefault = n
		}
	}
	if events, ok := content.Get("events"); ok && events.Kind() == canonicaljson.KindObject {
		for _, key := range events.Keys() {
			v, _ := events.Get(key)
			if n, ok := v.AsInt(); ok {
				pl.Events[key] = n
			}
		}
	}
	if v, ok := content.Get("events_default"); ok {
		if n, ok := v.AsInt(); ok {
			pl.EventsDefault = n
		}
	}
	if v, ok := content.Get("state_default"); ok {
		if n, ok := v.AsInt(); ok {
			pl.StateDefault = n
		}
	}
	if v, ok := content.Get("ban"); ok {
		if n, ok := v.AsInt(); ok {
			pl.Ban = n
		}
	}
	if v, ok := content.Get("kick"); ok {
		if n, ok := v.AsInt(); ok {
			pl.Kick = n
		}
	}
	if v, ok := content.Get("invite"); ok {
		if n, ok := v.AsInt(); ok {
			pl.Invite = n
		}
	}
	if v, ok := content.Get("redact"); ok {
		if n, ok := v.AsInt(); ok {
			pl.Redact = n
		}
	}
	return pl
}

// UserLevel returns userID's power level, falling back to UsersDefault.
func (pl PowerLevels) UserLevel(userID string) int64 {
	if level, ok := pl.Users[userID]; ok {
		return level
	}
	return pl.UsersDefault
}

// EventLevel returns the power level required to send an event of
// eventType; isState selects StateDefault over EventsDefault when the
// type has no explicit entry.
func (pl PowerLevels) EventLevel(eventType string, isState bool) int64 {
	if level, ok := pl.Events[eventType]; ok {
		return level
	}
	if isState {
		return pl.StateDefault
	}
	return pl.EventsDefault
}
