package roomversion

// The redaction tables below name the content keys that survive
// redaction per event type. They intentionally encode only the event
// types spec.md's AuthRules component actually consults
// (m.room.create, m.room.member, m.room.power_levels, m.room.join_rules,
// m.room.aliases, m.room.history_visibility) -- per §9 "Design Notes",
// implementers should write these as small, clearly named comparator
// tables per room version rather than a generic content diff.

func redactionTableV1(eventType string) map[string]bool {
	switch eventType {
	case "m.room.create":
		return map[string]bool{"creator": true}
	case "m.room.member":
		return map[string]bool{"membership": true}
	case "m.room.join_rules":
		return map[string]bool{"join_rule": true}
	case "m.room.power_levels":
		return map[string]bool{
			"ban": true, "events": true, "events_default": true,
			"kick": true, "redact": true, "state_default": true,
			"users": true, "users_default": true,
		}
	case "m.room.aliases":
		return map[string]bool{"aliases": true}
	case "m.room.history_visibility":
		return map[string]bool{"history_visibility": true}
	default:
		return nil
	}
}

// redactionTableV6 matches v1 except join_authorised_via_users_server is
// not yet a thing and m.room.aliases is still specially authorized;
// content allow-list is unchanged from v1 at this point in history.
func redactionTableV6(eventType string) map[string]bool {
	return redactionTableV1(eventType)
}

// redactionTableV10 (room version 10; versions 8 and 9 use
// redactionTableV6) additionally preserves
// m.room.member's join_authorised_via_users_server key, needed for
// restricted joins, and power_levels' invite key.
func redactionTableV10(eventType string) map[string]bool {
	switch eventType {
	case "m.room.member":
		return map[string]bool{
			"membership":                        true,
			"join_authorised_via_users_server": true,
		}
	case "m.room.power_levels":
		keys := redactionTableV1(eventType)
		keys["invite"] = true
		return keys
	default:
		return redactionTableV1(eventType)
	}
}

// redactionTableV11 (room version 11+) additionally preserves
// m.room.create's full content (not just "creator", which v11 removed
// in favor of the sender); m.room.aliases still keeps its aliases key.
func redactionTableV11(eventType string) map[string]bool {
	switch eventType {
	case "m.room.create":
		// v11 keeps the entire create content; returning nil here
		// combined with the "keep everything" sentinel below a caller
		// checks explicitly.
		return nil
	default:
		return redactionTableV10(eventType)
	}
}

// KeepAllContent reports whether the room version's create event keeps
// its full content on redaction (v11+), rather than being pruned to an
// explicit allow-list.
func KeepAllContent(d Descriptor, eventType string) bool {
	return eventType == "m.room.create" && !d.PrivilegedCreatorsHaveInfinitePower
}
