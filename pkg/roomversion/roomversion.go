// Package roomversion describes the per-room-version flags that select
// event format, auth-rule, redaction, and state-resolution behavior.
// Per spec.md §9 ("no class hierarchy"), a room version is a plain
// value: a record of booleans/enums plus a redaction function pointer,
// looked up once by version string -- not a type hierarchy of handlers.
package roomversion

// StateResAlgorithm names which StateResolver variant a room version
// uses. See DESIGN.md "Open Question decisions" #1.
type StateResAlgorithm int

const (
	// StateResV1 is the legacy latest-origin_server_ts-wins algorithm.
	StateResV1 StateResAlgorithm = iota
	// StateResV2 is the full control-event + mainline-ordering algorithm.
	StateResV2
	// StateResV2WithReset additionally applies the v12 state-reset
	// reduction before falling back to StateResV2's ordering.
	StateResV2WithReset
)

// Descriptor is the full set of version-dependent flags spec.md §4.7
// calls out, plus the redaction table needed by pkg/eventcrypto.
type Descriptor struct {
	Version string

	// EventIDCarried is true for room versions where the event carries
	// its own "event_id" field; false where it is derived from the
	// reference hash.
	EventIDCarried bool

	// AuthEventsArePairs is true for v1/v2 style
	// [[event_id, {sha256: hash}], ...] auth_events/prev_events;
	// false for the flat ["event_id", ...] lists of v3+.
	AuthEventsArePairs bool

	// SpecialCaseAliasesAuth enables the legacy (now removed)
	// m.room.aliases special-cased auth rule present in v1-v6.
	SpecialCaseAliasesAuth bool

	// RestrictedJoinRules enables join_rule "restricted"/"knock_restricted"
	// and the allow-list auth path (v8+).
	RestrictedJoinRules bool

	// KnockJoinRule enables join_rule "knock" (v7+).
	KnockJoinRule bool

	// PrivilegedCreatorsHaveInfinitePower makes the room creator
	// implicitly maximum power regardless of power_levels content
	// (the original v1-v10 behavior now dropped in v11, which requires
	// the creator's own membership/power_levels entries).
	PrivilegedCreatorsHaveInfinitePower bool

	// StateResAlgorithm selects the StateResolver variant.
	StateResAlgorithm StateResAlgorithm

	// RedactionAllowedKeys returns, for a given event type, the set of
	// top-level content keys that survive redaction in this room
	// version (on top of the always-kept envelope fields handled by
	// pkg/eventcrypto). A nil map return means "no content keys
	// survive" (the common case for most event types).
	RedactionAllowedKeys func(eventType string) map[string]bool
}

// ErrUnknownVersion is returned by Get for an unregistered version string.
type ErrUnknownVersion string

func (e ErrUnknownVersion) Error() string {
	return "roomversion: unknown room version " + string(e)
}

var registry = buildRegistry()

// Get returns the descriptor for a room version string.
func Get(version string) (Descriptor, error) {
	d, ok := registry[version]
	if !ok {
		return Descriptor{}, ErrUnknownVersion(version)
	}
	return d, nil
}

// MustGet panics if the version is unknown -- used only at
// well-known call sites (e.g. room creation with a hard-coded default).
func MustGet(version string) Descriptor {
	d, err := Get(version)
	if err != nil {
		panic(err)
	}
	return d
}

func buildRegistry() map[string]Descriptor {
	reg := make(map[string]Descriptor)

	base := Descriptor{
		EventIDCarried:                      true,
		AuthEventsArePairs:                  true,
		SpecialCaseAliasesAuth:              true,
		PrivilegedCreatorsHaveInfinitePower: true,
		StateResAlgorithm:                   StateResV1,
		RedactionAllowedKeys:                redactionTableV1,
	}
	reg["1"] = base
	reg["2"] = withStateResV2(base)

	v3 := withStateResV2(base)
	v3.EventIDCarried = false
	v3.AuthEventsArePairs = false
	reg["3"] = v3

	v4 := v3
	reg["4"] = v4

	v5 := v4
	reg["5"] = v5

	v6 := v5
	v6.RedactionAllowedKeys = redactionTableV6
	reg["6"] = v6

	v7 := v6
	v7.SpecialCaseAliasesAuth = false
	v7.KnockJoinRule = true
	reg["7"] = v7

	v8 := v7
	v8.RestrictedJoinRules = true
	reg["8"] = v8

	v9 := v8
	reg["9"] = v9

	v10 := v9
	v10.RedactionAllowedKeys = redactionTableV10
	reg["10"] = v10

	v11 := v10
	v11.PrivilegedCreatorsHaveInfinitePower = false
	v11.RedactionAllowedKeys = redactionTableV11
	reg["11"] = v11

	v12 := v11
	v12.StateResAlgorithm = StateResV2WithReset
	v12.RedactionAllowedKeys = redactionTableV11
	reg["12"] = v12

	return reg
}

func withStateResV2(d Descriptor) Descriptor {
	d.StateResAlgorithm = StateResV2
	return d
}
