// Package authrules implements the room-version-parameterized
// authorization predicate RoomDagProcessor and StateResolver both
// consult: authorized(event, auth_state) -> bool. Grounded on the
// reference federation library's membership/power-level transition
// tables for the rule *content*, and on the teacher's
// pkg/invite/roles.go power-comparison idiom (compare a user's level
// against a required level, nothing fancier) for the rule *shape*.
package authrules

import (
	"github.com/armorclaw/matrixcore/pkg/ferrors"
	"github.com/armorclaw/matrixcore/pkg/pdu"
	"github.com/armorclaw/matrixcore/pkg/roomversion"
)

// Authorized implements spec.md §4.7's core rule set in evaluation
// order, returning a *ferrors.TracedError (AUTH-00x) on the first rule
// that fails.
func Authorized(event *pdu.Event, state State, desc roomversion.Descriptor) error {
	if event.Type() == "m.room.create" {
		return authorizeCreate(event, state)
	}

	if err := checkAuthEventTypes(event, state); err != nil {
		return err
	}

	if state.Membership(event.Sender()) == "ban" {
		return ferrors.NewBuilder("AUTH-003").
			WithMessagef("sender %s is banned", event.Sender()).
			WithContext("sender", event.Sender()).
			WithContext("event_type", event.Type()).
			Build()
	}

	switch event.Type() {
	case "m.room.member":
		return authorizeMembership(event, state, desc)
	case "m.room.power_levels":
		return authorizePowerLevels(event, state, desc)
	default:
		return authorizeDefault(event, state, desc)
	}
}

func authorizeCreate(event *pdu.Event, state State) error {
	if state.Create() != nil {
		return ferrors.NewBuilder("AUTH-001").
			WithMessage("m.room.create must be the room's first event").
			WithContext("event_type", event.Type()).
			Build()
	}
	return nil
}

// checkAuthEventTypes enforces rule 2's required set: the create
// event must always be present in the auth state every non-create
// event cites. The sender's own current member event is required too,
// except for a member event where the sender is joining itself for
// the first time (no prior member event to cite) -- power_levels and
// join_rules are optional throughout, with Matrix defaults applying
// when absent.
func checkAuthEventTypes(event *pdu.Event, state State) error {
	if state.Create() == nil {
		return ferrors.NewBuilder("AUTH-002").
			WithMessage("missing m.room.create in auth state").
			WithContext("event_type", event.Type()).
			Build()
	}

	firstSelfJoin := event.Type() == "m.room.member"
	if firstSelfJoin {
		if sk, ok := event.StateKey(); !ok || sk != event.Sender() {
			firstSelfJoin = false
		}
	}
	if state.Member(event.Sender()) == nil && !firstSelfJoin {
		return ferrors.NewBuilder("AUTH-002").
			WithMessagef("missing sender %s member event in auth state", event.Sender()).
			WithContext("event_type", event.Type()).
			Build()
	}
	return nil
}

// authorizeMembership validates the (current_membership, new_membership,
// is_self, join_rule, power_level(sender), power_level(target),
// invite_level, kick_level, ban_level) truth table from spec.md §4.7.
func authorizeMembership(event *pdu.Event, state State, desc roomversion.Descriptor) error {
	target, ok := event.StateKey()
	if !ok {
		return ferrors.NewBuilder("AUTH-001").WithMessage("m.room.member requires a state_key").Build()
	}
	newMembership, _ := event.Content().Get("membership")
	newStr, _ := newMembership.AsString()

	sender := event.Sender()
	isSelf := sender == target
	current := state.Membership(target)
	pl := state.PowerLevels(desc.PrivilegedCreatorsHaveInfinitePower)
	senderPL := pl.UserLevel(sender)
	targetPL := pl.UserLevel(target)
	joinRule := state.JoinRule()

	reject := func(reason string) error {
		return ferrors.NewBuilder("AUTH-001").
			WithMessagef("membership transition %s -> %s rejected: %s", current, newStr, reason).
			WithContext("sender", sender).
			WithContext("target", target).
			WithContext("join_rule", joinRule).
			Build()
	}

	switch newStr {
	case "join":
		if !isSelf {
			return reject("join events must be sent by the joining user")
		}
		// The room creator's first join needs no invite: there is no
		// member event for it yet and it is the create event's sender.
		if create := state.Create(); create != nil && create.Sender() == target && state.Member(target) == nil {
			return nil
		}
		switch joinRule {
		case "public":
			if current == "ban" {
				return reject("banned users cannot join")
			}
		case "knock", "knock_restricted":
			if desc.KnockJoinRule && (current == "invite" || current == "join" || current == "knock") {
				break
			}
			if current != "invite" && current != "join" {
				return reject("knock/restricted rooms require a prior invite, join, or knock")
			}
		case "restricted":
			if desc.RestrictedJoinRules && (current == "invite" || current == "join") {
				break
			}
			if current != "invite" && current != "join" {
				return reject("restricted rooms require a prior invite or the allow-list condition")
			}
		default: // invite
			if current != "invite" && current != "join" {
				return reject("invite-only rooms require a prior invite")
			}
		}
	case "invite":
		if current == "join" || current == "ban" {
			return reject("cannot invite a joined or banned user")
		}
		if senderPL < pl.Invite {
			return reject("sender power level below invite_level")
		}
	case "leave":
		if isSelf {
			break // anyone may leave on their own behalf
		}
		if current == "ban" {
			if senderPL < pl.Ban {
				return reject("sender power level below ban_level to unban")
			}
			break
		}
		if senderPL < pl.Kick || senderPL <= targetPL {
			return reject("sender power level insufficient to kick target")
		}
	case "ban":
		if senderPL < pl.Ban || senderPL <= targetPL {
			return reject("sender power level insufficient to ban target")
		}
	case "knock":
		if !isSelf {
			return reject("knock events must be sent by the knocking user")
		}
		if joinRule != "knock" && joinRule != "knock_restricted" {
			return reject("knocking is only valid in knock or knock_restricted rooms")
		}
	default:
		return reject("unrecognized membership value")
	}
	return nil
}

func authorizePowerLevels(event *pdu.Event, state State, desc roomversion.Descriptor) error {
	sender := event.Sender()
	current := state.PowerLevels(desc.PrivilegedCreatorsHaveInfinitePower)
	senderPL := current.UserLevel(sender)
	proposed := ParsePowerLevels(event.Content())

	changeLevel := current.EventLevel("m.room.power_levels", true)
	if senderPL < changeLevel {
		return ferrors.NewBuilder("AUTH-001").
			WithMessagef("sender power level %d below power_levels change_level %d", senderPL, changeLevel).
			WithContext("sender", sender).
			Build()
	}

	for user, level := range proposed.Users {
		if level > senderPL && current.UserLevel(user) != level {
			return ferrors.NewBuilder("AUTH-001").
				WithMessagef("sender cannot grant %s power level %d above its own %d", user, level, senderPL).
				WithContext("sender", sender).
				Build()
		}
	}
	for evType, level := range proposed.Events {
		if level > senderPL && current.Events[evType] != level {
			return ferrors.NewBuilder("AUTH-001").
				WithMessagef("sender cannot raise %s event level to %d above its own %d", evType, level, senderPL).
				WithContext("sender", sender).
				Build()
		}
	}
	return nil
}

func authorizeDefault(event *pdu.Event, state State, desc roomversion.Descriptor) error {
	pl := state.PowerLevels(desc.PrivilegedCreatorsHaveInfinitePower)
	required := pl.EventLevel(event.Type(), event.IsState())
	senderPL := pl.UserLevel(event.Sender())
	if senderPL < required {
		return ferrors.NewBuilder("AUTH-001").
			WithMessagef("sender power level %d below required level %d for %s", senderPL, required, event.Type()).
			WithContext("sender", event.Sender()).
			WithContext("event_type", event.Type()).
			Build()
	}
	return nil
}
