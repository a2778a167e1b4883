// Package stateres resolves conflicting room state across DAG forks
// into a single state map. New code -- no teacher analog exists for
// this algorithm, so it is built directly from spec.md §4.8's
// description, using pkg/roomversion.Descriptor.StateResAlgorithm to
// dispatch between the legacy v1 rule and the full v2 control-event
// ordering (see DESIGN.md's Open Question decision #1).
package stateres

import (
	"sort"

	"github.com/armorclaw/matrixcore/pkg/authrules"
	"github.com/armorclaw/matrixcore/pkg/pdu"
	"github.com/armorclaw/matrixcore/pkg/roomversion"
)

// Fork is one of the conflicting state maps to resolve, paired with
// the auth chain reachable from it (events a caller fetched via
// EventStore.AuthChain and keeps addressable by event_id).
type Fork struct {
	State     map[pdu.StateTuple]string
	AuthChain []string
}

// Resolve dispatches to the algorithm variant named by desc, given the
// forks to merge and an index of every event (by event_id) any fork
// might reference, including the auth chain events.
func Resolve(forks []Fork, events map[string]*pdu.Event, desc roomversion.Descriptor) (map[pdu.StateTuple]string, error) {
	switch desc.StateResAlgorithm {
	case roomversion.StateResV1:
		return ResolveV1(forks, events), nil
	case roomversion.StateResV2WithReset:
		return ResolveV2(forks, events, desc, true)
	default:
		return ResolveV2(forks, events, desc, false)
	}
}

// ResolveV1 implements the legacy algorithm: for each conflicted
// (type, state_key) slot, the candidate with the greatest
// origin_server_ts wins; unconflicted slots pass through unchanged.
func ResolveV1(forks []Fork, events map[string]*pdu.Event) map[pdu.StateTuple]string {
	candidates := make(map[pdu.StateTuple][]string)
	for _, fork := range forks {
		for tuple, eventID := range fork.State {
			candidates[tuple] = appendUnique(candidates[tuple], eventID)
		}
	}

	resolved := make(map[pdu.StateTuple]string, len(candidates))
	for tuple, ids := range candidates {
		resolved[tuple] = latestByTimestamp(ids, events)
	}
	return resolved
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func latestByTimestamp(ids []string, events map[string]*pdu.Event) string {
	best := ids[0]
	for _, id := range ids[1:] {
		bestEvent, bestOK := events[best], events[best] != nil
		candidate, candOK := events[id], events[id] != nil
		if !candOK {
			continue
		}
		if !bestOK {
			best = id
			continue
		}
		if candidate.OriginServerTS() > bestEvent.OriginServerTS() ||
			(candidate.OriginServerTS() == bestEvent.OriginServerTS() && id > best) {
			best = id
		}
	}
	return best
}

// controlEventTypes names the event types spec.md §4.8 step 3
// classifies as control events for the power-ordering pass.
func isControlEvent(tuple pdu.StateTuple) bool {
	if tuple.Type == "m.room.power_levels" || tuple.Type == "m.room.join_rules" {
		return true
	}
	return tuple.Type == "m.room.member" // membership changes (ban/kick/invite) are control events
}

// ResolveV2 implements spec.md §4.8's algorithm: partition into
// unconflicted/conflicted, compute the auth-chain difference, apply
// reverse-topological power ordering to control events with auth
// checks, then mainline-order the remainder, overlaying the
// unconflicted map at the end. withReset additionally applies the v12
// state-reset reduction before falling back to standard ordering.
func ResolveV2(forks []Fork, events map[string]*pdu.Event, desc roomversion.Descriptor, withReset bool) (map[pdu.StateTuple]string, error) {
	unconflicted, conflicted := partition(forks)

	authDiff := authChainDifference(forks)
	conflictedSet := conflictSet(conflicted, authDiff)

	var controlIDs, otherIDs []string
	for _, ids := range conflictedSet {
		for _, id := range ids {
			if isControlEvent(tupleOf(id, events)) {
				controlIDs = appendUnique(controlIDs, id)
			} else {
				otherIDs = appendUnique(otherIDs, id)
			}
		}
	}

	ordered := reverseTopologicalPowerOrder(controlIDs, events)

	resolved := make(map[pdu.StateTuple]string, len(unconflicted)+len(conflictedSet))
	accumulated := make(map[pdu.StateTuple]*pdu.Event, len(unconflicted))
	// Seed the accumulated state with the unconflicted slots (typically
	// m.room.create and any state every fork already agrees on) before
	// applying conflicted control events, so their auth checks see the
	// room's undisputed context rather than an empty state.
	for tuple, id := range unconflicted {
		if ev := events[id]; ev != nil {
			accumulated[tuple] = ev
		}
	}
	applyIfAuthorized := func(id string) {
		ev := events[id]
		if ev == nil || !ev.IsState() {
			return
		}
		tuple := ev.Tuple()
		if withReset {
			if prior, ok := accumulated[tuple]; ok && !structurallyContinuous(prior, ev) {
				return // v12 state-reset reduction: drop the discontinuous candidate
			}
		}
		if err := authrules.Authorized(ev, authrules.NewState(accumulated), desc); err != nil {
			return // rejected candidates are simply not applied, per spec.md §4.8 step 5
		}
		accumulated[tuple] = ev
		resolved[tuple] = id
	}

	for _, id := range ordered {
		applyIfAuthorized(id)
	}

	mainlineOrdered := mainlineOrder(otherIDs, events, accumulated)
	for _, id := range mainlineOrdered {
		applyIfAuthorized(id)
	}

	for tuple, id := range unconflicted {
		resolved[tuple] = id
	}
	return resolved, nil
}

func tupleOf(eventID string, events map[string]*pdu.Event) pdu.StateTuple {
	ev := events[eventID]
	if ev == nil || !ev.IsState() {
		return pdu.StateTuple{}
	}
	return ev.Tuple()
}

// partition splits the forks' state maps into unconflicted slots
// (every fork agrees on the same event_id) and conflicted slots (the
// full set of candidate event_ids per tuple where forks disagree).
func partition(forks []Fork) (unconflicted map[pdu.StateTuple]string, conflicted map[pdu.StateTuple][]string) {
	candidates := make(map[pdu.StateTuple][]string)
	for _, fork := range forks {
		for tuple, eventID := range fork.State {
			candidates[tuple] = appendUnique(candidates[tuple], eventID)
		}
	}

	unconflicted = make(map[pdu.StateTuple]string)
	conflicted = make(map[pdu.StateTuple][]string)
	for tuple, ids := range candidates {
		if len(ids) == 1 {
			unconflicted[tuple] = ids[0]
		} else {
			conflicted[tuple] = ids
		}
	}
	return unconflicted, conflicted
}

// authChainDifference returns, per spec.md §4.8 step 2, the events
// present in some fork's auth chain but not all of them.
func authChainDifference(forks []Fork) map[string]bool {
	if len(forks) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, fork := range forks {
		seen := make(map[string]bool)
		for _, id := range fork.AuthChain {
			if !seen[id] {
				seen[id] = true
				counts[id]++
			}
		}
	}
	diff := make(map[string]bool)
	for id, count := range counts {
		if count != len(forks) {
			diff[id] = true
		}
	}
	return diff
}

// conflictSet unions the conflicted state candidates with the
// auth-chain difference, per spec.md §4.8 step 2-3.
func conflictSet(conflicted map[pdu.StateTuple][]string, authDiff map[string]bool) map[pdu.StateTuple][]string {
	out := make(map[pdu.StateTuple][]string, len(conflicted))
	for tuple, ids := range conflicted {
		out[tuple] = ids
	}
	if len(authDiff) > 0 {
		extra := make([]string, 0, len(authDiff))
		for id := range authDiff {
			extra = append(extra, id)
		}
		sort.Strings(extra)
		out[pdu.StateTuple{Type: "", StateKey: "$auth_chain_diff"}] = extra
	}
	return out
}

// reverseTopologicalPowerOrder is a Kahn's-algorithm topological sort
// restricted to the control set, not a flat sort: at each step it
// picks the lowest-power *ready* node -- one whose auth_events
// dependencies within ids are already placed in the output -- among
// the remaining candidates, using origin_server_ts then event_id only
// to break ties among nodes that are simultaneously ready. This keeps
// an ancestor control event (e.g. the ban a later power_levels change
// cites in its own auth_events) ordered, and therefore applied, before
// its descendant -- spec.md §4.8 step 4.
//
// Placing the lowest power candidate first among ties, rather than the
// highest, is deliberate: ResolveV2 applies control events in this
// order and each successful auth check overwrites the accumulated
// slot, so whichever candidate is applied *last* is the one that
// survives into resolved state. For two otherwise-independent forks
// contesting the same tuple, that must be the higher-power sender --
// spec.md §8 scenario 5 (two m.room.name forks, sender powers 50 and
// 100, earlier timestamp on the low-power fork) resolves to the
// higher-power fork's value even though it isn't the most recent by
// origin_server_ts, which only a higher-power-wins-last ordering
// produces.
func reverseTopologicalPowerOrder(ids []string, events map[string]*pdu.Event) []string {
	inSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		inSet[id] = true
	}

	placed := make(map[string]bool, len(ids))
	ready := func(id string) bool {
		ev := events[id]
		if ev == nil {
			return true
		}
		for _, dep := range ev.AuthEvents() {
			if inSet[dep] && !placed[dep] {
				return false
			}
		}
		return true
	}

	remaining := append([]string(nil), ids...)
	ordered := make([]string, 0, len(ids))
	for len(remaining) > 0 {
		bestIdx := -1
		for i, id := range remaining {
			if !ready(id) {
				continue
			}
			if bestIdx == -1 || candidateBeforeInOrder(id, remaining[bestIdx], events) {
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			// No ready node -- a cycle within the control set's
			// auth_events, which a valid auth DAG never produces.
			// Break deterministically rather than looping forever.
			bestIdx = 0
			for i, id := range remaining {
				if id < remaining[bestIdx] {
					bestIdx = i
				}
			}
		}
		ordered = append(ordered, remaining[bestIdx])
		placed[remaining[bestIdx]] = true
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return ordered
}

// candidateBeforeInOrder breaks ties among simultaneously ready
// control events: lower sender power_level first (so the higher-power
// candidate is the one applied last and wins the slot), then earlier
// origin_server_ts, then lexically smaller event_id.
func candidateBeforeInOrder(aID, bID string, events map[string]*pdu.Event) bool {
	a, b := events[aID], events[bID]
	if a == nil || b == nil {
		return aID < bID
	}
	pa, pb := senderPower(a, events), senderPower(b, events)
	if pa != pb {
		return pa < pb // lower power sorts first (applied earlier, overwritten by higher power)
	}
	if a.OriginServerTS() != b.OriginServerTS() {
		return a.OriginServerTS() < b.OriginServerTS()
	}
	return aID < bID
}

func senderPower(event *pdu.Event, events map[string]*pdu.Event) int64 {
	for _, authID := range event.AuthEvents() {
		auth := events[authID]
		if auth != nil && auth.Type() == "m.room.power_levels" {
			return authrules.ParsePowerLevels(auth.Content()).UserLevel(event.Sender())
		}
	}
	return 0
}

// mainlineOrder orders the remaining conflicted events along the
// mainline of the accumulated power_levels event, then by
// origin_server_ts, then event_id -- spec.md §4.8 step 6.
func mainlineOrder(ids []string, events map[string]*pdu.Event, accumulated map[pdu.StateTuple]*pdu.Event) []string {
	mainline := buildMainline(accumulated[pdu.StateTuple{Type: "m.room.power_levels", StateKey: ""}], events)

	ordered := append([]string(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := events[ordered[i]], events[ordered[j]]
		if a == nil || b == nil {
			return ordered[i] < ordered[j]
		}
		da, db := mainlineDepth(a, mainline, events), mainlineDepth(b, mainline, events)
		if da != db {
			return da < db
		}
		if a.OriginServerTS() != b.OriginServerTS() {
			return a.OriginServerTS() < b.OriginServerTS()
		}
		return ordered[i] < ordered[j]
	})
	return ordered
}

// buildMainline walks power_levels' auth_events backward through
// prior power_levels events, returning the chain from newest to
// oldest.
func buildMainline(current *pdu.Event, events map[string]*pdu.Event) []string {
	var mainline []string
	seen := make(map[string]bool)
	for current != nil {
		id := findEventID(current, events)
		if id == "" || seen[id] {
			break
		}
		seen[id] = true
		mainline = append(mainline, id)

		var next *pdu.Event
		for _, authID := range current.AuthEvents() {
			if auth := events[authID]; auth != nil && auth.Type() == "m.room.power_levels" {
				next = auth
				break
			}
		}
		current = next
	}
	return mainline
}

func findEventID(event *pdu.Event, events map[string]*pdu.Event) string {
	for id, candidate := range events {
		if candidate == event {
			return id
		}
	}
	return ""
}

// mainlineDepth finds how many auth-chain hops event is from the
// nearest mainline power_levels event it descends from; unreachable
// events sort last.
func mainlineDepth(event *pdu.Event, mainline []string, events map[string]*pdu.Event) int {
	visited := make(map[string]bool)
	queue := append([]string(nil), event.AuthEvents()...)

	mainlineIndex := make(map[string]int, len(mainline))
	for i, id := range mainline {
		mainlineIndex[id] = i
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		if idx, ok := mainlineIndex[id]; ok {
			return idx
		}
		ev := events[id]
		if ev == nil {
			continue
		}
		queue = append(queue, ev.AuthEvents()...)
	}
	return len(mainline) + 1
}

// structurallyContinuous implements the v12 state-reset reduction's
// "similar power users, identical join rule" heuristic as small
// comparator functions over generic content keys, per spec.md §4.8's
// closing paragraph.
func structurallyContinuous(prior, candidate *pdu.Event) bool {
	if prior.Type() != candidate.Type() {
		return false
	}
	switch prior.Type() {
	case "m.room.join_rules":
		priorRule, _ := prior.Content().Get("join_rule")
		candRule, _ := candidate.Content().Get("join_rule")
		ps, _ := priorRule.AsString()
		cs, _ := candRule.AsString()
		return ps == cs
	case "m.room.power_levels":
		priorPL := authrules.ParsePowerLevels(prior.Content())
		candPL := authrules.ParsePowerLevels(candidate.Content())
		return priorPL.UsersDefault == candPL.UsersDefault && priorPL.StateDefault == candPL.StateDefault
	default:
		return true
	}
}
