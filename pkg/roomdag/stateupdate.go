package roomdag

import (
	"context"

	"github.com/armorclaw/matrixcore/pkg/eventbus"
	"github.com/armorclaw/matrixcore/pkg/pdu"
	"github.com/armorclaw/matrixcore/pkg/roomversion"
	"github.com/armorclaw/matrixcore/pkg/stateres"
)

// updateState runs step 10: fold a newly-accepted state event into the
// room's resolved state. The room's existing resolved state and a copy
// of it with event's own tuple overridden are handed to stateres.Resolve
// as two forks -- trivial when they don't actually conflict, but it
// keeps a single code path for both the common case and the rare one
// where a state event lands alongside another already-resolved
// candidate for the same (type, state_key).
func (p *Processor) updateState(ctx context.Context, event *pdu.Event, eventID string, rv roomversion.Descriptor) error {
	roomID := event.RoomID()
	tuple := event.Tuple()

	existing, err := p.Store.ResolvedState(ctx, roomID)
	if err != nil {
		return err
	}

	candidate := make(map[pdu.StateTuple]string, len(existing)+1)
	for k, v := range existing {
		candidate[k] = v
	}
	candidate[tuple] = eventID

	if existing[tuple] == eventID {
		return nil
	}

	ids := make([]string, 0, len(existing)+1)
	for _, id := range existing {
		ids = append(ids, id)
	}
	ids = append(ids, eventID)

	existingChain, err := p.Store.AuthChain(ctx, ids)
	if err != nil {
		return err
	}

	events, err := p.eventIndex(ctx, appendUniqueID(existingChain, eventID))
	if err != nil {
		return err
	}
	events[eventID] = event

	forks := []stateres.Fork{
		{State: existing, AuthChain: existingChain},
		{State: candidate, AuthChain: appendUniqueID(existingChain, eventID)},
	}

	resolved, err := stateres.Resolve(forks, events, rv)
	if err != nil {
		return err
	}

	if err := p.Store.SetResolvedState(ctx, roomID, resolved); err != nil {
		return err
	}

	if winner := resolved[tuple]; winner != "" && p.Bus != nil {
		_ = p.Bus.PublishBridgeEvent(eventbus.NewRoomStateUpdatedEvent(roomID, tuple.Type, tuple.StateKey, winner))
	}
	return nil
}

// eventIndex loads every eventID from the store into a by-ID map usable
// by stateres.Resolve, skipping any it can't find (stateres treats a
// missing ID as simply absent from ordering, not an error).
func (p *Processor) eventIndex(ctx context.Context, eventIDs []string) (map[string]*pdu.Event, error) {
	stored, err := p.Store.GetMany(ctx, eventIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*pdu.Event, len(stored))
	for id, se := range stored {
		out[id] = se.Event
	}
	return out, nil
}

func appendUniqueID(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	out := make([]string, len(ids), len(ids)+1)
	copy(out, ids)
	return append(out, id)
}
