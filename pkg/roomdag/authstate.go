package roomdag

import (
	"context"
	"fmt"

	"github.com/armorclaw/matrixcore/pkg/authrules"
	"github.com/armorclaw/matrixcore/pkg/eventstore"
	"github.com/armorclaw/matrixcore/pkg/ferrors"
	"github.com/armorclaw/matrixcore/pkg/pdu"
	"github.com/armorclaw/matrixcore/pkg/roomversion"
)

// EventFetcher retrieves events this server does not yet have from a
// federation peer: FetchEvent for a single event by ID (step 6's
// auth-event gap fill), FetchMissingEvents for a bounded backward walk
// over prev_events (step 4.9's "gap handling", get_missing_events).
// pkg/fedclient.Client satisfies this through FedClientFetcher; tests
// supply a map-backed fake.
type EventFetcher interface {
	FetchEvent(ctx context.Context, origin, eventID string) (*pdu.Event, error)

	// FetchMissingEvents requests the ancestry between earliest (the
	// caller's own known frontier) and latest (the events found
	// missing), bounded to at most limit events.
	FetchMissingEvents(ctx context.Context, origin, roomID string, earliest, latest []string, limit int) ([]*pdu.Event, error)
}

// selectAuthState runs step 6: gather the state referenced by event's
// auth_events, fetching any this server has not yet stored. Returns
// whether any had to be fetched at all (used by the caller to decide
// whether the event itself should be persisted as an outlier, since an
// event whose full auth context could not be resolved locally wasn't
// fully caught up on arrival).
func (p *Processor) selectAuthState(ctx context.Context, origin string, event *pdu.Event, rv roomversion.Descriptor) (authrules.State, bool, error) {
	authEventIDs := event.AuthEvents()
	stored, err := p.Store.GetMany(ctx, authEventIDs)
	if err != nil {
		return authrules.State{}, false, err
	}

	missing := make([]string, 0)
	for _, id := range authEventIDs {
		if _, ok := stored[id]; !ok {
			missing = append(missing, id)
		}
	}

	fetchedAny := false
	for _, id := range missing {
		ev, err := p.fetchAndStoreOutlier(ctx, origin, id)
		if err != nil {
			return authrules.State{}, false, ferrors.NewBuilder("AUTH-002").
				WithMessagef("could not resolve auth event %s: %v", id, err).
				WithContext("event_id", id).
				Build()
		}
		fetchedAny = true
		stored[id] = eventstore.StoredEvent{EventID: id, Event: ev, Outlier: true}
	}

	tuples := make(map[pdu.StateTuple]*pdu.Event, len(stored))
	for _, se := range stored {
		if se.Event.IsState() {
			tuples[se.Event.Tuple()] = se.Event
		}
	}
	return authrules.NewState(tuples), fetchedAny, nil
}

// fetchAndStoreOutlier coalesces concurrent fetches of the same event
// ID behind a singleflight call, then persists the result as an
// outlier (it lacks the full prev/auth context a promoted event needs).
func (p *Processor) fetchAndStoreOutlier(ctx context.Context, origin, eventID string) (*pdu.Event, error) {
	if p.Fetcher == nil {
		return nil, fmt.Errorf("roomdag: event %s missing locally and no fetcher configured", eventID)
	}
	result, err, _ := p.sf.Do(eventID, func() (interface{}, error) {
		ev, ferr := p.Fetcher.FetchEvent(ctx, origin, eventID)
		if ferr != nil {
			return nil, ferr
		}
		if perr := p.Store.Put(ctx, ev.RoomID(), eventID, ev, true, false); perr != nil {
			return nil, perr
		}
		return ev, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*pdu.Event), nil
}

// currentAuthState runs the state-lookup half of step 8: build an
// authrules.State from the room's current resolved state, for
// re-running authorization against what's actually live rather than
// against the event's own declared auth_events.
func (p *Processor) currentAuthState(ctx context.Context, roomID string) (authrules.State, error) {
	resolved, err := p.Store.ResolvedState(ctx, roomID)
	if err != nil {
		return authrules.State{}, err
	}
	ids := make([]string, 0, len(resolved))
	for _, id := range resolved {
		ids = append(ids, id)
	}
	stored, err := p.Store.GetMany(ctx, ids)
	if err != nil {
		return authrules.State{}, err
	}
	tuples := make(map[pdu.StateTuple]*pdu.Event, len(stored))
	for tuple, id := range resolved {
		if se, ok := stored[id]; ok {
			tuples[tuple] = se.Event
		}
	}
	return authrules.NewState(tuples), nil
}
