package roomdag

import (
	"context"

	"github.com/armorclaw/matrixcore/pkg/pdu"
	"github.com/armorclaw/matrixcore/pkg/roomversion"
)

// maxGapBackfill bounds how many ancestor events a single prev_events
// gap fetch pulls via get_missing_events (spec.md §4.9: "request
// missing events up to a bounded depth/count").
const maxGapBackfill = 50

// fillPrevEventsGap runs spec.md §4.9's gap handling: if event's
// prev_events are not all known locally, request the missing ancestry
// from origin via get_missing_events and persist whatever comes back
// as outliers, to be promoted later once a subsequent event or
// reprocessing supplies their own full context. Returns whether a gap
// was found at all, which the caller folds into the event's own
// outlier flag -- an event arriving with unresolved ancestry wasn't
// fully caught up on arrival either way.
func (p *Processor) fillPrevEventsGap(ctx context.Context, origin string, event *pdu.Event, rv roomversion.Descriptor) (bool, error) {
	prevIDs := event.PrevEvents()
	if len(prevIDs) == 0 {
		return false, nil
	}
	roomID := event.RoomID()

	missing, err := p.Store.MissingEvents(ctx, roomID, prevIDs)
	if err != nil {
		return false, err
	}
	if len(missing) == 0 {
		return false, nil
	}
	if p.Fetcher == nil {
		return true, nil
	}

	earliest, err := p.Store.LatestForwardExtremities(ctx, roomID)
	if err != nil {
		return true, err
	}

	// A failed fetch (origin unreachable, declines to answer) is not
	// fatal to processing event itself -- per DAG-005, the gap simply
	// stays open and event is still persisted as an outlier below.
	fetched, err := p.Fetcher.FetchMissingEvents(ctx, origin, roomID, earliest, missing, maxGapBackfill)
	if err != nil {
		return true, nil
	}

	for _, ev := range fetched {
		id, ferr := deriveEventID(ev, rv)
		if ferr != nil {
			continue // a malformed ancestor doesn't block accepting event itself
		}
		_ = p.Store.Put(ctx, roomID, id, ev, true, false)
	}

	return true, nil
}
