package roomdag

import (
	"context"
	"fmt"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/fedclient"
	"github.com/armorclaw/matrixcore/pkg/pdu"
)

// FedClientFetcher adapts *fedclient.Client to EventFetcher: FetchEvent
// unwraps the single-PDU response body GET /event/{event_id} returns,
// FetchMissingEvents unwraps the event list POST
// /get_missing_events/{room_id} returns.
type FedClientFetcher struct {
	Client *fedclient.Client
}

// FetchEvent implements EventFetcher.
func (f FedClientFetcher) FetchEvent(ctx context.Context, origin, eventID string) (*pdu.Event, error) {
	resp, err := f.Client.Event(ctx, origin, eventID)
	if err != nil {
		return nil, err
	}
	if len(resp.PDUs) == 0 {
		return nil, fmt.Errorf("roomdag: %s returned no pdus for %s", origin, eventID)
	}
	v, err := canonicaljson.Parse(resp.PDUs[0])
	if err != nil {
		return nil, err
	}
	return pdu.FromValue(v)
}

// FetchMissingEvents implements EventFetcher, unwrapping get_missing_events's
// event list into parsed PDUs.
func (f FedClientFetcher) FetchMissingEvents(ctx context.Context, origin, roomID string, earliest, latest []string, limit int) ([]*pdu.Event, error) {
	resp, err := f.Client.MissingEvents(ctx, origin, roomID, fedclient.MissingEventsRequest{
		EarliestEvents: earliest,
		LatestEvents:   latest,
		Limit:          limit,
	})
	if err != nil {
		return nil, err
	}
	events := make([]*pdu.Event, 0, len(resp.Events))
	for _, raw := range resp.Events {
		v, err := canonicaljson.Parse(raw)
		if err != nil {
			continue // a malformed ancestor doesn't block the rest of the batch
		}
		ev, err := pdu.FromValue(v)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
