package fedclient

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/errgroup"
)

// FetchEventsBatch fetches each event ID in eventIDs from destination
// concurrently, fanning out with errgroup the way the teacher's
// monitorLoop fans out per-container checks -- here over missing
// auth/prev events instead of containers. A single event failing to
// fetch does not abort the others; its slot in the result is left nil
// and reported via the returned error.
func (c *Client) FetchEventsBatch(ctx context.Context, destination string, eventIDs []string) ([]json.RawMessage, error) {
	results := make([]json.RawMessage, len(eventIDs))

	// A plain errgroup.Group, not errgroup.WithContext: one event
	// failing to fetch must not cancel the sibling fetches still in
	// flight, so ctx is shared as-is rather than derived.
	var g errgroup.Group
	for i, id := range eventIDs {
		i, id := i, id
		g.Go(func() error {
			resp, err := c.Event(ctx, destination, id)
			if err != nil {
				return err
			}
			if len(resp.PDUs) > 0 {
				results[i] = resp.PDUs[0]
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
