package federationapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/ferrors"
)

// missingEventsRequest mirrors fedclient.MissingEventsRequest, the
// body a peer posts to this endpoint (spec.md §6).
type missingEventsRequest struct {
	EarliestEvents []string `json:"earliest_events"`
	LatestEvents   []string `json:"latest_events"`
	Limit          int      `json:"limit"`
	MinDepth       int64    `json:"min_depth"`
}

// handleMissingEvents serves POST /_matrix/federation/v1/get_missing_events/{room_id}:
// walks back from LatestEvents, stopping at EarliestEvents, MinDepth, or
// Limit, and returns the events the origin is missing (spec.md §4.9's
// "gap handling").
func (s *Server) handleMissingEvents(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	if roomID == "" {
		writeError(w, ferrors.NewBuilder("API-003").WithMessage("missing room_id").Build())
		return
	}

	var req missingEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ferrors.NewBuilder("FED-006").WithMessagef("decode request: %v", err).Build())
		return
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 10
	}

	events, err := s.walkMissingEvents(r.Context(), roomID, req)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// walkMissingEvents does a bounded breadth-first walk backward from
// LatestEvents over prev_events, stopping at any event in
// EarliestEvents, below MinDepth, or once Limit events are collected.
// Outliers are excluded per DESIGN.md's "conservative: no" reading of
// spec.md's note on soft-fail/outlier interaction with this endpoint.
func (s *Server) walkMissingEvents(ctx context.Context, roomID string, req missingEventsRequest) ([]json.RawMessage, error) {
	stop := make(map[string]bool, len(req.EarliestEvents))
	for _, id := range req.EarliestEvents {
		stop[id] = true
	}

	visited := make(map[string]bool)
	queue := append([]string{}, req.LatestEvents...)
	var out []json.RawMessage

	for len(queue) > 0 && len(out) < req.Limit {
		id := queue[0]
		queue = queue[1:]
		if visited[id] || stop[id] {
			continue
		}
		visited[id] = true

		stored, err := s.store.Get(ctx, id)
		if err != nil {
			continue // not stored locally; nothing to walk through or return
		}
		if stored.Outlier {
			continue
		}
		if req.MinDepth > 0 && stored.Event.Depth() < req.MinDepth {
			continue
		}

		raw, err := canonicaljson.Canonicalize(stored.Event.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(raw))
		queue = append(queue, stored.Event.PrevEvents()...)
	}

	return out, nil
}
