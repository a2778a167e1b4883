package federationapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/eventstore"
	"github.com/armorclaw/matrixcore/pkg/ferrors"
)

// handleState serves GET /_matrix/federation/v1/state/{room_id}?event_id=…
// (spec.md §6): full state at the given event, as {origin, origin_server_ts, pdus}.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	eventID := r.URL.Query().Get("event_id")
	if roomID == "" || eventID == "" {
		writeError(w, ferrors.NewBuilder("API-003").WithMessage("room_id and event_id are required").Build())
		return
	}

	tuples, err := s.store.StateBefore(r.Context(), roomID, eventID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	eventIDs := make([]string, 0, len(tuples))
	for _, id := range tuples {
		eventIDs = append(eventIDs, id)
	}
	stored, err := s.store.GetMany(r.Context(), eventIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	pdus, err := encodeStoredEvents(eventIDs, stored)
	if err != nil {
		writeError(w, ferrors.NewBuilder("CRYPTO-003").Wrap(err).Build())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"origin":           s.config.ServerName,
		"origin_server_ts": time.Now().UnixMilli(),
		"pdus":             pdus,
	})
}

// handleStateIDs serves GET /_matrix/federation/v1/state_ids/{room_id}?event_id=…:
// state event IDs and the full auth chain IDs reachable from them.
func (s *Server) handleStateIDs(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	eventID := r.URL.Query().Get("event_id")
	if roomID == "" || eventID == "" {
		writeError(w, ferrors.NewBuilder("API-003").WithMessage("room_id and event_id are required").Build())
		return
	}

	tuples, err := s.store.StateBefore(r.Context(), roomID, eventID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	stateIDs := make([]string, 0, len(tuples))
	for _, id := range tuples {
		stateIDs = append(stateIDs, id)
	}

	authIDs, err := s.store.AuthChain(r.Context(), stateIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pdu_ids":        stateIDs,
		"auth_chain_ids": authIDs,
	})
}

func encodeStoredEvents(order []string, stored map[string]eventstore.StoredEvent) ([]json.RawMessage, error) {
	pdus := make([]json.RawMessage, 0, len(order))
	for _, id := range order {
		se, ok := stored[id]
		if !ok {
			continue
		}
		raw, err := canonicaljson.Canonicalize(se.Event.Value())
		if err != nil {
			return nil, err
		}
		pdus = append(pdus, json.RawMessage(raw))
	}
	return pdus, nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch err {
	case eventstore.ErrEventNotFound:
		writeError(w, ferrors.NewBuilder("API-001").Wrap(err).Build())
	case eventstore.ErrRoomNotFound:
		writeError(w, ferrors.NewBuilder("API-002").Wrap(err).Build())
	default:
		writeError(w, ferrors.Wrap("API-002", err))
	}
}
