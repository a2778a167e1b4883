package federationapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/ferrors"
)

// handleEvent serves GET /_matrix/federation/v1/event/{event_id}
// (spec.md §6): a single stored PDU by ID.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")
	if eventID == "" {
		writeError(w, ferrors.NewBuilder("API-003").WithMessage("missing event_id").Build())
		return
	}

	stored, err := s.store.Get(r.Context(), eventID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	raw, err := canonicaljson.Canonicalize(stored.Event.Value())
	if err != nil {
		writeError(w, ferrors.NewBuilder("CRYPTO-003").Wrap(err).Build())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"origin":           s.config.ServerName,
		"origin_server_ts": time.Now().UnixMilli(),
		"pdus":             []json.RawMessage{json.RawMessage(raw)},
	})
}
