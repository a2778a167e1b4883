package federationapi

import (
	"io"
	"net/http"

	"github.com/armorclaw/matrixcore/pkg/ferrors"
	"github.com/armorclaw/matrixcore/pkg/matrixauth"
)

// handleSendTransaction serves PUT /_matrix/federation/v1/send/{txn_id}
// (spec.md §6): verify the X-Matrix signature (done by matrixauth.Middleware
// ahead of this handler), run each PDU through RoomDagProcessor, dispatch
// each EDU, and respond with the per-event outcome map.
func (s *Server) handleSendTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := r.PathValue("txnID")
	if txnID == "" {
		writeError(w, ferrors.NewBuilder("API-003").WithMessage("missing txn_id").Build())
		return
	}

	origin, _ := matrixauth.VerifiedOrigin(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, ferrors.NewBuilder("FED-006").WithMessagef("read body: %v", err).Build())
		return
	}

	resp, err := s.txns.HandleTransaction(r.Context(), origin, txnID, body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
