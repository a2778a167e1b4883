package federationapi

import (
	"net/http"

	"github.com/armorclaw/matrixcore/pkg/ferrors"
)

// handleNotImplemented backs make_join/send_join/send_leave/invite.
// These require stripped-state assembly and join-event templating that
// has no implementation elsewhere in this module yet (see DESIGN.md);
// rather than silently 404ing, they report M_UNRECOGNIZED with a
// specific reason so a caller can tell "not implemented" apart from
// "not found".
func (s *Server) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	writeError(w, ferrors.NewBuilder("API-004").WithMessagef("%s not implemented", r.URL.Path).Build())
}
