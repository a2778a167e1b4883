package federationapi

import (
	"encoding/json"
	"net/http"

	"github.com/armorclaw/matrixcore/pkg/ferrors"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, ferrors.HTTPStatus(err), ferrors.ToMatrixResponse(err))
}
