package federationapi

import "github.com/armorclaw/matrixcore/pkg/ferrors"

// Error codes for this package's own failure modes, registered
// alongside the core packages' KEY/CRYPTO/RES/FED/AUTH/STATE/DAG/TXN
// codes (spec.md §4.10).
var apiCodes = map[string]ferrors.CodeDefinition{
	"API-001": {
		Code: "API-001", Category: "federationapi", Severity: ferrors.SeverityWarning,
		Message: "event not found", Help: "no stored event with this event_id",
		HTTPStatus: 404, MatrixError: "M_NOT_FOUND",
	},
	"API-002": {
		Code: "API-002", Category: "federationapi", Severity: ferrors.SeverityWarning,
		Message: "room not found", Help: "no CreateRoom record for this room_id",
		HTTPStatus: 404, MatrixError: "M_NOT_FOUND",
	},
	"API-003": {
		Code: "API-003", Category: "federationapi", Severity: ferrors.SeverityWarning,
		Message: "missing or malformed request parameter", Help: "a required path or query parameter was absent or could not be parsed",
		HTTPStatus: 400, MatrixError: "M_MISSING_PARAM",
	},
	"API-004": {
		Code: "API-004", Category: "federationapi", Severity: ferrors.SeverityWarning,
		Message: "room join protocol endpoint not implemented", Help: "make_join/send_join/send_leave/invite require stripped-state assembly and join-event templating this server does not yet perform",
		HTTPStatus: 501, MatrixError: "M_UNRECOGNIZED",
	},
}

func init() {
	for _, def := range apiCodes {
		ferrors.Register(def)
	}
}
