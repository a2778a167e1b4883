package ferrors

import "sync"

// CodeDefinition defines one registered error code's properties,
// including the HTTP status and Matrix errcode it maps to when
// surfaced across the federation boundary (spec.md §4.10).
type CodeDefinition struct {
	Code        string   `json:"code"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	Help        string   `json:"help"`
	HTTPStatus  int      `json:"http_status"`
	MatrixError string   `json:"matrix_errcode"`
}

var (
	registry   = make(map[string]CodeDefinition)
	registryMu sync.RWMutex
)

// defaultCodes enumerates the registered codes by component prefix:
// KEY (KeyStore), CRYPTO (EventCrypto), RES (ServerResolver), FED
// (FederationClient/transaction envelope), AUTH (AuthRules), STATE
// (StateResolver), DAG (RoomDagProcessor), TXN (TransactionIngress).
var defaultCodes = map[string]CodeDefinition{
	"KEY-001": {
		Code: "KEY-001", Category: "keystore", Severity: SeverityError,
		Message: "required verify key could not be resolved", Help: "remote server-keys fetch failed or returned no matching key id after bounded retries",
		HTTPStatus: 401, MatrixError: "M_UNAUTHORIZED",
	},
	"KEY-002": {
		Code: "KEY-002", Category: "keystore", Severity: SeverityCritical,
		Message: "server-keys document self-signature invalid", Help: "a remote server's own key document failed to verify under its declared key; never cache it",
		HTTPStatus: 401, MatrixError: "M_UNAUTHORIZED",
	},
	"KEY-003": {
		Code: "KEY-003", Category: "keystore", Severity: SeverityCritical,
		Message: "local keystore could not be opened", Help: "SQLCipher master key derivation or database open failed",
		HTTPStatus: 500, MatrixError: "M_UNKNOWN",
	},

	"CRYPTO-001": {
		Code: "CRYPTO-001", Category: "eventcrypto", Severity: SeverityError,
		Message: "content hash mismatch", Help: "recomputed hashes.sha256 does not match the declared value; event was altered in transit",
		HTTPStatus: 400, MatrixError: "M_BAD_JSON",
	},
	"CRYPTO-002": {
		Code: "CRYPTO-002", Category: "eventcrypto", Severity: SeverityError,
		Message: "no valid signature from a required server", Help: "none of the signatures under the required server's key ids verify",
		HTTPStatus: 401, MatrixError: "M_UNAUTHORIZED",
	},
	"CRYPTO-003": {
		Code: "CRYPTO-003", Category: "eventcrypto", Severity: SeverityWarning,
		Message: "canonical JSON contains a non-integer number", Help: "the Matrix canonical form forbids floats; value must be rejected",
		HTTPStatus: 400, MatrixError: "M_BAD_JSON",
	},
	"CRYPTO-004": {
		Code: "CRYPTO-004", Category: "eventcrypto", Severity: SeverityWarning,
		Message: "canonical JSON integer out of range", Help: "integers must fall within -2^53+1..2^53-1",
		HTTPStatus: 400, MatrixError: "M_BAD_JSON",
	},

	"RES-001": {
		Code: "RES-001", Category: "resolver", Severity: SeverityWarning,
		Message: "server name could not be resolved", Help: "well-known, SRV, and default-port resolution all failed or timed out",
		HTTPStatus: 502, MatrixError: "M_UNKNOWN",
	},

	"FED-001": {
		Code: "FED-001", Category: "fedclient", Severity: SeverityError,
		Message: "X-Matrix authorization header missing or malformed", Help: "could not parse origin=, key=, sig= from the Authorization header",
		HTTPStatus: 401, MatrixError: "M_UNAUTHORIZED",
	},
	"FED-002": {
		Code: "FED-002", Category: "fedclient", Severity: SeverityWarning,
		Message: "request rejected by destination's circuit breaker", Help: "too many consecutive failures against this destination; backing off",
		HTTPStatus: 502, MatrixError: "M_UNKNOWN",
	},
	"FED-003": {
		Code: "FED-003", Category: "fedclient", Severity: SeverityWarning,
		Message: "origin exceeded per-destination rate limit", Help: "apply backoff before retrying this destination",
		HTTPStatus: 429, MatrixError: "M_LIMIT_EXCEEDED",
	},
	"FED-004": {
		Code: "FED-004", Category: "fedclient", Severity: SeverityWarning,
		Message: "origin denied by server ACL", Help: "the room's m.room.server_acl state event denies this origin",
		HTTPStatus: 403, MatrixError: "M_FORBIDDEN",
	},
	"FED-005": {
		Code: "FED-005", Category: "fedclient", Severity: SeverityWarning,
		Message: "unrecognized federation endpoint", Help: "no handler registered for this path",
		HTTPStatus: 404, MatrixError: "M_UNRECOGNIZED",
	},
	"FED-006": {
		Code: "FED-006", Category: "fedclient", Severity: SeverityWarning,
		Message: "malformed request body", Help: "request body is not valid JSON or is missing required fields",
		HTTPStatus: 400, MatrixError: "M_BAD_JSON",
	},

	"AUTH-001": {
		Code: "AUTH-001", Category: "authrules", Severity: SeverityWarning,
		Message: "event rejected by authorization rules", Help: "see context for the specific rule and auth_events considered",
		HTTPStatus: 403, MatrixError: "M_FORBIDDEN",
	},
	"AUTH-002": {
		Code: "AUTH-002", Category: "authrules", Severity: SeverityWarning,
		Message: "referenced auth event missing, duplicated, or wrong type", Help: "auth_events must each exist, be a state event of a permitted type, and appear at most once per type",
		HTTPStatus: 403, MatrixError: "M_FORBIDDEN",
	},
	"AUTH-003": {
		Code: "AUTH-003", Category: "authrules", Severity: SeverityWarning,
		Message: "sender is banned", Help: "the room's current member state bans this sender",
		HTTPStatus: 403, MatrixError: "M_FORBIDDEN",
	},

	"STATE-001": {
		Code: "STATE-001", Category: "stateresolver", Severity: SeverityError,
		Message: "state resolution could not converge", Help: "auth-chain difference or mainline ordering produced an inconsistent result; see context",
		HTTPStatus: 500, MatrixError: "M_UNKNOWN",
	},

	"DAG-001": {
		Code: "DAG-001", Category: "roomdag", Severity: SeverityWarning,
		Message: "event failed shape validation", Help: "required field missing or malformed (room_id/sender/type/event structure)",
		HTTPStatus: 400, MatrixError: "M_BAD_JSON",
	},
	"DAG-002": {
		Code: "DAG-002", Category: "roomdag", Severity: SeverityWarning,
		Message: "event soft-failed", Help: "event was persisted but excluded from resolved state because it failed auth against current state",
		HTTPStatus: 200, MatrixError: "",
	},
	"DAG-003": {
		Code: "DAG-003", Category: "roomdag", Severity: SeverityWarning,
		Message: "event persisted as an outlier", Help: "event lacks full prev/auth context; not part of the resolved timeline until promoted",
		HTTPStatus: 200, MatrixError: "",
	},
	"DAG-004": {
		Code: "DAG-004", Category: "roomdag", Severity: SeverityError,
		Message: "unknown room version", Help: "the room's m.room.create event declares a room_version this server does not implement",
		HTTPStatus: 400, MatrixError: "M_BAD_JSON",
	},
	"DAG-005": {
		Code: "DAG-005", Category: "roomdag", Severity: SeverityWarning,
		Message: "prev_events gap backfill failed", Help: "get_missing_events against the origin did not return the missing ancestry; the event is still accepted as an outlier",
		HTTPStatus: 200, MatrixError: "",
	},

	"TXN-001": {
		Code: "TXN-001", Category: "txningress", Severity: SeverityWarning,
		Message: "transaction exceeds maximum PDU/EDU count", Help: "spec.md bounds a transaction to 50 PDUs and 100 EDUs",
		HTTPStatus: 400, MatrixError: "M_BAD_JSON",
	},
}

func init() {
	for code, def := range defaultCodes {
		registry[code] = def
	}
}

// Register adds or replaces an error code definition.
func Register(def CodeDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[def.Code] = def
}

// Lookup retrieves a code definition, falling back to a generic
// "unknown" definition if code was never registered.
func Lookup(code string) CodeDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if def, ok := registry[code]; ok {
		return def
	}
	return CodeDefinition{
		Code: code, Category: "unknown", Severity: SeverityError,
		Message: "unknown error", HTTPStatus: 500, MatrixError: "M_UNKNOWN",
	}
}

// AllCodes returns a copy of the full registry, used by documentation
// generation and tests.
func AllCodes() map[string]CodeDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make(map[string]CodeDefinition, len(registry))
	for k, v := range registry {
		out[k] = v
	}
	return out
}
