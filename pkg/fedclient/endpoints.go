package fedclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Transaction is the body of PUT /_matrix/federation/v1/send/{txn_id}
// (spec.md §6).
type Transaction struct {
	Origin         string            `json:"origin"`
	OriginServerTS int64             `json:"origin_server_ts"`
	PDUs           []json.RawMessage `json:"pdus"`
	EDUs           []json.RawMessage `json:"edus,omitempty"`
}

// TransactionResponse is the per-PDU acknowledgement a destination
// returns for a pushed transaction.
type TransactionResponse struct {
	PDUs map[string]PDUResult `json:"pdus"`
}

// PDUResult is empty on success or carries an "error" string per PDU.
type PDUResult struct {
	Error string `json:"error,omitempty"`
}

// SendTransaction pushes a transaction to destination. Transactions
// are idempotent on (origin, txn_id) so the underlying PUT is retried
// by Client.PutTransaction, for at most six attempts.
func (c *Client) SendTransaction(ctx context.Context, destination, txnID string, txn Transaction) (TransactionResponse, error) {
	body, err := json.Marshal(txn)
	if err != nil {
		return TransactionResponse{}, fmt.Errorf("fedclient: marshal transaction: %w", err)
	}
	uri := fmt.Sprintf("/_matrix/federation/v1/send/%s", url.PathEscape(txnID))

	var resp TransactionResponse
	if err := c.PutTransaction(ctx, destination, uri, body, &resp); err != nil {
		return TransactionResponse{}, err
	}
	return resp, nil
}

// StateResponse is the body of GET /_matrix/federation/v1/state/{room_id}.
type StateResponse struct {
	Origin         string            `json:"origin"`
	OriginServerTS int64             `json:"origin_server_ts"`
	PDUs           []json.RawMessage `json:"pdus"`
}

// State fetches full state at eventID in roomID.
func (c *Client) State(ctx context.Context, destination, roomID, eventID string) (StateResponse, error) {
	uri := fmt.Sprintf("/_matrix/federation/v1/state/%s?event_id=%s", url.PathEscape(roomID), url.QueryEscape(eventID))
	var resp StateResponse
	err := c.Get(ctx, destination, uri, &resp)
	return resp, err
}

// StateIDsResponse is the body of GET /_matrix/federation/v1/state_ids/{room_id}.
type StateIDsResponse struct {
	PDUIDs  []string `json:"pdu_ids"`
	AuthIDs []string `json:"auth_chain_ids"`
}

// StateIDs fetches state event IDs and the full auth chain IDs at eventID.
func (c *Client) StateIDs(ctx context.Context, destination, roomID, eventID string) (StateIDsResponse, error) {
	uri := fmt.Sprintf("/_matrix/federation/v1/state_ids/%s?event_id=%s", url.PathEscape(roomID), url.QueryEscape(eventID))
	var resp StateIDsResponse
	err := c.Get(ctx, destination, uri, &resp)
	return resp, err
}

// EventResponse is the body of GET /_matrix/federation/v1/event/{event_id}.
type EventResponse struct {
	Origin         string            `json:"origin"`
	OriginServerTS int64             `json:"origin_server_ts"`
	PDUs           []json.RawMessage `json:"pdus"`
}

// Event fetches a single PDU by ID.
func (c *Client) Event(ctx context.Context, destination, eventID string) (EventResponse, error) {
	uri := fmt.Sprintf("/_matrix/federation/v1/event/%s", url.PathEscape(eventID))
	var resp EventResponse
	err := c.Get(ctx, destination, uri, &resp)
	return resp, err
}

// MissingEventsRequest is the JSON body that MissingEvents sends with
// POST /_matrix/federation/v1/get_missing_events/{room_id}; the endpoint
// is not requested with GET.
type MissingEventsRequest struct {
	EarliestEvents []string `json:"earliest_events"`
	LatestEvents   []string `json:"latest_events"`
	Limit          int      `json:"limit"`
	MinDepth       int64    `json:"min_depth"`
}

// MissingEventsResponse carries the gap-filling PDUs a destination
// found between EarliestEvents and LatestEvents.
type MissingEventsResponse struct {
	Events []json.RawMessage `json:"events"`
}

// MissingEvents requests the events between earliestEvents and
// latestEvents (spec.md §6), carrying its filter as a JSON body.
func (c *Client) MissingEvents(ctx context.Context, destination, roomID string, req MissingEventsRequest) (MissingEventsResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return MissingEventsResponse{}, fmt.Errorf("fedclient: marshal missing events request: %w", err)
	}
	uri := fmt.Sprintf("/_matrix/federation/v1/get_missing_events/%s", url.PathEscape(roomID))
	var resp MissingEventsResponse
	err = c.Post(ctx, destination, uri, body, &resp)
	return resp, err
}

// MakeJoinResponse is the body of GET /_matrix/federation/v1/make_join/{room_id}/{user_id}.
type MakeJoinResponse struct {
	Event       json.RawMessage `json:"event"`
	RoomVersion string          `json:"room_version"`
}

// MakeJoin requests a join-event template for userID in roomID.
func (c *Client) MakeJoin(ctx context.Context, destination, roomID, userID string) (MakeJoinResponse, error) {
	uri := fmt.Sprintf("/_matrix/federation/v1/make_join/%s/%s", url.PathEscape(roomID), url.PathEscape(userID))
	var resp MakeJoinResponse
	err := c.Get(ctx, destination, uri, &resp)
	return resp, err
}

// SendJoinResponse is the body of PUT /_matrix/federation/v2/send_join/{room_id}/{event_id}.
type SendJoinResponse struct {
	State      []json.RawMessage `json:"state"`
	AuthChain  []json.RawMessage `json:"auth_chain"`
	Event      json.RawMessage   `json:"event,omitempty"`
}

// SendJoin submits a signed join event for acceptance into roomID.
func (c *Client) SendJoin(ctx context.Context, destination, roomID, eventID string, event json.RawMessage) (SendJoinResponse, error) {
	uri := fmt.Sprintf("/_matrix/federation/v2/send_join/%s/%s", url.PathEscape(roomID), url.PathEscape(eventID))
	var resp SendJoinResponse
	err := c.Put(ctx, destination, uri, event, &resp)
	return resp, err
}

// SendLeave notifies destination of a signed leave event.
func (c *Client) SendLeave(ctx context.Context, destination, roomID, eventID string, event json.RawMessage) error {
	uri := fmt.Sprintf("/_matrix/federation/v2/send_leave/%s/%s", url.PathEscape(roomID), url.PathEscape(eventID))
	return c.Put(ctx, destination, uri, event, nil)
}

// Invite carries an invite event plus stripped state to destination.
type InviteRequest struct {
	Event         json.RawMessage   `json:"event"`
	InviteRoomState []json.RawMessage `json:"invite_room_state,omitempty"`
}

// SendInvite delivers an invite to destination.
func (c *Client) SendInvite(ctx context.Context, destination, roomID, eventID string, req InviteRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("fedclient: marshal invite request: %w", err)
	}
	uri := fmt.Sprintf("/_matrix/federation/v2/invite/%s/%s", url.PathEscape(roomID), url.PathEscape(eventID))
	var resp json.RawMessage
	err = c.Put(ctx, destination, uri, body, &resp)
	return resp, err
}

// ServerKeyResponse is the body of GET /_matrix/key/v2/server.
type ServerKeyResponse struct {
	ServerName    string                     `json:"server_name"`
	ValidUntilTS  int64                      `json:"valid_until_ts"`
	VerifyKeys    map[string]VerifyKeyEntry  `json:"verify_keys"`
	OldVerifyKeys map[string]OldVerifyKey    `json:"old_verify_keys,omitempty"`
	Signatures    map[string]map[string]string `json:"signatures"`
}

// VerifyKeyEntry is one current verify key in a server-keys document.
type VerifyKeyEntry struct {
	Key string `json:"key"`
}

// OldVerifyKey is a superseded verify key kept for grace-period
// verification.
type OldVerifyKey struct {
	Key          string `json:"key"`
	ExpiredTS    int64  `json:"expired_ts"`
}

// ServerKeys fetches destination's self-signed key document
// (unauthenticated per spec.md §6).
func (c *Client) ServerKeys(ctx context.Context, destination string) (ServerKeyResponse, error) {
	var resp ServerKeyResponse
	err := c.Get(ctx, destination, "/_matrix/key/v2/server", &resp)
	return resp, err
}

// QueryServerKeysRequest is the body of POST /_matrix/key/v2/query.
type QueryServerKeysRequest struct {
	ServerKeys map[string]map[string]struct {
		MinimumValidUntilTS int64 `json:"minimum_valid_until_ts,omitempty"`
	} `json:"server_keys"`
}

// QueryServerKeys asks destination (acting as a notary) for the keys
// of the servers named in req.
func (c *Client) QueryServerKeys(ctx context.Context, destination string, req QueryServerKeysRequest) ([]ServerKeyResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("fedclient: marshal key query: %w", err)
	}
	var resp struct {
		ServerKeys []ServerKeyResponse `json:"server_keys"`
	}
	err = c.Post(ctx, destination, "/_matrix/key/v2/query", body, &resp)
	return resp.ServerKeys, err
}
