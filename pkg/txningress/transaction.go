// Package txningress implements TransactionIngress: the entry point
// for PUT /_matrix/federation/v1/send/{txn_id}. It unmarshals a
// transaction body, enforces the 50 PDU / 100 EDU spec limit,
// deduplicates on (origin, txn_id), feeds each PDU to
// pkg/roomdag.Processor, and dispatches each EDU to a typed handler
// (presence.go, typing.go, receipt.go, devicemailbox.go).
package txningress

import (
	"context"
	"sync"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/ferrors"
	"github.com/armorclaw/matrixcore/pkg/roomdag"
)

const (
	maxPDUsPerTransaction = 50
	maxEDUsPerTransaction = 100
)

// Transaction is a parsed federation transaction body.
type Transaction struct {
	Origin         string
	OriginServerTS int64
	PDUs           []canonicaljson.Value
	EDUs           []EDU
}

// EDU is one ephemeral data unit from a transaction's "edus" array.
type EDU struct {
	Type    string
	Content canonicaljson.Value
}

// ParseTransaction decodes a transaction body and splits it into typed
// PDUs/EDUs, without yet validating limits or processing anything.
func ParseTransaction(origin string, body []byte) (Transaction, error) {
	v, err := canonicaljson.Parse(body)
	if err != nil {
		return Transaction{}, ferrors.NewBuilder("TXN-001").WithMessagef("invalid transaction JSON: %v", err).Build()
	}

	txn := Transaction{Origin: origin}
	if ts, ok := v.Get("origin_server_ts"); ok {
		if i, ok := ts.AsInt(); ok {
			txn.OriginServerTS = i
		}
	}

	if pdusField, ok := v.Get("pdus"); ok {
		if arr, ok := pdusField.AsArray(); ok {
			txn.PDUs = arr
		}
	}

	if edusField, ok := v.Get("edus"); ok {
		if arr, ok := edusField.AsArray(); ok {
			for _, item := range arr {
				edu := EDU{Content: canonicaljson.NewObject()}
				if t, ok := item.Get("edu_type"); ok {
					edu.Type, _ = t.AsString()
				}
				if c, ok := item.Get("content"); ok {
					edu.Content = c
				}
				txn.EDUs = append(txn.EDUs, edu)
			}
		}
	}

	return txn, nil
}

// PDUResult is one entry of a transaction response's pdus map:
// event_id -> {} on success, or event_id -> {error: "..."} on failure.
type PDUResult struct {
	Error string `json:"error,omitempty"`
}

// Response is the body returned for a processed transaction.
type Response struct {
	PDUs map[string]PDUResult `json:"pdus"`
}

// Handler wires a RoomDagProcessor and the EDU handlers together and
// deduplicates transactions by (origin, txn_id).
type Handler struct {
	Processor *roomdag.Processor
	Presence  *PresenceTracker
	Typing    *TypingTracker
	Receipts  *ReceiptTracker
	Mailboxes *DeviceMailboxes

	mu   sync.Mutex
	seen map[string]Response // "origin/txn_id" -> cached response
}

// NewHandler builds a Handler. Any of the EDU trackers may be nil, in
// which case that EDU type is silently ignored rather than erroring --
// a server need not implement every EDU type to accept PDUs.
func NewHandler(processor *roomdag.Processor, presence *PresenceTracker, typing *TypingTracker, receipts *ReceiptTracker, mailboxes *DeviceMailboxes) *Handler {
	return &Handler{
		Processor: processor,
		Presence:  presence,
		Typing:    typing,
		Receipts:  receipts,
		Mailboxes: mailboxes,
		seen:      make(map[string]Response),
	}
}

// HandleTransaction runs the transaction through the PDU/EDU pipeline,
// or returns a cached result if (origin, txnID) was already processed.
func (h *Handler) HandleTransaction(ctx context.Context, origin, txnID string, body []byte) (Response, error) {
	key := origin + "/" + txnID

	h.mu.Lock()
	if cached, ok := h.seen[key]; ok {
		h.mu.Unlock()
		return cached, nil
	}
	h.mu.Unlock()

	txn, err := ParseTransaction(origin, body)
	if err != nil {
		return Response{}, err
	}

	if len(txn.PDUs) > maxPDUsPerTransaction || len(txn.EDUs) > maxEDUsPerTransaction {
		return Response{}, ferrors.NewBuilder("TXN-001").
			WithMessagef("transaction has %d pdus and %d edus, limit is %d/%d", len(txn.PDUs), len(txn.EDUs), maxPDUsPerTransaction, maxEDUsPerTransaction).
			WithContext("origin", origin).
			WithContext("txn_id", txnID).
			Build()
	}

	resp := Response{PDUs: make(map[string]PDUResult, len(txn.PDUs))}
	for _, raw := range txn.PDUs {
		outcome := h.Processor.ProcessPDU(ctx, origin, raw)
		if outcome.EventID == "" {
			continue // malformed beyond recovery; nothing to key the result on
		}
		if outcome.Rejected && outcome.Err != nil {
			resp.PDUs[outcome.EventID] = PDUResult{Error: outcome.Err.Error()}
		} else {
			resp.PDUs[outcome.EventID] = PDUResult{}
		}
	}

	for _, edu := range txn.EDUs {
		h.dispatchEDU(ctx, origin, edu)
	}

	h.mu.Lock()
	h.seen[key] = resp
	h.mu.Unlock()

	return resp, nil
}

func (h *Handler) dispatchEDU(ctx context.Context, origin string, edu EDU) {
	switch edu.Type {
	case "m.presence":
		if h.Presence != nil {
			h.Presence.Handle(edu.Content)
		}
	case "m.typing":
		if h.Typing != nil {
			h.Typing.Handle(edu.Content)
		}
	case "m.receipt":
		if h.Receipts != nil {
			h.Receipts.Handle(edu.Content)
		}
	case "m.direct_to_device":
		if h.Mailboxes != nil {
			h.Mailboxes.Handle(origin, edu.Content)
		}
	}
}
