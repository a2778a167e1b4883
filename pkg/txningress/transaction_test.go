package txningress

import (
	"context"
	"testing"

	"github.com/armorclaw/matrixcore/pkg/eventstore/memstore"
	"github.com/armorclaw/matrixcore/pkg/roomdag"
)

func TestParseTransactionSplitsPDUsAndEDUs(t *testing.T) {
	body := []byte(`{
		"origin_server_ts": 123,
		"pdus": [{"room_id": "!a:x"}, {"room_id": "!b:x"}],
		"edus": [{"edu_type": "m.typing", "content": {"room_id": "!a:x", "user_id": "@u:x", "typing": true}}]
	}`)
	txn, err := ParseTransaction("x", body)
	if err != nil {
		t.Fatalf("ParseTransaction: %v", err)
	}
	if len(txn.PDUs) != 2 {
		t.Fatalf("expected 2 pdus, got %d", len(txn.PDUs))
	}
	if len(txn.EDUs) != 1 || txn.EDUs[0].Type != "m.typing" {
		t.Fatalf("expected 1 m.typing edu, got %+v", txn.EDUs)
	}
}

func TestHandleTransactionRejectsOversizedTransaction(t *testing.T) {
	pdus := make([]string, 0, 51)
	for i := 0; i < 51; i++ {
		pdus = append(pdus, `{"room_id": "!a:x"}`)
	}
	body := []byte(`{"pdus": [` + joinStrings(pdus) + `], "edus": []}`)

	store := memstore.New()
	h := NewHandler(roomdag.New(store, nil, nil, nil), nil, nil, nil, nil)
	_, err := h.HandleTransaction(context.Background(), "x", "txn1", body)
	if err == nil {
		t.Fatal("expected oversized transaction to be rejected")
	}
}

func TestHandleTransactionIsIdempotentOnTxnID(t *testing.T) {
	body := []byte(`{"pdus": [], "edus": []}`)
	store := memstore.New()
	h := NewHandler(roomdag.New(store, nil, nil, nil), nil, nil, nil, nil)

	r1, err := h.HandleTransaction(context.Background(), "x", "txn1", body)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	r2, err := h.HandleTransaction(context.Background(), "x", "txn1", body)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(r1.PDUs) != len(r2.PDUs) {
		t.Fatalf("expected cached response on duplicate txn_id")
	}
}

func TestHandleTransactionDispatchesTypingEDU(t *testing.T) {
	body := []byte(`{"pdus": [], "edus": [{"edu_type": "m.typing", "content": {"room_id": "!a:x", "user_id": "@u:x", "typing": true}}]}`)
	store := memstore.New()
	typing := NewTypingTracker(nil)
	defer typing.Stop()
	h := NewHandler(roomdag.New(store, nil, nil, nil), nil, typing, nil, nil)

	if _, err := h.HandleTransaction(context.Background(), "x", "txn1", body); err != nil {
		t.Fatalf("HandleTransaction: %v", err)
	}
	users := typing.Typing("!a:x")
	if len(users) != 1 || users[0] != "@u:x" {
		t.Fatalf("expected @u:x typing in !a:x, got %v", users)
	}
}

func joinStrings(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
