package federationapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/armorclaw/matrixcore/pkg/eventcrypto"
	"github.com/armorclaw/matrixcore/pkg/eventstore/memstore"
	"github.com/armorclaw/matrixcore/pkg/keystore"
	"github.com/armorclaw/matrixcore/pkg/pdu"
	"github.com/armorclaw/matrixcore/pkg/roomdag"
	"github.com/armorclaw/matrixcore/pkg/txningress"

	_ "github.com/mutecomm/go-sqlcipher/v4"
)

func testKeyStore(t *testing.T, serverName string) *keystore.KeyStore {
	t.Helper()
	ks, err := keystore.New(keystore.Config{
		DBPath:     filepath.Join(t.TempDir(), "keys.db"),
		ServerName: serverName,
		MasterKey:  make([]byte, 32),
	})
	if err != nil {
		t.Fatalf("keystore.New: %v", err)
	}
	if err := ks.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ks.Close() })
	return ks
}

func testServer(t *testing.T) (*Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	ks := testKeyStore(t, "local.org")
	processor := roomdag.New(store, func(server, keyID string) (ed25519.PublicKey, bool) { return nil, false }, nil, nil)
	txns := txningress.NewHandler(processor, nil, nil, nil, nil)

	srv := NewServer(ServerConfig{ServerName: "local.org"}, store, ks, txns, nil)
	return srv, store
}

func putEvent(t *testing.T, store *memstore.Store, roomID, eventID string, content map[string]interface{}) {
	t.Helper()
	body := map[string]interface{}{
		"room_id":          roomID,
		"sender":           "@alice:local.org",
		"type":             "m.room.message",
		"origin_server_ts": time.Now().UnixMilli(),
		"depth":            int64(1),
		"prev_events":      []string{},
		"auth_events":      []string{},
		"content":          content,
		"signatures":       map[string]interface{}{},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	event, err := pdu.Parse(raw)
	if err != nil {
		t.Fatalf("pdu.Parse: %v", err)
	}
	if err := store.Put(context.Background(), roomID, eventID, event, false, false); err != nil {
		t.Fatalf("store.Put: %v", err)
	}
}

func TestHandleServerKeysReturnsSelfSignedDocument(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/_matrix/key/v2/server", nil)

	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc["server_name"] != "local.org" {
		t.Fatalf("expected server_name local.org, got %v", doc["server_name"])
	}
	if _, ok := doc["signatures"]; !ok {
		t.Fatal("expected a signatures field in the key document")
	}
	verifyKeys, ok := doc["verify_keys"].(map[string]interface{})
	if !ok || len(verifyKeys) == 0 {
		t.Fatalf("expected at least one verify key, got %v", doc["verify_keys"])
	}
}

func TestHandleEventReturnsStoredPDU(t *testing.T) {
	srv, store := testServer(t)
	putEvent(t, store, "!room:local.org", "$event1", map[string]interface{}{"body": "hi"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/_matrix/federation/v1/event/$event1", nil)
	req.SetPathValue("eventID", "$event1")

	srv.handleEvent(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		PDUs []json.RawMessage `json:"pdus"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.PDUs) != 1 {
		t.Fatalf("expected 1 pdu, got %d", len(resp.PDUs))
	}
}

func TestHandleEventNotFound(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/_matrix/federation/v1/event/$missing", nil)
	req.SetPathValue("eventID", "$missing")

	srv.handleEvent(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleSendTransactionRequiresValidSignature(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/_matrix/federation/v1/send/txn1", nil)
	req.Header.Set("Authorization", `X-Matrix origin="remote.org",key="ed25519:1",sig="bad",destination="local.org"`)

	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleSendTransactionAcceptsSignedRequest(t *testing.T) {
	srv, _ := testServer(t)

	pub, priv, _ := ed25519.GenerateKey(nil)
	if err := srv.keys.RememberServerKeys("remote.org", []keystore.ServerVerifyKey{
		{KeyID: "ed25519:1", PublicKey: pub, ValidUntil: time.Now().Add(time.Hour)},
	}); err != nil {
		t.Fatalf("RememberServerKeys: %v", err)
	}

	body := []byte(`{"origin":"remote.org","origin_server_ts":1,"pdus":[],"edus":[]}`)
	sig, err := eventcrypto.SignRequest("PUT", "/_matrix/federation/v1/send/txn1", "remote.org", "local.org", body, priv)
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/_matrix/federation/v1/send/txn1", bytes.NewReader(body))
	req.Header.Set("Authorization", `X-Matrix origin="remote.org",key="ed25519:1",sig="`+sig+`",destination="local.org"`)

	srv.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp txningress.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHandleNotImplementedReportsAPI004(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/_matrix/federation/v1/make_join/!room:local.org/@bob:local.org", nil)
	req.SetPathValue("roomID", "!room:local.org")
	req.SetPathValue("userID", "@bob:local.org")

	srv.handleNotImplemented(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rec.Code)
	}
}
