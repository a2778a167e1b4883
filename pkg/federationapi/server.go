// Package federationapi serves the inbound Matrix federation HTTP
// endpoints (spec.md §6) on top of the core processing packages:
// requests come in over the wire, get verified by pkg/matrixauth, and
// are dispatched into pkg/txningress and pkg/eventstore. Grounded on
// the teacher's pkg/http/server.go (ServeMux registration, TLS config,
// graceful Start/Stop), trimmed to federation-only routes -- no
// WebSocket/QR/client discovery surface.
package federationapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/armorclaw/matrixcore/pkg/eventstore"
	"github.com/armorclaw/matrixcore/pkg/keystore"
	"github.com/armorclaw/matrixcore/pkg/logger"
	"github.com/armorclaw/matrixcore/pkg/matrixauth"
	"github.com/armorclaw/matrixcore/pkg/txningress"
)

// ServerConfig holds configuration for the federation HTTP server.
type ServerConfig struct {
	ListenAddr string
	ServerName string
	CertFile   string // optional; server runs plain HTTP if both are empty
	KeyFile    string
}

// Server serves spec.md §6's federation endpoints on a ServeMux,
// wrapping authenticated routes in matrixauth.Middleware.
type Server struct {
	config     ServerConfig
	store      eventstore.Store
	keys       *keystore.KeyStore
	txns       *txningress.Handler
	fetchKeys  keystore.FetchServerKeysFunc
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer wires a federation HTTP server over store/keys/txns.
// fetchKeys is used by matrixauth.Middleware to resolve an unfamiliar
// origin server's verify keys on a cache miss.
func NewServer(config ServerConfig, store eventstore.Store, keys *keystore.KeyStore, txns *txningress.Handler, fetchKeys keystore.FetchServerKeysFunc) *Server {
	if config.ListenAddr == "" {
		config.ListenAddr = ":8448"
	}
	return &Server{
		config:    config,
		store:     store,
		keys:      keys,
		txns:      txns,
		fetchKeys: fetchKeys,
		log:       logger.Global().WithComponent("federationapi"),
	}
}

// routes builds the route table: unauthenticated key document,
// everything else wrapped in matrixauth.Middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Unauthenticated: a server's own key document must be fetchable
	// without first trusting a key to verify the request.
	mux.HandleFunc("GET /_matrix/key/v2/server", s.handleServerKeys)

	authed := matrixauth.Middleware(s.keys, s.fetchKeys)

	mux.Handle("PUT /_matrix/federation/v1/send/{txnID}", authed(http.HandlerFunc(s.handleSendTransaction)))
	mux.Handle("GET /_matrix/federation/v1/state/{roomID}", authed(http.HandlerFunc(s.handleState)))
	mux.Handle("GET /_matrix/federation/v1/state_ids/{roomID}", authed(http.HandlerFunc(s.handleStateIDs)))
	mux.Handle("GET /_matrix/federation/v1/event/{eventID}", authed(http.HandlerFunc(s.handleEvent)))
	mux.Handle("POST /_matrix/federation/v1/get_missing_events/{roomID}", authed(http.HandlerFunc(s.handleMissingEvents)))

	// Room-join protocol: not yet implemented (see DESIGN.md, API-004).
	mux.Handle("GET /_matrix/federation/v1/make_join/{roomID}/{userID}", authed(http.HandlerFunc(s.handleNotImplemented)))
	mux.Handle("PUT /_matrix/federation/v2/send_join/{roomID}/{eventID}", authed(http.HandlerFunc(s.handleNotImplemented)))
	mux.Handle("PUT /_matrix/federation/v2/send_leave/{roomID}/{eventID}", authed(http.HandlerFunc(s.handleNotImplemented)))
	mux.Handle("PUT /_matrix/federation/v2/invite/{roomID}/{eventID}", authed(http.HandlerFunc(s.handleNotImplemented)))

	return mux
}

// Start builds the route table and blocks serving until Stop is
// called or the listener fails.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.routes(),
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Info("starting federation server", "addr", s.config.ListenAddr, "server_name", s.config.ServerName)

	var err error
	if s.config.CertFile != "" && s.config.KeyFile != "" {
		err = s.httpServer.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("federationapi: server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("stopping federation server")
	return s.httpServer.Shutdown(ctx)
}
