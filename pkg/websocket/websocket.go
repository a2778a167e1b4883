// Package websocket serves the event bus's live-tail transport: a
// gorilla/websocket hub that upgrades HTTP connections on Config.Path,
// registers/unregisters clients through a background event loop (no
// shared map guarded by ad-hoc locking in the hot path), and pumps
// messages in both directions. Grounded on the teacher's own
// bridge/pkg/webrtc/signaling.go Hub/Client pair -- register/
// unregister/broadcast channels, a buffered per-client send channel,
// and read/write pumps with ping/pong keepalive -- generalized from
// WebRTC SDP/ICE signaling to arbitrary []byte frames so
// pkg/eventbus can drive it with its own JSON message shapes.
package websocket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB
)

// MessageHandler handles incoming WebSocket messages
type MessageHandler func(connID string, message []byte) error

// ConnectHandler handles new WebSocket connections
type ConnectHandler func(connID string, conn interface{}) error

// DisconnectHandler handles WebSocket disconnections
type DisconnectHandler func(connID string)

// Config holds WebSocket server configuration
type Config struct {
	Addr              string
	Path              string
	AllowedOrigins    []string
	MaxConnections    int
	InactivityTimeout time.Duration
	MessageHandler    MessageHandler
	ConnectHandler    ConnectHandler
	DisconnectHandler DisconnectHandler
}

// Server is a gorilla/websocket-backed server, upgrading connections
// on Config.Path and fanning Broadcast calls out to every client
// currently registered in its hub.
type Server struct {
	config   Config
	upgrader websocket.Upgrader
	hub      *hub

	mu     sync.Mutex
	httpSrv *http.Server
	ln      net.Listener
}

// NewServer creates a new WebSocket server. It does not bind a socket
// until Start is called.
func NewServer(cfg Config) *Server {
	return &Server{
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
		hub: newHub(),
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		for _, a := range allowed {
			if a == origin || a == "*" {
				return true
			}
		}
		return false
	}
}

// Start binds the listen address and begins serving upgrades in the
// background. It returns once the listener is bound, so a caller can
// trust a nil error to mean the address is reachable; accept-loop
// failures after that point are not reported here.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln != nil {
		return fmt.Errorf("websocket: server already started")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("websocket: listen %s: %w", s.config.Addr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleUpgrade)
	s.httpSrv = &http.Server{Handler: mux}

	s.hub.run()
	go s.httpSrv.Serve(ln) //nolint:errcheck // accept-loop errors surface as closed connections

	return nil
}

// Stop gracefully shuts the server down, closing every registered
// client connection.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpSrv.Shutdown(ctx)
	s.hub.close()
	s.ln = nil
	s.httpSrv = nil
	return err
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.config.Addr }

// Path returns the WebSocket upgrade path.
func (s *Server) Path() string { return s.config.Path }

// Broadcast sends message to every currently registered client,
// dropping it for any client whose send buffer is full rather than
// blocking the caller.
func (s *Server) Broadcast(message []byte) error {
	s.hub.broadcast(message)
	return nil
}

// Send delivers message to exactly the client registered under
// connID, as returned from ConnectHandler/MessageHandler's connID
// argument, mirroring the teacher's SignalingServer.Send-by-session
// idiom.
func (s *Server) Send(connID string, message []byte) error {
	if !s.hub.sendTo(connID, message) {
		return fmt.Errorf("websocket: no connection %s", connID)
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxConnections > 0 && s.hub.count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	connID := uuid.NewString()
	client := &client{id: connID, conn: conn, send: make(chan []byte, 256)}
	s.hub.register(client)

	if s.config.ConnectHandler != nil {
		if err := s.config.ConnectHandler(connID, conn); err != nil {
			s.hub.unregister(client)
			conn.Close()
			return
		}
	}

	go s.writePump(client)
	go s.readPump(client)
}

// readPump pumps inbound frames to config.MessageHandler until the
// connection errors or closes, per spec.md's read/inactivity timeout.
func (s *Server) readPump(c *client) {
	defer func() {
		s.hub.unregister(c)
		c.conn.Close()
		if s.config.DisconnectHandler != nil {
			s.config.DisconnectHandler(c.id)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	readDeadline := pongWait
	if s.config.InactivityTimeout > 0 {
		readDeadline = s.config.InactivityTimeout
	}
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if s.config.MessageHandler != nil {
			if err := s.config.MessageHandler(c.id, message); err != nil {
				continue // a malformed frame doesn't drop the connection
			}
		}
	}
}

// writePump drains c.send to the connection, coalescing any messages
// queued since the last write, and keeps the connection alive with
// periodic pings -- mirrors the teacher's webrtc.Client.writePump.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
