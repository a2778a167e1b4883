package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client wraps one upgraded connection and its outbound buffer.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// hub tracks registered clients behind a single event loop goroutine,
// per the teacher's webrtc.Hub: register/unregister/broadcast are
// channel sends, never a directly-locked map mutation from caller
// goroutines, so Server.Broadcast and the read/write pumps never
// contend on a mutex.
type hub struct {
	clientsMu sync.RWMutex
	clients   map[*client]bool

	registerCh   chan *client
	unregisterCh chan *client
	broadcastCh  chan []byte
	done         chan struct{}
	closeOnce    sync.Once
}

func newHub() *hub {
	return &hub{
		clients:      make(map[*client]bool),
		registerCh:   make(chan *client),
		unregisterCh: make(chan *client),
		broadcastCh:  make(chan []byte, 64),
		done:         make(chan struct{}),
	}
}

func (h *hub) run() {
	go func() {
		for {
			select {
			case <-h.done:
				return
			case c := <-h.registerCh:
				h.clientsMu.Lock()
				h.clients[c] = true
				h.clientsMu.Unlock()
			case c := <-h.unregisterCh:
				h.clientsMu.Lock()
				if _, ok := h.clients[c]; ok {
					delete(h.clients, c)
					close(c.send)
				}
				h.clientsMu.Unlock()
			case message := <-h.broadcastCh:
				h.clientsMu.RLock()
				for c := range h.clients {
					select {
					case c.send <- message:
					default:
						// Slow consumer: drop rather than block the hub loop.
					}
				}
				h.clientsMu.RUnlock()
			}
		}
	}()
}

func (h *hub) register(c *client) {
	select {
	case h.registerCh <- c:
	case <-h.done:
	}
}

func (h *hub) unregister(c *client) {
	select {
	case h.unregisterCh <- c:
	case <-h.done:
	}
}

func (h *hub) broadcast(message []byte) {
	select {
	case h.broadcastCh <- message:
	case <-h.done:
	default:
		// Broadcast channel full; drop rather than block the publisher.
	}
}

// sendTo delivers message to the single client matching connID,
// reporting whether one was found. Looked up by linear scan since the
// hub indexes clients by pointer, not ID -- fine at the connection
// counts a single eventbus instance handles.
func (h *hub) sendTo(connID string, message []byte) bool {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		if c.id == connID {
			select {
			case c.send <- message:
				return true
			default:
				return false
			}
		}
	}
	return false
}

func (h *hub) count() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *hub) close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.clientsMu.Lock()
		for c := range h.clients {
			close(c.send)
			delete(h.clients, c)
		}
		h.clientsMu.Unlock()
	})
}
