// Package memstore is an in-memory eventstore.Store, grounded on the
// teacher's pkg/crypto/store.go MemoryStore test-double pattern
// (plain map + mutex, no persistence). It backs unit tests for
// pkg/roomdag, pkg/txningress, and pkg/federationapi without requiring
// a real database.
package memstore

import (
	"context"
	"sync"

	"github.com/armorclaw/matrixcore/pkg/eventstore"
	"github.com/armorclaw/matrixcore/pkg/pdu"
)

type roomRecord struct {
	version       string
	createEventID string
	state         map[pdu.StateTuple]string
}

// Store is an in-memory eventstore.Store.
type Store struct {
	mu     sync.RWMutex
	events map[string]eventstore.StoredEvent
	rooms  map[string]*roomRecord
	// children maps an event_id to the event_ids that name it in
	// prev_events, used to compute forward extremities without a scan.
	children map[string]map[string]bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		events:   make(map[string]eventstore.StoredEvent),
		rooms:    make(map[string]*roomRecord),
		children: make(map[string]map[string]bool),
	}
}

func (s *Store) Put(ctx context.Context, roomID, eventID string, event *pdu.Event, outlier, softFailed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[eventID]; exists {
		return nil
	}
	s.events[eventID] = eventstore.StoredEvent{EventID: eventID, Event: event, Outlier: outlier, SoftFailed: softFailed}

	for _, parent := range event.PrevEvents() {
		if s.children[parent] == nil {
			s.children[parent] = make(map[string]bool)
		}
		s.children[parent][eventID] = true
	}
	return nil
}

func (s *Store) Get(ctx context.Context, eventID string) (eventstore.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.events[eventID]
	if !ok {
		return eventstore.StoredEvent{}, eventstore.ErrEventNotFound
	}
	return ev, nil
}

func (s *Store) GetMany(ctx context.Context, eventIDs []string) (map[string]eventstore.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]eventstore.StoredEvent, len(eventIDs))
	for _, id := range eventIDs {
		if ev, ok := s.events[id]; ok {
			out[id] = ev
		}
	}
	return out, nil
}

func (s *Store) ResolvedState(ctx context.Context, roomID string) (map[pdu.StateTuple]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, eventstore.ErrRoomNotFound
	}
	return cloneState(room.state), nil
}

func (s *Store) StateBefore(ctx context.Context, roomID, eventID string) (map[pdu.StateTuple]string, error) {
	// memstore keeps only the latest resolved state per room (it backs
	// unit tests, not a real server); callers that need point-in-time
	// state reconstruction exercise pkg/stateres directly against a
	// constructed auth chain instead of relying on storage to replay it.
	return s.ResolvedState(ctx, roomID)
}

func (s *Store) SetResolvedState(ctx context.Context, roomID string, state map[pdu.StateTuple]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return eventstore.ErrRoomNotFound
	}
	room.state = cloneState(state)
	return nil
}

func (s *Store) RoomVersion(ctx context.Context, roomID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return "", eventstore.ErrRoomNotFound
	}
	return room.version, nil
}

func (s *Store) CreateRoom(ctx context.Context, roomID, roomVersion, createEventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[roomID]; ok {
		return nil
	}
	s.rooms[roomID] = &roomRecord{version: roomVersion, createEventID: createEventID, state: make(map[pdu.StateTuple]string)}
	return nil
}

func (s *Store) AuthChain(ctx context.Context, eventIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var chain []string

	var visit func(id string)
	visit = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		chain = append(chain, id)
		ev, ok := s.events[id]
		if !ok {
			return
		}
		for _, parent := range ev.Event.AuthEvents() {
			visit(parent)
		}
	}
	for _, id := range eventIDs {
		visit(id)
	}
	return chain, nil
}

func (s *Store) LatestForwardExtremities(ctx context.Context, roomID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var extremities []string
	for id, ev := range s.events {
		if ev.Event.RoomID() != roomID {
			continue
		}
		if len(s.children[id]) == 0 {
			extremities = append(extremities, id)
		}
	}
	return extremities, nil
}

func (s *Store) MissingEvents(ctx context.Context, roomID string, eventIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []string
	for _, id := range eventIDs {
		if _, ok := s.events[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func cloneState(state map[pdu.StateTuple]string) map[pdu.StateTuple]string {
	out := make(map[pdu.StateTuple]string, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

var _ eventstore.Store = (*Store)(nil)
