// Package eventstore defines the persistence interface the federation
// core uses for rooms, events, and resolved state. Grounded on
// spec.md §4.6 directly for the interface shape; pkg/eventstore/memstore
// and pkg/eventstore/sqlstore provide implementations.
package eventstore

import (
	"context"
	"errors"

	"github.com/armorclaw/matrixcore/pkg/pdu"
)

// ErrEventNotFound is returned by Get/GetMany for an unknown event_id.
var ErrEventNotFound = errors.New("eventstore: event not found")

// ErrRoomNotFound is returned when a room has no CreateRoom record.
var ErrRoomNotFound = errors.New("eventstore: room not found")

// StoredEvent pairs a parsed PDU with the bookkeeping fields the store
// tracks alongside it.
type StoredEvent struct {
	EventID    string
	Event      *pdu.Event
	Outlier    bool
	SoftFailed bool
}

// Store is the persistence boundary RoomDagProcessor, AuthRules, and
// StateResolver read and write through. Implementations must make
// Put idempotent on EventID: a duplicate Put for an event already
// recorded is a no-op, not an error (spec.md §5, "Idempotency on
// event_id guarantees duplicate put is safe under races").
type Store interface {
	// Put records event under eventID. outlier marks an event
	// persisted without its full prev/auth context; softFailed marks
	// one excluded from resolved state despite being persisted.
	Put(ctx context.Context, roomID, eventID string, event *pdu.Event, outlier, softFailed bool) error

	// Get retrieves a single stored event, or ErrEventNotFound.
	Get(ctx context.Context, eventID string) (StoredEvent, error)

	// GetMany retrieves every eventID present in the store; missing
	// IDs are simply absent from the result map (not an error).
	GetMany(ctx context.Context, eventIDs []string) (map[string]StoredEvent, error)

	// ResolvedState returns the room's current resolved state as a
	// tuple->event_id map.
	ResolvedState(ctx context.Context, roomID string) (map[pdu.StateTuple]string, error)

	// StateBefore returns the state tuple map immediately before
	// eventID was applied.
	StateBefore(ctx context.Context, roomID, eventID string) (map[pdu.StateTuple]string, error)

	// SetResolvedState replaces a room's resolved state map, called by
	// RoomDagProcessor after StateResolver produces a new result.
	SetResolvedState(ctx context.Context, roomID string, state map[pdu.StateTuple]string) error

	// RoomVersion returns the room version declared by its create event.
	RoomVersion(ctx context.Context, roomID string) (string, error)

	// CreateRoom records a room's version and its m.room.create event
	// ID, keyed by room ID. Idempotent: re-creating an already recorded
	// room is a no-op.
	CreateRoom(ctx context.Context, roomID, roomVersion, createEventID string) error

	// AuthChain returns the transitive closure of auth_events reachable
	// from eventIDs, including eventIDs themselves. Every ID reached is
	// listed whether or not that event is stored; unstored events
	// contribute no further auth_events.
	AuthChain(ctx context.Context, eventIDs []string) ([]string, error)

	// LatestForwardExtremities returns the room's current forward
	// extremities (events with no known child in the stored DAG).
	LatestForwardExtremities(ctx context.Context, roomID string) ([]string, error)

	// MissingEvents filters eventIDs down to those not present in the
	// store, letting a caller know what to fetch from the network.
	MissingEvents(ctx context.Context, roomID string, eventIDs []string) ([]string, error)
}
