// Package sqlstore is a modernc.org/sqlite-backed eventstore.Store.
// Grounded on internal/queue/queue.go's WAL-mode connection setup and
// prepared-statement style, adapted from a retry-queue schema to an
// append-only event/room/state schema, and on the teacher's
// pkg/audit.AuditLog append-only, timestamped write path for the
// events table's insert-only discipline.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/eventstore"
	"github.com/armorclaw/matrixcore/pkg/pdu"
)

// Store is a durable eventstore.Store backed by SQLite in WAL mode.
type Store struct {
	db *sql.DB
}

// Config configures a Store.
type Config struct {
	// DSN is a modernc.org/sqlite data source, e.g.
	// "file:/var/lib/matrixcore/events.db" or "file::memory:?cache=shared".
	DSN string
}

// Open opens (creating if necessary) the event database and applies
// the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
	PRAGMA journal_mode=WAL;
	PRAGMA busy_timeout=5000;
	PRAGMA foreign_keys=ON;

	CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		room_version TEXT NOT NULL,
		create_event_id TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		sender TEXT NOT NULL,
		state_key TEXT,
		prev_events TEXT NOT NULL,
		auth_events TEXT NOT NULL,
		depth INTEGER NOT NULL,
		origin_server_ts INTEGER NOT NULL,
		content BLOB NOT NULL,
		outlier INTEGER NOT NULL DEFAULT 0,
		soft_failed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_events_room ON events(room_id);

	CREATE TABLE IF NOT EXISTS event_children (
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		PRIMARY KEY (parent_id, child_id)
	);
	CREATE INDEX IF NOT EXISTS idx_children_parent ON event_children(parent_id);

	CREATE TABLE IF NOT EXISTS resolved_state (
		room_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		state_key TEXT NOT NULL,
		event_id TEXT NOT NULL,
		PRIMARY KEY (room_id, event_type, state_key)
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlstore: create schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, roomID, eventID string, event *pdu.Event, outlier, softFailed bool) error {
	content, err := canonicaljson.Canonicalize(event.Value())
	if err != nil {
		return fmt.Errorf("sqlstore: canonicalize event %s: %w", eventID, err)
	}

	var stateKey sql.NullString
	if sk, ok := event.StateKey(); ok {
		stateKey = sql.NullString{String: sk, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO events
		(event_id, room_id, event_type, sender, state_key, prev_events, auth_events, depth, origin_server_ts, content, outlier, soft_failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eventID, roomID, event.Type(), event.Sender(), stateKey,
		joinIDs(event.PrevEvents()), joinIDs(event.AuthEvents()), event.Depth(), event.OriginServerTS(), content,
		boolToInt(outlier), boolToInt(softFailed))
	if err != nil {
		return fmt.Errorf("sqlstore: insert event %s: %w", eventID, err)
	}

	for _, parent := range event.PrevEvents() {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO event_children (parent_id, child_id) VALUES (?, ?)`, parent, eventID); err != nil {
			return fmt.Errorf("sqlstore: record child edge: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, eventID string) (eventstore.StoredEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT room_id, content, outlier, soft_failed FROM events WHERE event_id = ?`, eventID)

	var roomID string
	var content []byte
	var outlier, softFailed int
	if err := row.Scan(&roomID, &content, &outlier, &softFailed); err != nil {
		if err == sql.ErrNoRows {
			return eventstore.StoredEvent{}, eventstore.ErrEventNotFound
		}
		return eventstore.StoredEvent{}, fmt.Errorf("sqlstore: get %s: %w", eventID, err)
	}

	event, err := reconstructEvent(content)
	if err != nil {
		return eventstore.StoredEvent{}, err
	}
	return eventstore.StoredEvent{EventID: eventID, Event: event, Outlier: outlier != 0, SoftFailed: softFailed != 0}, nil
}

func (s *Store) GetMany(ctx context.Context, eventIDs []string) (map[string]eventstore.StoredEvent, error) {
	out := make(map[string]eventstore.StoredEvent, len(eventIDs))
	for _, id := range eventIDs {
		ev, err := s.Get(ctx, id)
		if err == eventstore.ErrEventNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = ev
	}
	return out, nil
}

func (s *Store) ResolvedState(ctx context.Context, roomID string) (map[pdu.StateTuple]string, error) {
	if _, err := s.RoomVersion(ctx, roomID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT event_type, state_key, event_id FROM resolved_state WHERE room_id = ?`, roomID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query resolved state: %w", err)
	}
	defer rows.Close()

	state := make(map[pdu.StateTuple]string)
	for rows.Next() {
		var eventType, stateKey, eventID string
		if err := rows.Scan(&eventType, &stateKey, &eventID); err != nil {
			return nil, fmt.Errorf("sqlstore: scan resolved state row: %w", err)
		}
		state[pdu.StateTuple{Type: eventType, StateKey: stateKey}] = eventID
	}
	return state, rows.Err()
}

// StateBefore reconstructs state immediately before eventID by
// replaying state events up to (but excluding) eventID in depth
// order. It is a point-in-time reconstruction over stored events, not
// a cache of the resolved-state table (which only ever tracks the
// room's current state).
func (s *Store) StateBefore(ctx context.Context, roomID, eventID string) (map[pdu.StateTuple]string, error) {
	target, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, content FROM events
		WHERE room_id = ? AND state_key IS NOT NULL AND depth < ?
		ORDER BY depth ASC`, roomID, target.Event.Depth())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query state before %s: %w", eventID, err)
	}
	defer rows.Close()

	state := make(map[pdu.StateTuple]string)
	for rows.Next() {
		var id string
		var content []byte
		if err := rows.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("sqlstore: scan state-before row: %w", err)
		}
		event, err := reconstructEvent(content)
		if err != nil {
			return nil, err
		}
		state[event.Tuple()] = id
	}
	return state, rows.Err()
}

func (s *Store) SetResolvedState(ctx context.Context, roomID string, state map[pdu.StateTuple]string) error {
	if _, err := s.RoomVersion(ctx, roomID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM resolved_state WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("sqlstore: clear resolved state: %w", err)
	}
	for tuple, eventID := range state {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO resolved_state (room_id, event_type, state_key, event_id) VALUES (?, ?, ?, ?)`,
			roomID, tuple.Type, tuple.StateKey, eventID); err != nil {
			return fmt.Errorf("sqlstore: insert resolved state: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) RoomVersion(ctx context.Context, roomID string) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, `SELECT room_version FROM rooms WHERE room_id = ?`, roomID).Scan(&version)
	if err == sql.ErrNoRows {
		return "", eventstore.ErrRoomNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlstore: room version for %s: %w", roomID, err)
	}
	return version, nil
}

func (s *Store) CreateRoom(ctx context.Context, roomID, roomVersion, createEventID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO rooms (room_id, room_version, create_event_id) VALUES (?, ?, ?)`,
		roomID, roomVersion, createEventID)
	if err != nil {
		return fmt.Errorf("sqlstore: create room %s: %w", roomID, err)
	}
	return nil
}

func (s *Store) AuthChain(ctx context.Context, eventIDs []string) ([]string, error) {
	seen := make(map[string]bool)
	var chain []string

	queue := append([]string(nil), eventIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		chain = append(chain, id)

		var authEvents string
		err := s.db.QueryRowContext(ctx, `SELECT auth_events FROM events WHERE event_id = ?`, id).Scan(&authEvents)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sqlstore: auth chain lookup for %s: %w", id, err)
		}
		queue = append(queue, splitIDs(authEvents)...)
	}
	return chain, nil
}

func (s *Store) LatestForwardExtremities(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.event_id FROM events e
		LEFT JOIN event_children c ON c.parent_id = e.event_id
		WHERE e.room_id = ? AND c.child_id IS NULL`, roomID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: forward extremities for %s: %w", roomID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlstore: scan extremity row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) MissingEvents(ctx context.Context, roomID string, eventIDs []string) ([]string, error) {
	var missing []string
	for _, id := range eventIDs {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE event_id = ?`, id).Scan(&exists)
		if err == sql.ErrNoRows {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sqlstore: missing-events lookup for %s: %w", id, err)
		}
	}
	return missing, nil
}

func reconstructEvent(content []byte) (*pdu.Event, error) {
	v, err := canonicaljson.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: decode stored event: %w", err)
	}
	event, err := pdu.FromValue(v)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: reconstruct stored event: %w", err)
	}
	return event, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// joinIDs/splitIDs store a string slice of event IDs as a single
// newline-delimited column rather than a join table; event IDs are
// opaque Matrix identifiers and never contain newlines.
func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += "\n"
		}
		out += id
	}
	return out
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	var ids []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			ids = append(ids, s[start:i])
			start = i + 1
		}
	}
	ids = append(ids, s[start:])
	return ids
}

var _ eventstore.Store = (*Store)(nil)
