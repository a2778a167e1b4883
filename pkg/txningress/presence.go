package txningress

import (
	"sync"
	"time"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/eventbus"
)

// PresenceStatus mirrors the teacher's status-enum-over-mutex-guarded-
// map style (internal/queue.QueueStatus), retargeted from queue-message
// lifecycle to Matrix presence state.
type PresenceStatus string

const (
	PresenceOnline      PresenceStatus = "online"
	PresenceOffline     PresenceStatus = "offline"
	PresenceUnavailable PresenceStatus = "unavailable"
)

// PresenceState is one user's last-known presence.
type PresenceState struct {
	UserID      string
	Status      PresenceStatus
	LastActive  int64
	StatusMsg   string
	UpdatedAt   time.Time
}

// PresenceTracker holds the latest presence state per user, bounded by
// maxUsers to cap memory on a server federating with many remotes.
type PresenceTracker struct {
	mu       sync.RWMutex
	states   map[string]PresenceState
	maxUsers int
	bus      *eventbus.EventBus
}

// NewPresenceTracker builds a tracker. maxUsers <= 0 means unbounded.
func NewPresenceTracker(maxUsers int, bus *eventbus.EventBus) *PresenceTracker {
	return &PresenceTracker{states: make(map[string]PresenceState), maxUsers: maxUsers, bus: bus}
}

// Handle applies one m.presence EDU's push array.
func (t *PresenceTracker) Handle(content canonicaljson.Value) {
	pushField, ok := content.Get("push")
	if !ok {
		return
	}
	items, ok := pushField.AsArray()
	if !ok {
		return
	}
	for _, item := range items {
		t.applyOne(item)
	}
}

func (t *PresenceTracker) applyOne(item canonicaljson.Value) {
	userID, ok := stringField(item, "user_id")
	if !ok {
		return
	}
	statusStr, _ := stringField(item, "presence")
	state := PresenceState{
		UserID:     userID,
		Status:     PresenceStatus(statusStr),
		UpdatedAt:  time.Now(),
	}
	if la, ok := item.Get("last_active_ago"); ok {
		if i, ok := la.AsInt(); ok {
			state.LastActive = i
		}
	}
	if msg, ok := stringField(item, "status_msg"); ok {
		state.StatusMsg = msg
	}

	t.mu.Lock()
	if t.maxUsers > 0 {
		if _, exists := t.states[userID]; !exists && len(t.states) >= t.maxUsers {
			t.mu.Unlock()
			return
		}
	}
	t.states[userID] = state
	t.mu.Unlock()

	if t.bus != nil {
		_ = t.bus.PublishBridgeEvent(eventbus.NewRoomEDUEvent("m.presence", "", map[string]interface{}{
			"user_id":  userID,
			"presence": statusStr,
		}))
	}
}

// Get returns a user's last-known presence.
func (t *PresenceTracker) Get(userID string) (PresenceState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.states[userID]
	return s, ok
}

// Count returns the number of tracked users.
func (t *PresenceTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.states)
}

func stringField(v canonicaljson.Value, key string) (string, bool) {
	f, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return f.AsString()
}
