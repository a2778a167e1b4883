package txningress

import (
	"time"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/eventbus"
	"github.com/armorclaw/matrixcore/pkg/ttl"
)

const typingIdleTimeout = 30 * time.Second
const typingCheckInterval = 5 * time.Second

// typingState is what ttl.Manager tracks per (room_id, user_id).
type typingState struct {
	RoomID string
	UserID string
}

// TypingTracker expires typing indicators after typingIdleTimeout using
// pkg/ttl.Manager, the teacher's idle-registry sweeper repurposed here
// from container heartbeats to per-(room, user) typing expiry.
type TypingTracker struct {
	manager *ttl.Manager[typingState]
	bus     *eventbus.EventBus
}

// NewTypingTracker builds and starts a tracker's background sweep.
func NewTypingTracker(bus *eventbus.EventBus) *TypingTracker {
	t := &TypingTracker{bus: bus}
	t.manager = ttl.NewManager(typingIdleTimeout, typingCheckInterval, t.onExpire)
	t.manager.Start()
	return t
}

// Stop halts the background sweep.
func (t *TypingTracker) Stop() {
	t.manager.Stop()
}

func (t *TypingTracker) onExpire(key string, state typingState) error {
	if t.bus != nil {
		_ = t.bus.PublishBridgeEvent(eventbus.NewRoomEDUEvent("m.typing", state.RoomID, map[string]interface{}{
			"user_id": state.UserID,
			"typing":  false,
		}))
	}
	return nil
}

// Handle applies one m.typing EDU: register while typing is true,
// unregister immediately when the sender reports they've stopped.
func (t *TypingTracker) Handle(content canonicaljson.Value) {
	roomID, _ := stringField(content, "room_id")
	userID, _ := stringField(content, "user_id")
	if roomID == "" || userID == "" {
		return
	}
	typing := false
	if f, ok := content.Get("typing"); ok {
		typing, _ = f.AsBool()
	}

	key := roomID + "/" + userID
	if !typing {
		t.manager.Unregister(key)
		if t.bus != nil {
			_ = t.bus.PublishBridgeEvent(eventbus.NewRoomEDUEvent("m.typing", roomID, map[string]interface{}{
				"user_id": userID,
				"typing":  false,
			}))
		}
		return
	}

	t.manager.Register(key, typingState{RoomID: roomID, UserID: userID})
	if t.bus != nil {
		_ = t.bus.PublishBridgeEvent(eventbus.NewRoomEDUEvent("m.typing", roomID, map[string]interface{}{
			"user_id": userID,
			"typing":  true,
		}))
	}
}

// Typing returns the users currently typing in roomID.
func (t *TypingTracker) Typing(roomID string) []string {
	var users []string
	for _, key := range t.manager.Keys() {
		entry, err := t.manager.Get(key)
		if err != nil {
			continue
		}
		if entry.Value.RoomID == roomID {
			users = append(users, entry.Value.UserID)
		}
	}
	return users
}
