package txningress

import (
	"sync"
	"time"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/eventbus"
)

// Receipt is a user's latest read marker in one room.
type Receipt struct {
	RoomID    string
	UserID    string
	EventID   string
	Ts        int64
	UpdatedAt time.Time
}

// ReceiptTracker keeps only the latest receipt per (room, user) --
// read receipts supersede rather than accumulate.
type ReceiptTracker struct {
	mu       sync.RWMutex
	latest   map[string]Receipt // "room_id/user_id" -> Receipt
	bus      *eventbus.EventBus
}

// NewReceiptTracker builds a tracker.
func NewReceiptTracker(bus *eventbus.EventBus) *ReceiptTracker {
	return &ReceiptTracker{latest: make(map[string]Receipt), bus: bus}
}

// Handle applies one m.receipt EDU. The wire shape nests receipts
// under room_id -> event_id -> "m.read" -> user_id -> {ts}.
func (t *ReceiptTracker) Handle(content canonicaljson.Value) {
	for _, roomID := range content.Keys() {
		roomField, ok := content.Get(roomID)
		if !ok {
			continue
		}
		for _, eventID := range roomField.Keys() {
			eventField, ok := roomField.Get(eventID)
			if !ok {
				continue
			}
			readField, ok := eventField.Get("m.read")
			if !ok {
				continue
			}
			for _, userID := range readField.Keys() {
				userField, ok := readField.Get(userID)
				if !ok {
					continue
				}
				var ts int64
				if tsField, ok := userField.Get("ts"); ok {
					ts, _ = tsField.AsInt()
				}
				t.apply(roomID, userID, eventID, ts)
			}
		}
	}
}

func (t *ReceiptTracker) apply(roomID, userID, eventID string, ts int64) {
	key := roomID + "/" + userID
	receipt := Receipt{RoomID: roomID, UserID: userID, EventID: eventID, Ts: ts, UpdatedAt: time.Now()}

	t.mu.Lock()
	t.latest[key] = receipt
	t.mu.Unlock()

	if t.bus != nil {
		_ = t.bus.PublishBridgeEvent(eventbus.NewRoomEDUEvent("m.receipt", roomID, map[string]interface{}{
			"user_id":  userID,
			"event_id": eventID,
		}))
	}
}

// Get returns a user's latest receipt in a room.
func (t *ReceiptTracker) Get(roomID, userID string) (Receipt, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.latest[roomID+"/"+userID]
	return r, ok
}
