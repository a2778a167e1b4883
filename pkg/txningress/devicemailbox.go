package txningress

import (
	"sync"

	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
)

// defaultMailboxDepth bounds how many pending to-device messages are
// held per recipient device before the oldest is dropped to make room
// for the newest -- grounded on the teacher's QueueConfig.MaxQueueDepth
// bound, retargeted from a persistent SQLite queue to an in-memory
// ring (persistent to-device delivery is a storage-engine concern,
// out of scope here).
const defaultMailboxDepth = 100

// DeviceMessage is one entry of an m.direct_to_device EDU's messages map.
type DeviceMessage struct {
	Sender    string
	EventType string
	Content   canonicaljson.Value
}

// DeviceMailboxes holds a bounded, drop-oldest queue of pending
// to-device messages per (user_id, device_id).
type DeviceMailboxes struct {
	mu    sync.Mutex
	boxes map[string][]DeviceMessage
	depth int
}

// NewDeviceMailboxes builds a mailbox set. depth <= 0 uses the default.
func NewDeviceMailboxes(depth int) *DeviceMailboxes {
	if depth <= 0 {
		depth = defaultMailboxDepth
	}
	return &DeviceMailboxes{boxes: make(map[string][]DeviceMessage), depth: depth}
}

// Handle applies one m.direct_to_device EDU: {sender, type, message_id,
// messages: {user_id: {device_id: content}}}, with device_id "*"
// fanning a message out to every one of the user's known devices --
// since this server doesn't track device lists here, "*" is delivered
// to a single wildcard mailbox per user instead.
func (m *DeviceMailboxes) Handle(origin string, content canonicaljson.Value) {
	sender, _ := stringField(content, "sender")
	eventType, _ := stringField(content, "type")

	messagesField, ok := content.Get("messages")
	if !ok {
		return
	}
	for _, userID := range messagesField.Keys() {
		devicesField, ok := messagesField.Get(userID)
		if !ok {
			continue
		}
		for _, deviceID := range devicesField.Keys() {
			msgContent, ok := devicesField.Get(deviceID)
			if !ok {
				continue
			}
			m.enqueue(userID, deviceID, DeviceMessage{Sender: sender, EventType: eventType, Content: msgContent})
		}
	}
}

func (m *DeviceMailboxes) enqueue(userID, deviceID string, msg DeviceMessage) {
	key := userID + "/" + deviceID

	m.mu.Lock()
	defer m.mu.Unlock()

	box := m.boxes[key]
	if len(box) >= m.depth {
		box = box[1:] // drop oldest
	}
	m.boxes[key] = append(box, msg)
}

// Drain removes and returns every pending message for a device.
func (m *DeviceMailboxes) Drain(userID, deviceID string) []DeviceMessage {
	key := userID + "/" + deviceID

	m.mu.Lock()
	defer m.mu.Unlock()

	box := m.boxes[key]
	delete(m.boxes, key)
	return box
}

// Pending reports how many messages are queued for a device.
func (m *DeviceMailboxes) Pending(userID, deviceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.boxes[userID+"/"+deviceID])
}
