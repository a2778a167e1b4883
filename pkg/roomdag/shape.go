package roomdag

import (
	"strings"

	"github.com/armorclaw/matrixcore/pkg/ferrors"
	"github.com/armorclaw/matrixcore/pkg/pdu"
)

// checkShape runs step 1: required fields present, correct types,
// room_id/sender well-formed, type non-empty.
func checkShape(event *pdu.Event) error {
	if !strings.HasPrefix(event.RoomID(), "!") {
		return ferrors.NewBuilder("DAG-001").
			WithMessage("room_id must start with '!'").
			WithContext("room_id", event.RoomID()).
			Build()
	}
	sender := event.Sender()
	if !strings.HasPrefix(sender, "@") || !strings.Contains(sender, ":") {
		return ferrors.NewBuilder("DAG-001").
			WithMessage("sender must start with '@' and contain ':'").
			WithContext("sender", sender).
			Build()
	}
	if event.Type() == "" {
		return ferrors.NewBuilder("DAG-001").WithMessage("type must be non-empty").Build()
	}
	return nil
}

// senderServer extracts the domain following ':' in a Matrix ID.
func senderServer(userID string) string {
	idx := strings.IndexByte(userID, ':')
	if idx < 0 {
		return ""
	}
	return userID[idx+1:]
}

func membershipOf(event *pdu.Event) string {
	m, ok := event.Content().Get("membership")
	if !ok {
		return ""
	}
	str, _ := m.AsString()
	return str
}
