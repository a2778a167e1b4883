package roomdag

import (
	"context"
	"errors"

	"github.com/armorclaw/matrixcore/pkg/eventstore"
	"github.com/armorclaw/matrixcore/pkg/ferrors"
	"github.com/armorclaw/matrixcore/pkg/pdu"
	"github.com/armorclaw/matrixcore/pkg/roomversion"
)

// resolveRoomVersion implements step 5: look up the room's declared
// version, or -- the one tolerated unknown-room case -- lazily create
// it from an m.room.member invite's stripped state. createEventID is
// non-empty only when this call just lazily created the room.
func (p *Processor) resolveRoomVersion(ctx context.Context, event *pdu.Event) (roomversion.Descriptor, string, error) {
	roomID := event.RoomID()

	version, err := p.Store.RoomVersion(ctx, roomID)
	if err == nil {
		rv, verr := roomversion.Get(version)
		if verr != nil {
			return roomversion.Descriptor{}, "", ferrors.NewBuilder("DAG-004").
				WithMessagef("room %s declares unsupported version %s", roomID, version).
				WithContext("room_id", roomID).
				Build()
		}
		return rv, "", nil
	}
	if !errors.Is(err, eventstore.ErrRoomNotFound) {
		return roomversion.Descriptor{}, "", err
	}

	if event.Type() != "m.room.member" || membershipOf(event) != "invite" {
		return roomversion.Descriptor{}, "", ferrors.NewBuilder("DAG-001").
			WithMessagef("unknown room %s: only an invite to a local user may lazily create it", roomID).
			WithContext("room_id", roomID).
			Build()
	}

	version, createEventID := inviteStrippedCreate(event)
	rv, verr := roomversion.Get(version)
	if verr != nil {
		return roomversion.Descriptor{}, "", ferrors.NewBuilder("DAG-004").
			WithMessagef("invite's stripped state declares unsupported room_version %s", version).
			WithContext("room_id", roomID).
			Build()
	}
	if createEventID == "" {
		createEventID = "$lazily-created:" + roomID
	}
	return rv, createEventID, nil
}

// inviteStrippedCreate reads the room version and create-event ID (if
// carried) from the m.room.create entry of an invite's
// unsigned.invite_room_state, defaulting to version "1" when absent.
func inviteStrippedCreate(event *pdu.Event) (version, createEventID string) {
	version = "1"

	stripped, ok := event.Unsigned().Get("invite_room_state")
	if !ok {
		return version, ""
	}
	items, ok := stripped.AsArray()
	if !ok {
		return version, ""
	}
	for _, item := range items {
		typeField, ok := item.Get("type")
		if !ok {
			continue
		}
		t, _ := typeField.AsString()
		if t != "m.room.create" {
			continue
		}
		if content, ok := item.Get("content"); ok {
			if v, ok := content.Get("room_version"); ok {
				if s, ok := v.AsString(); ok {
					version = s
				}
			}
		}
		if idField, ok := item.Get("event_id"); ok {
			if s, ok := idField.AsString(); ok {
				createEventID = s
			}
		}
		break
	}
	return version, createEventID
}
