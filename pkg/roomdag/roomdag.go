// Package roomdag implements RoomDagProcessor: the inbound pipeline
// that turns a raw federation PDU into a persisted, authorized event
// and (when it's a state event) an updated resolved-state snapshot.
// The eleven steps -- shape, signature, content hash, event ID
// derivation, room resolution, auth-state selection, authorization,
// soft-fail, persistence, state update, notification -- are spec.md
// §4.9 verbatim; each lives in its own file here (shape.go, verify.go,
// version.go, authstate.go, stateupdate.go) with ProcessPDU strung
// through them in order.
package roomdag

import (
	"context"
	"errors"
	"sync"

	"github.com/armorclaw/matrixcore/pkg/authrules"
	"github.com/armorclaw/matrixcore/pkg/canonicaljson"
	"github.com/armorclaw/matrixcore/pkg/eventbus"
	"github.com/armorclaw/matrixcore/pkg/eventcrypto"
	"github.com/armorclaw/matrixcore/pkg/eventstore"
	"github.com/armorclaw/matrixcore/pkg/ferrors"
	"github.com/armorclaw/matrixcore/pkg/pdu"
	"golang.org/x/sync/singleflight"
)

// Processor wires the store, key verifier, network fetcher and event
// bus together into ProcessPDU. Safe for concurrent use: per-room
// serialization is handled internally via locks.
type Processor struct {
	Store   eventstore.Store
	Keys    eventcrypto.VerifierKey
	Fetcher EventFetcher
	Bus     *eventbus.EventBus

	locks sync.Map // roomID -> *sync.Mutex
	sf    singleflight.Group
}

// New builds a Processor. bus may be nil when no subscribers need
// live notifications (e.g. offline reprocessing tools).
func New(store eventstore.Store, keys eventcrypto.VerifierKey, fetcher EventFetcher, bus *eventbus.EventBus) *Processor {
	return &Processor{Store: store, Keys: keys, Fetcher: fetcher, Bus: bus}
}

// Outcome reports what ProcessPDU did with one event.
type Outcome struct {
	EventID    string
	Outlier    bool
	SoftFailed bool
	Rejected   bool
	Err        error
}

func (p *Processor) roomLock(roomID string) *sync.Mutex {
	l, _ := p.locks.LoadOrStore(roomID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// ProcessPDU runs the full eleven-step pipeline for one PDU received
// from origin in a federation transaction. It never returns an error
// itself for an event-level failure -- those are reported through
// Outcome.Err/Rejected so a caller processing a transaction's PDU list
// can continue with the rest -- and infrastructure failures after the
// event ID is known (store unavailable, etc) come back the same way,
// in Outcome.Err with Rejected left false.
func (p *Processor) ProcessPDU(ctx context.Context, origin string, raw canonicaljson.Value) Outcome {
	event, err := pdu.FromValue(raw)
	if err != nil {
		return Outcome{Rejected: true, Err: ferrors.NewBuilder("DAG-001").WithMessagef("malformed event: %v", err).Build()}
	}

	if err := checkShape(event); err != nil {
		return Outcome{Rejected: true, Err: err}
	}

	roomID := event.RoomID()

	// Everything through auth-state selection may need the network
	// (fetching missing auth events, resolving a remote server's keys)
	// and runs without holding the per-room lock, per spec.md §4.9's
	// suspension-point rule: the lock guards only the local
	// read-check-write section below, never I/O.
	rv, lazyCreateID, err := p.resolveRoomVersion(ctx, event)
	if err != nil {
		p.notifyRejected(roomID, "", event.Sender(), err.Error())
		return Outcome{Rejected: true, Err: err}
	}

	if err := p.verifyEvent(event, rv); err != nil {
		p.notifyRejected(roomID, "", event.Sender(), err.Error())
		return Outcome{Rejected: true, Err: err}
	}

	eventID, err := deriveEventID(event, rv)
	if err != nil {
		p.notifyRejected(roomID, "", event.Sender(), err.Error())
		return Outcome{Rejected: true, Err: err}
	}

	if existing, err := p.Store.Get(ctx, eventID); err == nil {
		return Outcome{EventID: eventID, Outlier: existing.Outlier, SoftFailed: existing.SoftFailed}
	} else if !errors.Is(err, eventstore.ErrEventNotFound) {
		return Outcome{EventID: eventID, Err: err}
	}

	prevEventsGap, err := p.fillPrevEventsGap(ctx, origin, event, rv)
	if err != nil {
		return Outcome{EventID: eventID, Err: err}
	}

	authState, fetchedAuthGap, err := p.selectAuthState(ctx, origin, event, rv)
	if err != nil {
		p.notifyRejected(roomID, eventID, event.Sender(), err.Error())
		return Outcome{EventID: eventID, Rejected: true, Err: err}
	}
	fetchedGap := prevEventsGap || fetchedAuthGap

	isFederationInvite := event.Type() == "m.room.member" && membershipOf(event) == "invite" && origin != ""
	if !isFederationInvite {
		if err := authrules.Authorized(event, authState, rv); err != nil {
			p.notifyRejected(roomID, eventID, event.Sender(), err.Error())
			return Outcome{EventID: eventID, Rejected: true, Err: err}
		}
	}

	// From here on, only local EventStore reads/writes and the
	// resolved-state update remain -- this is the section the per-room
	// lock serializes.
	lock := p.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	if lazyCreateID != "" {
		if err := p.Store.CreateRoom(ctx, roomID, rv.Version, lazyCreateID); err != nil {
			return Outcome{EventID: eventID, Err: err}
		}
	}

	if existing, err := p.Store.Get(ctx, eventID); err == nil {
		return Outcome{EventID: eventID, Outlier: existing.Outlier, SoftFailed: existing.SoftFailed}
	} else if !errors.Is(err, eventstore.ErrEventNotFound) {
		return Outcome{EventID: eventID, Err: err}
	}

	softFailed := false
	if !isFederationInvite {
		currentState, err := p.currentAuthState(ctx, roomID)
		if err != nil {
			return Outcome{EventID: eventID, Err: err}
		}
		if err := authrules.Authorized(event, currentState, rv); err != nil {
			softFailed = true
		}
	}

	outlier := fetchedGap
	if err := p.Store.Put(ctx, roomID, eventID, event, outlier, softFailed); err != nil {
		return Outcome{EventID: eventID, Err: err}
	}

	if event.IsState() && !softFailed {
		if err := p.updateState(ctx, event, eventID, rv); err != nil {
			return Outcome{EventID: eventID, SoftFailed: softFailed, Outlier: outlier, Err: err}
		}
	}

	p.notify(event, eventID, outlier, softFailed)

	return Outcome{EventID: eventID, Outlier: outlier, SoftFailed: softFailed}
}

// notify runs step 11 for an accepted (possibly soft-failed) event.
// Soft-failed events are reported through EventBus.PublishPDU with
// soft_failed=true instead of as a RoomPDUEvent -- they were persisted but did not join visible state,
// so subscribers watching room activity shouldn't treat them as live.
func (p *Processor) notify(event *pdu.Event, eventID string, outlier, softFailed bool) {
	if p.Bus == nil {
		return
	}
	if softFailed {
		p.Bus.PublishPDU(event.RoomID(), eventID, event.Sender(), event.Type(), true, "")
		return
	}
	var stateKey *string
	if sk, ok := event.StateKey(); ok {
		stateKey = &sk
	}
	_ = p.Bus.PublishBridgeEvent(eventbus.NewRoomPDUEvent(event.RoomID(), eventID, event.Sender(), event.Type(), stateKey, outlier))
}

func (p *Processor) notifyRejected(roomID, eventID, sender, reason string) {
	if p.Bus == nil {
		return
	}
	_ = p.Bus.PublishBridgeEvent(eventbus.NewRoomRejectedEvent(roomID, eventID, reason))
}
