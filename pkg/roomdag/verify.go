package roomdag

import (
	"github.com/armorclaw/matrixcore/pkg/eventcrypto"
	"github.com/armorclaw/matrixcore/pkg/ferrors"
	"github.com/armorclaw/matrixcore/pkg/pdu"
	"github.com/armorclaw/matrixcore/pkg/roomversion"
)

// verifyEvent runs steps 2 and 3: eventcrypto.VerifyEvent checks the
// content hash before the signature, so a single call covers both.
// Only the sending server's signature is required; the double-signed
// invite quirk of early room versions is not reproduced here.
func (p *Processor) verifyEvent(event *pdu.Event, rv roomversion.Descriptor) error {
	required := []string{senderServer(event.Sender())}
	if err := eventcrypto.VerifyEvent(event.Value(), rv, required, p.Keys); err != nil {
		return ferrors.NewBuilder("CRYPTO-002").
			WithMessagef("verification failed: %v", err).
			WithContext("sender", event.Sender()).
			Build()
	}
	return nil
}

// deriveEventID runs step 4.
func deriveEventID(event *pdu.Event, rv roomversion.Descriptor) (string, error) {
	if rv.EventIDCarried {
		id := event.CarriedEventID()
		if id == "" {
			return "", ferrors.NewBuilder("DAG-001").WithMessage("room version requires a carried event_id").Build()
		}
		return id, nil
	}
	ref, err := eventcrypto.ReferenceHash(event.Value(), rv)
	if err != nil {
		return "", ferrors.NewBuilder("DAG-001").WithMessagef("reference hash: %v", err).Build()
	}
	return ref.EventID, nil
}
