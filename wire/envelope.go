package wire

import (
	"github.com/google/uuid"
)

// MsgIDSize and NodeIDSize mirror the data model in spec.md §3.
const (
	MsgIDSize  = 16
	NodeIDSize = 32
)

// Broadcast is the all-zero NodeId destination meaning "deliver to everyone".
var Broadcast [NodeIDSize]byte

// Envelope is the in-flight unit of mesh communication (spec.md §3).
type Envelope struct {
	Type        MessageType
	MsgID       [MsgIDSize]byte
	Origin      [NodeIDSize]byte
	Destination [NodeIDSize]byte
	TTL         uint8

	// Payload is the type-specific encoding of the message (plaintext for
	// control/discovery types, AEAD ciphertext for everything else once the
	// connection is established — see EncryptedPayload).
	Payload []byte
}

// NewMsgID generates a fresh, globally-unique-with-overwhelming-probability
// message id, using the same random-UUID source the rest of the project uses
// for file and call identifiers.
func NewMsgID() [MsgIDSize]byte {
	var id [MsgIDSize]byte
	copy(id[:], uuid.New()[:])
	return id
}

// New creates an envelope of the given type, origin, destination and payload
// with a fresh MsgID and the type's default TTL.
func New(t MessageType, origin, destination [NodeIDSize]byte, payload []byte) *Envelope {
	return &Envelope{
		Type:        t,
		MsgID:       NewMsgID(),
		Origin:      origin,
		Destination: destination,
		TTL:         DefaultTTL(t),
		Payload:     payload,
	}
}

// IsBroadcast reports whether the envelope is addressed to everyone.
func (e *Envelope) IsBroadcast() bool {
	return e.Destination == Broadcast
}

// AssociatedData returns the header fields (everything but Payload) as AEAD
// associated data, binding an encrypted payload to the specific envelope
// instance it was sent with — including the TTL value that envelope was
// transmitted with, since encryption here is hop-by-hop (§4.B: a SessionKey
// is per-connection) and a forwarder re-encrypts the plaintext fresh for
// each next hop rather than relaying ciphertext unchanged.
func (e *Envelope) AssociatedData() []byte {
	buf := make([]byte, 0, envelopeHeaderSize)
	buf = append(buf, byte(e.Type))
	buf = append(buf, e.MsgID[:]...)
	buf = append(buf, e.Origin[:]...)
	buf = append(buf, e.Destination[:]...)
	buf = append(buf, e.TTL)
	return buf
}
