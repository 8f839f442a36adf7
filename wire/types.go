package wire

// MessageType is the one-byte wire type tag of an Envelope's payload (§6.2).
type MessageType uint8

const (
	TypeDiscovery      MessageType = 0x01
	TypePing           MessageType = 0x02
	TypePong           MessageType = 0x03
	TypeText           MessageType = 0x10
	TypePublicBroadcast MessageType = 0x11
	TypeSOS            MessageType = 0x12
	TypeFileChunk      MessageType = 0x20
	TypeFileOffer      MessageType = 0x21
	TypeFileAccept     MessageType = 0x22
	TypeFileDecline    MessageType = 0x23
	TypeVoiceNote      MessageType = 0x30
	TypeAudioFrame     MessageType = 0x31
	TypeCallStart      MessageType = 0x32
	TypeCallEnd        MessageType = 0x33
	TypePeerExchange   MessageType = 0x40
	TypeKeyExchange    MessageType = 0x50
	TypeProfileUpdate  MessageType = 0x60

	// TypeUnknown is never sent; it is the decoded representation of any
	// wire type byte this version does not recognize (§9: forward-compat,
	// unknown types decode to an Unknown case rather than an error). The node
	// does not deliver such envelopes locally; the router's forwarding
	// decision does not look at the type, so they are still relayed.
	TypeUnknown MessageType = 0xFF
)

// DefaultTTL returns the originating TTL for a freshly created envelope of
// the given type, per §4.G: 10 for ordinary text/control, 50 for
// PublicBroadcast and SOS.
func DefaultTTL(t MessageType) uint8 {
	switch t {
	case TypePublicBroadcast, TypeSOS:
		return 50
	default:
		return 10
	}
}

// IsControl reports whether t is a control type (Ping, Pong, KeyExchange).
// Control types share the top rank in Priority, so the outbound queue never
// displaces them for another envelope; see transport.Conn.Enqueue for what
// happens when the queue is already full of top-rank entries.
func IsControl(t MessageType) bool {
	switch t {
	case TypePing, TypePong, TypeKeyExchange:
		return true
	default:
		return false
	}
}

// Priority returns the relative send priority used to decide which envelope
// to evict first when an outbound queue is congested. Lower values are
// dropped first (§4.G: AudioFrame > VoiceNote > FileChunk > Text >
// PublicBroadcast > SOS > control); every type not listed below, control or
// not, shares the top rank 6.
func Priority(t MessageType) int {
	switch t {
	case TypeAudioFrame:
		return 0
	case TypeVoiceNote:
		return 1
	case TypeFileChunk:
		return 2
	case TypeText:
		return 3
	case TypePublicBroadcast:
		return 4
	case TypeSOS:
		return 5
	default:
		return 6 // control types and every other type (Discovery, file offer/accept/decline, call start/end, PeerExchange, ProfileUpdate)
	}
}

// EncryptedPayload reports whether envelopes of this type carry an
// AEAD-wrapped payload once the peer is established (§6.2: "All payloads
// after type 0x10 except control (0x02/0x03/0x50) are carried AEAD-wrapped").
func EncryptedPayload(t MessageType) bool {
	switch t {
	case TypeDiscovery, TypePing, TypePong, TypeKeyExchange:
		return false
	default:
		return true
	}
}
