/*
Payloads.go implements the type-specific payload encodings referenced by the
wire type table in spec.md §6.2, and the tagged-variant dispatch §9 asks for:
one Go type per wire case, decoded through DecodePayload, with unrecognized
type bytes producing an UnknownPayload rather than an error.
*/
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrPayloadTruncated is returned when a payload buffer ends before a
// required field has been read.
var ErrPayloadTruncated = errors.New("wire: truncated payload")

// Payload is implemented by every decoded payload case.
type Payload interface {
	Type() MessageType
	Encode() []byte
}

// --- helpers shared by string/byte-slice fields -----------------------------

func putLenPrefixed(dst []byte, data []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(data)))
	dst = append(dst, l[:]...)
	return append(dst, data...)
}

func readLenPrefixed(buf []byte, pos int) (data []byte, next int, err error) {
	if len(buf)-pos < 4 {
		return nil, 0, ErrPayloadTruncated
	}
	n := binary.BigEndian.Uint32(buf[pos : pos+4])
	pos += 4
	if uint32(len(buf)-pos) < n {
		return nil, 0, ErrPayloadTruncated
	}
	return buf[pos : pos+int(n)], pos + int(n), nil
}

// --- 0x01 Discovery ----------------------------------------------------------

// DiscoveryPayload carries the profile/port info announced over UDP (§4.D).
// The NodeId and version are carried by the enclosing announcement packet,
// not the Envelope, since Discovery.go builds its own datagram format; this
// node never sends this case, and it ignores an inbound Discovery-typed
// envelope on a connection (the type is not encrypted; see EncryptedPayload).
type DiscoveryPayload struct {
	Name         string
	ListenPort   uint16
	GatewayFlag  bool
}

func (p *DiscoveryPayload) Type() MessageType { return TypeDiscovery }

func (p *DiscoveryPayload) Encode() []byte {
	buf := putLenPrefixed(nil, []byte(p.Name))
	var port [2]byte
	binary.BigEndian.PutUint16(port[:], p.ListenPort)
	buf = append(buf, port[:]...)
	if p.GatewayFlag {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeDiscovery(buf []byte) (*DiscoveryPayload, error) {
	name, pos, err := readLenPrefixed(buf, 0)
	if err != nil {
		return nil, err
	}
	if len(buf)-pos < 3 {
		return nil, ErrPayloadTruncated
	}
	port := binary.BigEndian.Uint16(buf[pos : pos+2])
	gateway := buf[pos+2] != 0
	return &DiscoveryPayload{Name: string(name), ListenPort: port, GatewayFlag: gateway}, nil
}

// --- 0x02 / 0x03 Ping / Pong --------------------------------------------------

type PingPayload struct{ Seq uint64 }

func (p *PingPayload) Type() MessageType { return TypePing }
func (p *PingPayload) Encode() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], p.Seq)
	return b[:]
}

type PongPayload struct{ Seq uint64 }

func (p *PongPayload) Type() MessageType { return TypePong }
func (p *PongPayload) Encode() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], p.Seq)
	return b[:]
}

func decodeSeq(buf []byte) (uint64, error) {
	if len(buf) < 8 {
		return 0, ErrPayloadTruncated
	}
	return binary.BigEndian.Uint64(buf[:8]), nil
}

// --- 0x10 / 0x11 Text / PublicBroadcast ---------------------------------------

type TextPayload struct {
	Text       string
	IsBroadcast bool
}

func (p *TextPayload) Type() MessageType {
	if p.IsBroadcast {
		return TypePublicBroadcast
	}
	return TypeText
}
func (p *TextPayload) Encode() []byte { return []byte(p.Text) }

// --- 0x12 SOS -----------------------------------------------------------------

type SOSPayload struct {
	Text string
	Lat  float64
	Lon  float64
}

func (p *SOSPayload) Type() MessageType { return TypeSOS }
func (p *SOSPayload) Encode() []byte {
	buf := putLenPrefixed(nil, []byte(p.Text))
	var f [16]byte
	binary.BigEndian.PutUint64(f[0:8], floatBits(p.Lat))
	binary.BigEndian.PutUint64(f[8:16], floatBits(p.Lon))
	return append(buf, f[:]...)
}

func decodeSOS(buf []byte) (*SOSPayload, error) {
	text, pos, err := readLenPrefixed(buf, 0)
	if err != nil {
		return nil, err
	}
	if len(buf)-pos < 16 {
		return nil, ErrPayloadTruncated
	}
	lat := bitsFloat(binary.BigEndian.Uint64(buf[pos : pos+8]))
	lon := bitsFloat(binary.BigEndian.Uint64(buf[pos+8 : pos+16]))
	return &SOSPayload{Text: string(text), Lat: lat, Lon: lon}, nil
}

// --- 0x20/0x21/0x22 File transfer ---------------------------------------------

type FileChunkPayload struct {
	FileID     [16]byte
	ChunkIndex uint32
	Data       []byte
}

func (p *FileChunkPayload) Type() MessageType { return TypeFileChunk }
func (p *FileChunkPayload) Encode() []byte {
	buf := make([]byte, 0, 16+4+len(p.Data))
	buf = append(buf, p.FileID[:]...)
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], p.ChunkIndex)
	buf = append(buf, idx[:]...)
	return append(buf, p.Data...)
}

func decodeFileChunk(buf []byte) (*FileChunkPayload, error) {
	if len(buf) < 20 {
		return nil, ErrPayloadTruncated
	}
	p := &FileChunkPayload{}
	copy(p.FileID[:], buf[0:16])
	p.ChunkIndex = binary.BigEndian.Uint32(buf[16:20])
	p.Data = append([]byte(nil), buf[20:]...)
	return p, nil
}

type FileOfferPayload struct {
	FileID    [16]byte
	Filename  string
	Size      uint64
	Chunks    uint32
	ChunkSize uint32
}

func (p *FileOfferPayload) Type() MessageType { return TypeFileOffer }
func (p *FileOfferPayload) Encode() []byte {
	buf := append([]byte(nil), p.FileID[:]...)
	buf = putLenPrefixed(buf, []byte(p.Filename))
	var rest [16]byte
	binary.BigEndian.PutUint64(rest[0:8], p.Size)
	binary.BigEndian.PutUint32(rest[8:12], p.Chunks)
	binary.BigEndian.PutUint32(rest[12:16], p.ChunkSize)
	return append(buf, rest[:]...)
}

func decodeFileOffer(buf []byte) (*FileOfferPayload, error) {
	if len(buf) < 16 {
		return nil, ErrPayloadTruncated
	}
	p := &FileOfferPayload{}
	copy(p.FileID[:], buf[0:16])

	name, pos, err := readLenPrefixed(buf, 16)
	if err != nil {
		return nil, err
	}
	p.Filename = string(name)

	if len(buf)-pos < 16 {
		return nil, ErrPayloadTruncated
	}
	p.Size = binary.BigEndian.Uint64(buf[pos : pos+8])
	p.Chunks = binary.BigEndian.Uint32(buf[pos+8 : pos+12])
	p.ChunkSize = binary.BigEndian.Uint32(buf[pos+12 : pos+16])
	return p, nil
}

type FileAcceptPayload struct{ FileID [16]byte }

func (p *FileAcceptPayload) Type() MessageType { return TypeFileAccept }
func (p *FileAcceptPayload) Encode() []byte    { return append([]byte(nil), p.FileID[:]...) }

func decodeFileAccept(buf []byte) (*FileAcceptPayload, error) {
	if len(buf) < 16 {
		return nil, ErrPayloadTruncated
	}
	p := &FileAcceptPayload{}
	copy(p.FileID[:], buf[0:16])
	return p, nil
}

// FileDeclinePayload notifies a sender that its FileOffer was rejected, so
// the Outgoing transfer does not wait forever for a FileAccept that will
// never arrive (spec.md §4.H's "receiver decline" abort condition).
type FileDeclinePayload struct{ FileID [16]byte }

func (p *FileDeclinePayload) Type() MessageType { return TypeFileDecline }
func (p *FileDeclinePayload) Encode() []byte    { return append([]byte(nil), p.FileID[:]...) }

func decodeFileDecline(buf []byte) (*FileDeclinePayload, error) {
	if len(buf) < 16 {
		return nil, ErrPayloadTruncated
	}
	p := &FileDeclinePayload{}
	copy(p.FileID[:], buf[0:16])
	return p, nil
}

// --- 0x30-0x33 Audio -----------------------------------------------------------

type VoiceNotePayload struct {
	DurationMs uint32
	PCM        []byte
}

func (p *VoiceNotePayload) Type() MessageType { return TypeVoiceNote }
func (p *VoiceNotePayload) Encode() []byte {
	var d [4]byte
	binary.BigEndian.PutUint32(d[:], p.DurationMs)
	return append(d[:], p.PCM...)
}

func decodeVoiceNote(buf []byte) (*VoiceNotePayload, error) {
	if len(buf) < 4 {
		return nil, ErrPayloadTruncated
	}
	return &VoiceNotePayload{DurationMs: binary.BigEndian.Uint32(buf[0:4]), PCM: append([]byte(nil), buf[4:]...)}, nil
}

type AudioFramePayload struct {
	CallID [16]byte
	PCM    []byte
}

func (p *AudioFramePayload) Type() MessageType { return TypeAudioFrame }
func (p *AudioFramePayload) Encode() []byte    { return append(append([]byte(nil), p.CallID[:]...), p.PCM...) }

func decodeAudioFrame(buf []byte) (*AudioFramePayload, error) {
	if len(buf) < 16 {
		return nil, ErrPayloadTruncated
	}
	p := &AudioFramePayload{}
	copy(p.CallID[:], buf[0:16])
	p.PCM = append([]byte(nil), buf[16:]...)
	return p, nil
}

type CallStartPayload struct{ CallID [16]byte }

func (p *CallStartPayload) Type() MessageType { return TypeCallStart }
func (p *CallStartPayload) Encode() []byte    { return append([]byte(nil), p.CallID[:]...) }

type CallEndPayload struct{ CallID [16]byte }

func (p *CallEndPayload) Type() MessageType { return TypeCallEnd }
func (p *CallEndPayload) Encode() []byte    { return append([]byte(nil), p.CallID[:]...) }

func decodeCallID(buf []byte) (id [16]byte, err error) {
	if len(buf) < 16 {
		return id, ErrPayloadTruncated
	}
	copy(id[:], buf[0:16])
	return id, nil
}

// --- 0x40 PeerExchange ----------------------------------------------------------

// PeerExchangeEntry is one (NodeId, display name) pair gossiped to a
// newly-established peer (see SPEC_FULL.md's PeerExchange supplement).
type PeerExchangeEntry struct {
	NodeID [32]byte
	Name   string
}

type PeerExchangePayload struct {
	Peers []PeerExchangeEntry
}

func (p *PeerExchangePayload) Type() MessageType { return TypePeerExchange }
func (p *PeerExchangePayload) Encode() []byte {
	var countField [4]byte
	binary.BigEndian.PutUint32(countField[:], uint32(len(p.Peers)))
	buf := append([]byte(nil), countField[:]...)
	for _, entry := range p.Peers {
		buf = append(buf, entry.NodeID[:]...)
		buf = putLenPrefixed(buf, []byte(entry.Name))
	}
	return buf
}

func decodePeerExchange(buf []byte) (*PeerExchangePayload, error) {
	if len(buf) < 4 {
		return nil, ErrPayloadTruncated
	}
	count := binary.BigEndian.Uint32(buf[0:4])
	pos := 4
	p := &PeerExchangePayload{}
	for i := uint32(0); i < count; i++ {
		if len(buf)-pos < 32 {
			return nil, ErrPayloadTruncated
		}
		var entry PeerExchangeEntry
		copy(entry.NodeID[:], buf[pos:pos+32])
		pos += 32

		name, next, err := readLenPrefixed(buf, pos)
		if err != nil {
			return nil, err
		}
		entry.Name = string(name)
		pos = next

		p.Peers = append(p.Peers, entry)
	}
	return p, nil
}

// --- 0x50 KeyExchange ----------------------------------------------------------

// KeyExchangePayload carries the ephemeral X25519 public key plus the
// sender's chosen per-direction nonce prefix (see the session package).
type KeyExchangePayload struct {
	EphemeralPublicKey [32]byte
	NoncePrefix        uint32
}

func (p *KeyExchangePayload) Type() MessageType { return TypeKeyExchange }
func (p *KeyExchangePayload) Encode() []byte {
	buf := append([]byte(nil), p.EphemeralPublicKey[:]...)
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], p.NoncePrefix)
	return append(buf, prefix[:]...)
}

func decodeKeyExchange(buf []byte) (*KeyExchangePayload, error) {
	if len(buf) < 36 {
		return nil, ErrPayloadTruncated
	}
	p := &KeyExchangePayload{}
	copy(p.EphemeralPublicKey[:], buf[0:32])
	p.NoncePrefix = binary.BigEndian.Uint32(buf[32:36])
	return p, nil
}

// --- 0x60 ProfileUpdate ----------------------------------------------------------

type ProfileUpdatePayload struct {
	Name string
	Bio  string
}

func (p *ProfileUpdatePayload) Type() MessageType { return TypeProfileUpdate }
func (p *ProfileUpdatePayload) Encode() []byte {
	buf := putLenPrefixed(nil, []byte(p.Name))
	return putLenPrefixed(buf, []byte(p.Bio))
}

func decodeProfileUpdate(buf []byte) (*ProfileUpdatePayload, error) {
	name, pos, err := readLenPrefixed(buf, 0)
	if err != nil {
		return nil, err
	}
	bio, _, err := readLenPrefixed(buf, pos)
	if err != nil {
		return nil, err
	}
	return &ProfileUpdatePayload{Name: string(name), Bio: string(bio)}, nil
}

// --- Unknown ---------------------------------------------------------------------

// UnknownPayload is what an unrecognized wire type decodes to (§9:
// forward-compat — decoding yields this case rather than an error, and the
// node's local delivery ignores it).
type UnknownPayload struct {
	RawType MessageType
	Raw     []byte
}

func (p *UnknownPayload) Type() MessageType { return TypeUnknown }
func (p *UnknownPayload) Encode() []byte    { return p.Raw }

// DecodePayload dispatches on the envelope's type to produce the matching
// Payload case, returning *UnknownPayload for any type this version does not
// recognize rather than an error.
func DecodePayload(t MessageType, buf []byte) (Payload, error) {
	switch t {
	case TypeDiscovery:
		return decodeDiscovery(buf)
	case TypePing:
		seq, err := decodeSeq(buf)
		if err != nil {
			return nil, err
		}
		return &PingPayload{Seq: seq}, nil
	case TypePong:
		seq, err := decodeSeq(buf)
		if err != nil {
			return nil, err
		}
		return &PongPayload{Seq: seq}, nil
	case TypeText:
		return &TextPayload{Text: string(buf), IsBroadcast: false}, nil
	case TypePublicBroadcast:
		return &TextPayload{Text: string(buf), IsBroadcast: true}, nil
	case TypeSOS:
		return decodeSOS(buf)
	case TypeFileChunk:
		return decodeFileChunk(buf)
	case TypeFileOffer:
		return decodeFileOffer(buf)
	case TypeFileAccept:
		return decodeFileAccept(buf)
	case TypeFileDecline:
		return decodeFileDecline(buf)
	case TypeVoiceNote:
		return decodeVoiceNote(buf)
	case TypeAudioFrame:
		return decodeAudioFrame(buf)
	case TypeCallStart:
		id, err := decodeCallID(buf)
		if err != nil {
			return nil, err
		}
		return &CallStartPayload{CallID: id}, nil
	case TypeCallEnd:
		id, err := decodeCallID(buf)
		if err != nil {
			return nil, err
		}
		return &CallEndPayload{CallID: id}, nil
	case TypePeerExchange:
		return decodePeerExchange(buf)
	case TypeKeyExchange:
		return decodeKeyExchange(buf)
	case TypeProfileUpdate:
		return decodeProfileUpdate(buf)
	default:
		return &UnknownPayload{RawType: t, Raw: append([]byte(nil), buf...)}, nil
	}
}
