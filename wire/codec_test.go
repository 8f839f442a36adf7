package wire

import (
	"bytes"
	"testing"
)

func sampleEnvelope() *Envelope {
	origin := [NodeIDSize]byte{1, 2, 3}
	dest := [NodeIDSize]byte{4, 5, 6}
	e := New(TypeText, origin, dest, []byte("hello"))
	return e
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := sampleEnvelope()
	raw := Encode(e)

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Type != e.Type || got.TTL != e.TTL || got.MsgID != e.MsgID ||
		got.Origin != e.Origin || got.Destination != e.Destination ||
		!bytes.Equal(got.Payload, e.Payload) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestDecodeTruncated(t *testing.T) {
	e := sampleEnvelope()
	raw := Encode(e)

	if _, err := Decode(raw[:len(raw)-3]); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestWriteReadFrame(t *testing.T) {
	e := sampleEnvelope()

	var buf bytes.Buffer
	if err := WriteFrame(&buf, e); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.MsgID != e.MsgID {
		t.Fatalf("got %x, want %x", got.MsgID, e.MsgID)
	}
}

func TestReadFrameRejectsOversizedDeclaredLength(t *testing.T) {
	var buf bytes.Buffer
	var lenField [4]byte
	// Declare a length far beyond MaxFrameSize; ReadFrame must reject before
	// attempting to read the (nonexistent) body.
	lenField[0] = 0xFF
	lenField[1] = 0xFF
	lenField[2] = 0xFF
	lenField[3] = 0xFF
	buf.Write(lenField[:])

	if _, err := ReadFrame(&buf); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestUnknownTypeDecodesToUnknownPayload(t *testing.T) {
	p, err := DecodePayload(MessageType(0x99), []byte("whatever"))
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	unknown, ok := p.(*UnknownPayload)
	if !ok {
		t.Fatalf("expected *UnknownPayload, got %T", p)
	}
	if unknown.RawType != MessageType(0x99) {
		t.Fatalf("got RawType %x", unknown.RawType)
	}
}

func TestPayloadRoundTrips(t *testing.T) {
	cases := []Payload{
		&DiscoveryPayload{Name: "alice", ListenPort: 7332, GatewayFlag: true},
		&PingPayload{Seq: 42},
		&PongPayload{Seq: 42},
		&SOSPayload{Text: "help", Lat: 37.7749, Lon: -122.4194},
		&FileChunkPayload{FileID: [16]byte{1}, ChunkIndex: 3, Data: []byte("chunk")},
		&FileOfferPayload{FileID: [16]byte{2}, Filename: "notes.txt", Size: 100000, Chunks: 4, ChunkSize: 32768},
		&FileAcceptPayload{FileID: [16]byte{2}},
		&FileDeclinePayload{FileID: [16]byte{2}},
		&VoiceNotePayload{DurationMs: 2000, PCM: []byte{1, 2, 3, 4}},
		&AudioFramePayload{CallID: [16]byte{3}, PCM: make([]byte, 640)},
		&PeerExchangePayload{Peers: []PeerExchangeEntry{{NodeID: [32]byte{9}, Name: "bob"}}},
		&KeyExchangePayload{EphemeralPublicKey: [32]byte{7}, NoncePrefix: 0xAABBCCDD},
		&ProfileUpdatePayload{Name: "alice", Bio: "responder"},
	}

	for _, c := range cases {
		raw := c.Encode()
		decoded, err := DecodePayload(c.Type(), raw)
		if err != nil {
			t.Fatalf("%T: decode error: %v", c, err)
		}
		if decoded.Type() != c.Type() {
			t.Fatalf("%T: type mismatch after decode", c)
		}
	}
}

func TestDefaultTTLAndPriority(t *testing.T) {
	if DefaultTTL(TypeText) != 10 {
		t.Fatalf("expected TTL 10 for Text")
	}
	if DefaultTTL(TypeSOS) != 50 {
		t.Fatalf("expected TTL 50 for SOS")
	}
	if DefaultTTL(TypePublicBroadcast) != 50 {
		t.Fatalf("expected TTL 50 for PublicBroadcast")
	}

	if !IsControl(TypePing) || !IsControl(TypePong) || !IsControl(TypeKeyExchange) {
		t.Fatalf("expected Ping/Pong/KeyExchange to be control types")
	}
	if IsControl(TypeText) {
		t.Fatalf("Text must not be a control type")
	}

	if Priority(TypeAudioFrame) >= Priority(TypeVoiceNote) {
		t.Fatalf("AudioFrame must have lower priority value (dropped first) than VoiceNote")
	}
	if Priority(TypeSOS) >= Priority(TypePing) {
		t.Fatalf("SOS must be dropped before control")
	}
}
