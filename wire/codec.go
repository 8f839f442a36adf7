/*
Codec.go implements the length-prefixed framing and the stable binary
encoding of an Envelope, grounded on the teacher's own Packet Encoding.go /
Message Encoding.go: a hand-rolled layout over encoding/binary and a
bytes.Buffer rather than a third-party serialization format, since no such
library appears anywhere in the retrieved example pack.
*/
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// MaxFrameSize is the maximum size, in bytes, of a single framed message
// (spec.md §4.C / §6.2).
const MaxFrameSize = 8 * 1024 * 1024

// envelopeHeaderSize is type(1) + msg_id(16) + origin(32) + destination(32) + ttl(1).
const envelopeHeaderSize = 1 + MsgIDSize + NodeIDSize + NodeIDSize + 1

// ErrFrameTooLarge is returned by ReadFrame when the declared length exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// ErrTruncated is returned by Decode when the buffer ends before a complete envelope is read.
var ErrTruncated = errors.New("wire: truncated envelope")

// Encode serializes an envelope to its stable wire form: the fixed header
// fields followed by a u32-BE length-prefixed payload.
func Encode(e *Envelope) []byte {
	buf := make([]byte, 0, envelopeHeaderSize+4+len(e.Payload))
	b := bytes.NewBuffer(buf)

	b.WriteByte(byte(e.Type))
	b.Write(e.MsgID[:])
	b.Write(e.Origin[:])
	b.Write(e.Destination[:])
	b.WriteByte(e.TTL)

	var lenField [4]byte
	binary.BigEndian.PutUint32(lenField[:], uint32(len(e.Payload)))
	b.Write(lenField[:])
	b.Write(e.Payload)

	return b.Bytes()
}

// Decode parses an envelope from its stable wire form. Decoding is total for
// well-formed input; truncated input returns ErrTruncated. An unrecognized
// type byte is not an error here — DecodePayload turns it into an
// *UnknownPayload, which the node's local delivery ignores (§9's
// forward-compat rule).
func Decode(raw []byte) (*Envelope, error) {
	if len(raw) < envelopeHeaderSize+4 {
		return nil, ErrTruncated
	}

	e := &Envelope{}
	pos := 0

	e.Type = MessageType(raw[pos])
	pos++

	copy(e.MsgID[:], raw[pos:pos+MsgIDSize])
	pos += MsgIDSize

	copy(e.Origin[:], raw[pos:pos+NodeIDSize])
	pos += NodeIDSize

	copy(e.Destination[:], raw[pos:pos+NodeIDSize])
	pos += NodeIDSize

	e.TTL = raw[pos]
	pos++

	payloadLen := binary.BigEndian.Uint32(raw[pos : pos+4])
	pos += 4

	if uint32(len(raw)-pos) < payloadLen {
		return nil, ErrTruncated
	}

	e.Payload = make([]byte, payloadLen)
	copy(e.Payload, raw[pos:pos+int(payloadLen)])

	return e, nil
}

// WriteFrame writes a u32-BE length prefix followed by the encoded envelope.
func WriteFrame(w io.Writer, e *Envelope) error {
	encoded := Encode(e)
	if len(encoded) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var lenField [4]byte
	binary.BigEndian.PutUint32(lenField[:], uint32(len(encoded)))

	if _, err := w.Write(lenField[:]); err != nil {
		return err
	}
	_, err := w.Write(encoded)
	return err
}

// ReadFrame reads one length-prefixed frame and decodes it into an Envelope.
// It rejects frames declaring a length over MaxFrameSize without reading the
// body, so a malicious peer cannot force an unbounded allocation.
func ReadFrame(r io.Reader) (*Envelope, error) {
	var lenField [4]byte
	if _, err := io.ReadFull(r, lenField[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lenField[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	return Decode(body)
}
