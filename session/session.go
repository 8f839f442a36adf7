/*
Package session implements the per-connection ephemeral key exchange and the
authenticated encryption used once a peer reaches the established state.

An ephemeral X25519 keypair is generated per connection. Once both sides have
exchanged their ephemeral public keys (wire type KeyExchange, see the wire
package), each side computes the shared secret and derives a 32-byte AEAD key
from it with blake3 — the same hash the identity package uses to derive
NodeIds, kept as the project's one KDF rather than introducing a second hash
primitive for no reason.
*/
package session

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"lukechampine.com/blake3"
)

// KeySize is the size of an X25519 public/private key and of the derived
// session key.
const KeySize = 32

// ErrReplay is returned by Unbox when the nonce counter does not strictly
// increase, which is the anti-replay/reuse guard required by §4.B.
var ErrReplay = errors.New("session: nonce counter did not increase")

// ErrAuth is returned by Unbox on AEAD authentication failure (tampered
// ciphertext or wrong key).
var ErrAuth = errors.New("session: authentication failed")

// EphemeralKeyPair is a connection-scoped X25519 keypair.
type EphemeralKeyPair struct {
	private [KeySize]byte
	Public  [KeySize]byte
}

// NewEphemeralKeyPair generates a fresh X25519 keypair for one connection.
func NewEphemeralKeyPair() (*EphemeralKeyPair, error) {
	kp := &EphemeralKeyPair{}
	if _, err := rand.Read(kp.private[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(kp.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SessionKey is the derived 32-byte AEAD key, plus the per-direction nonce
// state required to build the anti-reuse 96-bit nonce (§4.B: 32-bit
// per-session-per-direction random prefix concatenated with a 64-bit strictly
// increasing counter).
type SessionKey struct {
	key [KeySize]byte

	sendPrefix uint32
	sendSeq    uint64

	recvPrefix    uint32
	recvSeqHighest uint64
	recvSeqSeen    bool
}

// Derive computes the shared secret from our ephemeral private key and the
// peer's ephemeral public key, then derives the AEAD key from it via blake3.
// sendPrefix/recvPrefix are random per-direction nonce prefixes; the caller
// generates its own sendPrefix and receives the peer's as recvPrefix over the
// same KeyExchange envelope that carried the public key.
func Derive(kp *EphemeralKeyPair, peerPublic [KeySize]byte, sendPrefix, recvPrefix uint32) (*SessionKey, error) {
	shared, err := curve25519.X25519(kp.private[:], peerPublic[:])
	if err != nil {
		return nil, err
	}

	derived := blake3.Sum256(shared)

	sk := &SessionKey{sendPrefix: sendPrefix, recvPrefix: recvPrefix}
	copy(sk.key[:], derived[:])
	return sk, nil
}

// nonce builds the 96-bit (12-byte) AEAD nonce: 4-byte prefix || 8-byte counter.
func nonce(prefix uint32, counter uint64) []byte {
	n := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint32(n[0:4], prefix)
	binary.BigEndian.PutUint64(n[4:12], counter)
	return n
}

// Box authenticates and encrypts plaintext, returning ciphertext with the
// AEAD tag appended, plus the nonce counter used (the counter is not sent on
// the wire; the receiver tracks it with NextRecvCounter, but Box returns it
// too for tests and for transports that want to log it).
func (sk *SessionKey) Box(plaintext, associatedData []byte) (ciphertext []byte, counter uint64, err error) {
	aead, err := chacha20poly1305.New(sk.key[:])
	if err != nil {
		return nil, 0, err
	}

	sk.sendSeq++
	counter = sk.sendSeq
	n := nonce(sk.sendPrefix, counter)

	ciphertext = aead.Seal(nil, n, plaintext, associatedData)
	return ciphertext, counter, nil
}

// Unbox verifies and decrypts ciphertext sent with the given counter. It
// rejects any counter that is not strictly greater than the highest counter
// previously accepted on this direction (replay/reuse guard).
func (sk *SessionKey) Unbox(ciphertext, associatedData []byte, counter uint64) (plaintext []byte, err error) {
	if sk.recvSeqSeen && counter <= sk.recvSeqHighest {
		return nil, ErrReplay
	}

	aead, err := chacha20poly1305.New(sk.key[:])
	if err != nil {
		return nil, err
	}

	n := nonce(sk.recvPrefix, counter)
	plaintext, err = aead.Open(nil, n, ciphertext, associatedData)
	if err != nil {
		return nil, ErrAuth
	}

	sk.recvSeqHighest = counter
	sk.recvSeqSeen = true
	return plaintext, nil
}

// NextRecvCounter returns the counter value Unbox will require to accept the
// next inbound ciphertext on this direction. Transport connections are
// stream-ordered (TCP), so sender and receiver agree on the counter purely
// by position in the stream and it never needs to ride on the wire: the
// sender's Nth Box call and the receiver's Nth Unbox call always use counter
// N, with no separate sequence field in the envelope.
func (sk *SessionKey) NextRecvCounter() uint64 {
	if !sk.recvSeqSeen {
		return 1
	}
	return sk.recvSeqHighest + 1
}

// RandomPrefix generates a fresh 32-bit per-direction nonce prefix.
func RandomPrefix() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
