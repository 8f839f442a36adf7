/*
Package audio implements the Audio Streams component (spec.md §4.I): a
one-shot VoiceNote envelope and a per-peer VoiceStream call state machine
relaying droppable AudioFrame envelopes.

Grounded on the teacher's Ping.go/Connection.go pattern of per-peer
ephemeral session state tracked by the registry (here: per-peer call state
tracked independently of the Peer Registry, looked up by NodeId rather than
held by direct reference, per the "no direct peer-to-peer references"
design note) and Message Sequence.go's timeout-driven state reset.
*/
package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshrelay/core/identity"
)

// PCM format constants for VoiceNote/AudioFrame payloads (spec.md §4.I).
const (
	SampleRateHz   = 16000
	BytesPerSample = 2 // 16-bit little-endian, mono
	FrameDurationMs = 20
	FrameSizeBytes  = SampleRateHz * BytesPerSample * FrameDurationMs / 1000 // 640

	// MaxVoiceNoteBytes is the practical size limit noted in spec.md §4.I
	// ("~320 KiB (~10 s)"); larger blobs may be truncated by the sender.
	MaxVoiceNoteBytes = 320 * 1024
)

// ErrNoActiveCall is returned when an AudioFrame/CallEnd is requested for a
// peer with no call in progress.
var ErrNoActiveCall = errors.New("audio: no active call with peer")

// ErrCallAlreadyActive is returned by StartCall if a call with the given
// peer is already ringing or active.
var ErrCallAlreadyActive = errors.New("audio: call already in progress")

// CallState is the per-peer call lifecycle (spec.md §4.I: "idle -> ringing
// -> active -> idle").
type CallState int

const (
	CallIdle CallState = iota
	CallRinging
	CallActive
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallRinging:
		return "ringing"
	case CallActive:
		return "active"
	default:
		return "unknown"
	}
}

// CallID identifies one call for its lifetime.
type CallID [16]byte

// NewCallID generates a fresh call identifier.
func NewCallID() CallID {
	var id CallID
	copy(id[:], uuid.New()[:])
	return id
}

type call struct {
	id    CallID
	state CallState
}

// Manager tracks call state per peer. Only one active call per local node is
// required by spec.md §4.I, but the manager tracks state per-peer so a
// ringing call from one peer does not interfere with bookkeeping for another.
type Manager struct {
	mutex sync.Mutex
	calls map[identity.NodeId]*call
}

// NewManager creates an empty call manager.
func NewManager() *Manager {
	return &Manager{calls: make(map[identity.NodeId]*call)}
}

// StartCall begins ringing a peer, returning the new CallID. Fails if a call
// with that peer is already in progress.
func (m *Manager) StartCall(peer identity.NodeId) (CallID, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if existing, ok := m.calls[peer]; ok && existing.state != CallIdle {
		return CallID{}, ErrCallAlreadyActive
	}

	id := NewCallID()
	m.calls[peer] = &call{id: id, state: CallRinging}
	return id, nil
}

// AcceptCall transitions a call to active: a ringing call started locally or
// by the peer's CallStart envelope, or a remote-initiated CallStart this
// node has no ringing record for yet (in which case it is registered
// directly as active).
func (m *Manager) AcceptCall(peer identity.NodeId, id CallID) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	c, ok := m.calls[peer]
	if !ok {
		m.calls[peer] = &call{id: id, state: CallActive}
		return true
	}
	if c.id != id {
		return false
	}
	c.state = CallActive
	return true
}

// State returns the current call state with a peer, and the active CallID
// if any.
func (m *Manager) State(peer identity.NodeId) (CallState, CallID) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	c, ok := m.calls[peer]
	if !ok {
		return CallIdle, CallID{}
	}
	return c.state, c.id
}

// EndCall terminates any call with the given peer, returning to idle.
func (m *Manager) EndCall(peer identity.NodeId) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.calls, peer)
}

// ValidateFrame reports whether an AudioFrame may be accepted for this peer:
// only while a call with that peer is active, and only for the call it
// belongs to.
func (m *Manager) ValidateFrame(peer identity.NodeId, id CallID) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	c, ok := m.calls[peer]
	return ok && c.state == CallActive && c.id == id
}

// TruncateVoiceNote clips PCM data to MaxVoiceNoteBytes, rounded down to a
// whole number of samples, matching spec.md §4.I's "larger blobs may be
// truncated".
func TruncateVoiceNote(pcm []byte) []byte {
	if len(pcm) <= MaxVoiceNoteBytes {
		return pcm
	}
	limit := MaxVoiceNoteBytes - (MaxVoiceNoteBytes % BytesPerSample)
	return pcm[:limit]
}

// DurationMs computes the playback duration of a PCM buffer at the fixed
// sample rate, for stamping VoiceNote envelopes.
func DurationMs(pcm []byte) uint32 {
	samples := len(pcm) / BytesPerSample
	return uint32(time.Duration(samples) * time.Second / SampleRateHz / time.Millisecond)
}
