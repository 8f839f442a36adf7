/*
Package peer implements the Peer Registry (spec.md §4.F): peer lifecycle,
single-connection-per-NodeId tie-breaking, and heartbeat-driven liveness.

Grounded on the teacher's Peer ID.go (a map keyed by compressed public key,
guarded by a sync.RWMutex, with Add/Remove/Get/Lookup/Count accessors) and
generalized from "one-to-many connections per peer with failover" to the
spec's single-connection state machine.
*/
package peer

import (
	"sort"
	"sync"
	"time"

	"github.com/meshrelay/core/identity"
	"github.com/meshrelay/core/session"
	"github.com/meshrelay/core/transport"
)

// State is the peer connection lifecycle (spec.md §4.F).
type State int

const (
	StateConnecting State = iota // transport open, no key exchanged
	StateHandshaking             // own ephemeral public sent; awaiting remote
	StateEstablished              // session key derived; application traffic may flow
	StateClosing                  // teardown requested; drain outbound, then close
	StateGone                     // removed from the map
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

// HandshakeStep tracks the finer-grained handshake sub-state required by
// spec.md's invariant 1 (new -> key_sent -> key_received -> established ->
// closed), kept alongside the coarser registry State above.
type HandshakeStep int

const (
	HandshakeNew HandshakeStep = iota
	HandshakeKeySent
	HandshakeKeyReceived
	HandshakeEstablished
	HandshakeClosed
)

// Peer is a single entry in the Peer Registry (spec.md §3).
type Peer struct {
	mutex sync.RWMutex

	id          identity.NodeId
	displayName string
	bio         string
	isGateway   bool

	state     State
	handshake HandshakeStep

	lastHeartbeat time.Time
	sessionKey    *session.SessionKey

	// isInitiator records which side of a duplicate-connection race keeps the
	// connection, per the lexicographically-smaller-NodeId tie-break.
	isInitiator bool

	// Address is informational (last known dial target).
	Address string

	// conn is the Transport connection this peer entry owns (spec.md §3:
	// Peer carries "the owning Transport connection"). Subprotocols never
	// hold this directly; they address peers by NodeId and look the Conn up
	// through the registry at send time, per the project's "no direct
	// peer-to-peer references" design note.
	conn *transport.Conn

	// nextPingSeq/pendingPing track the heartbeat round-trip so the node
	// layer can tell a Pong apart from a stale one.
	nextPingSeq  uint64
	pendingPing  bool
}

// NewPeer creates a peer entry in the initial connecting state. isInitiator
// records which side of a duplicate-connection race this entry represents:
// true for a connection this node dialed out, false for one accepted
// inbound, per the tie-break Registry.Add applies.
func NewPeer(id identity.NodeId, address string, isInitiator bool) *Peer {
	return &Peer{
		id:            id,
		state:         StateConnecting,
		handshake:     HandshakeNew,
		lastHeartbeat: time.Now(),
		Address:       address,
		isInitiator:   isInitiator,
	}
}

// NodeId returns the peer's identifier.
func (p *Peer) NodeId() identity.NodeId {
	return p.id // immutable for the peer's lifetime; no lock needed
}

// State returns the current registry state.
func (p *Peer) State() State {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.state
}

// stateOrder gives the monotonic rank used to reject downward transitions
// (spec.md invariant 1: "no downward transitions").
var stateOrder = map[State]int{
	StateConnecting:  0,
	StateHandshaking: 1,
	StateEstablished: 2,
	StateClosing:     3,
	StateGone:        4,
}

// Advance moves the peer to a new state if it is forward of the current one.
// It returns false (no-op) if the requested state would be a downward
// transition, enforcing invariant 1.
func (p *Peer) Advance(newState State) (advanced bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if stateOrder[newState] <= stateOrder[p.state] {
		return false
	}
	p.state = newState
	return true
}

var handshakeOrder = map[HandshakeStep]int{
	HandshakeNew:          0,
	HandshakeKeySent:      1,
	HandshakeKeyReceived:  2,
	HandshakeEstablished:  3,
	HandshakeClosed:       4,
}

// AdvanceHandshake moves the handshake sub-state forward, same monotonic
// discipline as Advance.
func (p *Peer) AdvanceHandshake(newStep HandshakeStep) (advanced bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if handshakeOrder[newStep] <= handshakeOrder[p.handshake] {
		return false
	}
	p.handshake = newStep
	return true
}

// SetSessionKey installs the derived session key. spec.md invariant 2: a
// SessionKey exists if and only if the peer state is established.
func (p *Peer) SetSessionKey(sk *session.SessionKey) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.sessionKey = sk
}

// SessionKey returns the current session key, or nil if not yet established.
func (p *Peer) SessionKey() *session.SessionKey {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.sessionKey
}

// ClearSessionKey destroys the session key, e.g. on disconnect, per spec.md
// §3 ("SessionKey ... destroyed on disconnect").
func (p *Peer) ClearSessionKey() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.sessionKey = nil
}

// Touch records that the peer was just seen alive (an inbound Ping, or a
// completed handshake); AcceptPong updates the same clock.
func (p *Peer) Touch() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.lastHeartbeat = time.Now()
}

// LastHeartbeat returns the last time Touch or a matching AcceptPong ran.
func (p *Peer) LastHeartbeat() time.Time {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.lastHeartbeat
}

// SetConn installs the Transport connection this peer entry owns.
func (p *Peer) SetConn(c *transport.Conn) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.conn = c
}

// Conn returns the Transport connection this peer entry owns, or nil before
// one is established.
func (p *Peer) Conn() *transport.Conn {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.conn
}

// NextPingSeq increments and returns the next heartbeat sequence number to
// stamp on an outbound Ping, and marks a ping as outstanding.
func (p *Peer) NextPingSeq() uint64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.nextPingSeq++
	p.pendingPing = true
	return p.nextPingSeq
}

// AcceptPong clears the outstanding-ping flag if seq matches the most
// recently sent ping, and touches the heartbeat clock. Stale or mismatched
// Pongs are ignored.
func (p *Peer) AcceptPong(seq uint64) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if seq != p.nextPingSeq {
		return false
	}
	p.pendingPing = false
	p.lastHeartbeat = time.Now()
	return true
}

// Profile returns the peer's current display name and bio.
func (p *Peer) Profile() (name, bio string, isGateway bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.displayName, p.bio, p.isGateway
}

// SetProfile updates the peer's display name/bio/gateway flag, driven by a
// Discovery announcement or a ProfileUpdate envelope.
func (p *Peer) SetProfile(name, bio string, isGateway bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.displayName = name
	p.bio = bio
	p.isGateway = isGateway
}

// Registry is the lifecycle authority for all known peers (spec.md §4.F).
type Registry struct {
	mutex sync.RWMutex
	peers map[identity.NodeId]*Peer
	self  identity.NodeId
}

// NewRegistry creates an empty registry for the given local NodeId.
func NewRegistry(self identity.NodeId) *Registry {
	return &Registry{peers: make(map[identity.NodeId]*Peer), self: self}
}

// Add inserts a peer, or applies the single-connection-per-NodeId tie-break
// if one already exists: the connection whose NodeId is lexicographically
// smaller is kept as the initiator; the caller is told which to drop.
//
// existing is non-nil when a peer with this NodeId was already registered;
// keep reports whether the newly offered peer should be kept (true) or
// whether the existing one wins and the new connection must be closed
// (false).
func (r *Registry) Add(p *Peer) (existing *Peer, keep bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if current, ok := r.peers[p.id]; ok {
		// Tie-break: the smaller NodeId between self and the remote acts as
		// initiator and its connection is kept.
		keepNew := r.self.Less(p.id) == p.isInitiator
		if keepNew {
			r.peers[p.id] = p
			return current, true
		}
		return current, false
	}

	r.peers[p.id] = p
	return nil, true
}

// Get returns the peer with the given NodeId, if present.
func (r *Registry) Get(id identity.NodeId) (*Peer, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Remove deletes a peer from the registry, transitioning it to StateGone.
func (r *Registry) Remove(id identity.NodeId) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if p, ok := r.peers[id]; ok {
		p.Advance(StateGone)
		delete(r.peers, id)
	}
}

// Established returns the NodeIds of all peers currently in StateEstablished,
// ascending, which is the deterministic order the router forwards in.
func (r *Registry) Established() []identity.NodeId {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var ids []identity.NodeId
	for id, p := range r.peers {
		if p.State() == StateEstablished {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// All returns every registered peer, for stats/iteration.
func (r *Registry) All() []*Peer {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}

// Count returns the number of registered peers.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.peers)
}

// ExpireHeartbeats transitions any established peer whose last heartbeat is
// older than timeout into StateClosing, per spec.md §4.F's 30s Pong timeout.
// It returns the NodeIds that were just transitioned, so the caller can
// start tearing down their connections and emit PeerDisconnected.
func (r *Registry) ExpireHeartbeats(timeout time.Duration) []identity.NodeId {
	r.mutex.RLock()
	candidates := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		candidates = append(candidates, p)
	}
	r.mutex.RUnlock()

	now := time.Now()
	var expired []identity.NodeId
	for _, p := range candidates {
		if p.State() != StateEstablished {
			continue
		}
		if now.Sub(p.LastHeartbeat()) > timeout {
			if p.Advance(StateClosing) {
				expired = append(expired, p.NodeId())
			}
		}
	}
	return expired
}
