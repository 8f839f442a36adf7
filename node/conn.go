/*
Conn.go implements transport.Handler for the Node Controller: the KeyExchange
handshake (spec.md §4.B), the hop-by-hop encrypt/decrypt helpers, and the
heartbeat Ping/Pong handlers.

Grounded on the teacher's Connection Init.go (an inbound/outbound connection
both start by exchanging a handshake message before any application traffic
is accepted) and Handshake.go's per-connection ephemeral key lifecycle,
generalized here from the teacher's static long-term-key handshake to the
spec's ephemeral-per-connection ECDH (§4.B: a fresh keypair every connection,
never the long-term identity key, so a compromised session key reveals
nothing about past or future sessions).
*/
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/meshrelay/core/identity"
	"github.com/meshrelay/core/peer"
	"github.com/meshrelay/core/session"
	"github.com/meshrelay/core/transport"
	"github.com/meshrelay/core/wire"
)

// onAccept is handed every freshly-accepted inbound connection by the
// Listener. The remote NodeId is unknown until its first KeyExchange
// arrives, so the handshake state here is keyed by the Conn itself rather
// than a NodeId.
func (n *Node) onAccept(c *transport.Conn) {
	hs, err := n.beginHandshake(c)
	if err != nil {
		n.filters.LogError("onAccept", "%v", err)
		c.Close()
		return
	}
	n.handshakes.Store(c, hs)
	n.sendKeyExchange(c, hs)
}

// connectTo dials out to a known peer (from Discovery or the config
// SeedList) and starts its handshake as the initiator.
func (n *Node) connectTo(ctx context.Context, id identity.NodeId, addr string) {
	if _, ok := n.registry.Get(id); ok {
		return
	}
	if n.blacklist.IsBanned(id) {
		return
	}

	c, err := transport.Dial(ctx, addr, n)
	if err != nil {
		n.filters.LogError("connectTo", "dial %s (%s): %v", addr, id, err)
		return
	}

	p := peer.NewPeer(id, addr, true)
	p.SetConn(c)
	if existing, keep := n.registry.Add(p); !keep {
		if existing != nil {
			_ = existing // the existing connection wins the tie-break; drop ours
		}
		c.Close()
		return
	}

	hs, err := n.beginHandshake(c)
	if err != nil {
		n.filters.LogError("connectTo", "%v", err)
		c.Close()
		return
	}
	n.handshakes.Store(c, hs)
	n.connPeers.Store(c, id)
	n.sendKeyExchange(c, hs)
}

func (n *Node) beginHandshake(c *transport.Conn) (*handshakeState, error) {
	ephemeral, err := session.NewEphemeralKeyPair()
	if err != nil {
		return nil, err
	}
	prefix, err := session.RandomPrefix()
	if err != nil {
		return nil, err
	}
	return &handshakeState{
		ephemeral:  ephemeral,
		sendPrefix: prefix,
		deadline:   time.Now().Add(handshakeTimeout),
	}, nil
}

func (n *Node) sendKeyExchange(c *transport.Conn, hs *handshakeState) {
	selfID, _ := n.NodeId()
	payload := &wire.KeyExchangePayload{EphemeralPublicKey: hs.ephemeral.Public, NoncePrefix: hs.sendPrefix}
	e := wire.New(wire.TypeKeyExchange, selfID, wire.Broadcast, payload.Encode())
	c.Enqueue(e)
}

// OnEnvelope implements transport.Handler.
func (n *Node) OnEnvelope(c *transport.Conn, e *wire.Envelope) {
	if e.Type == wire.TypeKeyExchange {
		n.handleKeyExchange(c, e)
		return
	}

	idVal, ok := n.connPeers.Load(c)
	if !ok {
		// Anything but a KeyExchange before the remote NodeId is known is a
		// protocol violation: no peer entry exists yet to address it to.
		c.Close()
		return
	}
	peerID := idVal.(identity.NodeId)
	p, ok := n.registry.Get(peerID)
	if !ok {
		c.Close()
		return
	}

	switch e.Type {
	case wire.TypePing:
		n.handlePing(p, e)
		return
	case wire.TypePong:
		n.handlePong(p, e)
		return
	}

	if !wire.EncryptedPayload(e.Type) {
		return
	}

	sk := p.SessionKey()
	if sk == nil {
		// Application traffic before the handshake completed.
		c.Close()
		return
	}

	plaintext, err := sk.Unbox(e.Payload, e.AssociatedData(), sk.NextRecvCounter())
	if err != nil {
		n.filters.LogError("OnEnvelope", "unbox from %s: %v", peerID, err)
		if n.blacklist.RecordFailure(peerID, "aead_failure") {
			n.closePeer(p, "blacklisted")
			return
		}
		c.Close()
		return
	}

	n.filters.PacketIn(peerID, e)
	n.handleDecrypted(p, e, plaintext)
}

// OnClose implements transport.Handler.
func (n *Node) OnClose(c *transport.Conn, err error) {
	n.handshakes.Delete(c)

	idVal, ok := n.connPeers.Load(c)
	if !ok {
		return
	}
	n.connPeers.Delete(c)
	peerID := idVal.(identity.NodeId)

	p, ok := n.registry.Get(peerID)
	if !ok {
		return
	}
	if p.Conn() != c {
		// This Conn already lost a tie-break race and was superseded; the
		// surviving connection's own OnClose (if it ever closes) is the one
		// that should emit PeerDisconnected.
		return
	}

	n.closePeer(p, "connection closed")
}

func (n *Node) closePeer(p *peer.Peer, reason string) {
	p.Advance(peer.StateClosing)
	p.ClearSessionKey()
	n.registry.Remove(p.NodeId())
	if c := p.Conn(); c != nil {
		c.Close()
	}
	n.filters.PeerStateChange(p.NodeId(), "established", "gone")
	n.filters.LogInfo("closePeer", "peer %s closed: %s", p.NodeId(), reason)
	n.events.push(Event{Kind: EventPeerDisconnected, Peer: p.NodeId()})
	n.abortTransfersForPeer(p.NodeId(), "peer disconnected: "+reason)
	n.forgetGateway(p.NodeId())
}

// abortTransfersForPeer aborts and removes every outgoing/incoming file
// transfer tied to peerID (spec.md §4.H: "Abort on: sender disconnection,
// receiver decline..."). Without this, a peer that vanishes mid-transfer
// leaves the counterpart's Outgoing/Incoming entry — and, for Incoming, its
// open temp file — in the transfer maps forever.
func (n *Node) abortTransfersForPeer(peerID identity.NodeId, reason string) {
	n.transfersMu.Lock()
	var aborted []Event
	for id, out := range n.outgoing {
		if out.dest != peerID {
			continue
		}
		out.transfer.Abort()
		out.source.Close()
		delete(n.outgoing, id)
		aborted = append(aborted, Event{Kind: EventFileAborted, Peer: peerID, FileID: id, Filename: out.transfer.Filename, Text: reason})
	}
	for id, in := range n.incoming {
		if in.origin != peerID {
			continue
		}
		in.transfer.Abort()
		delete(n.incoming, id)
		aborted = append(aborted, Event{Kind: EventFileAborted, Peer: peerID, FileID: id, Filename: in.transfer.Filename, Text: reason})
	}
	n.transfersMu.Unlock()

	for _, e := range aborted {
		n.events.push(e)
	}
}

func (n *Node) handleKeyExchange(c *transport.Conn, e *wire.Envelope) {
	payload, err := wire.DecodePayload(e.Type, e.Payload)
	if err != nil {
		c.Close()
		return
	}
	kex, ok := payload.(*wire.KeyExchangePayload)
	if !ok {
		c.Close()
		return
	}

	var remoteID identity.NodeId
	copy(remoteID[:], e.Origin[:])

	if n.blacklist.IsBanned(remoteID) {
		c.Close()
		return
	}

	hsVal, existed := n.handshakes.Load(c)
	var hs *handshakeState
	if existed {
		hs = hsVal.(*handshakeState)
	} else {
		// Inbound connection that has not registered a Peer yet: this is the
		// remote's first message, and onAccept already sent our own
		// KeyExchange, so a handshakeState must already be present keyed by
		// this Conn. Its absence means the connection was torn down already.
		c.Close()
		return
	}

	hs.remotePublic = kex.EphemeralPublicKey
	hs.remotePrefix = kex.NoncePrefix
	hs.haveRemote = true

	var p *peer.Peer
	if existing, ok := n.registry.Get(remoteID); ok && existing.Conn() == c {
		p = existing
	} else {
		p = peer.NewPeer(remoteID, c.RemoteAddr, false)
		p.SetConn(c)
		existingPeer, keep := n.registry.Add(p)
		if !keep {
			c.Close()
			n.handshakes.Delete(c)
			return
		}
		if existingPeer != nil && existingPeer != p {
			if oc := existingPeer.Conn(); oc != nil {
				oc.Close()
			}
		}
	}

	n.connPeers.Store(c, remoteID)
	p.Advance(peer.StateHandshaking)
	p.AdvanceHandshake(peer.HandshakeKeyReceived)

	sk, err := session.Derive(hs.ephemeral, hs.remotePublic, hs.sendPrefix, hs.remotePrefix)
	if err != nil {
		n.filters.LogError("handleKeyExchange", "derive session key with %s: %v", remoteID, err)
		c.Close()
		return
	}
	p.SetSessionKey(sk)
	p.AdvanceHandshake(peer.HandshakeEstablished)
	becameEstablished := p.Advance(peer.StateEstablished)
	p.Touch()
	n.handshakes.Delete(c)

	if becameEstablished {
		n.filters.PeerStateChange(remoteID, "handshaking", "established")
		n.events.push(Event{Kind: EventPeerConnected, Peer: remoteID})
		go n.gossipPeerExchange(p)
		n.checkGateway(p)
	}
}

func (n *Node) handlePing(p *peer.Peer, e *wire.Envelope) {
	payload, err := wire.DecodePayload(e.Type, e.Payload)
	if err != nil {
		return
	}
	ping := payload.(*wire.PingPayload)
	p.Touch()

	selfID, _ := n.NodeId()
	pong := &wire.PongPayload{Seq: ping.Seq}
	reply := wire.New(wire.TypePong, selfID, p.NodeId(), pong.Encode())
	if c := p.Conn(); c != nil {
		c.Enqueue(reply)
	}
}

func (n *Node) handlePong(p *peer.Peer, e *wire.Envelope) {
	payload, err := wire.DecodePayload(e.Type, e.Payload)
	if err != nil {
		return
	}
	pong := payload.(*wire.PongPayload)
	p.AcceptPong(pong.Seq)
}

func (n *Node) sendPing(p *peer.Peer) {
	selfID, _ := n.NodeId()
	seq := p.NextPingSeq()
	ping := &wire.PingPayload{Seq: seq}
	e := wire.New(wire.TypePing, selfID, p.NodeId(), ping.Encode())
	if c := p.Conn(); c != nil {
		c.Enqueue(e)
	}
}

// sweepHandshakes closes any connection whose KeyExchange has not completed
// within handshakeTimeout, so a peer that never replies does not leak a
// connection and an outbound queue forever.
func (n *Node) sweepHandshakes() {
	now := time.Now()
	n.handshakes.Range(func(key, value interface{}) bool {
		c := key.(*transport.Conn)
		hs := value.(*handshakeState)
		if now.After(hs.deadline) {
			n.handshakes.Delete(c)
			c.Close()
		}
		return true
	})
}

// encryptFor builds and enqueues an encrypted envelope of type t addressed
// to dest, using the session key held by the peer connection that is the
// next hop toward it. Per §4.B, encryption is hop-by-hop: the plaintext is
// boxed fresh for every next-hop connection rather than relayed as opaque
// ciphertext, since each connection's SessionKey is independent.
func (n *Node) encryptFor(hop *peer.Peer, t wire.MessageType, origin, dest identity.NodeId, ttl uint8, msgID [wire.MsgIDSize]byte, plaintext []byte) error {
	sk := hop.SessionKey()
	if sk == nil {
		return fmt.Errorf("node: no session key with %s", hop.NodeId())
	}

	e := &wire.Envelope{Type: t, MsgID: msgID, Origin: origin, Destination: dest, TTL: ttl}
	ciphertext, _, err := sk.Box(plaintext, e.AssociatedData())
	if err != nil {
		return err
	}
	e.Payload = ciphertext

	c := hop.Conn()
	if c == nil {
		return fmt.Errorf("node: peer %s has no connection", hop.NodeId())
	}
	n.filters.PacketOut(hop.NodeId(), e)
	return c.Enqueue(e)
}
