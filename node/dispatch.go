/*
Dispatch.go implements the router-driven fan-out from a decrypted envelope to
either a locally-delivered Event, a re-encrypted forward to the next hop, or
both (spec.md §4.G: a broadcast envelope is delivered locally AND forwarded
in the same pass). Grounded on the teacher's Message Decode Incoming.go
(a single big switch over message type dispatching to per-type handlers) and
the router package that makes the forward/deliver decision itself.
*/
package node

import (
	"sync/atomic"

	"github.com/meshrelay/core/audio"
	"github.com/meshrelay/core/filetransfer"
	"github.com/meshrelay/core/identity"
	"github.com/meshrelay/core/peer"
	"github.com/meshrelay/core/wire"
)

// handleDecrypted is called with the plaintext recovered from one inbound
// encrypted envelope. It runs the routing decision, delivers locally if
// addressed here (or broadcast), and forwards to every other hop the
// Router names, re-encrypting fresh for each (spec.md §4.B: hop-by-hop,
// never relayed ciphertext).
func (n *Node) handleDecrypted(from *peer.Peer, e *wire.Envelope, plaintext []byte) {
	decision := n.router.Route(e, from.NodeId(), n.registry.Established())
	n.filters.RouterDecision(e, from.NodeId(), decision)
	atomic.AddUint64(&n.messagesRouted, 1)

	if decision.Deliver {
		n.deliverLocal(from, e, plaintext)
	}

	if len(decision.Forward) == 0 {
		return
	}

	ttl := forwardedTTL(e)
	for _, hopID := range decision.Forward {
		hop, ok := n.registry.Get(hopID)
		if !ok {
			continue
		}
		if err := n.encryptFor(hop, e.Type, e.Origin, e.Destination, ttl, e.MsgID, plaintext); err != nil {
			n.filters.LogError("handleDecrypted", "forward to %s: %v", hopID, err)
			continue
		}
		atomic.AddUint64(&n.bytesRelayed, uint64(len(plaintext)))
	}
}

func forwardedTTL(e *wire.Envelope) uint8 {
	if e.TTL == 0 {
		return 0
	}
	return e.TTL - 1
}

func (n *Node) deliverLocal(from *peer.Peer, e *wire.Envelope, plaintext []byte) {
	payload, err := wire.DecodePayload(e.Type, plaintext)
	if err != nil {
		n.filters.LogError("deliverLocal", "decode %v from %s: %v", e.Type, from.NodeId(), err)
		return
	}

	switch p := payload.(type) {
	case *wire.TextPayload:
		if p.IsBroadcast {
			n.events.push(Event{Kind: EventPublicBroadcastReceived, Peer: e.Origin, Text: p.Text})
		} else {
			n.events.push(Event{Kind: EventMessageReceived, Peer: e.Origin, Text: p.Text})
		}

	case *wire.SOSPayload:
		n.events.push(Event{Kind: EventSOSReceived, Peer: e.Origin, Text: p.Text, Lat: p.Lat, Lon: p.Lon})

	case *wire.FileOfferPayload:
		n.handleFileOffer(e.Origin, p)

	case *wire.FileAcceptPayload:
		n.handleFileAccept(e.Origin, p)

	case *wire.FileDeclinePayload:
		n.handleFileDecline(e.Origin, p)

	case *wire.FileChunkPayload:
		n.handleFileChunk(e.Origin, p)

	case *wire.VoiceNotePayload:
		n.events.push(Event{Kind: EventVoiceReceived, Peer: e.Origin, PCM: p.PCM, DurationMs: p.DurationMs})

	case *wire.CallStartPayload:
		n.handleCallStart(e.Origin, p)

	case *wire.AudioFramePayload:
		n.handleAudioFrame(e.Origin, p)

	case *wire.CallEndPayload:
		n.handleCallEnd(e.Origin, p)

	case *wire.PeerExchangePayload:
		n.handlePeerExchange(e.Origin, p)

	case *wire.ProfileUpdatePayload:
		n.handleProfileUpdate(e.Origin, p)

	default:
		// *wire.UnknownPayload and anything else: forward-compat, drop.
	}
}

func (n *Node) handleFileOffer(origin identity.NodeId, p *wire.FileOfferPayload) {
	n.events.push(Event{
		Kind:     EventFileOffered,
		Peer:     origin,
		FileID:   filetransfer.FileID(p.FileID),
		Filename: p.Filename,
		FileSize: p.Size,
	})
}

func (n *Node) handleFileAccept(origin identity.NodeId, p *wire.FileAcceptPayload) {
	id := filetransfer.FileID(p.FileID)
	n.transfersMu.Lock()
	out, ok := n.outgoing[id]
	n.transfersMu.Unlock()
	if !ok {
		return
	}
	out.transfer.Accept()
	go n.pumpOutgoingTransfer(out)
}

func (n *Node) handleFileDecline(origin identity.NodeId, p *wire.FileDeclinePayload) {
	id := filetransfer.FileID(p.FileID)
	n.transfersMu.Lock()
	out, ok := n.outgoing[id]
	if ok {
		delete(n.outgoing, id)
	}
	n.transfersMu.Unlock()
	if !ok {
		return
	}
	out.transfer.Abort()
	out.source.Close()
	n.events.push(Event{Kind: EventFileAborted, Peer: origin, FileID: id, Filename: out.transfer.Filename, Text: "declined by receiver"})
}

func (n *Node) handleFileChunk(origin identity.NodeId, p *wire.FileChunkPayload) {
	id := filetransfer.FileID(p.FileID)
	n.transfersMu.Lock()
	in, ok := n.incoming[id]
	n.transfersMu.Unlock()
	if !ok {
		return
	}

	progress, complete, err := in.transfer.WriteChunk(p.ChunkIndex, p.Data)
	if err != nil {
		n.filters.LogError("handleFileChunk", "write chunk %d of %x: %v", p.ChunkIndex, p.FileID, err)
		if err == filetransfer.ErrChunkOutOfRange {
			in.transfer.Abort()
			n.transfersMu.Lock()
			delete(n.incoming, id)
			n.transfersMu.Unlock()
			n.events.push(Event{Kind: EventFileAborted, Peer: origin, FileID: id, Filename: in.transfer.Filename, Text: "chunk index out of range"})
		}
		return
	}

	n.events.push(Event{Kind: EventFileProgress, Peer: origin, FileID: id, Progress: progress})
	if complete {
		n.events.push(Event{Kind: EventFileComplete, Peer: origin, FileID: id, Filename: in.transfer.Filename})
		n.transfersMu.Lock()
		delete(n.incoming, id)
		n.transfersMu.Unlock()
	}
}

func (n *Node) handleCallStart(origin identity.NodeId, p *wire.CallStartPayload) {
	callID := audio.CallID(p.CallID)
	n.audio.AcceptCall(origin, callID)
	n.events.push(Event{Kind: EventCallIncoming, Peer: origin, CallID: callID})
}

func (n *Node) handleAudioFrame(origin identity.NodeId, p *wire.AudioFramePayload) {
	callID := audio.CallID(p.CallID)
	if !n.audio.ValidateFrame(origin, callID) {
		return
	}
	n.events.push(Event{Kind: EventAudioFrameReceived, Peer: origin, CallID: callID, PCM: p.PCM})
}

func (n *Node) handleCallEnd(origin identity.NodeId, p *wire.CallEndPayload) {
	n.audio.EndCall(origin)
	n.events.push(Event{Kind: EventCallEnded, Peer: origin, CallID: audio.CallID(p.CallID)})
}

func (n *Node) handlePeerExchange(origin identity.NodeId, p *wire.PeerExchangePayload) {
	for _, entry := range p.Peers {
		var id identity.NodeId
		copy(id[:], entry.NodeID[:])
		if id.IsZero() {
			continue
		}
		if existing, ok := n.registry.Get(id); ok {
			name, bio, gw := existing.Profile()
			_ = bio
			_ = gw
			if name == "" {
				existing.SetProfile(entry.Name, bio, gw)
			}
		}
	}
}

func (n *Node) handleProfileUpdate(origin identity.NodeId, p *wire.ProfileUpdatePayload) {
	if peerObj, ok := n.registry.Get(origin); ok {
		_, _, gw := peerObj.Profile()
		peerObj.SetProfile(p.Name, p.Bio, gw)
	}
	n.events.push(Event{Kind: EventProfileUpdated, Peer: origin, PeerName: p.Name, Bio: p.Bio})
}

// gossipPeerExchange sends every other established peer's (NodeId, name) to
// a newly-established peer, per SPEC_FULL.md's PeerExchange supplement. The
// receiver (handlePeerExchange) only uses an entry to fill in the empty
// display name of a peer it already has registered; entries for NodeIds it
// does not know are ignored, and no connection is made to them.
func (n *Node) gossipPeerExchange(to *peer.Peer) {
	var entries []wire.PeerExchangeEntry
	for _, id := range n.registry.Established() {
		if id == to.NodeId() {
			continue
		}
		p, ok := n.registry.Get(id)
		if !ok {
			continue
		}
		name, _, _ := p.Profile()
		entries = append(entries, wire.PeerExchangeEntry{NodeID: id, Name: name})
	}
	if len(entries) == 0 {
		return
	}

	selfID, _ := n.NodeId()
	payload := &wire.PeerExchangePayload{Peers: entries}
	if err := n.encryptFor(to, wire.TypePeerExchange, selfID, to.NodeId(), wire.DefaultTTL(wire.TypePeerExchange), wire.NewMsgID(), payload.Encode()); err != nil {
		n.filters.LogError("gossipPeerExchange", "%v", err)
	}
}

func (n *Node) checkGateway(p *peer.Peer) {
	_, _, isGateway := p.Profile()
	if !isGateway {
		return
	}
	n.gatewayMu.Lock()
	already := n.gatewayPeers[p.NodeId()]
	n.gatewayPeers[p.NodeId()] = true
	n.gatewayMu.Unlock()
	if !already {
		n.events.push(Event{Kind: EventGatewayFound, Peer: p.NodeId()})
	}
}

func (n *Node) forgetGateway(id identity.NodeId) {
	n.gatewayMu.Lock()
	wasGateway := n.gatewayPeers[id]
	delete(n.gatewayPeers, id)
	n.gatewayMu.Unlock()
	if wasGateway {
		n.events.push(Event{Kind: EventGatewayLost, Peer: id})
	}
}

// pumpOutgoingTransfer streams every chunk of an accepted outgoing transfer.
func (n *Node) pumpOutgoingTransfer(out *outgoingTransfer) {
	hop, ok := n.registry.Get(out.dest)
	if !ok {
		return
	}
	selfID, _ := n.NodeId()

	for {
		index, data, ok, err := out.transfer.NextChunk(out.source)
		if err != nil {
			n.filters.LogError("pumpOutgoingTransfer", "read chunk: %v", err)
			return
		}
		if !ok {
			out.source.Close()
			return
		}

		chunk := &wire.FileChunkPayload{FileID: [16]byte(out.transfer.FileID), ChunkIndex: index, Data: data}
		if err := n.encryptFor(hop, wire.TypeFileChunk, selfID, out.dest, wire.DefaultTTL(wire.TypeFileChunk), wire.NewMsgID(), chunk.Encode()); err != nil {
			n.filters.LogError("pumpOutgoingTransfer", "send chunk %d: %v", index, err)
			return
		}
	}
}
