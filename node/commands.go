/*
Commands.go implements the public command surface (spec.md §6.1): every
operation a collaborator calls synchronously, each returning a Result rather
than panicking or erroring out through a side channel. Grounded on the
teacher's Commands.go (synchronous, typed-return wrappers that validate
local state before touching the network) generalized to this project's
mesh-addressed, hop-by-hop-encrypted send path.
*/
package node

import (
	"os"

	"github.com/meshrelay/core/audio"
	"github.com/meshrelay/core/filetransfer"
	"github.com/meshrelay/core/identity"
	"github.com/meshrelay/core/wire"
)

// sendRouted encrypts plaintext for the first-hop peer toward dest and
// enqueues it on that connection. If dest is directly established, that is
// the whole trip; otherwise the next hop relays it onward per the Router's
// deterministic forwarding order applied by every intermediate node. Since
// this node has no topology view beyond its immediate peers, it hands the
// envelope to every established peer except when dest is itself directly
// connected, letting the mesh's flood-with-TTL carry it the rest of the way.
func (n *Node) sendRouted(dest identity.NodeId, t wire.MessageType, plaintext []byte) Result {
	if !n.IsRunning() {
		return ResultNotRunning
	}

	selfID, _ := n.NodeId()
	msgID := wire.NewMsgID()
	ttl := wire.DefaultTTL(t)

	if direct, ok := n.registry.Get(dest); ok {
		if err := n.encryptFor(direct, t, selfID, dest, ttl, msgID, plaintext); err == nil {
			return ResultOK
		}
	}

	established := n.registry.Established()
	if len(established) == 0 {
		return ResultNoSuchPeer
	}

	sent := false
	for _, id := range established {
		hop, ok := n.registry.Get(id)
		if !ok {
			continue
		}
		if err := n.encryptFor(hop, t, selfID, dest, ttl, msgID, plaintext); err == nil {
			sent = true
		}
	}
	if !sent {
		return ResultIOError
	}
	return ResultOK
}

// sendBroadcast floods plaintext to every established peer addressed to the
// all-zero broadcast NodeId, used by PublicBroadcast and SOS.
func (n *Node) sendBroadcast(t wire.MessageType, plaintext []byte) Result {
	if !n.IsRunning() {
		return ResultNotRunning
	}

	selfID, _ := n.NodeId()
	msgID := wire.NewMsgID()
	ttl := wire.DefaultTTL(t)

	established := n.registry.Established()
	for _, id := range established {
		hop, ok := n.registry.Get(id)
		if !ok {
			continue
		}
		if err := n.encryptFor(hop, t, selfID, wire.Broadcast, ttl, msgID, plaintext); err != nil {
			n.filters.LogError("sendBroadcast", "to %s: %v", id, err)
		}
	}
	return ResultOK
}

// SendText sends a private text message addressed to dest, flooded through
// the mesh with the ordinary TTL if dest is not directly connected.
func (n *Node) SendText(dest identity.NodeId, text string) Result {
	if text == "" {
		return ResultInvalidArgument
	}
	p := &wire.TextPayload{Text: text}
	return n.sendRouted(dest, wire.TypeText, p.Encode())
}

// SendDirect sends a text message to an immediately-established peer only,
// bypassing mesh-wide flooding (spec.md §6.1's "send_direct": single-hop
// delivery for when the caller already knows it is talking to a neighbor).
func (n *Node) SendDirect(dest identity.NodeId, text string) Result {
	if !n.IsRunning() {
		return ResultNotRunning
	}
	if text == "" {
		return ResultInvalidArgument
	}
	hop, ok := n.registry.Get(dest)
	if !ok || hop.State().String() != "established" {
		return ResultNoSuchPeer
	}
	selfID, _ := n.NodeId()
	p := &wire.TextPayload{Text: text}
	e := &wire.Envelope{Type: wire.TypeText, MsgID: wire.NewMsgID(), Origin: selfID, Destination: dest, TTL: 1}
	if err := n.encryptFor(hop, e.Type, e.Origin, e.Destination, e.TTL, e.MsgID, p.Encode()); err != nil {
		return ResultIOError
	}
	return ResultOK
}

// SendPublicBroadcast floods text to every peer in the mesh with the
// extended TTL (spec.md §4.G).
func (n *Node) SendPublicBroadcast(text string) Result {
	if text == "" {
		return ResultInvalidArgument
	}
	p := &wire.TextPayload{Text: text, IsBroadcast: true}
	return n.sendBroadcast(wire.TypePublicBroadcast, p.Encode())
}

// SendSOS floods an emergency broadcast with an optional location.
func (n *Node) SendSOS(text string, lat, lon float64) Result {
	if text == "" {
		return ResultInvalidArgument
	}
	p := &wire.SOSPayload{Text: text, Lat: lat, Lon: lon}
	return n.sendBroadcast(wire.TypeSOS, p.Encode())
}

// UpdateProfile changes this node's display name/bio and gossips the change
// to every established peer.
func (n *Node) UpdateProfile(name, bio string) Result {
	if !n.IsRunning() {
		return ResultNotRunning
	}
	n.mu.Lock()
	n.cfg.DisplayName = name
	n.cfg.Bio = bio
	n.mu.Unlock()

	p := &wire.ProfileUpdatePayload{Name: name, Bio: bio}
	return n.sendBroadcast(wire.TypeProfileUpdate, p.Encode())
}

// SendFile opens path and offers it to dest, who must accept (via AcceptFile)
// before any chunk is streamed (spec.md §4.H). File transfer is point-to-point
// between directly established peers rather than mesh-flooded, since
// streaming every chunk through every relay would be wasteful; SendFile
// therefore requires dest to already be an established neighbor.
func (n *Node) SendFile(dest identity.NodeId, path string) (filetransfer.FileID, Result) {
	if !n.IsRunning() {
		return filetransfer.FileID{}, ResultNotRunning
	}
	hop, ok := n.registry.Get(dest)
	if !ok {
		return filetransfer.FileID{}, ResultNoSuchPeer
	}

	f, err := os.Open(path)
	if err != nil {
		return filetransfer.FileID{}, ResultIOError
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return filetransfer.FileID{}, ResultIOError
	}
	if uint64(info.Size()) > filetransfer.MaxFileSize {
		f.Close()
		return filetransfer.FileID{}, ResultTooLarge
	}

	out, err := filetransfer.NewOutgoing(info.Name(), uint64(info.Size()), filetransfer.DefaultChunkSize)
	if err != nil {
		f.Close()
		if err == filetransfer.ErrTooLarge {
			return filetransfer.FileID{}, ResultTooLarge
		}
		return filetransfer.FileID{}, ResultIOError
	}

	n.transfersMu.Lock()
	n.outgoing[out.FileID] = &outgoingTransfer{transfer: out, dest: dest, source: f}
	n.transfersMu.Unlock()

	selfID, _ := n.NodeId()
	offer := &wire.FileOfferPayload{
		FileID:    [16]byte(out.FileID),
		Filename:  out.Filename,
		Size:      out.Size,
		Chunks:    out.Chunks(),
		ChunkSize: out.ChunkSize,
	}
	if err := n.encryptFor(hop, wire.TypeFileOffer, selfID, dest, wire.DefaultTTL(wire.TypeFileOffer), wire.NewMsgID(), offer.Encode()); err != nil {
		n.transfersMu.Lock()
		delete(n.outgoing, out.FileID)
		n.transfersMu.Unlock()
		f.Close()
		return filetransfer.FileID{}, ResultIOError
	}

	return out.FileID, ResultOK
}

// AcceptFile accepts a pending file offer previously surfaced via a
// FileOffered event, creating the receiving sink under destDir and notifying
// the sender to begin streaming chunks.
func (n *Node) AcceptFile(origin identity.NodeId, fileID filetransfer.FileID, filename string, size uint64, chunkSize uint32, destDir string) Result {
	if !n.IsRunning() {
		return ResultNotRunning
	}
	hop, ok := n.registry.Get(origin)
	if !ok {
		return ResultNoSuchPeer
	}

	in, err := filetransfer.NewIncoming(fileID, filename, size, chunkSize, destDir)
	if err != nil {
		if err == filetransfer.ErrTooLarge {
			return ResultTooLarge
		}
		return ResultIOError
	}

	n.transfersMu.Lock()
	n.incoming[fileID] = &incomingTransfer{transfer: in, origin: origin}
	n.transfersMu.Unlock()

	selfID, _ := n.NodeId()
	accept := &wire.FileAcceptPayload{FileID: [16]byte(fileID)}
	if err := n.encryptFor(hop, wire.TypeFileAccept, selfID, origin, wire.DefaultTTL(wire.TypeFileAccept), wire.NewMsgID(), accept.Encode()); err != nil {
		n.transfersMu.Lock()
		delete(n.incoming, fileID)
		n.transfersMu.Unlock()
		return ResultIOError
	}
	return ResultOK
}

// DeclineFile rejects a pending file offer from origin (spec.md §4.H's
// "receiver decline" abort condition). No Incoming transfer exists yet at
// this point — AcceptFile is what creates one — so there is nothing local to
// tear down; DeclineFile solely notifies the sender, so its Outgoing does
// not sit waiting forever for a FileAccept that will never come.
func (n *Node) DeclineFile(origin identity.NodeId, fileID filetransfer.FileID) Result {
	if !n.IsRunning() {
		return ResultNotRunning
	}
	hop, ok := n.registry.Get(origin)
	if !ok {
		return ResultNoSuchPeer
	}

	selfID, _ := n.NodeId()
	decline := &wire.FileDeclinePayload{FileID: [16]byte(fileID)}
	if err := n.encryptFor(hop, wire.TypeFileDecline, selfID, origin, wire.DefaultTTL(wire.TypeFileDecline), wire.NewMsgID(), decline.Encode()); err != nil {
		return ResultIOError
	}
	return ResultOK
}

// ListBanned returns every NodeId currently persisted to the blacklist.
func (n *Node) ListBanned() ([]identity.NodeId, Result) {
	if !n.IsRunning() {
		return nil, ResultNotRunning
	}
	return n.blacklist.Bans(), ResultOK
}

// UnbanPeer removes a persisted ban, e.g. for an operator override.
func (n *Node) UnbanPeer(id identity.NodeId) Result {
	if !n.IsRunning() {
		return ResultNotRunning
	}
	n.blacklist.Unban(id)
	return ResultOK
}

// SendVoice sends a one-shot voice note to an established peer (spec.md §4.I).
func (n *Node) SendVoice(dest identity.NodeId, pcm []byte) Result {
	if !n.IsRunning() {
		return ResultNotRunning
	}
	hop, ok := n.registry.Get(dest)
	if !ok {
		return ResultNoSuchPeer
	}
	pcm = audio.TruncateVoiceNote(pcm)

	selfID, _ := n.NodeId()
	p := &wire.VoiceNotePayload{DurationMs: audio.DurationMs(pcm), PCM: pcm}
	if err := n.encryptFor(hop, wire.TypeVoiceNote, selfID, dest, wire.DefaultTTL(wire.TypeVoiceNote), wire.NewMsgID(), p.Encode()); err != nil {
		return ResultIOError
	}
	return ResultOK
}

// StartCall rings dest for a live audio call.
func (n *Node) StartCall(dest identity.NodeId) (audio.CallID, Result) {
	if !n.IsRunning() {
		return audio.CallID{}, ResultNotRunning
	}
	hop, ok := n.registry.Get(dest)
	if !ok {
		return audio.CallID{}, ResultNoSuchPeer
	}

	callID, err := n.audio.StartCall(dest)
	if err != nil {
		return audio.CallID{}, ResultInvalidArgument
	}

	selfID, _ := n.NodeId()
	p := &wire.CallStartPayload{CallID: [16]byte(callID)}
	if err := n.encryptFor(hop, wire.TypeCallStart, selfID, dest, wire.DefaultTTL(wire.TypeCallStart), wire.NewMsgID(), p.Encode()); err != nil {
		n.audio.EndCall(dest)
		return audio.CallID{}, ResultIOError
	}
	return callID, ResultOK
}

// EndCall terminates any call in progress with dest.
func (n *Node) EndCall(dest identity.NodeId) Result {
	if !n.IsRunning() {
		return ResultNotRunning
	}
	_, callID := n.audio.State(dest)
	n.audio.EndCall(dest)

	hop, ok := n.registry.Get(dest)
	if !ok {
		return ResultOK // nothing to notify; call state is already cleared locally
	}
	selfID, _ := n.NodeId()
	p := &wire.CallEndPayload{CallID: [16]byte(callID)}
	n.encryptFor(hop, wire.TypeCallEnd, selfID, dest, wire.DefaultTTL(wire.TypeCallEnd), wire.NewMsgID(), p.Encode())
	return ResultOK
}

// SendAudioFrame relays one PCM frame of an active call with dest.
func (n *Node) SendAudioFrame(dest identity.NodeId, pcm []byte) Result {
	if !n.IsRunning() {
		return ResultNotRunning
	}
	state, callID := n.audio.State(dest)
	if state != audio.CallActive {
		return ResultInvalidArgument
	}
	hop, ok := n.registry.Get(dest)
	if !ok {
		return ResultNoSuchPeer
	}

	selfID, _ := n.NodeId()
	p := &wire.AudioFramePayload{CallID: [16]byte(callID), PCM: pcm}
	if err := n.encryptFor(hop, wire.TypeAudioFrame, selfID, dest, wire.DefaultTTL(wire.TypeAudioFrame), wire.NewMsgID(), p.Encode()); err != nil {
		return ResultQueueFull
	}
	return ResultOK
}
