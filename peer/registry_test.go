package peer

import (
	"testing"
	"time"

	"github.com/meshrelay/core/identity"
)

func nodeID(b byte) identity.NodeId {
	var id identity.NodeId
	id[0] = b
	return id
}

func TestPeerAdvanceRejectsDownwardTransition(t *testing.T) {
	p := NewPeer(nodeID(1), "10.0.0.1:9000", false)

	if !p.Advance(StateHandshaking) {
		t.Fatal("expected forward transition to succeed")
	}
	if !p.Advance(StateEstablished) {
		t.Fatal("expected forward transition to succeed")
	}
	if p.Advance(StateConnecting) {
		t.Fatal("expected downward transition to be rejected")
	}
	if p.State() != StateEstablished {
		t.Fatalf("expected state to remain established, got %s", p.State())
	}
}

func TestPeerSessionKeyLifecycle(t *testing.T) {
	p := NewPeer(nodeID(1), "", false)
	if p.SessionKey() != nil {
		t.Fatal("expected no session key before handshake")
	}

	p.ClearSessionKey()
	if p.SessionKey() != nil {
		t.Fatal("expected session key to still be nil after clearing an already-nil key")
	}
}

func TestRegistryAddTieBreakKeepsInitiatorBySmallerNodeId(t *testing.T) {
	self := nodeID(5) // self is smaller than the remote peer below
	reg := NewRegistry(self)

	remote := nodeID(9)
	first := NewPeer(remote, "a", true) // self dialed out, self < remote, so self is initiator

	existing, keep := reg.Add(first)
	if existing != nil || !keep {
		t.Fatalf("expected first add to be kept with no existing peer, got existing=%v keep=%v", existing, keep)
	}

	second := NewPeer(remote, "b", false) // remote dialed in on a second, racing connection

	existingAfter, keepSecond := reg.Add(second)
	if existingAfter != first {
		t.Fatal("expected existing peer to be the first one added")
	}
	if keepSecond {
		t.Fatal("expected the inbound connection to be dropped: self has the smaller NodeId, so the connection self dialed wins")
	}
}

func TestRegistryEstablishedExcludesOtherStates(t *testing.T) {
	self := nodeID(0)
	reg := NewRegistry(self)

	p1 := NewPeer(nodeID(1), "", false)
	p1.Advance(StateHandshaking)
	p1.Advance(StateEstablished)
	reg.Add(p1)

	p2 := NewPeer(nodeID(2), "", false)
	reg.Add(p2) // still connecting

	established := reg.Established()
	if len(established) != 1 || established[0] != nodeID(1) {
		t.Fatalf("expected only p1 established, got %+v", established)
	}
}

func TestRegistryExpireHeartbeatsTransitionsToClosing(t *testing.T) {
	self := nodeID(0)
	reg := NewRegistry(self)

	p := NewPeer(nodeID(1), "", false)
	p.Advance(StateHandshaking)
	p.Advance(StateEstablished)
	reg.Add(p)

	// Force a stale heartbeat.
	p.mutex.Lock()
	p.lastHeartbeat = time.Now().Add(-time.Hour)
	p.mutex.Unlock()

	expired := reg.ExpireHeartbeats(30 * time.Second)
	if len(expired) != 1 || expired[0] != nodeID(1) {
		t.Fatalf("expected p to be expired, got %+v", expired)
	}
	if p.State() != StateClosing {
		t.Fatalf("expected state closing, got %s", p.State())
	}
}

func TestRegistryRemoveDeletesAndMarksGone(t *testing.T) {
	self := nodeID(0)
	reg := NewRegistry(self)

	p := NewPeer(nodeID(1), "", false)
	reg.Add(p)
	reg.Remove(nodeID(1))

	if _, ok := reg.Get(nodeID(1)); ok {
		t.Fatal("expected peer to be removed")
	}
	if p.State() != StateGone {
		t.Fatalf("expected state gone, got %s", p.State())
	}
}
