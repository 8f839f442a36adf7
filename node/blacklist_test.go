package node

import (
	"testing"

	"github.com/meshrelay/core/identity"
	"github.com/meshrelay/core/store"
)

func TestBlacklistStrikesAndBans(t *testing.T) {
	bl := newBlacklist(store.NewMemoryStore())
	id := identity.NodeId{1, 2, 3}

	if bl.IsBanned(id) {
		t.Fatal("fresh peer must not be banned")
	}

	for i := 0; i < blacklistStrikeLimit-1; i++ {
		if bl.RecordFailure(id, "aead_failure") {
			t.Fatalf("banned after only %d strikes", i+1)
		}
	}
	if !bl.RecordFailure(id, "aead_failure") {
		t.Fatal("expected ban on the strike-limit-th failure")
	}
	if !bl.IsBanned(id) {
		t.Fatal("expected peer to be banned")
	}
}

func TestBlacklistBansEnumeratesPersistedBans(t *testing.T) {
	bl := newBlacklist(store.NewMemoryStore())
	a := identity.NodeId{1}
	b := identity.NodeId{2}

	for i := 0; i < blacklistStrikeLimit; i++ {
		bl.RecordFailure(a, "aead_failure")
		bl.RecordFailure(b, "aead_failure")
	}

	bans := bl.Bans()
	if len(bans) != 2 {
		t.Fatalf("expected 2 banned peers, got %d", len(bans))
	}

	seen := map[identity.NodeId]bool{}
	for _, id := range bans {
		seen[id] = true
	}
	if !seen[a] || !seen[b] {
		t.Fatalf("expected both banned peers to be enumerated, got %v", bans)
	}
}

func TestBlacklistUnban(t *testing.T) {
	bl := newBlacklist(store.NewMemoryStore())
	id := identity.NodeId{9}

	for i := 0; i < blacklistStrikeLimit; i++ {
		bl.RecordFailure(id, "aead_failure")
	}
	if !bl.IsBanned(id) {
		t.Fatal("expected peer to be banned")
	}

	bl.Unban(id)
	if bl.IsBanned(id) {
		t.Fatal("expected peer to be unbanned")
	}
	if len(bl.Bans()) != 0 {
		t.Fatal("expected no bans remaining after Unban")
	}
}
