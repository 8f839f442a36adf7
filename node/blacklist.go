/*
Blacklist.go implements the persisted peer blacklist SPEC_FULL.md's
SUPPLEMENTED FEATURES section adds: a peer whose connection is torn down for
a signature/AEAD failure three times within an hour is persisted and refused
future connections. Grounded directly on the teacher's Blacklist.go
(store.Store-backed ban list keyed by public key) and store/Pogreb.go /
store/Memory.go for the backing implementation choice.
*/
package node

import (
	"sync"
	"time"

	"github.com/meshrelay/core/identity"
	"github.com/meshrelay/core/store"
)

const (
	blacklistStrikeLimit  = 3
	blacklistStrikeWindow = time.Hour
)

// blacklist tracks AEAD/signature failure strikes per NodeId in memory and
// persists a ban once the strike limit is reached within the window.
type blacklist struct {
	mutex    sync.Mutex
	db       store.Store
	strikes  map[identity.NodeId][]time.Time
}

func newBlacklist(db store.Store) *blacklist {
	return &blacklist{db: db, strikes: make(map[identity.NodeId][]time.Time)}
}

// RecordFailure registers one protocol/AEAD failure for peer and bans it if
// this is the third such failure within the last hour. Returns true if the
// peer is now banned (whether newly or already).
func (b *blacklist) RecordFailure(id identity.NodeId, reason string) (banned bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	now := time.Now()
	kept := b.strikes[id][:0]
	for _, t := range b.strikes[id] {
		if now.Sub(t) < blacklistStrikeWindow {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	b.strikes[id] = kept

	if len(kept) >= blacklistStrikeLimit {
		b.db.Set(id[:], []byte(reason))
		return true
	}
	_, found := b.db.Get(id[:])
	return found
}

// IsBanned reports whether id has been persisted to the blacklist.
func (b *blacklist) IsBanned(id identity.NodeId) bool {
	_, found := b.db.Get(id[:])
	return found
}

// Bans enumerates every NodeId currently persisted to the blacklist, for the
// list_banned command. Keys are stored as raw NodeId bytes (see
// RecordFailure), so Iterate needs no value decoding, just a length check to
// skip anything that is not a well-formed NodeId.
func (b *blacklist) Bans() []identity.NodeId {
	var ids []identity.NodeId
	b.db.Iterate(func(key, value []byte) {
		if len(key) != identity.NodeIdSize {
			return
		}
		var id identity.NodeId
		copy(id[:], key)
		ids = append(ids, id)
	})
	return ids
}

// Unban removes a persisted ban, e.g. for an operator override.
func (b *blacklist) Unban(id identity.NodeId) {
	b.mutex.Lock()
	delete(b.strikes, id)
	b.mutex.Unlock()
	b.db.Delete(id[:])
}

func (b *blacklist) Close() error {
	return b.db.Close()
}
