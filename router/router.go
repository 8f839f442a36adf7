/*
Package router implements the mesh's algorithmic core (spec.md §4.G): dedup,
reflection/self-address checks, TTL-bounded flooding, and deterministic
forwarding order. It holds no socket or peer-connection state itself — it is
handed the set of currently-established peer NodeIds by the node package and
returns a routing decision, which keeps it trivially unit-testable.
*/
package router

import (
	"sort"

	"github.com/meshrelay/core/identity"
	"github.com/meshrelay/core/wire"
)

// Decision is the result of routing one inbound envelope.
type Decision struct {
	// Deliver is true if the envelope should be handed to the local
	// application (text handler, file transfer, audio, etc).
	Deliver bool

	// Forward lists the NodeIds to relay the envelope to. Route does not
	// change the envelope; forwarded copies carry ForwardedTTL(e). Empty if
	// the envelope must not be forwarded.
	Forward []identity.NodeId

	// Dropped explains why an envelope was neither delivered nor forwarded,
	// for logging; empty string if it was delivered and/or forwarded.
	Dropped string
}

// Router evaluates the forward/deliver decision for inbound envelopes.
type Router struct {
	dedup *DedupCache
	self  identity.NodeId
}

// New creates a Router for the given local NodeId.
func New(self identity.NodeId) *Router {
	return &Router{dedup: NewDedupCache(), self: self}
}

// Dedup exposes the underlying cache so the node package can schedule Sweep.
func (r *Router) Dedup() *DedupCache { return r.dedup }

// Route implements the algorithm from spec.md §4.G steps 1-5.
//
// established is the current snapshot of established peers, which may
// include the peer that delivered the envelope and the origin; Route itself
// applies the "except arrival path and except origin" exclusions and the ascending-NodeId deterministic
// ordering (spec.md §4.G "Tie-breaks").
func (r *Router) Route(e *wire.Envelope, arrivedFrom identity.NodeId, established []identity.NodeId) Decision {
	var origin, dest identity.NodeId
	copy(origin[:], e.Origin[:])
	copy(dest[:], e.Destination[:])

	// Step 1: dedup.
	if r.dedup.SeenOrInsert(e.MsgID) {
		return Decision{Dropped: "duplicate"}
	}

	// Step 2: reflection.
	if origin == r.self {
		return Decision{Dropped: "reflection"}
	}

	deliver := dest == r.self || dest.IsZero()

	// Step 4/5: TTL gate, then decrement and compute the forward set.
	if e.TTL == 0 {
		if deliver {
			return Decision{Deliver: true}
		}
		return Decision{Dropped: "ttl expired, not addressed locally"}
	}

	forward := make([]identity.NodeId, 0, len(established))
	for _, peer := range established {
		if peer == arrivedFrom || peer == origin || peer == r.self {
			continue
		}
		forward = append(forward, peer)
	}

	sort.Slice(forward, func(i, j int) bool { return forward[i].Less(forward[j]) })

	return Decision{Deliver: deliver, Forward: forward}
}

// ForwardedTTL returns the TTL to stamp on a forwarded copy of e: one less
// than the TTL it arrived with. Forwarders must never increase TTL
// (spec.md §4.G); the originator alone chooses the starting value via
// wire.DefaultTTL.
func ForwardedTTL(e *wire.Envelope) uint8 {
	if e.TTL == 0 {
		return 0
	}
	return e.TTL - 1
}
