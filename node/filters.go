/*
Filters.go is the structured, side-channel logging surface SPEC_FULL.md's
AMBIENT STACK section describes: a Filters struct of optional hook functions
a collaborator may set before Start, mirroring the teacher's Filter.go
(Filters struct + initFilters nil-guarding so every hook can be called
without a nil check at every call site).
*/
package node

import (
	"github.com/meshrelay/core/identity"
	"github.com/meshrelay/core/router"
	"github.com/meshrelay/core/wire"
)

// Filters lets a collaborator observe internal activity without the core
// ever writing to the host process's stdout/stderr (spec.md §7). Unset
// hooks default to no-ops. Filter functions must not block for long; if a
// hook needs to do real work it should start its own goroutine.
type Filters struct {
	// LogError is called for any error the node encounters internally.
	LogError func(function, format string, args ...interface{})

	// LogInfo is called for routine lifecycle events (a peer connection being
	// closed, with the reason), for a collaborator that wants verbose tracing.
	LogInfo func(function, format string, args ...interface{})

	// PacketIn/PacketOut are low-level hooks for every envelope crossing the
	// wire, called after decode / before encode respectively.
	PacketIn  func(peer identity.NodeId, e *wire.Envelope)
	PacketOut func(peer identity.NodeId, e *wire.Envelope)

	// PeerStateChange is called when a peer becomes established and when it
	// is closed; the intermediate registry states are not reported.
	PeerStateChange func(peer identity.NodeId, from, to string)

	// RouterDecision is called with every routing decision the Router makes,
	// for debugging flood/dedup behavior.
	RouterDecision func(e *wire.Envelope, arrivedFrom identity.NodeId, decision router.Decision)
}

// LogError lets code outside the package (controlapi) route
// through the same collaborator-supplied Filters hook the node uses
// internally, rather than writing to stdout/stderr themselves.
func (n *Node) LogError(function, format string, args ...interface{}) {
	n.filters.LogError(function, format, args...)
}

func (f *Filters) init() {
	if f.LogError == nil {
		f.LogError = func(function, format string, args ...interface{}) {}
	}
	if f.LogInfo == nil {
		f.LogInfo = func(function, format string, args ...interface{}) {}
	}
	if f.PacketIn == nil {
		f.PacketIn = func(identity.NodeId, *wire.Envelope) {}
	}
	if f.PacketOut == nil {
		f.PacketOut = func(identity.NodeId, *wire.Envelope) {}
	}
	if f.PeerStateChange == nil {
		f.PeerStateChange = func(identity.NodeId, string, string) {}
	}
	if f.RouterDecision == nil {
		f.RouterDecision = func(*wire.Envelope, identity.NodeId, router.Decision) {}
	}
}
