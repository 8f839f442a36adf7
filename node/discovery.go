/*
Discovery.go wires the Discovery component's arrivals into the Node
Controller: an announcement from an unknown NodeId triggers an outbound
dial, and one from a peer already registered refreshes its advertised
profile. Grounded on the teacher's Discovery Info.go callback shape (a
single function handed to the UDP listener, invoked per announcement).
*/
package node

import (
	"fmt"

	"github.com/meshrelay/core/discovery"
)

func (n *Node) onArrival(a discovery.Arrival) {
	id := a.Announcement.NodeID
	if id.IsZero() {
		return
	}
	if n.blacklist.IsBanned(id) {
		return
	}

	if existing, ok := n.registry.Get(id); ok {
		_, bio, _ := existing.Profile()
		existing.SetProfile(a.Announcement.DisplayName, bio, a.Announcement.IsGateway)
		return
	}

	if a.Addr == nil {
		return // IPv6 multicast arrivals do not carry a reply address
	}

	ctx := n.runCtx
	if ctx == nil {
		return
	}
	addr := fmt.Sprintf("%s:%d", a.Addr.IP.String(), a.Announcement.ListenPort)
	go n.connectTo(ctx, id, addr)
}
