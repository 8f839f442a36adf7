package router

import (
	"testing"

	"github.com/meshrelay/core/identity"
	"github.com/meshrelay/core/wire"
)

func nodeID(b byte) identity.NodeId {
	var id identity.NodeId
	id[0] = b
	return id
}

func envelope(origin, dest identity.NodeId, ttl uint8) *wire.Envelope {
	e := wire.New(wire.TypeText, origin, dest, []byte("hello"))
	e.TTL = ttl
	return e
}

func TestRouteDeliversBroadcastAndDecrementsTTL(t *testing.T) {
	self := nodeID(2)
	r := New(self)

	origin := nodeID(1)
	peerA := nodeID(1) // arrival path
	peerC := nodeID(3)

	e := envelope(origin, identity.NodeId{}, 10)
	decision := r.Route(e, peerA, []identity.NodeId{peerA, peerC})

	if !decision.Deliver {
		t.Fatal("expected local delivery for broadcast envelope")
	}
	if len(decision.Forward) != 1 || decision.Forward[0] != peerC {
		t.Fatalf("expected forward only to peerC, got %+v", decision.Forward)
	}
	if ForwardedTTL(e) != 9 {
		t.Fatalf("expected forwarded TTL 9, got %d", ForwardedTTL(e))
	}
}

func TestRouteDropsDuplicateMsgID(t *testing.T) {
	self := nodeID(2)
	r := New(self)

	origin := nodeID(1)
	e := envelope(origin, identity.NodeId{}, 10)

	first := r.Route(e, origin, []identity.NodeId{nodeID(3)})
	if !first.Deliver {
		t.Fatal("expected first delivery")
	}

	second := r.Route(e, origin, []identity.NodeId{nodeID(3)})
	if second.Deliver || len(second.Forward) != 0 {
		t.Fatalf("expected duplicate envelope to be fully dropped, got %+v", second)
	}
}

func TestRouteDropsReflection(t *testing.T) {
	self := nodeID(2)
	r := New(self)

	e := envelope(self, identity.NodeId{}, 10)
	decision := r.Route(e, nodeID(3), []identity.NodeId{nodeID(3)})

	if decision.Deliver || len(decision.Forward) != 0 {
		t.Fatalf("expected reflection to be dropped entirely, got %+v", decision)
	}
}

func TestRouteTTLZeroDoesNotForwardButStillDelivers(t *testing.T) {
	self := nodeID(2)
	r := New(self)

	e := envelope(nodeID(1), self, 0)
	decision := r.Route(e, nodeID(3), []identity.NodeId{nodeID(3), nodeID(4)})

	if !decision.Deliver {
		t.Fatal("expected local delivery even at ttl 0")
	}
	if len(decision.Forward) != 0 {
		t.Fatalf("expected no forwarding at ttl 0, got %+v", decision.Forward)
	}
}

func TestRouteExcludesArrivalPathAndOrigin(t *testing.T) {
	self := nodeID(9)
	r := New(self)

	origin := nodeID(1)
	arrivedFrom := nodeID(2)
	peerOther := nodeID(3)

	e := envelope(origin, identity.NodeId{}, 10)
	decision := r.Route(e, arrivedFrom, []identity.NodeId{origin, arrivedFrom, peerOther})

	if len(decision.Forward) != 1 || decision.Forward[0] != peerOther {
		t.Fatalf("expected forward only to peerOther, got %+v", decision.Forward)
	}
}

func TestRouteForwardOrderIsDeterministicAscending(t *testing.T) {
	self := nodeID(9)
	r := New(self)

	e := envelope(nodeID(1), identity.NodeId{}, 10)
	decision := r.Route(e, nodeID(1), []identity.NodeId{nodeID(5), nodeID(2), nodeID(8)})

	want := []identity.NodeId{nodeID(2), nodeID(5), nodeID(8)}
	if len(decision.Forward) != len(want) {
		t.Fatalf("got %+v, want %+v", decision.Forward, want)
	}
	for i := range want {
		if decision.Forward[i] != want[i] {
			t.Fatalf("got %+v, want %+v", decision.Forward, want)
		}
	}
}

func TestThreeNodeFloodTTLDecreasesPerForward(t *testing.T) {
	// A -> B -> C, no direct A-C link. A originates a broadcast with the
	// default TTL; B forwards it on to C with TTL decremented exactly once,
	// per §4.G step 5 ("decrement ttl; forward").
	originTTL := wire.DefaultTTL(wire.TypePublicBroadcast)

	a := nodeID(1)
	b := nodeID(2)
	c := nodeID(3)

	e := wire.New(wire.TypePublicBroadcast, a, identity.NodeId{}, []byte("hello"))
	e.TTL = originTTL

	// B receives from A.
	routerB := New(b)
	decisionB := routerB.Route(e, a, []identity.NodeId{a, c})
	if !decisionB.Deliver {
		t.Fatal("expected B to deliver the broadcast")
	}
	if len(decisionB.Forward) != 1 || decisionB.Forward[0] != c {
		t.Fatalf("expected B to forward only to C, got %+v", decisionB.Forward)
	}

	forwardedTTL := ForwardedTTL(e)
	e2 := wire.New(wire.TypePublicBroadcast, a, identity.NodeId{}, []byte("hello"))
	e2.TTL = forwardedTTL
	e2.MsgID = e.MsgID

	// C receives the envelope B forwarded.
	routerC := New(c)
	decisionC := routerC.Route(e2, b, []identity.NodeId{a, b})
	if !decisionC.Deliver {
		t.Fatal("expected C to deliver the broadcast")
	}

	if originTTL-e2.TTL != 1 {
		t.Fatalf("expected a single decrement across the one forward hop, got origin=%d arrived=%d", originTTL, e2.TTL)
	}
}
