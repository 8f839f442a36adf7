/*
Package node implements the Node Controller (spec.md §4.J): the event loop
that wires Identity, Session Crypto, the Wire Codec, Discovery, Transport,
the Peer Registry, the Router, File Transfer, and Audio Streams together, and
exposes the collaborator-facing command/event API of §4.J/§6.1.

Grounded on the teacher's Peernet.go (a Backend struct holding every
subsystem, an Init that wires them in dependency order, a Connect that
starts the background loops) and Commands.go (per-peer message dispatch) and
Filter.go (the Filters hook struct, see filters.go). Like the teacher's
Backend, a Node is an explicit handle rather than a package-level singleton,
so multiple instances can coexist in one process for tests (spec.md §9).
*/
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshrelay/core/audio"
	"github.com/meshrelay/core/config"
	"github.com/meshrelay/core/discovery"
	"github.com/meshrelay/core/filetransfer"
	"github.com/meshrelay/core/identity"
	"github.com/meshrelay/core/peer"
	"github.com/meshrelay/core/router"
	"github.com/meshrelay/core/session"
	"github.com/meshrelay/core/store"
	"github.com/meshrelay/core/transport"
)

// Heartbeat and handshake timing constants from spec.md §4.F/§5.
const (
	pingInterval      = 10 * time.Second
	heartbeatTimeout  = 30 * time.Second
	handshakeTimeout  = 10 * time.Second
	stopGracePeriod   = 2 * time.Second
	dedupSweepPeriod  = 30 * time.Second
	expireSweepPeriod = 5 * time.Second
)

// Node is the explicit handle a collaborator holds for one mesh engine
// instance. Two Nodes with distinct ports/dataDirs may coexist in the same
// process (spec.md §9's multi-instance-per-process requirement for tests).
type Node struct {
	mu      sync.RWMutex
	running bool

	cfg     *config.Config
	filters Filters

	id       *identity.Identity
	registry *peer.Registry
	router   *router.Router
	events   *eventQueue
	blacklist *blacklist
	audio    *audio.Manager

	listener  *transport.Listener
	announcer *discovery.Announcer

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connPeers  sync.Map // *transport.Conn -> identity.NodeId
	handshakes sync.Map // *transport.Conn -> *handshakeState

	transfersMu sync.Mutex
	outgoing    map[filetransfer.FileID]*outgoingTransfer
	incoming    map[filetransfer.FileID]*incomingTransfer

	gatewayMu    sync.Mutex
	gatewayPeers map[identity.NodeId]bool

	startedAt time.Time

	messagesRouted uint64
	bytesRelayed   uint64
}

// New creates a Node that is not yet started. filters may be the zero value.
func New(filters Filters) *Node {
	filters.init()
	return &Node{filters: filters}
}

// handshakeState tracks the ephemeral keypair and nonce prefixes for a
// connection's in-progress key exchange (spec.md §4.B).
type handshakeState struct {
	ephemeral     *session.EphemeralKeyPair
	sendPrefix    uint32
	remotePublic  [session.KeySize]byte
	remotePrefix  uint32
	haveRemote    bool
	deadline      time.Time
}

type outgoingTransfer struct {
	transfer *filetransfer.Outgoing
	dest     identity.NodeId
	source   filetransfer.ReaderAtCloser
}

type incomingTransfer struct {
	transfer *filetransfer.Incoming
	origin   identity.NodeId
}

// Start brings up the full stack: Identity load-or-create, the Peer
// Registry, the Router, the blacklist store, the TCP listener, and
// Discovery. Per spec.md §7, identity and discovery failures at start are
// fatal (ConfigError); everything else afterward is contained per-peer.
func (n *Node) Start(cfg *config.Config) (<-chan Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return nil, ErrNotRunning // already running: StateError, no side effects
	}
	if cfg == nil || cfg.DataDir == "" {
		return nil, &ConfigError{Err: errors.New("data directory must not be empty")}
	}
	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		return nil, &ConfigError{Err: errors.New("listen port out of range")}
	}

	id, err := identity.LoadOrCreate(cfg.DataDir)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	n.cfg = cfg
	n.id = id
	n.registry = peer.NewRegistry(id.NodeId())
	n.router = router.New(id.NodeId())
	n.events = newEventQueue()
	n.audio = audio.NewManager()
	n.outgoing = make(map[filetransfer.FileID]*outgoingTransfer)
	n.incoming = make(map[filetransfer.FileID]*incomingTransfer)
	n.gatewayPeers = make(map[identity.NodeId]bool)
	n.startedAt = time.Now()

	var db store.Store
	if cfg.BlacklistPath != "" {
		db, err = store.NewPogrebStore(cfg.BlacklistPath)
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
	} else {
		db = store.NewMemoryStore()
	}
	n.blacklist = newBlacklist(db)

	listener, err := transport.Listen(fmt.Sprintf(":%d", cfg.ListenPort), n, n.onAccept)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	n.listener = listener

	ctx, cancel := context.WithCancel(context.Background())
	n.runCtx = ctx
	n.cancel = cancel

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		listener.Serve(ctx)
	}()

	discoveryPort := cfg.DiscoveryPort
	if discoveryPort <= 0 {
		discoveryPort = discovery.Port
	}
	discoveryInterval := discovery.Interval
	if cfg.DiscoveryIntervalSeconds > 0 {
		discoveryInterval = time.Duration(cfg.DiscoveryIntervalSeconds) * time.Second
	}

	n.announcer = discovery.New(discovery.Options{
		Self:        id.NodeId(),
		DisplayName: cfg.DisplayName,
		ListenPort:  uint16(cfg.ListenPort),
		IsGateway:   cfg.IsGateway,
		Interval:    discoveryInterval,
		Port:        discoveryPort,
		OnArrival:   n.onArrival,
	})

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.announcer.Run(ctx); err != nil {
			n.filters.LogError("Start", "discovery: %v", err)
		}
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.heartbeatLoop(ctx)
	}()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.maintenanceLoop(ctx)
	}()

	for _, seed := range cfg.SeedList {
		seed := seed
		go n.dialSeed(ctx, seed)
	}

	n.running = true
	n.events.push(Event{Kind: EventStarted})

	return n.events.Events(), nil
}

// Stop drains outbound queues with a 2-second grace period then closes every
// socket (spec.md §5's cancellation policy).
func (n *Node) Stop() Result {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return ResultNotRunning
	}
	n.running = false
	cancel := n.cancel
	listener := n.listener
	reg := n.registry
	n.mu.Unlock()

	time.Sleep(stopGracePeriod)

	cancel()
	if listener != nil {
		listener.Close()
	}
	for _, p := range reg.All() {
		if c := p.Conn(); c != nil {
			c.Close()
		}
	}

	n.wg.Wait()

	n.blacklist.Close()
	n.events.push(Event{Kind: EventStopped})
	n.events.close()

	return ResultOK
}

// IsRunning reports whether Start has completed and Stop has not yet been
// called.
func (n *Node) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// NodeId returns the node's own identifier (the get_node_id command).
func (n *Node) NodeId() (identity.NodeId, Result) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.running {
		return identity.NodeId{}, ResultNotRunning
	}
	return n.id.NodeId(), ResultOK
}

// Events returns the channel a collaborator (or controlapi's broadcast loop)
// drains events from. It is nil until Start has completed.
func (n *Node) Events() <-chan Event {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.events == nil {
		return nil
	}
	return n.events.Events()
}

// GetStats implements the get_stats command.
func (n *Node) GetStats() (Stats, Result) {
	n.mu.RLock()
	running := n.running
	n.mu.RUnlock()
	if !running {
		return Stats{}, ResultNotRunning
	}

	stats := Stats{
		NodeID:           n.id.NodeId().String(),
		PeerCount:        n.registry.Count(),
		EstablishedCount: len(n.registry.Established()),
		BytesRelayed:     atomic.LoadUint64(&n.bytesRelayed),
		MessagesRouted:   atomic.LoadUint64(&n.messagesRouted),
		UptimeSeconds:    int64(time.Since(n.startedAt).Seconds()),
	}
	n.events.push(Event{Kind: EventStats, Stats: stats})
	return stats, ResultOK
}

// Nuke implements the nuke command (spec.md §4.A): deletes the on-disk
// identity, zeroes the in-memory key, and requests a node shutdown.
func (n *Node) Nuke() Result {
	n.mu.RLock()
	running := n.running
	id := n.id
	n.mu.RUnlock()
	if !running {
		return ResultNotRunning
	}

	if err := id.Nuke(); err != nil {
		n.filters.LogError("Nuke", "%v", err)
	}
	n.events.push(Event{Kind: EventNuked})
	n.Stop()
	return ResultOK
}

func (n *Node) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range n.registry.Established() {
				p, ok := n.registry.Get(id)
				if !ok {
					continue
				}
				n.sendPing(p)
			}
		}
	}
}

func (n *Node) maintenanceLoop(ctx context.Context) {
	expireTicker := time.NewTicker(expireSweepPeriod)
	dedupTicker := time.NewTicker(dedupSweepPeriod)
	defer expireTicker.Stop()
	defer dedupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expireTicker.C:
			for _, id := range n.registry.ExpireHeartbeats(heartbeatTimeout) {
				if p, ok := n.registry.Get(id); ok {
					n.closePeer(p, "heartbeat timeout")
				}
			}
			n.sweepHandshakes()
		case <-dedupTicker.C:
			n.router.Dedup().Sweep()
		}
	}
}

func (n *Node) dialSeed(ctx context.Context, seed config.PeerSeed) {
	id, err := identity.ParseNodeId(seed.NodeID)
	if err != nil {
		n.filters.LogError("dialSeed", "invalid seed NodeID %q: %v", seed.NodeID, err)
		return
	}
	if _, ok := n.registry.Get(id); ok {
		return
	}
	n.connectTo(ctx, id, seed.Address)
}
