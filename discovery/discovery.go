/*
Package discovery implements the Discovery component (spec.md §4.D): periodic
UDv4 broadcast announcements on port 7331, a listener that turns every
announcement from another NodeId into an arrival notice, and an optional IPv6 multicast path for
interfaces that prefer it.

Grounded on the teacher's Network IPv4 Broadcast.go (directed-broadcast
address computation per local interface, BroadcastIPv4Listen/Send loop shape)
and Network IPv6 Multicast.go (site-local multicast group join via
golang.org/x/net/ipv6, loopback enabled so two local processes can discover
each other). Unlike the teacher, which encrypts its announcement payload to a
hard-coded discovery keypair, this Discovery sends its packet in the clear:
discovery never establishes a session (spec.md §4.D — "Discovery never
establishes sessions, it only surfaces candidates"), so there is no secret to
protect at this layer; Session Crypto's real ECDH handshake happens only once
Transport actually connects.
*/
package discovery

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/meshrelay/core/identity"
)

// Port is the UDP discovery port from spec.md §6.2.
const Port = 7331

// Interval is the default announce period from spec.md §4.D.
const Interval = 5 * time.Second

// magic is the 4-byte tag identifying a mesh announcement packet, so stray
// UDP traffic on the port does not get parsed as a malformed announcement.
var magic = [4]byte{'M', 'S', 'H', 'R'}

// protocolVersion is carried in every announcement so future incompatible
// wire changes can be detected; this is the "node version" field spec.md
// §4.D names.
const protocolVersion = 1

const ipv6MulticastGroup = "ff05::4d53"

var errBadMagic = errors.New("discovery: bad magic")
var errTruncated = errors.New("discovery: truncated announcement")

// Announcement is the decoded UDP discovery packet (spec.md §4.D).
type Announcement struct {
	Version     uint8
	NodeID      identity.NodeId
	DisplayName string
	ListenPort  uint16
	IsGateway   bool
}

func encodeAnnouncement(a Announcement) []byte {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(a.Version)
	buf.Write(a.NodeID[:])

	name := []byte(a.DisplayName)
	var nameLen [2]byte
	binary.BigEndian.PutUint16(nameLen[:], uint16(len(name)))
	buf.Write(nameLen[:])
	buf.Write(name)

	var port [2]byte
	binary.BigEndian.PutUint16(port[:], a.ListenPort)
	buf.Write(port[:])

	if a.IsGateway {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func decodeAnnouncement(raw []byte) (Announcement, error) {
	if len(raw) < 4+1+identity.NodeIdSize+2 {
		return Announcement{}, errTruncated
	}
	if !bytes.Equal(raw[0:4], magic[:]) {
		return Announcement{}, errBadMagic
	}

	pos := 4
	a := Announcement{Version: raw[pos]}
	pos++

	copy(a.NodeID[:], raw[pos:pos+identity.NodeIdSize])
	pos += identity.NodeIdSize

	if len(raw)-pos < 2 {
		return Announcement{}, errTruncated
	}
	nameLen := int(binary.BigEndian.Uint16(raw[pos : pos+2]))
	pos += 2

	if len(raw)-pos < nameLen+2+1 {
		return Announcement{}, errTruncated
	}
	a.DisplayName = string(raw[pos : pos+nameLen])
	pos += nameLen

	a.ListenPort = binary.BigEndian.Uint16(raw[pos : pos+2])
	pos += 2

	a.IsGateway = raw[pos] != 0
	return a, nil
}

// Arrival is delivered to the Node Controller for every announcement whose
// NodeId is not this node's own; Discovery keeps no record of which NodeIds
// it has seen before and itself never establishes a session (spec.md §4.D).
type Arrival struct {
	Announcement Announcement
	Addr         *net.UDPAddr
}

// Announcer owns the UDP broadcast socket: it periodically sends this node's
// announcement and listens for others, invoking OnArrival for every
// announcement from a NodeId other than Self. It is safe to run multiple Announcers in one process (each
// with a distinct self NodeId) for tests, per the project's multi-instance
// design note.
type Announcer struct {
	self        identity.NodeId
	displayName string
	listenPort  uint16
	isGateway   bool
	interval    time.Duration
	port        int

	enableIPv6Multicast bool
	onArrival           func(Arrival)

	mutex     sync.Mutex
	conn      *net.UDPConn
	multicast *multicastV6
}

// Options configures a new Announcer.
type Options struct {
	Self        identity.NodeId
	DisplayName string
	ListenPort  uint16
	IsGateway   bool

	// Interval overrides the default 5s announce period; zero means default.
	Interval time.Duration
	// Port overrides the default discovery port 7331; zero means default.
	Port int

	// EnableIPv6Multicast additionally joins a site-local IPv6 multicast
	// group for interfaces that prefer it over broadcast, per the teacher's
	// IPv6 path. IPv4 broadcast (spec.md §4.D's mandated behavior) always
	// runs regardless of this flag.
	EnableIPv6Multicast bool

	OnArrival func(Arrival)
}

// New creates an Announcer. Call Run to start broadcasting and listening.
func New(opts Options) *Announcer {
	interval := opts.Interval
	if interval <= 0 {
		interval = Interval
	}
	port := opts.Port
	if port <= 0 {
		port = Port
	}
	onArrival := opts.OnArrival
	if onArrival == nil {
		onArrival = func(Arrival) {}
	}

	return &Announcer{
		self:                opts.Self,
		displayName:         opts.DisplayName,
		listenPort:          opts.ListenPort,
		isGateway:           opts.IsGateway,
		interval:            interval,
		port:                port,
		enableIPv6Multicast: opts.EnableIPv6Multicast,
		onArrival:           onArrival,
	}
}

// Run opens the broadcast socket, starts the listen loop and the periodic
// announce loop, and blocks until ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) error {
	lc := net.ListenConfig{Control: controlReusePort}
	pconn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("", strconv.Itoa(a.port)))
	if err != nil {
		return err
	}
	conn := pconn.(*net.UDPConn)

	a.mutex.Lock()
	a.conn = conn
	a.mutex.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		a.listenLoop(ctx, conn)
	}()
	go func() {
		defer wg.Done()
		a.announceLoop(ctx, conn)
	}()

	if a.enableIPv6Multicast {
		mc, err := newMulticastV6(a.port, func(raw []byte) {
			announcement, err := decodeAnnouncement(raw)
			if err != nil || announcement.NodeID == a.self {
				return
			}
			a.onArrival(Arrival{Announcement: announcement})
		})
		if err == nil {
			a.mutex.Lock()
			a.multicast = mc
			a.mutex.Unlock()

			wg.Add(1)
			go func() {
				defer wg.Done()
				mc.run(ctx, func() []byte {
					return encodeAnnouncement(Announcement{
						Version:     protocolVersion,
						NodeID:      a.self,
						DisplayName: a.displayName,
						ListenPort:  a.listenPort,
						IsGateway:   a.isGateway,
					})
				}, a.interval)
			}()
		}
		// A multicast setup failure is not fatal: IPv4 broadcast (mandatory
		// per spec.md §4.D) is already running above.
	}

	<-ctx.Done()
	conn.Close()
	if a.multicast != nil {
		a.multicast.close()
	}
	wg.Wait()
	return nil
}

func (a *Announcer) announceLoop(ctx context.Context, conn *net.UDPConn) {
	a.sendAnnouncement(conn)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sendAnnouncement(conn)
		}
	}
}

func (a *Announcer) sendAnnouncement(conn *net.UDPConn) {
	packet := encodeAnnouncement(Announcement{
		Version:     protocolVersion,
		NodeID:      a.self,
		DisplayName: a.displayName,
		ListenPort:  a.listenPort,
		IsGateway:   a.isGateway,
	})

	for _, ip := range broadcastAddresses() {
		dst := &net.UDPAddr{IP: ip, Port: a.port}
		conn.WriteTo(packet, dst)
	}
}

func (a *Announcer) listenLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		announcement, err := decodeAnnouncement(buf[:n])
		if err != nil {
			continue // malformed or foreign UDP traffic on this port; ignore
		}
		if announcement.NodeID == a.self {
			continue // ignore our own announcements
		}

		a.onArrival(Arrival{Announcement: announcement, Addr: addr})
	}
}

// broadcastAddresses enumerates the directed broadcast address of every
// usable IPv4 interface that supports broadcast, plus the universal
// 255.255.255.255 fallback, matching the teacher's
// networkToIPv4BroadcastIPs/ipv4DirectedBroadcast shape.
func broadcastAddresses() []net.IP {
	addrs := []net.IP{net.IPv4bcast}

	ifaces, err := net.Interfaces()
	if err != nil {
		return addrs
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addresses, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, address := range addresses {
			ipnet, ok := address.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			if directed := directedBroadcast(ipnet); directed != nil {
				addrs = append(addrs, directed)
			}
		}
	}
	return addrs
}

func directedBroadcast(n *net.IPNet) net.IP {
	ip4 := n.IP.To4()
	if ip4 == nil {
		return nil
	}
	last := make(net.IP, len(ip4))
	copy(last, ip4)
	for i := range ip4 {
		last[i] |= ^n.Mask[i]
	}
	return last
}
