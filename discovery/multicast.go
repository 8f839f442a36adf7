/*
Multicast.go is the optional IPv6 site-local multicast discovery path,
grounded on the teacher's Network IPv6 Multicast.go: join a fixed multicast
group on every usable interface via golang.org/x/net/ipv6, with loopback
enabled so two local processes on the same machine can discover each other,
the same reason the teacher gives for enabling loopback.

This path is optional and additive; spec.md §4.D only requires the IPv4
broadcast path above, so a join failure here (e.g. no IPv6 support on the
host) is never fatal to Discovery as a whole.
*/
package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/ipv6"
)

type multicastV6 struct {
	conn      *net.UDPConn
	pc        *ipv6.PacketConn
	group     *net.UDPAddr
	onPacket  func(raw []byte)
}

func newMulticastV6(port int, onPacket func(raw []byte)) (*multicastV6, error) {
	lc := net.ListenConfig{Control: controlReusePort}
	pconn, err := lc.ListenPacket(context.Background(), "udp6", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	conn := pconn.(*net.UDPConn)

	pc := ipv6.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(ipv6MulticastGroup), Port: port}

	ifaces, _ := net.Interfaces()
	joined := false
	for i := range ifaces {
		if ifaces[i].Flags&net.FlagMulticast == 0 || ifaces[i].Flags&net.FlagUp == 0 {
			continue
		}
		if err := pc.JoinGroup(&ifaces[i], group); err == nil {
			joined = true
		}
	}
	if !joined {
		conn.Close()
		return nil, errNoMulticastInterface
	}

	if loop, err := pc.MulticastLoopback(); err == nil && !loop {
		pc.SetMulticastLoopback(true)
	}

	return &multicastV6{conn: conn, pc: pc, group: group, onPacket: onPacket}, nil
}

var errNoMulticastInterface = errMulticast("discovery: no usable IPv6 multicast interface")

type errMulticast string

func (e errMulticast) Error() string { return string(e) }

func (m *multicastV6) run(ctx context.Context, buildPacket func() []byte, interval time.Duration) {
	go m.listen(ctx)

	m.send(buildPacket())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.send(buildPacket())
		}
	}
}

func (m *multicastV6) send(packet []byte) {
	m.conn.WriteTo(packet, m.group)
}

func (m *multicastV6) listen(ctx context.Context) {
	buf := make([]byte, 2048)
	for {
		n, _, err := m.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		m.onPacket(append([]byte(nil), buf[:n]...))
	}
}

func (m *multicastV6) close() {
	m.conn.Close()
}
