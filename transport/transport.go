/*
Package transport implements the Transport component (spec.md §4.E): a TCP
accept loop plus outbound connector, each connection wrapped in a framed
reader/writer pair over the Wire Codec, with a bounded, priority-dropping
outbound queue.

Grounded on the teacher's Transfer Virtual Connection.go (a goroutine reading
from an outgoing channel and forwarding to the network, torn down via a
closed termination-signal channel) and Network.go's accept/listen loop shape
(a dedicated goroutine per listening socket, logged-and-retried transient
errors, clean shutdown via a terminated flag).
*/
package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/meshrelay/core/wire"
)

// ErrQueueClosed is returned by Enqueue after the connection has closed.
var ErrQueueClosed = errors.New("transport: connection closed")

// outboundCapacity bounds the per-connection outbound queue (spec.md §4.E:
// "bounded queue ... full queue drops lowest-priority outbound envelopes
// first").
const outboundCapacity = 512

// Handler receives envelopes read off a Conn and I/O lifecycle notifications.
// It is supplied by the peer/node layer, which is the one with enough
// context (the NodeId this Conn belongs to) to update the Peer Registry.
type Handler interface {
	// OnEnvelope is called for every successfully decoded inbound envelope.
	OnEnvelope(c *Conn, e *wire.Envelope)

	// OnClose is called exactly once when the connection's I/O loops exit,
	// whether due to a local Close(), a remote close, or an I/O error.
	OnClose(c *Conn, err error)
}

// Conn wraps one raw net.Conn with framed I/O, a priority outbound queue and
// a read loop that dispatches to a Handler.
type Conn struct {
	raw     net.Conn
	handler Handler

	mutex    sync.Mutex
	outbound []queuedEnvelope // priority-ordered min-heap-free: small N, linear scan is fine
	notify   chan struct{}
	closed   bool
	done     chan struct{}

	// RemoteAddr is informational, used for logging/reconnection.
	RemoteAddr string
}

type queuedEnvelope struct {
	envelope *wire.Envelope
	priority int
}

// NewConn wraps an already-established net.Conn (either accepted or dialed)
// and starts its read and write loops.
func NewConn(raw net.Conn, handler Handler) *Conn {
	c := &Conn{
		raw:        raw,
		handler:    handler,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		RemoteAddr: raw.RemoteAddr().String(),
	}

	go c.readLoop()
	go c.writeLoop()

	return c
}

// Enqueue submits an envelope for transmission and never blocks. If the
// outbound queue is at capacity, the oldest of the lowest-priority queued
// envelopes is dropped to make room, provided it ranks strictly below e per
// wire.Priority; if no queued envelope ranks below e, e itself is discarded.
// Top-rank envelopes (priority 6, which includes the control types) are
// therefore never displaced, but a new one offered to a queue already full
// of priority-6 entries is discarded.
func (c *Conn) Enqueue(e *wire.Envelope) error {
	priority := wire.Priority(e.Type)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrQueueClosed
	}

	if len(c.outbound) >= outboundCapacity {
		if !c.dropWeakestLocked(priority) {
			// Every queued envelope already outranks this one (or ties);
			// this envelope is dropped instead of the queue.
			return nil
		}
	}

	c.outbound = append(c.outbound, queuedEnvelope{envelope: e, priority: priority})

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// dropWeakestLocked removes the single queued entry with the lowest
// priority, provided it is strictly weaker than candidatePriority. Returns
// false if no entry could be displaced (every entry is >= candidatePriority).
func (c *Conn) dropWeakestLocked(candidatePriority int) bool {
	weakestIdx := -1
	weakestPriority := candidatePriority
	for i, qe := range c.outbound {
		if qe.priority < weakestPriority {
			weakestPriority = qe.priority
			weakestIdx = i
		}
	}
	if weakestIdx == -1 {
		return false
	}
	c.outbound = append(c.outbound[:weakestIdx], c.outbound[weakestIdx+1:]...)
	return true
}

// popHighestLocked removes and returns the highest-priority queued envelope,
// with FIFO order among equal priorities (oldest first).
func (c *Conn) popHighestLocked() (*wire.Envelope, bool) {
	if len(c.outbound) == 0 {
		return nil, false
	}
	bestIdx := 0
	for i, qe := range c.outbound {
		if qe.priority > c.outbound[bestIdx].priority {
			bestIdx = i
		}
	}
	e := c.outbound[bestIdx].envelope
	c.outbound = append(c.outbound[:bestIdx], c.outbound[bestIdx+1:]...)
	return e, true
}

func (c *Conn) writeLoop() {
	for {
		c.mutex.Lock()
		e, ok := c.popHighestLocked()
		c.mutex.Unlock()

		if ok {
			if err := wire.WriteFrame(c.raw, e); err != nil {
				c.teardown(err)
				return
			}
			continue
		}

		select {
		case <-c.notify:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readLoop() {
	for {
		e, err := wire.ReadFrame(c.raw)
		if err != nil {
			c.teardown(err)
			return
		}
		c.handler.OnEnvelope(c, e)
	}
}

func (c *Conn) teardown(err error) {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mutex.Unlock()

	c.raw.Close()
	c.handler.OnClose(c, err)
}

// Close tears down the connection without reporting an error to the handler
// beyond io.EOF-equivalent; used for locally-initiated teardown (e.g. the
// Peer Registry moving a peer to closing).
func (c *Conn) Close() {
	c.teardown(nil)
}

// QueueDepth reports the number of envelopes currently queued for write,
// for stats and tests.
func (c *Conn) QueueDepth() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.outbound)
}

// Listener runs the TCP accept loop (spec.md §4.E).
type Listener struct {
	ln      net.Listener
	handler Handler
	onAccept func(*Conn)
}

// Listen opens a TCP listener on addr (e.g. ":7332") and returns a Listener.
// Call Serve to begin accepting; accepted connections are handed to
// onAccept once wrapped.
func Listen(addr string, handler Handler, onAccept func(*Conn)) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, handler: handler, onAccept: onAccept}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Transient accept errors are retried with a short backoff, matching
// the teacher's UDP listen loop discipline.
func (l *Listener) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		raw, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		l.onAccept(NewConn(raw, l.handler))
	}
}

// Close stops the listener.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Dial connects out to addr and wraps the resulting connection.
func Dial(ctx context.Context, addr string, handler Handler) (*Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(raw, handler), nil
}
