package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/meshrelay/core/identity"
	"github.com/meshrelay/core/wire"
)

type recordingHandler struct {
	mutex     sync.Mutex
	envelopes []*wire.Envelope
	closed    bool
	closeErr  error
	received  chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{received: make(chan struct{}, 64)}
}

func (h *recordingHandler) OnEnvelope(c *Conn, e *wire.Envelope) {
	h.mutex.Lock()
	h.envelopes = append(h.envelopes, e)
	h.mutex.Unlock()
	h.received <- struct{}{}
}

func (h *recordingHandler) OnClose(c *Conn, err error) {
	h.mutex.Lock()
	h.closed = true
	h.closeErr = err
	h.mutex.Unlock()
}

func (h *recordingHandler) count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.envelopes)
}

func pipeConns(t *testing.T) (serverHandler, clientHandler *recordingHandler, serverConn, clientConn *Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverHandler = newRecordingHandler()
	clientHandler = newRecordingHandler()

	var serverRaw net.Conn
	acceptDone := make(chan struct{})
	go func() {
		serverRaw, _ = ln.Accept()
		close(acceptDone)
	}()

	clientRaw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	<-acceptDone

	serverConn = NewConn(serverRaw, serverHandler)
	clientConn = NewConn(clientRaw, clientHandler)
	return
}

func TestConnRoundTripsEnvelope(t *testing.T) {
	serverHandler, _, serverConn, clientConn := pipeConns(t)
	defer serverConn.Close()
	defer clientConn.Close()

	var origin identity.NodeId
	origin[0] = 1
	e := wire.New(wire.TypeText, origin, identity.NodeId{}, []byte("hi"))

	if err := clientConn.Enqueue(e); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-serverHandler.received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}

	if serverHandler.count() != 1 {
		t.Fatalf("expected 1 envelope received, got %d", serverHandler.count())
	}
}

func TestConnCloseNotifiesHandler(t *testing.T) {
	serverHandler, _, serverConn, clientConn := pipeConns(t)
	defer serverConn.Close()

	clientConn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		serverHandler.mutex.Lock()
		closed := serverHandler.closed
		serverHandler.mutex.Unlock()
		if closed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected server handler to observe remote close")
}

func TestEnqueueDropsLowestPriorityWhenFull(t *testing.T) {
	c := &Conn{notify: make(chan struct{}, 1), done: make(chan struct{})}

	var origin identity.NodeId
	audioEnvelope := wire.New(wire.TypeAudioFrame, origin, identity.NodeId{}, []byte("a"))
	sosEnvelope := wire.New(wire.TypeSOS, origin, identity.NodeId{}, []byte("s"))

	for i := 0; i < outboundCapacity; i++ {
		c.outbound = append(c.outbound, queuedEnvelope{envelope: audioEnvelope, priority: wire.Priority(wire.TypeAudioFrame)})
	}

	if err := c.Enqueue(sosEnvelope); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(c.outbound) != outboundCapacity {
		t.Fatalf("expected queue to stay at capacity, got %d", len(c.outbound))
	}

	foundSOS := false
	for _, qe := range c.outbound {
		if qe.envelope == sosEnvelope {
			foundSOS = true
		}
	}
	if !foundSOS {
		t.Fatal("expected SOS envelope to displace a lower-priority audio frame")
	}
}

func TestEnqueueNeverDropsControlForControl(t *testing.T) {
	c := &Conn{notify: make(chan struct{}, 1), done: make(chan struct{})}

	var origin identity.NodeId
	ping := wire.New(wire.TypePing, origin, identity.NodeId{}, nil)

	for i := 0; i < outboundCapacity; i++ {
		c.outbound = append(c.outbound, queuedEnvelope{envelope: ping, priority: wire.Priority(wire.TypePing)})
	}

	newPing := wire.New(wire.TypePing, origin, identity.NodeId{}, nil)
	if err := c.Enqueue(newPing); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if len(c.outbound) != outboundCapacity {
		t.Fatalf("expected queue to remain at capacity, got %d", len(c.outbound))
	}
}

func TestListenAndDial(t *testing.T) {
	handler := newRecordingHandler()
	ln, err := Listen("127.0.0.1:0", handler, func(c *Conn) {})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ln.Serve(ctx)

	conn, err := Dial(ctx, ln.Addr().String(), handler)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
}
