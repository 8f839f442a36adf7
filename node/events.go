/*
Events.go implements the Node Controller's outbound event surface (spec.md
§4.J/§6.1): a bounded queue that a collaborator either polls or subscribes
to, lossless up to capacity, with a never-drop set (SOS, CallIncoming,
PeerConnected/Disconnected) per spec.md §4.J.

Grounded on the teacher's Filter.go multiWriter (subscribe/unsubscribe of
consumers under a mutex) generalized from "broadcast to every subscriber"
to "single bounded consumer queue with priority eviction", since spec.md
calls for exactly one in-process consumer rather than the teacher's N
debug-output subscribers.
*/
package node

import (
	"sync"

	"github.com/meshrelay/core/audio"
	"github.com/meshrelay/core/filetransfer"
	"github.com/meshrelay/core/identity"
)

// EventKind tags the variant carried by an Event (spec.md §9: tagged variant
// dispatch, one case per type, extended by adding cases rather than
// open-ended inheritance).
type EventKind string

const (
	EventStarted                 EventKind = "Started"
	EventStopped                 EventKind = "Stopped"
	EventPeerConnected            EventKind = "PeerConnected"
	EventPeerDisconnected         EventKind = "PeerDisconnected"
	EventMessageReceived          EventKind = "MessageReceived"
	EventPublicBroadcastReceived  EventKind = "PublicBroadcastReceived"
	EventSOSReceived              EventKind = "SOSReceived"
	EventFileOffered              EventKind = "FileOffered"
	EventFileProgress             EventKind = "FileProgress"
	EventFileComplete             EventKind = "FileComplete"
	EventFileAborted              EventKind = "FileAborted"
	EventVoiceReceived            EventKind = "VoiceReceived"
	EventCallIncoming             EventKind = "CallIncoming"
	EventAudioFrameReceived       EventKind = "AudioFrameReceived"
	EventCallEnded                EventKind = "CallEnded"
	EventProfileUpdated           EventKind = "ProfileUpdated"
	EventGatewayFound             EventKind = "GatewayFound"
	EventGatewayLost              EventKind = "GatewayLost"
	EventStats                    EventKind = "Stats"
	EventNuked                    EventKind = "Nuked"
)

// neverDrop is the set of event kinds spec.md §4.J says must never be
// dropped from the bounded queue under overflow.
var neverDrop = map[EventKind]bool{
	EventSOSReceived:      true,
	EventCallIncoming:     true,
	EventPeerConnected:    true,
	EventPeerDisconnected: true,
}

// Event is the single tagged-variant envelope delivered to the collaborator.
// Kind selects which of the fields below are populated (e.g. an SOSReceived
// event fills Peer, Text, Lat and Lon); the rest keep their zero values.
type Event struct {
	Kind EventKind

	Peer           identity.NodeId
	PeerName       string
	Text           string
	Lat, Lon       float64
	FileID         filetransfer.FileID
	Filename       string
	FileSize       uint64
	Progress       filetransfer.Progress
	PCM            []byte
	DurationMs     uint32
	CallID         audio.CallID
	Bio            string
	Stats          Stats
	Err            error
}

// eventQueueCapacity bounds the collaborator-facing event queue (spec.md
// §4.J: "the event queue is bounded").
const eventQueueCapacity = 1024

// eventQueue is the single in-process consumer channel described by spec.md
// §4.J/§6.1: a collaborator may poll (drain the channel) or subscribe (range
// over it); either way delivery is lossless up to capacity, and overflow
// drops the oldest droppable (non-never-drop) event to make room.
type eventQueue struct {
	mutex  sync.Mutex
	buf    []Event
	notify chan struct{}
	out    chan Event
	done   chan struct{}
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		notify: make(chan struct{}, 1),
		out:    make(chan Event, 1),
		done:   make(chan struct{}),
	}
	go q.pump()
	return q
}

// push enqueues an event. At capacity, the oldest droppable queued event is
// removed to make room, whatever the kind of the new event; if every queued
// event is never-drop, a droppable new event is discarded, while a never-drop
// one is appended and the queue grows past capacity.
func (q *eventQueue) push(e Event) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.buf) >= eventQueueCapacity {
		if idx := q.oldestDroppableLocked(); idx >= 0 {
			q.buf = append(q.buf[:idx], q.buf[idx+1:]...)
		} else if !neverDrop[e.Kind] {
			// Queue is full of never-drop events and this one is droppable:
			// drop the incoming event instead of growing unboundedly.
			return
		}
	}

	q.buf = append(q.buf, e)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) oldestDroppableLocked() int {
	for i, e := range q.buf {
		if !neverDrop[e.Kind] {
			return i
		}
	}
	return -1
}

// pump drains the internal buffer into the single-consumer output channel,
// so Events() can be ranged over directly without the producer blocking on
// slow consumers beyond the bounded buffer above.
func (q *eventQueue) pump() {
	for {
		q.mutex.Lock()
		var e Event
		have := false
		if len(q.buf) > 0 {
			e = q.buf[0]
			q.buf = q.buf[1:]
			have = true
		}
		q.mutex.Unlock()

		if have {
			select {
			case q.out <- e:
			case <-q.done:
				return
			}
			continue
		}

		select {
		case <-q.notify:
		case <-q.done:
			return
		}
	}
}

// Events returns the channel a collaborator ranges over (push model) or
// receives from in a loop (poll model); both are the same channel.
func (q *eventQueue) Events() <-chan Event {
	return q.out
}

func (q *eventQueue) close() {
	close(q.done)
}
