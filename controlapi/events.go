/*
Events.go fans out node.Event values to every connected collaborator
websocket, grounded on the teacher's webapi/Search.go apiSearchResultStream
(upgrade, then loop writing JSON frames until the connection breaks) combined
with Filter.go's "one internal source, many external subscribers" shape.
spec.md §4.J calls for a single in-process consumer of the Node's event
channel; broadcastLoop is that one consumer, and every websocket client
registered in Instance.wsClients gets a copy of each event, so multiple
out-of-process collaborators can watch the same node without fighting over
which one drains the channel.
*/
package controlapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meshrelay/core/node"
)

// ensureBroadcast starts the single Node-event consumer goroutine if it is
// not already running. Safe to call repeatedly (Start, and again after every
// successful /node/start, since a fresh Start call replaces the Node's
// internal event channel).
func (api *Instance) ensureBroadcast() {
	api.broadcastMu.Lock()
	defer api.broadcastMu.Unlock()
	if api.broadcastRunning {
		return
	}
	api.broadcastRunning = true
	go api.broadcastLoop()
}

func (api *Instance) broadcastLoop() {
	defer func() {
		api.broadcastMu.Lock()
		api.broadcastRunning = false
		api.broadcastMu.Unlock()
	}()

	var events <-chan node.Event
	for events == nil {
		select {
		case <-api.closeCh:
			return
		case <-time.After(100 * time.Millisecond):
			events = api.Node.Events()
		}
	}

	for {
		select {
		case <-api.closeCh:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			api.broadcast(e)
		case <-time.After(100 * time.Millisecond):
			// A fresh Node.Start replaces the event channel; follow it.
			if current := api.Node.Events(); current != nil {
				events = current
			}
		}
	}
}

func (api *Instance) broadcast(e node.Event) {
	api.wsClientsMu.Lock()
	defer api.wsClientsMu.Unlock()
	for id, c := range api.wsClients {
		if err := c.WriteJSON(e); err != nil {
			c.Close()
			delete(api.wsClients, id)
		}
	}
}

// apiEventsStream upgrades the request to a websocket and registers it as a
// broadcast target; it is torn down when the client disconnects or Close is
// called.
func (api *Instance) apiEventsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	clientID := uuid.New()
	api.wsClientsMu.Lock()
	api.wsClients[clientID] = conn
	api.wsClientsMu.Unlock()

	defer func() {
		api.wsClientsMu.Lock()
		delete(api.wsClients, clientID)
		api.wsClientsMu.Unlock()
		conn.Close()
	}()

	// Block until the client disconnects; inbound messages are not part of
	// this protocol and are simply discarded.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
