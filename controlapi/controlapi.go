/*
Package controlapi is the optional local control surface named in
SPEC_FULL.md's DOMAIN STACK: a loopback-only HTTP+WS front door over a
node.Node, for a collaborator that cannot or does not want to link the Go
module directly (SPEC_FULL.md's "GUI shell in a different process/language"
note on top of spec.md §9's FFI remark).

Grounded on the teacher's webapi/API.go: a WebapiInstance holding the
Backend handle and a gorilla/mux Router, an optional API-key middleware, and
one handler per command. This package mirrors that shape one-for-one against
node.Node instead of core.Backend, and narrows Start to loopback addresses
only since there is no Peernet-style remote web UI use case here — every
collaborator of this control surface runs on the same machine.
*/
package controlapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/meshrelay/core/node"
)

// Instance is the running control API front door for one Node.
type Instance struct {
	Node   *node.Node
	Router *mux.Router

	server  *http.Server
	closeCh chan struct{}

	wsClientsMu sync.Mutex
	wsClients   map[uuid.UUID]*websocket.Conn

	broadcastMu      sync.Mutex
	broadcastRunning bool
}

// wsUpgrader allows all origins, consistent with the teacher's WSUpgrader:
// this is a loopback-only surface, there is no cross-origin browser threat
// model to defend against.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Start brings up the control API on listenAddr, which must resolve to a
// loopback address (127.0.0.0/8 or ::1) — this surface assumes a
// same-machine collaborator process, unlike the teacher's webapi which binds
// arbitrary listen addresses for a remote-reachable UI. If apiKey is not
// uuid.Nil, every request must carry a matching x-api-key header, mirroring
// the teacher's authenticateMiddleware.
func Start(n *node.Node, listenAddr string, apiKey uuid.UUID) (*Instance, error) {
	if err := requireLoopback(listenAddr); err != nil {
		return nil, err
	}

	api := &Instance{
		Node:      n,
		Router:    mux.NewRouter(),
		closeCh:   make(chan struct{}),
		wsClients: make(map[uuid.UUID]*websocket.Conn),
	}

	if apiKey != uuid.Nil {
		api.Router.Use(api.authenticateMiddleware(apiKey))
	}

	api.registerRoutes()

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	api.server = &http.Server{
		Addr:         listenAddr,
		Handler:      api.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the events WS handler blocks for the life of the connection
		TLSConfig:    tlsConfig,
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := api.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			n.LogError("controlapi", "serve %s: %v", listenAddr, err)
		}
	}()

	api.ensureBroadcast()

	return api, nil
}

// Close shuts down the HTTP server, stops the event broadcast loop, and
// closes every open event-stream websocket.
func (api *Instance) Close() error {
	close(api.closeCh)

	api.wsClientsMu.Lock()
	for id, c := range api.wsClients {
		c.Close()
		delete(api.wsClients, id)
	}
	api.wsClientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return api.server.Shutdown(ctx)
}

func requireLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("controlapi: invalid listen address %q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("controlapi: listen address %q must bind a loopback host, not all interfaces", addr)
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("controlapi: listen address %q is not loopback-only", addr)
	}
	return nil
}

func (api *Instance) authenticateMiddleware(apiKey uuid.UUID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID, err := uuid.Parse(r.Header.Get("x-api-key"))
			if err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if keyID != apiKey {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (api *Instance) registerRoutes() {
	api.Router.HandleFunc("/test", apiTest).Methods("GET")

	api.Router.HandleFunc("/node/start", api.apiStart).Methods("POST")
	api.Router.HandleFunc("/node/stop", api.apiStop).Methods("POST")
	api.Router.HandleFunc("/node/id", api.apiNodeId).Methods("GET")
	api.Router.HandleFunc("/node/stats", api.apiStats).Methods("GET")
	api.Router.HandleFunc("/node/nuke", api.apiNuke).Methods("POST")

	api.Router.HandleFunc("/send/text", api.apiSendText).Methods("POST")
	api.Router.HandleFunc("/send/direct", api.apiSendDirect).Methods("POST")
	api.Router.HandleFunc("/send/public_broadcast", api.apiSendPublicBroadcast).Methods("POST")
	api.Router.HandleFunc("/send/sos", api.apiSendSOS).Methods("POST")
	api.Router.HandleFunc("/profile/update", api.apiUpdateProfile).Methods("POST")

	api.Router.HandleFunc("/file/send", api.apiSendFile).Methods("POST")
	api.Router.HandleFunc("/file/accept", api.apiAcceptFile).Methods("POST")
	api.Router.HandleFunc("/file/decline", api.apiDeclineFile).Methods("POST")

	api.Router.HandleFunc("/node/banned", api.apiListBanned).Methods("GET")
	api.Router.HandleFunc("/node/unban", api.apiUnbanPeer).Methods("POST")

	api.Router.HandleFunc("/voice/send", api.apiSendVoice).Methods("POST")
	api.Router.HandleFunc("/call/start", api.apiStartCall).Methods("POST")
	api.Router.HandleFunc("/call/end", api.apiEndCall).Methods("POST")
	api.Router.HandleFunc("/call/audio_frame", api.apiSendAudioFrame).Methods("POST")

	api.Router.HandleFunc("/events/ws", api.apiEventsStream).Methods("GET")
}

func apiTest(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
