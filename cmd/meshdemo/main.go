/*
Command meshdemo is a minimal collaborator binary over package node, the kind
of small example spec.md §6.4 expects every core-library consumer to bring
itself ("No core CLI; the collaborator binary parses its own"). It links
node.Node directly rather than going through controlapi, reads line commands
from stdin, and prints every Event as it arrives.
*/
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/meshrelay/core/config"
	"github.com/meshrelay/core/identity"
	"github.com/meshrelay/core/node"
)

func main() {
	name := flag.String("name", "anonymous", "display name")
	port := flag.Int("port", config.DefaultListenPort, "listen port")
	dataDir := flag.String("datadir", "./meshrelay-data", "data directory")
	gateway := flag.Bool("gateway", false, "advertise as a gateway")
	flag.Parse()

	n := node.New(node.Filters{
		LogError: func(function, format string, args ...interface{}) {
			log.Printf("[error] %s: "+format, append([]interface{}{function}, args...)...)
		},
		LogInfo: func(function, format string, args ...interface{}) {
			log.Printf("[info] %s: "+format, append([]interface{}{function}, args...)...)
		},
	})

	cfg := config.Default()
	cfg.DisplayName = *name
	cfg.ListenPort = *port
	cfg.DataDir = *dataDir
	cfg.IsGateway = *gateway

	events, err := n.Start(cfg)
	if err != nil {
		log.Fatalf("start: %v", err)
	}

	id, _ := n.NodeId()
	fmt.Printf("node %s listening on :%d\n", id, *port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go printEvents(events)
	go runREPL(n)

	<-sigCh
	fmt.Println("shutting down")
	n.Stop()
}

func printEvents(events <-chan node.Event) {
	for e := range events {
		switch e.Kind {
		case node.EventPeerConnected:
			fmt.Printf("* peer connected: %s\n", e.Peer)
		case node.EventPeerDisconnected:
			fmt.Printf("* peer disconnected: %s\n", e.Peer)
		case node.EventMessageReceived:
			fmt.Printf("<%s> %s\n", e.Peer, e.Text)
		case node.EventPublicBroadcastReceived:
			fmt.Printf("<%s, broadcast> %s\n", e.Peer, e.Text)
		case node.EventSOSReceived:
			fmt.Printf("!! SOS from %s: %s (%.5f, %.5f)\n", e.Peer, e.Text, e.Lat, e.Lon)
		case node.EventFileOffered:
			fmt.Printf("* %s offers file %x (%s, %d bytes)\n", e.Peer, e.FileID, e.Filename, e.FileSize)
		case node.EventFileComplete:
			fmt.Printf("* file %x complete: %s\n", e.FileID, e.Filename)
		case node.EventFileAborted:
			fmt.Printf("* file %x aborted (%s): %s\n", e.FileID, e.Filename, e.Text)
		case node.EventCallIncoming:
			fmt.Printf("* incoming call %x from %s\n", e.CallID, e.Peer)
		case node.EventGatewayFound:
			fmt.Printf("* gateway found: %s\n", e.Peer)
		case node.EventGatewayLost:
			fmt.Printf("* gateway lost: %s\n", e.Peer)
		case node.EventStopped:
			return
		default:
			fmt.Printf("* %s\n", e.Kind)
		}
	}
}

// runREPL reads simple line commands from stdin:
//
//	text <nodeid> <message>
//	broadcast <message>
//	sos <message> [<lat> <lon>]
//	id
//	stats
//	quit
func runREPL(n *node.Node) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.SplitN(strings.TrimSpace(scanner.Text()), " ", 3)
		if len(fields) == 0 || fields[0] == "" {
			continue
		}

		switch fields[0] {
		case "text":
			if len(fields) < 3 {
				fmt.Println("usage: text <nodeid> <message>")
				continue
			}
			dest, err := identity.ParseNodeId(fields[1])
			if err != nil {
				fmt.Println("bad nodeid:", err)
				continue
			}
			fmt.Println(n.SendText(dest, fields[2]))

		case "broadcast":
			if len(fields) < 2 {
				fmt.Println("usage: broadcast <message>")
				continue
			}
			fmt.Println(n.SendPublicBroadcast(strings.Join(fields[1:], " ")))

		case "sos":
			if len(fields) < 2 {
				fmt.Println("usage: sos <message> [lat lon]")
				continue
			}
			args := strings.Join(fields[1:], " ")
			rest := strings.Fields(args)
			var lat, lon float64
			text := args
			if len(rest) >= 3 {
				text = strings.Join(rest[:len(rest)-2], " ")
				lat, _ = strconv.ParseFloat(rest[len(rest)-2], 64)
				lon, _ = strconv.ParseFloat(rest[len(rest)-1], 64)
			}
			fmt.Println(n.SendSOS(text, lat, lon))

		case "id":
			id, _ := n.NodeId()
			fmt.Println(id)

		case "stats":
			stats, _ := n.GetStats()
			fmt.Printf("%+v\n", stats)

		case "quit":
			syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			return

		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}
