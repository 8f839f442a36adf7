package node

// Stats is the payload of the get_stats command / Stats event (spec.md
// §4.J).
type Stats struct {
	NodeID         string
	PeerCount      int
	EstablishedCount int
	BytesRelayed   uint64
	MessagesRouted uint64
	UptimeSeconds  int64
}
