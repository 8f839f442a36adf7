package discovery

import (
	"net"
	"testing"

	"github.com/meshrelay/core/identity"
)

func TestAnnouncementRoundTrip(t *testing.T) {
	var id identity.NodeId
	for i := range id {
		id[i] = byte(i)
	}

	original := Announcement{
		Version:     protocolVersion,
		NodeID:      id,
		DisplayName: "field-node-3",
		ListenPort:  7332,
		IsGateway:   true,
	}

	decoded, err := decodeAnnouncement(encodeAnnouncement(original))
	if err != nil {
		t.Fatalf("decodeAnnouncement: %v", err)
	}

	if decoded != original {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, original)
	}
}

func TestDecodeAnnouncementRejectsBadMagic(t *testing.T) {
	raw := encodeAnnouncement(Announcement{DisplayName: "x"})
	raw[0] = 'Z'

	if _, err := decodeAnnouncement(raw); err != errBadMagic {
		t.Fatalf("expected errBadMagic, got %v", err)
	}
}

func TestDecodeAnnouncementRejectsTruncated(t *testing.T) {
	raw := encodeAnnouncement(Announcement{DisplayName: "field-node"})

	if _, err := decodeAnnouncement(raw[:10]); err != errTruncated {
		t.Fatalf("expected errTruncated, got %v", err)
	}
}

func TestBroadcastAddressesAlwaysIncludesUniversal(t *testing.T) {
	addrs := broadcastAddresses()

	found := false
	for _, a := range addrs {
		if a.Equal(net.IPv4bcast) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected universal 255.255.255.255 broadcast address to always be present")
	}
}
