package audio

import (
	"testing"

	"github.com/meshrelay/core/identity"
)

func peerID(b byte) identity.NodeId {
	var id identity.NodeId
	id[0] = b
	return id
}

func TestCallLifecycle(t *testing.T) {
	m := NewManager()
	peer := peerID(1)

	id, err := m.StartCall(peer)
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	if state, _ := m.State(peer); state != CallRinging {
		t.Fatalf("expected ringing, got %s", state)
	}

	if !m.AcceptCall(peer, id) {
		t.Fatal("expected accept to succeed")
	}
	if state, _ := m.State(peer); state != CallActive {
		t.Fatalf("expected active, got %s", state)
	}

	if !m.ValidateFrame(peer, id) {
		t.Fatal("expected frame to validate during active call")
	}

	m.EndCall(peer)
	if state, _ := m.State(peer); state != CallIdle {
		t.Fatalf("expected idle after end, got %s", state)
	}
	if m.ValidateFrame(peer, id) {
		t.Fatal("expected frame validation to fail after call ended")
	}
}

func TestStartCallRejectsDoubleRing(t *testing.T) {
	m := NewManager()
	peer := peerID(1)

	if _, err := m.StartCall(peer); err != nil {
		t.Fatalf("start call: %v", err)
	}
	if _, err := m.StartCall(peer); err != ErrCallAlreadyActive {
		t.Fatalf("expected ErrCallAlreadyActive, got %v", err)
	}
}

func TestValidateFrameRejectsWrongCallID(t *testing.T) {
	m := NewManager()
	peer := peerID(1)

	id, _ := m.StartCall(peer)
	m.AcceptCall(peer, id)

	other := NewCallID()
	if m.ValidateFrame(peer, other) {
		t.Fatal("expected frame with mismatched call id to be rejected")
	}
}

func TestTruncateVoiceNoteClipsToLimit(t *testing.T) {
	pcm := make([]byte, MaxVoiceNoteBytes+100)
	truncated := TruncateVoiceNote(pcm)
	if len(truncated) > MaxVoiceNoteBytes {
		t.Fatalf("expected truncation to at most %d bytes, got %d", MaxVoiceNoteBytes, len(truncated))
	}
	if len(truncated)%BytesPerSample != 0 {
		t.Fatal("expected truncated length to be a whole number of samples")
	}
}

func TestDurationMsMatchesSampleRate(t *testing.T) {
	// 1 second of audio at 16kHz, 16-bit mono = 32000 bytes.
	pcm := make([]byte, SampleRateHz*BytesPerSample)
	if got := DurationMs(pcm); got != 1000 {
		t.Fatalf("expected 1000ms, got %d", got)
	}
}

func TestFrameSizeMatchesSpec(t *testing.T) {
	if FrameSizeBytes != 640 {
		t.Fatalf("expected 640-byte frames, got %d", FrameSizeBytes)
	}
}
