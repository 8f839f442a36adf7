package identity

import (
	"os"
	"testing"
)

func TestLoadOrCreateGeneratesFreshIdentity(t *testing.T) {
	dir := t.TempDir()

	id, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if id.NodeId().IsZero() {
		t.Fatal("expected non-zero NodeId")
	}

	if _, err := os.Stat(dir + "/identity.key"); err != nil {
		t.Fatalf("expected identity file to be written: %v", err)
	}
}

func TestLoadOrCreatePersistsAcrossLoads(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	second, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate (reload): %v", err)
	}

	if first.NodeId() != second.NodeId() {
		t.Fatal("expected the same NodeId to be reloaded from disk")
	}
}

func TestLoadOrCreateRegeneratesOnCorruption(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(dir+"/identity.key", []byte("not a key"), 0600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	id, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if id.NodeId().IsZero() {
		t.Fatal("expected a freshly generated NodeId")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	id, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	msg := []byte("disaster-response mesh")
	sig, err := id.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := Verify(id.PublicKey(), msg, sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}

	ok, err = Verify(id.PublicKey(), []byte("tampered"), sig)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("expected signature over different data to fail verification")
	}
}

func TestNukeRemovesFileAndClearsState(t *testing.T) {
	dir := t.TempDir()
	id, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}

	if err := id.Nuke(); err != nil {
		t.Fatalf("Nuke: %v", err)
	}
	if !id.NodeId().IsZero() {
		t.Fatal("expected NodeId to be cleared after Nuke")
	}
	if _, err := os.Stat(dir + "/identity.key"); !os.IsNotExist(err) {
		t.Fatal("expected identity file to be removed after Nuke")
	}

	fresh, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate after Nuke: %v", err)
	}
	if fresh.NodeId().IsZero() {
		t.Fatal("expected a fresh NodeId to be generated after Nuke")
	}
}

func TestNodeIdOrdering(t *testing.T) {
	a := NodeId{0x01}
	b := NodeId{0x02}

	if !a.Less(b) {
		t.Fatal("expected a < b")
	}
	if b.Less(a) {
		t.Fatal("expected b not < a")
	}
	if a.Less(a) {
		t.Fatal("expected a not < a")
	}
}
