package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrDefaultMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg := LoadOrDefault(filepath.Join(dir, "does-not-exist.yaml"))

	if cfg.ListenPort != DefaultListenPort {
		t.Fatalf("expected default listen port %d, got %d", DefaultListenPort, cfg.ListenPort)
	}
	if cfg.DiscoveryPort != DefaultDiscoveryPort {
		t.Fatalf("expected default discovery port %d, got %d", DefaultDiscoveryPort, cfg.DiscoveryPort)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := Default()
	cfg.DisplayName = "responder-1"
	cfg.Bio = "disaster relief node"
	cfg.IsGateway = true
	cfg.SeedList = []PeerSeed{{NodeID: "aabbcc", Address: "192.168.1.5:7332"}}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.DisplayName != cfg.DisplayName {
		t.Fatalf("DisplayName mismatch: got %q want %q", loaded.DisplayName, cfg.DisplayName)
	}
	if loaded.Bio != cfg.Bio {
		t.Fatalf("Bio mismatch: got %q want %q", loaded.Bio, cfg.Bio)
	}
	if !loaded.IsGateway {
		t.Fatal("expected IsGateway to round-trip true")
	}
	if len(loaded.SeedList) != 1 || loaded.SeedList[0].NodeID != "aabbcc" {
		t.Fatalf("SeedList did not round-trip: %+v", loaded.SeedList)
	}
}

func TestLoadCorruptFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	if err := os.WriteFile(path, []byte("not: valid: yaml: [["), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to return a ConfigError for corrupt YAML")
	}
}
