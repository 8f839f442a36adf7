/*
Package config is the YAML-backed settings layer for the Node Controller's
start() parameters (spec.md §4.J, §6.4), extended per SPEC_FULL.md's AMBIENT
STACK section with the fields a real collaborator binary needs to hand the
node a complete startup configuration instead of three bare strings.

Grounded on the teacher's Settings.go: load-or-default from a YAML file,
fall back to built-in defaults on read/parse failure rather than treating it
as fatal, and an explicit Save that re-serializes and atomically rewrites.
*/
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultDiscoveryPort and DefaultListenPort match spec.md §6.2.
const (
	DefaultDiscoveryPort = 7331
	DefaultListenPort    = 7332
)

// PeerSeed is one entry of the config's SeedList: a last-known address for a
// peer this node has met before, dialed immediately at start for faster
// reconnection on a returning ad-hoc link. Not a directory service — see
// SPEC_FULL.md's AMBIENT STACK note on why this does not violate §1's
// Non-goals.
type PeerSeed struct {
	NodeID  string `yaml:"NodeID"`  // hex-encoded NodeId
	Address string `yaml:"Address"` // last-known "host:port"
}

// Config is the full set of parameters the Node Controller's start() needs,
// beyond the bare (name, port, dataDir) triple spec.md §6.4 describes as the
// core's own minimal surface — the rest is ambient collaborator convenience.
type Config struct {
	DisplayName string `yaml:"DisplayName"`
	Bio         string `yaml:"Bio"`
	DataDir     string `yaml:"DataDir"`
	IsGateway   bool   `yaml:"IsGateway"`

	ListenPort    int `yaml:"ListenPort"`
	DiscoveryPort int `yaml:"DiscoveryPort"`

	// DiscoveryIntervalSeconds overrides the 5s default from spec.md §4.D;
	// zero means use the default.
	DiscoveryIntervalSeconds int `yaml:"DiscoveryIntervalSeconds"`

	// BlacklistPath is where the persisted peer blacklist (SPEC_FULL.md
	// supplement) is stored. Empty disables persistence (in-memory only).
	BlacklistPath string `yaml:"BlacklistPath"`

	SeedList []PeerSeed `yaml:"SeedList"`
}

// Default returns the built-in default configuration, used when no file is
// present or the file fails to parse, matching the teacher's
// "fallback to the built-in parameters" behavior in loadConfig.
func Default() *Config {
	return &Config{
		DisplayName:   "anonymous",
		DataDir:       "./meshrelay-data",
		ListenPort:    DefaultListenPort,
		DiscoveryPort: DefaultDiscoveryPort,
	}
}

// Load reads and parses the YAML configuration at path. Unlike the teacher's
// loadConfig (which prints to stdout and falls through to defaults on read
// failure, matching a CLI's expectations), this returns a typed ConfigError
// so the caller — per spec.md §7, config errors are fatal to start — can
// decide how to report it; it does not fall back silently.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// LoadOrDefault reads path if present; on any absence or parse error it
// returns the built-in defaults instead of failing, which is the right
// behavior for a fresh first run (no Settings.yaml yet) as opposed to a
// corrupt file an operator expected to be honored — Load is for the latter.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Save serializes the config to YAML and atomically rewrites path (temp file
// + rename), the same discipline identity.LoadOrCreate uses for the key
// file, rather than the teacher's direct ioutil.WriteFile (the teacher never
// needed atomicity since Settings.yaml is operator-edited, not concurrently
// written by the running process), so a reader never observes a
// half-written file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ConfigError wraps a configuration load/parse failure. Per spec.md §7's
// taxonomy, ConfigError is fatal to start.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return "config: " + e.Path + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }
