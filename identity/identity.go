/*
Package identity manages the node's long-term signing keypair.

The keypair is secp256k1. The NodeId surfaced to the rest of the mesh is not
the raw public key but its blake3 hash, which fixes NodeId at the 32 bytes the
wire protocol and every other component expect regardless of the
point-compression format of the underlying curve.
*/
package identity

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btcd/btcec"
	"lukechampine.com/blake3"
)

// NodeIdSize is the fixed size of a NodeId in bytes.
const NodeIdSize = 32

// NodeId identifies a node on the mesh. It is the blake3 hash of the node's
// compressed secp256k1 public key, never the raw key itself.
type NodeId [NodeIdSize]byte

// String returns the hex encoding of the NodeId, for logging and display.
func (id NodeId) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero broadcast NodeId.
func (id NodeId) IsZero() bool {
	return id == NodeId{}
}

// ParseNodeId decodes a hex-encoded NodeId, the inverse of String, for
// collaborator-facing surfaces (controlapi, cmd) that accept a NodeId as
// text.
func ParseNodeId(s string) (NodeId, error) {
	var id NodeId
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != NodeIdSize {
		return id, errors.New("identity: NodeId must be 32 bytes")
	}
	copy(id[:], raw)
	return id, nil
}

// Less provides a byte-wise, deterministic ordering used by the peer registry
// tie-break rule and by the router's deterministic forwarding order.
func (id NodeId) Less(other NodeId) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// Identity holds the in-process keypair. The private key never leaves the
// process; it is zeroed on NUKE.
type Identity struct {
	mutex      sync.RWMutex
	path       string
	privateKey *btcec.PrivateKey
	publicKey  *btcec.PublicKey
	nodeID     NodeId
}

// LoadOrCreate reads the identity file in dataDir; if it is absent or corrupt,
// a fresh keypair is generated and atomically written. This mirrors the
// teacher's load-or-create handling of the peer ID's private key, except that
// failure here returns a typed error instead of calling os.Exit, per this
// spec's error-handling design (§7: ConfigError is fatal to start, but the
// decision to exit belongs to the caller, not to the library).
func LoadOrCreate(dataDir string) (*Identity, error) {
	if dataDir == "" {
		return nil, errors.New("identity: data directory must not be empty")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, err
	}

	path := filepath.Join(dataDir, "identity.key")

	if raw, err := os.ReadFile(path); err == nil {
		if id, perr := fromBytes(raw); perr == nil {
			id.path = path
			return id, nil
		}
		// Corrupt file: fall through and generate a fresh keypair, matching
		// the teacher's "corrupted, regenerate" behavior rather than the
		// fatal os.Exit the teacher used at the CLI layer.
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	id, err := generate()
	if err != nil {
		return nil, err
	}
	id.path = path

	if err := id.persist(); err != nil {
		return nil, err
	}

	return id, nil
}

func generate() (*Identity, error) {
	privateKey, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, err
	}

	return fromPrivateKey(privateKey), nil
}

func fromPrivateKey(privateKey *btcec.PrivateKey) *Identity {
	publicKey := (*btcec.PublicKey)(&privateKey.PublicKey)

	return &Identity{
		privateKey: privateKey,
		publicKey:  publicKey,
		nodeID:     deriveNodeID(publicKey),
	}
}

func fromBytes(raw []byte) (*Identity, error) {
	if len(raw) != 32 {
		return nil, errors.New("identity: invalid key file length")
	}
	privateKey, publicKey := btcec.PrivKeyFromBytes(btcec.S256(), raw)
	if privateKey == nil {
		return nil, errors.New("identity: invalid key material")
	}
	return &Identity{
		privateKey: privateKey,
		publicKey:  publicKey,
		nodeID:     deriveNodeID(publicKey),
	}, nil
}

func deriveNodeID(publicKey *btcec.PublicKey) (id NodeId) {
	sum := blake3.Sum256(publicKey.SerializeCompressed())
	copy(id[:], sum[:])
	return id
}

// persist writes the private key to disk atomically: temp file + rename.
func (id *Identity) persist() error {
	id.mutex.RLock()
	raw := id.privateKey.Serialize()
	path := id.path
	id.mutex.RUnlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// NodeId returns the node's identifier.
func (id *Identity) NodeId() NodeId {
	id.mutex.RLock()
	defer id.mutex.RUnlock()
	return id.nodeID
}

// PublicKey returns the raw compressed public key, for inclusion in
// out-of-band debugging output. Not used on the wire path.
func (id *Identity) PublicKey() []byte {
	id.mutex.RLock()
	defer id.mutex.RUnlock()
	return id.publicKey.SerializeCompressed()
}

// Sign signs data with the long-term private key.
func (id *Identity) Sign(data []byte) ([]byte, error) {
	id.mutex.RLock()
	defer id.mutex.RUnlock()

	hash := blake3.Sum256(data)
	sig, err := id.privateKey.Sign(hash[:])
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// Verify verifies a signature produced by Sign against the given public key.
// Signatures are not currently attached to Envelopes (see DESIGN.md's Open
// Question decision); this is exposed for collaborators that want to
// authenticate out-of-band material (e.g. a signed profile bundle).
func Verify(publicKey, data, signature []byte) (bool, error) {
	pk, err := btcec.ParsePubKey(publicKey, btcec.S256())
	if err != nil {
		return false, err
	}
	sig, err := btcec.ParseSignature(signature, btcec.S256())
	if err != nil {
		return false, err
	}
	hash := blake3.Sum256(data)
	return sig.Verify(hash[:], pk), nil
}

// Nuke deletes the on-disk identity file and zeroes the in-memory private key.
// A fresh identity is generated on next LoadOrCreate. Callers are responsible
// for requesting the node shutdown that §4.A specifies follows a NUKE.
func (id *Identity) Nuke() error {
	id.mutex.Lock()
	defer id.mutex.Unlock()

	if id.privateKey != nil {
		id.privateKey.D.SetInt64(0) // best-effort scrub of the in-memory scalar
		id.privateKey = nil
	}
	id.publicKey = nil
	id.nodeID = NodeId{}

	if id.path == "" {
		return nil
	}
	if err := os.Remove(id.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
