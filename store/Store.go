/*
Package store provides a small key/value persistence interface used by the mesh
node for state that must survive a restart: the banned-peer blacklist. It is
intentionally minimal — the
node's live protocol state (peers, dedup cache, outbound queues) never touches disk.
*/
package store

import "time"

// Store is the interface implemented by the node's small persisted key/value needs.
type Store interface {
	// Set stores the key/value pair.
	Set(key []byte, data []byte) error

	// StoreExpire stores the key/value pair and deletes it after the expiration time.
	// If the key already exists, it is overwritten and the new expiration applies.
	// PogrebStore does not support expiry and returns an error instead.
	StoreExpire(key []byte, data []byte, expiration time.Time) error

	// Get returns the value for the key if present.
	Get(key []byte) (data []byte, found bool)

	// Delete deletes a key/value pair.
	Delete(key []byte)

	// Iterate calls fn for every key/value pair currently stored.
	Iterate(fn func(key, value []byte))

	// ExpireKeys deletes all keys past their expiration time. Callers run this
	// periodically; stores are not required to do so on their own.
	ExpireKeys()

	// Close releases any underlying file handles.
	Close() error
}
