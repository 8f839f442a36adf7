package store

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/akrylysov/pogreb"
)

// PogrebStore is a disk-backed key/value store using Pogreb. Used for the peer
// blacklist, which must survive a node restart.
type PogrebStore struct {
	mutex    sync.Mutex
	filename string
	db       *pogreb.DB
}

// NewPogrebStore opens (creating if necessary) a Pogreb-backed store at filename.
func NewPogrebStore(filename string) (s *PogrebStore, err error) {
	pogreb.SetLogger(log.New(io.Discard, "", 0))

	db, err := pogreb.Open(filename, nil)
	if err != nil {
		return nil, err
	}

	return &PogrebStore{filename: filename, db: db}, nil
}

// ExpireKeys is a no-op; Pogreb entries here (blacklist records) do not expire.
func (s *PogrebStore) ExpireKeys() {}

// Set stores the key/value pair.
func (s *PogrebStore) Set(key []byte, data []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.db.Put(key, data)
}

// StoreExpire is not supported by the Pogreb-backed store.
func (s *PogrebStore) StoreExpire(key []byte, data []byte, expiration time.Time) error {
	return errors.New("store: expiring entries are not supported by the pogreb store")
}

// Get returns the value for the key if present.
func (s *PogrebStore) Get(key []byte) (data []byte, found bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	value, err := s.db.Get(key)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

// Delete deletes a key/value pair.
func (s *PogrebStore) Delete(key []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.db.Delete(key)
}

// Iterate calls fn for every key/value pair currently stored.
func (s *PogrebStore) Iterate(fn func(key, value []byte)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	it := s.db.Items()
	for {
		key, value, err := it.Next()
		if err != nil {
			return
		}
		fn(key, value)
	}
}

// Close closes the underlying database file.
func (s *PogrebStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.db.Close()
}
