package store

import (
	"context"
	"errors"

	"eventWatch/internal/model"
)

var (
	// ErrCorrupt means persisted state could not be read back. Polling must stop.
	ErrCorrupt = errors.New("store corrupt")
	// ErrWrite means a batch append failed and nothing from it was persisted.
	ErrWrite = errors.New("store write failed")
)

// Store is the durable, append-only record log with hash membership.
//
// Implementations assume a single writer process per store.
type Store interface {
	// LoadKnownHashes returns the transaction hashes of every persisted record.
	LoadKnownHashes(ctx context.Context) (HashSet, error)
	// AppendRecords persists records as one all-or-nothing batch.
	AppendRecords(ctx context.Context, records []model.EventRecord) error
	Close() error
}

// Reader lists persisted records in append order.
type Reader interface {
	Records(ctx context.Context) ([]model.EventRecord, error)
}

// HashSet is a set of transaction hashes.
type HashSet map[string]struct{}

// NewHashSet creates a set holding hashes.
func NewHashSet(hashes ...string) HashSet {
	set := make(HashSet, len(hashes))
	set.Add(hashes...)
	return set
}

// Add inserts hashes into the set.
func (s HashSet) Add(hashes ...string) {
	for _, h := range hashes {
		s[h] = struct{}{}
	}
}

// Has reports whether hash is in the set.
func (s HashSet) Has(hash string) bool {
	_, ok := s[hash]
	return ok
}
