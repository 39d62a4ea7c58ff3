// Package cachestore implements the cache store: a flat
// on-disk directory of fully-materialized derived files keyed by
// content-addressed fingerprint, with byte size, access time, and pin
// state tracked in memory.
package cachestore

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a cache entry's lifecycle state.
type State int

const (
	// StateAbsent means no entry, no build in progress.
	StateAbsent State = iota
	// StateBuilding means a build ticket owns this fingerprint; the
	// on-disk file, if any, is a partial file, not a promotable entry.
	StateBuilding
	// StateReady means the cache file is fully materialized and readable.
	StateReady
	// StateEvicting is the brief transitional state during unlink.
	StateEvicting
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateEvicting:
		return "evicting"
	default:
		return "unknown"
	}
}

// entry is the in-memory record for one fingerprint. All fields are guarded by Store.mu.
type entry struct {
	fingerprint string
	path string
	length int64
	lastAccess time.Time
	pin int
	state State
}

// Info is a read-only snapshot of one cache entry, used by the size
// maintainer to select eviction candidates without holding the store's
// lock for the duration of a sweep.
type Info struct {
	Fingerprint string
	Length int64
	LastAccess time.Time
	Pinned bool
}

// Store is the cache store: an in-memory index of fingerprint -> entry
// backed by a flat directory of cache files.
type Store struct {
	dir string
	log *zap.SugaredLogger

	mu sync.Mutex
	entries map[string]*entry
}

// Config holds the parameters needed to initialize a Store.
type Config struct {
	Directory string
	Logger *zap.SugaredLogger
}

// Slot is the exclusive writer handle returned by Reserve: a temp file
// open for writing, not yet visible under its final fingerprint name.
type Slot struct {
	fingerprint string
	partialPath string
	file *os.File
}

// Writer exposes the underlying *os.File for the driver to stream bytes
// into.
func (s *Slot) Writer() *os.File { return s.file }

// Fingerprint returns the fingerprint this slot was reserved for.
func (s *Slot) Fingerprint() string { return s.fingerprint }
