package cachestore

import (
	stdErrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	audioerrors "github.com/audiofs/audiofs/pkg/errors"
	"github.com/audiofs/audiofs/pkg/fingerprint"
	"github.com/audiofs/audiofs/pkg/fsutil"
)

// ErrNotReady is returned by Acquire when the entry is not in state ready.
var ErrNotReady = stdErrors.New("cache entry is not ready")

// ErrAlreadyBuilding is returned by Reserve when a build for this
// fingerprint is already in progress or already ready.
var ErrAlreadyBuilding = stdErrors.New("cache entry is already building or ready")

// ErrPinned is returned by Evict when the entry's pin count is nonzero.
var ErrPinned = stdErrors.New("cache entry is pinned")

// ErrNotEvictable is returned by Evict when the entry isn't in state
// ready.
var ErrNotEvictable = stdErrors.New("cache entry is not in a ready state")

// New creates a Store rooted at config.Directory, creating the
// directory if needed. Per-entry metadata is not eagerly scanned; it is
// seeded lazily from os.Stat on first Probe of each fingerprint.
func New(config *Config) (*Store, error) {
	if config == nil || config.Directory == "" || config.Logger == nil {
		return nil, audioerrors.NewConfigurationValidationError("config", "cache store requires a directory and a logger")
	}

	if err := fsutil.CreateDir(config.Directory, 0755, true); err != nil {
		return nil, audioerrors.ClassifyDirectoryCreationError(err, config.Directory)
	}

	config.Logger.Infow("cache store initialized", "directory", config.Directory)

	return &Store{
		dir: config.Directory,
		log: config.Logger,
		entries: make(map[string]*entry, 1024),
	}, nil
}

func (s *Store) pathFor(fp string) string {
	return filepath.Join(s.dir, fp)
}

// Probe reports the current state of fp: absent, ready (with its path
// and length), or building. A fingerprint unknown to
// the in-memory index is checked against disk once and, if found,
// seeded as ready — this is the "seeded lazily" bootstrap path that
// lets a store recover entries left over from a previous process.
func (s *Store) Probe(fp string) (State, string, int64) {
	s.mu.Lock()
	if e, ok := s.entries[fp]; ok {
		state, path, length := e.state, e.path, e.length
		s.mu.Unlock()
		return state, path, length
	}
	s.mu.Unlock()

	path := s.pathFor(fp)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return StateAbsent, "", 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Someone may have raced us between the unlocked stat and this
	// lock; prefer whatever is already registered.
	if e, ok := s.entries[fp]; ok {
		return e.state, e.path, e.length
	}
	e := &entry{
		fingerprint: fp,
		path: path,
		length: info.Size(),
		lastAccess: info.ModTime(),
		state: StateReady,
	}
	s.entries[fp] = e
	return e.state, e.path, e.length
}

// Reserve atomically transitions fp from absent to building and
// returns an exclusive writer slot backed by a `.partial-<nonce>` temp
// file in the same directory.
func (s *Store) Reserve(fp string) (*Slot, error) {
	s.mu.Lock()
	if e, ok := s.entries[fp]; ok && e.state != StateAbsent {
		s.mu.Unlock()
		return nil, ErrAlreadyBuilding
	}
	s.entries[fp] = &entry{fingerprint: fp, path: s.pathFor(fp), state: StateBuilding}
	s.mu.Unlock()

	partialName := fingerprint.PartialName(fp)
	partialPath := filepath.Join(s.dir, partialName)

	file, err := os.OpenFile(partialPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		s.mu.Lock()
		delete(s.entries, fp)
		s.mu.Unlock()
		return nil, audioerrors.ClassifyFileOpenError(err, partialPath, partialName)
	}

	return &Slot{fingerprint: fp, partialPath: partialPath, file: file}, nil
}

// Promote atomically renames slot's temp file to its final fingerprint
// name and transitions the entry to ready.
func (s *Store) Promote(slot *Slot) (int64, error) {
	if err := slot.file.Sync(); err != nil {
		_ = slot.file.Close()
		return 0, audioerrors.NewCacheError(err, audioerrors.ErrorCodeIO, "failed to sync partial cache file").
			WithFingerprint(slot.fingerprint).WithPath(slot.partialPath)
	}

	if err := slot.file.Close(); err != nil {
		return 0, audioerrors.NewCacheError(err, audioerrors.ErrorCodeIO, "failed to close partial cache file").
			WithFingerprint(slot.fingerprint).WithPath(slot.partialPath)
	}

	finalPath := s.pathFor(slot.fingerprint)
	if err := os.Rename(slot.partialPath, finalPath); err != nil {
		return 0, audioerrors.ClassifyRenameError(err, slot.partialPath, finalPath)
	}

	// Stat the renamed path rather than slot.file: a driver may have
	// rewritten the partial file in place after streaming into it (e.g.
	// applying ID3 tags via a rename-over-original), leaving slot.file's
	// fd pointing at the original, now-unlinked inode with a stale size.
	info, err := os.Stat(finalPath)
	if err != nil {
		return 0, audioerrors.NewCacheError(err, audioerrors.ErrorCodeIO, "failed to stat promoted cache file").
			WithFingerprint(slot.fingerprint).WithPath(finalPath)
	}
	length := info.Size()

	s.mu.Lock()
	e, ok := s.entries[slot.fingerprint]
	if !ok {
		e = &entry{fingerprint: slot.fingerprint, path: finalPath}
		s.entries[slot.fingerprint] = e
	}
	e.path = finalPath
	e.length = length
	e.lastAccess = time.Now()
	e.state = StateReady
	s.mu.Unlock()

	s.log.Infow("cache entry promoted", "fingerprint", slot.fingerprint, "bytes", length)
	return length, nil
}

// Abandon unlinks slot's temp file and returns the fingerprint to state
// absent.
func (s *Store) Abandon(slot *Slot) {
	_ = slot.file.Close()
	if err := os.Remove(slot.partialPath); err != nil && !os.IsNotExist(err) {
		s.log.Warnw("failed to remove abandoned partial file", "path", slot.partialPath, "error", err)
	}

	s.mu.Lock()
	delete(s.entries, slot.fingerprint)
	s.mu.Unlock()
}

// Handle is a pinned, open read-only reference to a ready cache entry.
type Handle struct {
	store *Store
	fingerprint string
	file *os.File
}

// ReadAt performs a positioned read against the ready cache file.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	return h.file.ReadAt(p, off)
}

// Size reports the ready entry's on-disk byte length, for callers that
// need the true size of a just-acquired handle.
func (h *Handle) Size() (int64, error) {
	info, err := h.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close releases this handle's pin.
func (h *Handle) Close() error {
	err := h.file.Close()
	h.store.mu.Lock()
	if e, ok := h.store.entries[h.fingerprint]; ok && e.pin > 0 {
		e.pin--
	}
	h.store.mu.Unlock()
	return err
}

// Acquire pins fp and returns a read-only handle, failing with
// ErrNotReady if the entry is not ready.
func (s *Store) Acquire(fp string) (*Handle, error) {
	s.mu.Lock()
	e, ok := s.entries[fp]
	if !ok || e.state != StateReady {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	e.pin++
	e.lastAccess = time.Now() // Design Note: update on acquire, not on read.
	path := e.path
	s.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		s.mu.Lock()
		if e, ok := s.entries[fp]; ok && e.pin > 0 {
			e.pin--
		}
		s.mu.Unlock()
		return nil, audioerrors.ClassifyFileOpenError(err, path, fp)
	}

	return &Handle{store: s, fingerprint: fp, file: file}, nil
}

// Evict unlinks fp's cache file, allowed only when unpinned and ready.
// The unlink happens outside the store's lock.
func (s *Store) Evict(fp string) (int64, error) {
	s.mu.Lock()
	e, ok := s.entries[fp]
	if !ok {
		s.mu.Unlock()
		return 0, nil
	}
	if e.pin > 0 {
		s.mu.Unlock()
		return 0, ErrPinned
	}
	if e.state != StateReady {
		s.mu.Unlock()
		return 0, ErrNotEvictable
	}
	e.state = StateEvicting
	path := e.path
	length := e.length
	s.mu.Unlock()

	err := os.Remove(path)

	s.mu.Lock()
	if err != nil {
		// Unlink failed: revert so a future sweep can retry.
		if e, ok := s.entries[fp]; ok {
			e.state = StateReady
		}
		s.mu.Unlock()
		return 0, audioerrors.NewCacheError(err, audioerrors.ErrorCodeIO, "failed to evict cache entry").
			WithFingerprint(fp).WithPath(path)
	}
	delete(s.entries, fp)
	s.mu.Unlock()

	return length, nil
}

// Snapshot returns a point-in-time copy of every known ready entry, for
// the size maintainer's eviction candidate selection. The
// store's lock is held only for the duration of the copy.
func (s *Store) Snapshot() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Info, 0, len(s.entries))
	for _, e := range s.entries {
		if e.state != StateReady {
			continue
		}
		out = append(out, Info{
			Fingerprint: e.fingerprint,
			Length: e.length,
			LastAccess: e.lastAccess,
			Pinned: e.pin > 0,
		})
	}
	return out
}

// TotalReadyBytes returns the sum of byte lengths of all ready entries.
func (s *Store) TotalReadyBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, e := range s.entries {
		if e.state == StateReady {
			total += e.length
		}
	}
	return total
}

// IsPartialName reports whether name is a temp-file name produced by
// fingerprint.PartialName, so directory listings of the cache directory
// can distinguish partials from ready entries.
func IsPartialName(name string) bool {
	return strings.Contains(name, fingerprint.PartialSuffix)
}
