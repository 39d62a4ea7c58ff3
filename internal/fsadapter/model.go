// Package fsadapter binds the virtual catalog, build coordinator, and
// cache store to jacobsa/fuse's fuseops/fuseutil request model,
// implementing the read-only derived filesystem. Every write-family
// operation returns EROFS.
package fsadapter

import (
	"os"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"go.uber.org/zap"

	"github.com/audiofs/audiofs/internal/buildcoord"
	"github.com/audiofs/audiofs/internal/cachestore"
	"github.com/audiofs/audiofs/internal/catalog"
	"github.com/audiofs/audiofs/internal/driver"
	"github.com/audiofs/audiofs/internal/sizemaintainer"
)

// inodeRecord is the FileSystem's private record for one minted inode:
// the catalog Entry it was minted from, and the kernel's reference
// count on it — a lookup count, not a pin; the
// cache store's own pin is separate and scoped to open file handles.
type inodeRecord struct {
	entry *catalog.Entry
	refcount uint64
}

// dirHandle is a directory handle's state: a point-in-time snapshot of
// its children, taken at OpenDir so concurrent readdir offsets stay
// consistent even if the catalog changes mid-listing.
type dirHandle struct {
	children []*catalog.Entry
}

// fileHandle is an open file handle's state: either a pass-through
// source file, or a pinned cache-store handle backing a derived file.
type fileHandle struct {
	entry *catalog.Entry
	cache *cachestore.Handle // nil for pass-through entries.
	source *os.File // nil for driven entries.
}

// FileSystem implements fuseutil.FileSystem over one mount's catalog,
// build coordinator, and cache store. It embeds
// NotImplementedFileSystem for the long tail of ops this read-only,
// single-user-mount projection never needs (symlinks, hard links,
// rename, xattrs, statfs, fallocate, batch forget) — the kernel sees
// ENOSYS for those rather than a fabricated EROFS, which more precisely
// reports "never implemented" instead of "implemented but forbidden".
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	catalog *catalog.Catalog
	coordinator *buildcoord.Coordinator
	drivers *driver.Registry
	maintainer *sizemaintainer.Maintainer
	log *zap.SugaredLogger
	uid, gid uint32

	mu sync.Mutex
	inodes map[fuseops.InodeID]*inodeRecord
	byRelPath map[string]fuseops.InodeID
	nextInode fuseops.InodeID
	dirHandles map[fuseops.HandleID]*dirHandle
	fileHandles map[fuseops.HandleID]*fileHandle
	nextHandle fuseops.HandleID
}

// Config holds the dependencies a FileSystem needs.
type Config struct {
	Catalog *catalog.Catalog
	Coordinator *buildcoord.Coordinator
	Drivers *driver.Registry
	Maintainer *sizemaintainer.Maintainer
	Logger *zap.SugaredLogger
	// Uid/Gid are reported as the owner of every inode; the mounting
	// user's own credentials are the natural default.
	Uid, Gid uint32
}
