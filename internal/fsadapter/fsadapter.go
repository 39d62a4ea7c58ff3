package fsadapter

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/audiofs/audiofs/internal/catalog"
	"github.com/audiofs/audiofs/internal/driver"
	audioerrors "github.com/audiofs/audiofs/pkg/errors"
	"github.com/audiofs/audiofs/pkg/fingerprint"
	"github.com/audiofs/audiofs/pkg/fsutil"
)

// New returns a ready FileSystem rooted at config.Catalog's Root entry.
func New(config *Config) (*FileSystem, error) {
	if config == nil || config.Catalog == nil || config.Coordinator == nil || config.Drivers == nil || config.Logger == nil {
		return nil, audioerrors.NewConfigurationValidationError("config", "filesystem adapter requires a catalog, coordinator, driver registry, and logger")
	}

	fs := &FileSystem{
		catalog: config.Catalog,
		coordinator: config.Coordinator,
		drivers: config.Drivers,
		maintainer: config.Maintainer,
		log: config.Logger,
		uid: config.Uid,
		gid: config.Gid,
		inodes: make(map[fuseops.InodeID]*inodeRecord),
		byRelPath: make(map[string]fuseops.InodeID),
		nextInode: fuseops.RootInodeID + 1,
		dirHandles: make(map[fuseops.HandleID]*dirHandle),
		fileHandles: make(map[fuseops.HandleID]*fileHandle),
		nextHandle: 1,
	}

	root := config.Catalog.Root()
	fs.inodes[fuseops.RootInodeID] = &inodeRecord{entry: root, refcount: 1}
	fs.byRelPath[root.RelPath] = fuseops.RootInodeID

	return fs, nil
}

// inodeFor returns the existing inode ID for entry's RelPath, or mints a
// fresh one. Minting is keyed by RelPath rather than by (parent, name) so
// the same derived path always maps to the same inode across separate
// directory listings, as the kernel's dentry cache requires.
func (fs *FileSystem) inodeFor(entry *catalog.Entry) fuseops.InodeID {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if id, ok := fs.byRelPath[entry.RelPath]; ok {
		fs.inodes[id].entry = entry
		return id
	}

	id := fs.nextInode
	fs.nextInode++
	fs.inodes[id] = &inodeRecord{entry: entry}
	fs.byRelPath[entry.RelPath] = id
	return id
}

func (fs *FileSystem) entryForInode(id fuseops.InodeID) (*catalog.Entry, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec, ok := fs.inodes[id]
	if !ok {
		return nil, false
	}
	return rec.entry, true
}

func (fs *FileSystem) bumpLookupCount(id fuseops.InodeID, n uint64) {
	fs.mu.Lock()
	if rec, ok := fs.inodes[id]; ok {
		rec.refcount += n
	}
	fs.mu.Unlock()
}

// driverEstimator adapts one driver.Driver to catalog.Estimator for a
// single GetAttr call.
type driverEstimator struct {
	drv driver.Driver
}

func (e driverEstimator) EstimateSize(ctx context.Context, req driver.Request) (int64, error) {
	return e.drv.EstimateSize(ctx, req)
}

func (fs *FileSystem) attributesFor(ctx context.Context, entry *catalog.Entry) (fuseops.InodeAttributes, error) {
	var estimator catalog.Estimator
	if entry.DriverID != "" {
		drv, ok := fs.drivers.Get(entry.DriverID)
		if !ok {
			return fuseops.InodeAttributes{}, audioerrors.NewDriverError(nil, audioerrors.ErrorCodeDriverNotFound, "no driver registered for entry").
				WithDriverID(string(entry.DriverID))
		}
		estimator = driverEstimator{drv: drv}
	}

	size, err := fs.catalog.GetAttr(ctx, entry, estimator)
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}

	mode := os.FileMode(0o444)
	var nlink uint64 = 1
	if entry.Kind == catalog.KindDir {
		mode = os.ModeDir | 0o555
		nlink = 2
	}

	return fuseops.InodeAttributes{
		Size: uint64(size),
		Nlink: nlink,
		Mode: mode,
		Uid: fs.uid,
		Gid: fs.gid,
	}, nil
}

// childEntry resolves name within the directory entry stored at parent,
// returning the SourceError-derived ENOENT the kernel expects for a
// miss.
func (fs *FileSystem) childEntry(ctx context.Context, parent fuseops.InodeID, name string) (*catalog.Entry, error) {
	dirEntry, ok := fs.entryForInode(parent)
	if !ok {
		return nil, syscall.ENOENT
	}
	return fs.catalog.Lookup(ctx, dirEntry, name)
}

// LookUpInode resolves req.Name within req.Parent.
func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	child, err := fs.childEntry(ctx, op.Parent, op.Name)
	if err != nil {
		return audioerrors.ToErrno(err)
	}

	id := fs.inodeFor(child)
	attrs, err := fs.attributesFor(ctx, child)
	if err != nil {
		return audioerrors.ToErrno(err)
	}

	fs.bumpLookupCount(id, 1)
	op.Entry = fuseops.ChildInodeEntry{
		Child: id,
		Generation: 1,
		Attributes: attrs,
	}
	return nil
}

// GetInodeAttributes refreshes an inode's attributes, re-running the
// estimator or consulting the size-invalidation memo as appropriate.
func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	entry, ok := fs.entryForInode(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	attrs, err := fs.attributesFor(ctx, entry)
	if err != nil {
		return audioerrors.ToErrno(err)
	}
	op.Attributes = attrs
	return nil
}

// ForgetInode decrements the kernel's lookup count for an inode, freeing
// its record once the count reaches zero.
func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, ok := fs.inodes[op.Inode]
	if !ok {
		return nil
	}
	if op.N >= rec.refcount {
		delete(fs.inodes, op.Inode)
		delete(fs.byRelPath, rec.entry.RelPath)
		return nil
	}
	rec.refcount -= op.N
	return nil
}

func (fs *FileSystem) allocHandle() fuseops.HandleID {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h := fs.nextHandle
	fs.nextHandle++
	return h
}

// OpenDir opens a directory inode, snapshotting its children for the
// lifetime of the handle.
func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	entry, ok := fs.entryForInode(op.Inode)
	if !ok {
		return syscall.ENOENT
	}
	if entry.Kind != catalog.KindDir {
		return syscall.ENOTDIR
	}

	children, err := fs.catalog.Children(ctx, entry)
	if err != nil {
		return audioerrors.ToErrno(err)
	}

	h := fs.allocHandle()
	fs.mu.Lock()
	fs.dirHandles[h] = &dirHandle{children: children}
	fs.mu.Unlock()

	op.Handle = h
	return nil
}

// ReadDir serves one page of a previously snapshotted directory listing.
func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dh, ok := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return syscall.EINVAL
	}

	if int(op.Offset) > len(dh.children) {
		op.BytesRead = 0
		return nil
	}

	var n int
	for i := int(op.Offset); i < len(dh.children); i++ {
		child := dh.children[i]
		id := fs.inodeFor(child)
		written := fs.writeDirent(op.Dst[n:], child, id, fuseops.DirOffset(i+1))
		if written == 0 {
			break
		}
		n += written
	}
	op.BytesRead = n
	return nil
}

// ReleaseDirHandle frees a directory handle's snapshot.
func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	delete(fs.dirHandles, op.Handle)
	fs.mu.Unlock()
	return nil
}

// OpenFile resolves a file inode to either a pass-through source handle
// or a build-coordinator-backed cache handle.
func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	entry, ok := fs.entryForInode(op.Inode)
	if !ok {
		return syscall.ENOENT
	}

	h := fs.allocHandle()

	if entry.DriverID == "" {
		f, err := os.Open(entry.SourcePath)
		if err != nil {
			return audioerrors.ToErrno(audioerrors.NewSourceError(err, audioerrors.ErrorCodeSourceMissing, "pass-through source file is missing").WithPath(entry.SourcePath))
		}
		fs.mu.Lock()
		fs.fileHandles[h] = &fileHandle{entry: entry, source: f}
		fs.mu.Unlock()
		op.Handle = h
		op.UseDirectIO = true
		return nil
	}

	drv, ok := fs.drivers.Get(entry.DriverID)
	if !ok {
		return audioerrors.ToErrno(audioerrors.NewDriverError(nil, audioerrors.ErrorCodeDriverNotFound, "no driver registered for entry").WithDriverID(string(entry.DriverID)))
	}

	identity, err := fsutil.StatIdentity(entry.SourcePath)
	if err != nil {
		return audioerrors.ToErrno(audioerrors.NewSourceError(err, audioerrors.ErrorCodeSourceMissing, "source file is missing").WithPath(entry.SourcePath))
	}

	req := driver.Request{
		SourcePath: entry.SourcePath,
		Identity: identity,
		TrackIndex: entry.TrackIndex,
		BitrateKbps: entry.BitrateKbps,
	}
	paramTuple, err := drv.ParamTuple(req)
	if err != nil {
		return audioerrors.ToErrno(err)
	}

	fp := fingerprint.Compute(fingerprint.Params{
		DriverID: string(entry.DriverID),
		DriverVersion: drv.Version(),
		ParamTuple: paramTuple,
		Source: identity,
	})

	handle, err := fs.coordinator.GetOrBuild(ctx, fp, req, entry.DriverID)
	if err != nil {
		return audioerrors.ToErrno(err)
	}

	if fs.maintainer != nil {
		fs.maintainer.Kick()
	}
	if size, sizeErr := handle.Size(); sizeErr == nil {
		fs.catalog.RecordTrueSize(entry.RelPath, size)
	}

	fs.mu.Lock()
	fs.fileHandles[h] = &fileHandle{entry: entry, cache: handle}
	fs.mu.Unlock()

	op.Handle = h
	op.UseDirectIO = true
	return nil
}

// ReadFile performs a positioned read against an open file handle.
func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	fh, ok := fs.fileHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return syscall.EINVAL
	}

	var n int
	var err error
	if fh.cache != nil {
		n, err = fh.cache.ReadAt(op.Dst, op.Offset)
	} else {
		n, err = fh.source.ReadAt(op.Dst, op.Offset)
	}
	op.BytesRead = n
	if err != nil && !errors.Is(err, io.EOF) {
		return audioerrors.ToErrno(err)
	}
	return nil
}

// FlushFile is a no-op: every write-family operation is rejected before
// any dirty state could exist.
func (fs *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

// SyncFile is a no-op for the same reason as FlushFile.
func (fs *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

// ReleaseFileHandle closes and unpins the underlying handle.
func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	fh, ok := fs.fileHandles[op.Handle]
	delete(fs.fileHandles, op.Handle)
	fs.mu.Unlock()
	if !ok {
		return nil
	}

	if fh.cache != nil {
		_ = fh.cache.Close()
	}
	if fh.source != nil {
		_ = fh.source.Close()
	}
	return nil
}

////////////////////////////////////////////////////////////////////////
// Write-family: always EROFS. The derived filesystem is read-only.
////////////////////////////////////////////////////////////////////////

func (fs *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	return syscall.EROFS
}

func (fs *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	return syscall.EROFS
}

func (fs *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	return syscall.EROFS
}

func (fs *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return syscall.EROFS
}

func (fs *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return syscall.EROFS
}

func (fs *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	return syscall.EROFS
}
