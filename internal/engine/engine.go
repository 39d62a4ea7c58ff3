// Package engine provides the top-level coordinator for one AudioFS
// mount.
//
// The engine serves as the central wiring point and entry point for a
// mounted derived tree. It orchestrates the interaction between the
// subsystems that together answer every filesystem call:
// - Catalog: projects the source tree into the derived view
// - Driver registry: the single encoder this mount's projection uses
// - Build coordinator: turns a cold open into at most one build
// - Cache store: the on-disk home for fully-materialized derived files
// - Size maintainer: keeps the cache store under its configured budget
// - Filesystem adapter: exposes all of the above to the kernel via FUSE
//
// The engine implements a thread-safe interface with proper lifecycle
// management, ensuring resources are properly initialized and cleaned
// up. It uses atomic operations for state management to provide
// consistent behavior across concurrent operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"go.uber.org/zap"

	"github.com/audiofs/audiofs/internal/buildcoord"
	"github.com/audiofs/audiofs/internal/cachestore"
	"github.com/audiofs/audiofs/internal/catalog"
	"github.com/audiofs/audiofs/internal/driver"
	"github.com/audiofs/audiofs/internal/fsadapter"
	"github.com/audiofs/audiofs/internal/sizemaintainer"
	"github.com/audiofs/audiofs/pkg/options"
)

var (
	// ErrEngineClosed is returned when attempting to perform operations on a closed engine.
	ErrEngineClosed = errors.New("operation failed: cannot access closed engine")
)

// Engine represents the running mount and coordinates all its
// subsystems. It acts as the primary interface cmd/ entrypoints use and
// manages the lifecycle of every internal component. The engine is
// designed to be thread-safe and supports concurrent operations while
// maintaining cache and catalog consistency.
type Engine struct {
	options *options.Options // options contains all configuration parameters for the mount and its subsystems.
	log *zap.SugaredLogger // log provides structured logging capabilities throughout the engine.
	closed atomic.Bool // closed is an atomic boolean that tracks the engine's lifecycle state.

	store *cachestore.Store // store is the on-disk home for fully-materialized derived files.
	drivers *driver.Registry // drivers holds the single encoder this mount's projection uses.
	coordinator *buildcoord.Coordinator // coordinator turns a cold open into at most one build.
	maintainer *sizemaintainer.Maintainer // maintainer keeps the cache store under its configured budget.
	catalog *catalog.Catalog // catalog projects the source tree into the derived view.
	fs *fsadapter.FileSystem // fs exposes the above to the kernel via FUSE.

	mfs *fuse.MountedFileSystem
	cancelSweep context.CancelFunc
}

// Config holds all the parameters needed to initialize a new Engine instance.
type Config struct {
	Options *options.Options
	Logger *zap.SugaredLogger
}

// New creates and initializes a new Engine for the mount described by
// config, mounting it at config.Options.MountPoint before returning.
// This constructor follows the dependency injection pattern: each
// subsystem is built in the order its own dependencies become
// available, cheapest and dependency-free first, the filesystem
// adapter and the actual kernel mount last.
//
// Returns:
// - *Engine: a fully initialized, mounted engine ready for use
// - error: any error encountered during initialization or mounting
func New(ctx context.Context, config *Config) (*Engine, error) {
	opts := config.Options
	log := config.Logger

	// Initialize the cache store first since it has no dependencies on
	// any other subsystem.
	store, err := cachestore.New(&cachestore.Config{
		Directory: opts.CacheOptions.Directory,
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	// Build the single encoder this mount's projection rule needs and
	// register it. A mount never mixes drivers.
	drv, err := newDriver(opts.Driver)
	if err != nil {
		return nil, err
	}
	registry := driver.NewRegistry(drv)

	// The build coordinator depends on the store and the driver
	// registry, both already available.
	coordinator, err := buildcoord.New(&buildcoord.Config{
		Store: store,
		Drivers: registry,
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	// The size maintainer also depends only on the store; it is started
	// below once the engine has a cancellable context to run under.
	maintainer, err := sizemaintainer.New(&sizemaintainer.Config{
		Store: store,
		Logger: log,
		BudgetBytes: opts.CacheOptions.BudgetBytes,
		MinEvictableSize: opts.CacheOptions.MinEvictableSize,
		ExclusionList: opts.CacheOptions.ExclusionList,
		SweepInterval: opts.CacheOptions.SweepInterval,
		EvictionLogPath: opts.EvictionLogPath,
	})
	if err != nil {
		return nil, err
	}

	// The catalog depends only on options; it knows nothing about the
	// cache or the driver registry.
	cat, err := catalog.New(&catalog.Config{Options: opts, Logger: log})
	if err != nil {
		return nil, err
	}

	// The filesystem adapter is built last since it ties every other
	// subsystem together.
	fs, err := fsadapter.New(&fsadapter.Config{
		Catalog: cat,
		Coordinator: coordinator,
		Drivers: registry,
		Maintainer: maintainer,
		Logger: log,
		Uid: uint32(os.Getuid()),
		Gid: uint32(os.Getgid()),
	})
	if err != nil {
		return nil, err
	}

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	go func() {
		if err := maintainer.Run(sweepCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warnw("size maintainer stopped", "error", err)
		}
	}()

	mfs, err := fuse.Mount(opts.MountPoint, fuseutil.NewFileSystemServer(fs), &fuse.MountConfig{
		ReadOnly: true,
		FSName: "audiofs",
		VolumeName: fmt.Sprintf("audiofs-%s", opts.Driver),
	})
	if err != nil {
		cancelSweep()
		return nil, fmt.Errorf("mount %s: %w", opts.MountPoint, err)
	}

	log.Infow("audiofs mounted",
		"mountPoint", opts.MountPoint,
		"driver", opts.Driver,
		"sourceDir", opts.SourceDir,
	)

	// Create and return the engine with all subsystems properly
	// initialized and the kernel mount already established. At this
	// point every dependency is satisfied and the mount is live. The
	// closed flag defaults to false, indicating the engine is in an
	// active, usable state.
	return &Engine{
		options: opts,
		log: log,
		store: store,
		drivers: registry,
		coordinator: coordinator,
		maintainer: maintainer,
		catalog: cat,
		fs: fs,
		mfs: mfs,
		cancelSweep: cancelSweep,
	}, nil
}

// newDriver constructs the single encoder driver this mount's
// projection rule needs.
func newDriver(id string) (driver.Driver, error) {
	switch id {
	case options.DriverSplitTrack:
		return driver.NewSplitTrackDriver()
	case options.DriverMp3Encode:
		return driver.NewMp3EncodeDriver()
	case options.DriverOggEncode:
		return driver.NewOggEncodeDriver()
	default:
		return nil, fmt.Errorf("unknown driver %q", id)
	}
}

// Close gracefully shuts down the engine: it stops the size
// maintainer's background sweep, unmounts the derived tree, and waits
// for the kernel to confirm the unmount before returning.
func (e *Engine) Close() error {
	// Use atomic compare-and-swap to transition from open (false) to closed (true).
	// This operation is atomic and thread-safe, ensuring only one goroutine
	// can successfully close the engine. The operation returns true if the
	// swap was successful (engine was open) or false if it failed (already closed).
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}

	e.cancelSweep()

	if err := e.maintainer.Close(); err != nil {
		e.log.Warnw("failed to close eviction log sink", "error", err)
	}

	if err := fuse.Unmount(e.options.MountPoint); err != nil {
		return fmt.Errorf("unmount %s: %w", e.options.MountPoint, err)
	}

	return e.mfs.Join(context.Background())
}
