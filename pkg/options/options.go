// Package options provides data structures and functions for configuring
// an AudioFS projection. It defines the parameters that control which
// source tree is projected, which encoder driver renders it, and how the
// on-disk cache is sized and maintained.
package options

import (
	"strings"
	"time"
)

// Driver identifiers understood by the engine's driver registry.
const (
	DriverSplitTrack = "splittrack"
	DriverMp3Encode  = "mp3encode"
	DriverOggEncode  = "oggencode"
)

// cacheOptions defines configurable parameters for the on-disk cache store.
// It provides fine-grained control over eviction behavior and storage
// budget enforcement.
type cacheOptions struct {
	// Directory where ready and in-progress cache files are stored.
	//
	// Default: "/var/cache/audiofs"
	Directory string `json:"directory"`

	// BudgetBytes is the configured byte-budget enforced by the size
	// maintainer. Entries are evicted LRU-first while the sum of
	// ready entries' lengths exceeds this value.
	//
	// Default: 10 GiB
	BudgetBytes uint64 `json:"budgetBytes"`

	// MinEvictableSize is the minimum on-disk size an entry must have to
	// be considered by the size maintainer. Small metadata-ish files
	// below this threshold are left alone even when unpinned and LRU.
	//
	// Default: 0 (no minimum)
	MinEvictableSize uint64 `json:"minEvictableSize"`

	// ExclusionList names cache filenames (hex fingerprints) that must
	// never be evicted regardless of access time, e.g. long-lived
	// metadata artifacts.
	ExclusionList []string `json:"exclusionList"`

	// SweepInterval controls how often the size maintainer runs its
	// periodic sweep, independent of the post-promotion hook.
	//
	// Default: 30s
	SweepInterval time.Duration `json:"sweepInterval"`
}

// Options defines the full configuration for a single AudioFS mount.
type Options struct {
	// SourceDir is the absolute path to the root of the source audio
	// tree that is projected into the derived view.
	SourceDir string `json:"sourceDir"`

	// MountPoint is the absolute path at which the derived filesystem is
	// exposed to the kernel.
	MountPoint string `json:"mountPoint"`

	// Driver selects which projection rule and encoder this
	// mount uses. One of DriverSplitTrack, DriverMp3Encode, DriverOggEncode.
	Driver string `json:"driver"`

	// BitrateKbps configures the target bitrate for lossy drivers.
	// Ignored by DriverSplitTrack.
	//
	// Default: 192
	BitrateKbps int `json:"bitrateKbps"`

	// NonAudioExtensions lists file extensions (including the leading
	// dot) hidden from the derived view.
	NonAudioExtensions []string `json:"nonAudioExtensions"`

	// NonAudioDirs lists subdirectory names hidden from the derived view
	// under the lossy transcoder projections.
	NonAudioDirs []string `json:"nonAudioDirs"`

	// TrackNameSeparator joins the zero-padded track number and the
	// sanitized track title when SplitTrack names per-track files.
	//
	// Default: " - "
	TrackNameSeparator string `json:"trackNameSeparator"`

	// EvictionLogPath, if non-empty, additionally routes eviction log
	// records to a file at this path.
	EvictionLogPath string `json:"evictionLogPath"`

	// CacheOptions configures the on-disk cache store and size maintainer.
	CacheOptions *cacheOptions `json:"cacheOptions"`
}

// OptionFunc is a function that modifies an AudioFS mount's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions applies the full set of default configuration values.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = NewDefaultOptions()
	}
}

// WithSourceDir sets the source audio tree root.
func WithSourceDir(dir string) OptionFunc {
	return func(o *Options) {
		dir = strings.TrimSpace(dir)
		if dir != "" {
			o.SourceDir = dir
		}
	}
}

// WithMountPoint sets the mount point for the derived filesystem.
func WithMountPoint(dir string) OptionFunc {
	return func(o *Options) {
		dir = strings.TrimSpace(dir)
		if dir != "" {
			o.MountPoint = dir
		}
	}
}

// WithDriver selects the projection driver for this mount.
func WithDriver(driver string) OptionFunc {
	return func(o *Options) {
		driver = strings.TrimSpace(driver)
		if driver != "" {
			o.Driver = driver
		}
	}
}

// WithBitrateKbps sets the target bitrate for lossy drivers.
func WithBitrateKbps(kbps int) OptionFunc {
	return func(o *Options) {
		if kbps > 0 {
			o.BitrateKbps = kbps
		}
	}
}

// WithCacheDir sets the directory backing the on-disk cache store.
func WithCacheDir(dir string) OptionFunc {
	return func(o *Options) {
		dir = strings.TrimSpace(dir)
		if dir != "" {
			o.CacheOptions.Directory = dir
		}
	}
}

// WithCacheBudgetBytes sets the byte-budget enforced by the size maintainer.
func WithCacheBudgetBytes(budget uint64) OptionFunc {
	return func(o *Options) {
		if budget > 0 {
			o.CacheOptions.BudgetBytes = budget
		}
	}
}

// WithMinEvictableSize sets the minimum on-disk entry size eligible for eviction.
func WithMinEvictableSize(size uint64) OptionFunc {
	return func(o *Options) {
		o.CacheOptions.MinEvictableSize = size
	}
}

// WithExclusionList sets the fingerprint names excluded from eviction.
func WithExclusionList(names []string) OptionFunc {
	return func(o *Options) {
		o.CacheOptions.ExclusionList = names
	}
}

// WithSweepInterval sets how often the size maintainer's periodic sweep runs.
func WithSweepInterval(interval time.Duration) OptionFunc {
	return func(o *Options) {
		if interval > 0 {
			o.CacheOptions.SweepInterval = interval
		}
	}
}

// WithEvictionLogPath sets an additional file destination for eviction records.
func WithEvictionLogPath(path string) OptionFunc {
	return func(o *Options) {
		o.EvictionLogPath = strings.TrimSpace(path)
	}
}
