package options

import "time"

const (
	// DefaultCacheDir is the base directory used for the on-disk cache
	// store when no other directory is specified.
	DefaultCacheDir = "/var/cache/audiofs"

	// DefaultBitrateKbps is the target bitrate used by lossy drivers
	// when no bitrate is configured.
	DefaultBitrateKbps = 192

	// DefaultCacheBudgetBytes is the default cache byte-budget (10 GiB).
	DefaultCacheBudgetBytes uint64 = 10 * 1024 * 1024 * 1024

	// DefaultSweepInterval is the default period between size
	// maintainer sweeps.
	DefaultSweepInterval = 30 * time.Second

	// DefaultTrackNameSeparator joins a zero-padded track number and a
	// sanitized track title when SplitTrack names per-track files.
	DefaultTrackNameSeparator = " - "
)

// DefaultNonAudioExtensions lists extensions hidden from the derived view.
var DefaultNonAudioExtensions = []string{".cue", ".log", ".jpg", ".jpeg", ".png", ".txt", ".nfo", ".m3u"}

// Holds the default configuration for an AudioFS mount.
var defaultOptions = Options{
	BitrateKbps:        DefaultBitrateKbps,
	NonAudioExtensions: append([]string(nil), DefaultNonAudioExtensions...),
	TrackNameSeparator: DefaultTrackNameSeparator,
	CacheOptions: &cacheOptions{
		Directory:     DefaultCacheDir,
		BudgetBytes:   DefaultCacheBudgetBytes,
		SweepInterval: DefaultSweepInterval,
	},
}

// NewDefaultOptions returns a fresh copy of the default configuration.
// Every call returns independently owned slices/pointers so callers can
// safely mutate the result.
func NewDefaultOptions() Options {
	opts := defaultOptions
	opts.NonAudioExtensions = append([]string(nil), defaultOptions.NonAudioExtensions...)
	cache := *defaultOptions.CacheOptions
	opts.CacheOptions = &cache
	return opts
}
