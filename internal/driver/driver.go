// Package driver implements the encoder drivers: strategy
// objects that, given a source descriptor and parameters, produce the
// full byte stream of one derived file. Three concrete drivers exist —
// SplitTrack, Mp3Encode, OggEncode — each honoring the same small
// capability set so the build coordinator can treat them polymorphically.
package driver

import (
	"context"
	"io"

	"github.com/audiofs/audiofs/pkg/fsutil"
	"github.com/audiofs/audiofs/pkg/options"
)

// ID names a concrete driver implementation.
type ID string

const (
	SplitTrack ID = ID(options.DriverSplitTrack)
	Mp3Encode ID = ID(options.DriverMp3Encode)
	OggEncode ID = ID(options.DriverOggEncode)
)

// Request describes one derived file to produce: the source it is
// derived from, the driver-specific parameters (e.g. bitrate, or a cue
// track index), and the source's identity at the time the request was
// made.
type Request struct {
	SourcePath string
	Identity fsutil.Identity
	// TrackIndex selects one cue index for SplitTrack; zero for the
	// single-stream drivers.
	TrackIndex int
	// BitrateKbps selects the target bitrate for Mp3Encode/OggEncode.
	BitrateKbps int
}

// Driver is the common contract every encoder strategy satisfies.
// Implementations are pure over their inputs:
// fingerprint equality implies byte-stream equality for the same
// driver-version tag.
type Driver interface {
	// ID returns the driver's identifier.
	ID() ID

	// Version returns the driver-version tag baked into this
	// implementation; changing it must invalidate every cache entry
	// this driver previously produced.
	Version() string

	// ParamTuple canonicalizes req's driver-specific parameters to a
	// string suitable for hashing into a fingerprint.
	ParamTuple(req Request) (string, error)

	// EstimateSize reports the projected byte length of the derived
	// stream without producing it, for getattr before first build.
	// The estimate must be monotone and
	// upper-bounded: no reader may ever be offered bytes past the
	// estimate and then find fewer bytes are actually available.
	EstimateSize(ctx context.Context, req Request) (int64, error)

	// RunToSink produces the full derived byte stream, writing it to
	// w in order. It must not write any byte to w on failure that
	// the cache store has already made visible under a final name —
	// callers are responsible for only promoting w's backing file
	// after RunToSink returns nil.
	RunToSink(ctx context.Context, req Request, w io.Writer) error
}

// Registry maps driver IDs to their implementation, so the build
// coordinator and catalog can be configured with exactly the drivers a
// given mount needs.
type Registry struct {
	drivers map[ID]Driver
}

// NewRegistry returns a Registry containing every given driver, keyed
// by its own ID().
func NewRegistry(drivers ...Driver) *Registry {
	r := &Registry{drivers: make(map[ID]Driver, len(drivers))}
	for _, d := range drivers {
		r.drivers[d.ID()] = d
	}
	return r
}

// Get returns the driver registered for id, or false if none is.
func (r *Registry) Get(id ID) (Driver, bool) {
	d, ok := r.drivers[id]
	return d, ok
}
