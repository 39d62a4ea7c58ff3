// Package catalog implements the virtual catalog: a directory tree
// derived from scanning the source tree and applying the mount's
// projection rule, answering lookup/readdir/getattr without invoking
// any encoder.
package catalog

import (
	"sync"

	"go.uber.org/zap"

	"github.com/audiofs/audiofs/internal/driver"
	"github.com/audiofs/audiofs/pkg/options"
)

// Kind distinguishes the shapes a virtual entry can take.
type Kind int

const (
	KindDir Kind = iota
	KindRegular
)

// Entry is one node in the derived tree. RelPath is relative to the
// mount's derived root; SourcePath is the single source file this
// entry projects from (empty for directories that have no
// single-source analogue).
type Entry struct {
	RelPath     string
	Kind        Kind
	SourcePath  string
	DriverID    driver.ID
	TrackIndex  int
	BitrateKbps int
}

// Catalog scans the source tree on demand and answers lookup/readdir
// by applying the configured projection rule.
type Catalog struct {
	opts *options.Options
	log  *zap.SugaredLogger

	mu          sync.Mutex
	sizeMemo    map[string]int64 // RelPath -> true size, once known.
	nonAudioExt map[string]bool
	nonAudioDir map[string]bool
}

// Config holds the parameters needed to initialize a Catalog.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}
