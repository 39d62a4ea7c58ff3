package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cue "github.com/Coppertino/cue-go"

	"github.com/audiofs/audiofs/internal/driver"
	audioerrors "github.com/audiofs/audiofs/pkg/errors"
	"github.com/audiofs/audiofs/pkg/fsutil"
	"github.com/audiofs/audiofs/pkg/options"
)

// flacExt and cueExt are the two extensions every projection rule
// reasons about.
const (
	flacExt = ".flac"
	cueExt  = ".cue"
)

// New returns a ready Catalog for the mount described by config.
func New(config *Config) (*Catalog, error) {
	if config == nil || config.Options == nil || config.Logger == nil {
		return nil, audioerrors.NewConfigurationValidationError("config", "catalog requires options and a logger")
	}

	nonAudioExt := make(map[string]bool, len(config.Options.NonAudioExtensions))
	for _, ext := range config.Options.NonAudioExtensions {
		nonAudioExt[ext] = true
	}
	nonAudioDir := make(map[string]bool, len(config.Options.NonAudioDirs))
	for _, dir := range config.Options.NonAudioDirs {
		nonAudioDir[dir] = true
	}

	return &Catalog{
		opts:        config.Options,
		log:         config.Logger,
		sizeMemo:    make(map[string]int64),
		nonAudioExt: nonAudioExt,
		nonAudioDir: nonAudioDir,
	}, nil
}

func (c *Catalog) driverID() driver.ID {
	return driver.ID(c.opts.Driver)
}

func (c *Catalog) derivedExt() string {
	switch c.opts.Driver {
	case options.DriverMp3Encode:
		return ".mp3"
	case options.DriverOggEncode:
		return ".ogg"
	default:
		return flacExt
	}
}

// sourcePath maps a relative path in the source tree to its absolute
// location.
func (c *Catalog) sourcePath(relDir string) string {
	return filepath.Join(c.opts.SourceDir, relDir)
}

// Root returns the Entry for the derived tree's root directory.
func (c *Catalog) Root() *Entry {
	return &Entry{RelPath: ".", Kind: KindDir}
}

// Lookup resolves name within dir (a KindDir Entry previously returned
// by Root/Lookup/Children) to its Entry. It returns a SourceError with
// ErrorCodeSourceMissing wrapping os.ErrNotExist (mapped to ENOENT by
// the filesystem adapter) when nothing projects to that name.
func (c *Catalog) Lookup(ctx context.Context, dir *Entry, name string) (*Entry, error) {
	entries, err := c.Children(ctx, dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if filepath.Base(e.RelPath) == name {
			return e, nil
		}
	}
	return nil, audioerrors.NewSourceError(os.ErrNotExist, audioerrors.ErrorCodeSourceMissing, "no entry projects to this name").
		WithPath(filepath.Join(dir.RelPath, name))
}

// Children lists dir's derived entries. dir.SourcePath distinguishes a
// SplitTrack album directory
// (backed by one .flac+.cue pair) from an ordinary mirrored directory:
// only the former is listed via the cue sheet rather than by scanning
// the source tree.
func (c *Catalog) Children(ctx context.Context, dir *Entry) ([]*Entry, error) {
	if c.opts.Driver == options.DriverSplitTrack && dir.SourcePath != "" {
		return c.readTrackDir(dir)
	}
	if c.opts.Driver == options.DriverSplitTrack {
		return c.readDirSplitTrack(dir.RelPath)
	}
	return c.readDirTranscode(dir.RelPath)
}

// readDirTranscode implements the Mp3Encode/OggEncode projection:
// every source .flac becomes one derived file with the same stem and
// the driver's extension; non-audio files pass through unchanged;
// directories mirror, except configured non-audio directories, which
// are hidden.
func (c *Catalog) readDirTranscode(dirRelPath string) ([]*Entry, error) {
	sourceDir := c.sourcePath(dirRelPath)
	infos, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, classifySourceListError(err, sourceDir)
	}

	entries := make([]*Entry, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		relPath := filepath.Join(dirRelPath, name)

		if info.IsDir() {
			if c.nonAudioDir[name] {
				continue
			}
			entries = append(entries, &Entry{RelPath: relPath, Kind: KindDir})
			continue
		}

		ext := filepath.Ext(name)
		if ext == flacExt {
			stem := strings.TrimSuffix(name, ext)
			entries = append(entries, &Entry{
				RelPath:     filepath.Join(dirRelPath, stem+c.derivedExt()),
				Kind:        KindRegular,
				SourcePath:  c.sourcePath(relPath),
				DriverID:    c.driverID(),
				BitrateKbps: c.opts.BitrateKbps,
			})
			continue
		}

		if !c.nonAudioExt[ext] {
			entries = append(entries, &Entry{RelPath: relPath, Kind: KindRegular, SourcePath: c.sourcePath(relPath)})
		}
	}
	return entries, nil
}

// readDirSplitTrack implements the SplitTrack projection: a .flac with
// a sibling .cue becomes a directory of per-track files; a .flac
// without a matching cue, and any other file, passes through unchanged.
func (c *Catalog) readDirSplitTrack(dirRelPath string) ([]*Entry, error) {
	sourceDir := c.sourcePath(dirRelPath)
	infos, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, classifySourceListError(err, sourceDir)
	}

	entries := make([]*Entry, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		relPath := filepath.Join(dirRelPath, name)

		if info.IsDir() {
			entries = append(entries, &Entry{RelPath: relPath, Kind: KindDir})
			continue
		}

		ext := filepath.Ext(name)
		if ext != flacExt {
			if !c.nonAudioExt[ext] {
				entries = append(entries, &Entry{RelPath: relPath, Kind: KindRegular, SourcePath: c.sourcePath(relPath)})
			}
			continue
		}

		stem := strings.TrimSuffix(name, ext)
		cuePath := filepath.Join(sourceDir, stem+cueExt)
		if _, err := os.Stat(cuePath); err != nil {
			// No matching cue sheet: pass the lossless file through
			// unchanged.
			entries = append(entries, &Entry{RelPath: relPath, Kind: KindRegular, SourcePath: c.sourcePath(relPath)})
			continue
		}

		entries = append(entries, &Entry{
			RelPath:    filepath.Join(dirRelPath, stem),
			Kind:       KindDir,
			SourcePath: c.sourcePath(relPath),
		})
	}
	return entries, nil
}

// readTrackDir lists the per-track entries for a SplitTrack album
// directory backed by a .flac+.cue pair, naming each file from cue
// metadata. albumEntry is the KindDir Entry
// previously returned by Children for this album, whose SourcePath
// names the backing .flac file.
func (c *Catalog) readTrackDir(albumEntry *Entry) ([]*Entry, error) {
	sourceFlac := albumEntry.SourcePath
	sheet, err := c.parseCue(sourceFlac)
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0)
	for _, f := range sheet.Files {
		for _, t := range f.Tracks {
			filename := fmt.Sprintf("%02d%s%s%s", t.Number, c.opts.TrackNameSeparator, sanitizeTitle(t.Title), flacExt)
			entries = append(entries, &Entry{
				RelPath:    filepath.Join(albumEntry.RelPath, filename),
				Kind:       KindRegular,
				SourcePath: sourceFlac,
				DriverID:   driver.SplitTrack,
				TrackIndex: t.Number,
			})
		}
	}
	return entries, nil
}

func (c *Catalog) parseCue(sourceFlac string) (*cue.Sheet, error) {
	cuePath := strings.TrimSuffix(sourceFlac, flacExt) + cueExt
	file, err := os.Open(cuePath)
	if err != nil {
		return nil, audioerrors.NewSourceError(err, audioerrors.ErrorCodeSourceMissing, "cue sheet not found").WithPath(cuePath)
	}
	defer file.Close()

	sheet, err := cue.Parse(file)
	if err != nil {
		return nil, audioerrors.NewSourceError(err, audioerrors.ErrorCodeSourceUnreadable, "failed to parse cue sheet").WithPath(cuePath)
	}
	return sheet, nil
}

// GetAttr returns entry's current size: the true size from the
// size-invalidation memo if one has been recorded, or estimator's
// EstimateSize otherwise.
func (c *Catalog) GetAttr(ctx context.Context, entry *Entry, estimator Estimator) (int64, error) {
	if entry.Kind == KindDir {
		return 0, nil
	}

	c.mu.Lock()
	if size, ok := c.sizeMemo[entry.RelPath]; ok {
		c.mu.Unlock()
		return size, nil
	}
	c.mu.Unlock()

	if entry.DriverID == "" {
		info, err := os.Stat(entry.SourcePath)
		if err != nil {
			return 0, audioerrors.NewSourceError(err, audioerrors.ErrorCodeSourceMissing, "pass-through source file is missing").
				WithPath(entry.SourcePath)
		}
		return info.Size(), nil
	}

	identity, err := fsutil.StatIdentity(entry.SourcePath)
	if err != nil {
		return 0, audioerrors.NewSourceError(err, audioerrors.ErrorCodeSourceMissing, "source file is missing").
			WithPath(entry.SourcePath)
	}

	return estimator.EstimateSize(ctx, driver.Request{
		SourcePath:  entry.SourcePath,
		Identity:    identity,
		TrackIndex:  entry.TrackIndex,
		BitrateKbps: entry.BitrateKbps,
	})
}

// Estimator is the subset of driver.Driver the catalog needs for
// getattr before any build has happened.
type Estimator interface {
	EstimateSize(ctx context.Context, req driver.Request) (int64, error)
}

// RecordTrueSize replaces relPath's estimated size with its now-known
// true size, so future getattr calls return it instead of invoking the
// estimator. It sends no invalidation to the kernel itself.
func (c *Catalog) RecordTrueSize(relPath string, size int64) {
	c.mu.Lock()
	c.sizeMemo[relPath] = size
	c.mu.Unlock()
}

// sanitizeTitle strips characters unsafe in a per-track filename built
// from cue metadata.
func sanitizeTitle(title string) string {
	return driver.SanitizeTitle(title)
}

func classifySourceListError(err error, path string) error {
	if os.IsNotExist(err) {
		return audioerrors.NewSourceError(err, audioerrors.ErrorCodeSourceMissing, "source directory is missing").WithPath(path)
	}
	return audioerrors.NewSourceError(err, audioerrors.ErrorCodeSourceUnreadable, "failed to list source directory").WithPath(path)
}
