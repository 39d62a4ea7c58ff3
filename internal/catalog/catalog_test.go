package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/audiofs/audiofs/pkg/options"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile(%q) error = %v", path, err)
	}
}

func newTranscodeCatalog(t *testing.T, sourceDir, driverID string) *Catalog {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.SourceDir = sourceDir
	opts.Driver = driverID
	c, err := New(&Config{Options: &opts, Logger: zap.NewNop().Sugar()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestChildrenTranscodeProjectsFlacAndPassesThroughOthers(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "track.flac"))
	writeFile(t, filepath.Join(root, "cover.jpg")) // non-audio extension, hidden by default
	writeFile(t, filepath.Join(root, "readme.txt")) // also hidden by default
	writeFile(t, filepath.Join(root, "notes.pdf"))  // not in NonAudioExtensions, passes through
	if err := os.Mkdir(filepath.Join(root, "disc2"), 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	c := newTranscodeCatalog(t, root, options.DriverMp3Encode)
	children, err := c.Children(context.Background(), c.Root())
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}

	byName := make(map[string]*Entry, len(children))
	for _, e := range children {
		byName[filepath.Base(e.RelPath)] = e
	}

	mp3, ok := byName["track.mp3"]
	if !ok {
		t.Fatalf("children = %+v, want a projected track.mp3", children)
	}
	if mp3.Kind != KindRegular || mp3.DriverID != "mp3encode" || mp3.SourcePath != filepath.Join(root, "track.flac") {
		t.Fatalf("track.mp3 entry = %+v, want driven regular entry over track.flac", mp3)
	}

	if _, ok := byName["cover.jpg"]; ok {
		t.Fatalf("cover.jpg should be hidden by default NonAudioExtensions")
	}
	if _, ok := byName["readme.txt"]; ok {
		t.Fatalf("readme.txt should be hidden by default NonAudioExtensions")
	}
	if pdf, ok := byName["notes.pdf"]; !ok || pdf.DriverID != "" {
		t.Fatalf("notes.pdf should pass through unchanged, got %+v (ok=%v)", pdf, ok)
	}
	if dir, ok := byName["disc2"]; !ok || dir.Kind != KindDir {
		t.Fatalf("disc2 directory should mirror, got %+v (ok=%v)", dir, ok)
	}
}

func TestChildrenTranscodeHidesConfiguredNonAudioDirs(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "artwork"), 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	opts := options.NewDefaultOptions()
	opts.SourceDir = root
	opts.Driver = options.DriverOggEncode
	opts.NonAudioDirs = []string{"artwork"}
	c, err := New(&Config{Options: &opts, Logger: zap.NewNop().Sugar()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	children, err := c.Children(context.Background(), c.Root())
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	for _, e := range children {
		if filepath.Base(e.RelPath) == "artwork" {
			t.Fatalf("artwork directory should be hidden: %+v", children)
		}
	}
}

func TestChildrenSplitTrackWithoutCueIsPassThrough(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "standalone.flac"))

	c := newTranscodeCatalog(t, root, options.DriverSplitTrack)
	children, err := c.Children(context.Background(), c.Root())
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if len(children) != 1 || children[0].Kind != KindRegular || children[0].DriverID != "" {
		t.Fatalf("children = %+v, want one pass-through regular entry", children)
	}
}

func TestChildrenSplitTrackWithCueProjectsAlbumDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "album.flac"))
	writeFile(t, filepath.Join(root, "album.cue"))

	c := newTranscodeCatalog(t, root, options.DriverSplitTrack)
	children, err := c.Children(context.Background(), c.Root())
	if err != nil {
		t.Fatalf("Children() error = %v", err)
	}
	if len(children) != 1 || children[0].Kind != KindDir {
		t.Fatalf("children = %+v, want one album directory entry", children)
	}
	if filepath.Base(children[0].RelPath) != "album" {
		t.Fatalf("album dir RelPath = %q, want basename 'album'", children[0].RelPath)
	}
	if children[0].SourcePath != filepath.Join(root, "album.flac") {
		t.Fatalf("album dir SourcePath = %q, want the backing flac file", children[0].SourcePath)
	}
}

func TestLookupMissingNameReturnsNotExist(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "track.flac"))

	c := newTranscodeCatalog(t, root, options.DriverMp3Encode)
	_, err := c.Lookup(context.Background(), c.Root(), "nonexistent.mp3")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Lookup() error = %v, want an error wrapping os.ErrNotExist", err)
	}
}

func TestLookupResolvesProjectedName(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "track.flac"))

	c := newTranscodeCatalog(t, root, options.DriverMp3Encode)
	entry, err := c.Lookup(context.Background(), c.Root(), "track.mp3")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if entry.Kind != KindRegular || entry.DriverID != "mp3encode" {
		t.Fatalf("Lookup() entry = %+v, want a driven mp3encode regular entry", entry)
	}
}

func TestGetAttrDirectoryIsZero(t *testing.T) {
	root := t.TempDir()
	c := newTranscodeCatalog(t, root, options.DriverMp3Encode)

	size, err := c.GetAttr(context.Background(), &Entry{Kind: KindDir}, nil)
	if err != nil {
		t.Fatalf("GetAttr() error = %v", err)
	}
	if size != 0 {
		t.Fatalf("GetAttr() on a directory = %d, want 0", size)
	}
}

func TestGetAttrPassThroughUsesSourceSize(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "notes.pdf")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	c := newTranscodeCatalog(t, root, options.DriverMp3Encode)
	size, err := c.GetAttr(context.Background(), &Entry{Kind: KindRegular, SourcePath: path}, nil)
	if err != nil {
		t.Fatalf("GetAttr() error = %v", err)
	}
	if size != 10 {
		t.Fatalf("GetAttr() = %d, want 10", size)
	}
}

func TestRecordTrueSizeOverridesFutureGetAttr(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "track.flac"))

	c := newTranscodeCatalog(t, root, options.DriverMp3Encode)
	c.RecordTrueSize("track.mp3", 999)

	entry := &Entry{RelPath: "track.mp3", Kind: KindRegular, SourcePath: filepath.Join(root, "track.flac"), DriverID: "mp3encode"}
	size, err := c.GetAttr(context.Background(), entry, nil)
	if err != nil {
		t.Fatalf("GetAttr() error = %v", err)
	}
	if size != 999 {
		t.Fatalf("GetAttr() after RecordTrueSize = %d, want 999 (memo must win over the estimator)", size)
	}
}
