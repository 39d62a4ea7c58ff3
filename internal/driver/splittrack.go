package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	goflac "github.com/go-flac/go-flac"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	cue "github.com/Coppertino/cue-go"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/meta"

	audioerrors "github.com/audiofs/audiofs/pkg/errors"
)

// splitTrackVersion is the driver-version tag for SplitTrack.
const splitTrackVersion = "splittrack.v1"

// illegalFilenameChars matches characters unsafe in a per-track
// filename built from cue metadata.
var illegalFilenameChars = regexp.MustCompile(`[/\\:*?"<>|]`)

// SanitizeTitle strips characters that cannot appear in a filename on
// the host filesystem, collapsing runs of whitespace left behind.
func SanitizeTitle(title string) string {
	cleaned := illegalFilenameChars.ReplaceAllString(title, "")
	return strings.Join(strings.Fields(cleaned), " ")
}

// SplitTrackDriver turns one track of a cue-sheet-described FLAC album
// into its own lossless stream.
// A Request for this driver names the album FLAC as SourcePath and the
// cue-sheet track number as TrackIndex.
type SplitTrackDriver struct {
	encoderPath string
}

// NewSplitTrackDriver resolves the external trimming tool ("ffmpeg" by
// convention, used here in stream-copy mode since the derived
// container is the same FLAC codec as the source) and returns a ready
// driver.
func NewSplitTrackDriver() (*SplitTrackDriver, error) {
	path, err := lookPath(SplitTrack, "ffmpeg")
	if err != nil {
		return nil, err
	}
	return &SplitTrackDriver{encoderPath: path}, nil
}

func (d *SplitTrackDriver) ID() ID { return SplitTrack }

func (d *SplitTrackDriver) Version() string { return splitTrackVersion }

func (d *SplitTrackDriver) ParamTuple(req Request) (string, error) {
	return fmt.Sprintf("track=%d", req.TrackIndex), nil
}

// cuePath returns the sibling .cue file for a source .flac path: same
// stem, .cue extension.
func cuePath(sourcePath string) string {
	return strings.TrimSuffix(sourcePath, ".flac") + ".cue"
}

// trackBounds locates track trackNumber in sheet and returns its start
// time and, if it isn't the last track on the file, its end time.
func trackBounds(sheet *cue.Sheet, sourcePath string, trackNumber int) (start cue.Time, end *cue.Time, err error) {
	for _, f := range sheet.Files {
		for i, t := range f.Tracks {
			if t.Number != trackNumber {
				continue
			}
			for _, idx := range t.Indexes {
				if idx.Number == 1 {
					start = idx.Time
				}
			}
			if i+1 < len(f.Tracks) {
				next := f.Tracks[i+1]
				for _, idx := range next.Indexes {
					if idx.Number == 1 {
						e := idx.Time
						end = &e
					}
				}
			}
			return start, end, nil
		}
	}
	return cue.Time{}, nil, audioerrors.NewSourceError(nil, audioerrors.ErrorCodeSourceMissing, "track not found in cue sheet").
		WithPath(sourcePath).WithDetail("track", trackNumber)
}

// parseCueSheet opens and parses the source's sibling cue sheet.
func parseCueSheet(sourcePath string) (*cue.Sheet, error) {
	path := cuePath(sourcePath)
	file, err := os.Open(path)
	if err != nil {
		return nil, audioerrors.NewSourceError(err, audioerrors.ErrorCodeSourceMissing, "cue sheet not found").
			WithPath(path)
	}
	defer file.Close()

	sheet, err := cue.Parse(file)
	if err != nil {
		return nil, audioerrors.NewSourceError(err, audioerrors.ErrorCodeSourceUnreadable, "failed to parse cue sheet").
			WithPath(path)
	}
	return sheet, nil
}

// EstimateSize reports the per-track byte length derived from the
// cue-sheet track boundaries and the source's bytes-per-second.
func (d *SplitTrackDriver) EstimateSize(ctx context.Context, req Request) (int64, error) {
	sheet, err := parseCueSheet(req.SourcePath)
	if err != nil {
		return 0, err
	}

	start, end, err := trackBounds(sheet, req.SourcePath, req.TrackIndex)
	if err != nil {
		return 0, err
	}

	stream, err := flac.ParseFile(req.SourcePath)
	if err != nil {
		return 0, audioerrors.NewSourceError(err, audioerrors.ErrorCodeSourceUnreadable, "failed to parse source FLAC stream").
			WithPath(req.SourcePath)
	}
	info := stream.Info
	stream.Close()
	if info.SampleRate == 0 {
		return 0, audioerrors.NewSourceError(nil, audioerrors.ErrorCodeSourceUnreadable, "source FLAC stream has no sample rate").
			WithPath(req.SourcePath)
	}

	bytesPerSecond := float64(info.SampleRate) * float64(info.BitsPerSample) / 8 * float64(info.NChannels)
	totalDuration := float64(info.NSamples) / float64(info.SampleRate)

	endSeconds := totalDuration
	if end != nil {
		endSeconds = end.Seconds()
	}
	durationSeconds := endSeconds - start.Seconds()
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	return int64(durationSeconds * bytesPerSecond), nil
}

// RunToSink trims the source album FLAC to this track's cue boundaries
// via ffmpeg stream-copy, then rewrites the output's tag blocks with
// per-track metadata taken from the cue sheet (track number, title,
// artist, and the cue sheet's own TITLE as album) and the album's
// embedded artwork, if any. The source file's own Vorbis comments are
// not carried over to the track.
func (d *SplitTrackDriver) RunToSink(ctx context.Context, req Request, w io.Writer) error {
	sheet, err := parseCueSheet(req.SourcePath)
	if err != nil {
		return err
	}

	start, end, err := trackBounds(sheet, req.SourcePath, req.TrackIndex)
	if err != nil {
		return err
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-ss", formatCueTime(start), "-i", req.SourcePath}
	if end != nil {
		args = append(args, "-to", formatCueTime(*end))
	}
	args = append(args, "-c", "copy", "-f", "flac", "-")

	run := runProcess(ctx, SplitTrack, d.encoderPath, args...)
	if err := run(w); err != nil {
		return err
	}

	file, ok := w.(*os.File)
	if !ok {
		return nil
	}
	return retagSplitTrack(file.Name(), req.SourcePath, sheet, req.TrackIndex)
}

// formatCueTime renders a cue sheet timestamp as ffmpeg's HH:MM:SS.mmm
// input-seeking format.
func formatCueTime(t cue.Time) string {
	totalSeconds := t.Seconds()
	hours := int(totalSeconds) / 3600
	minutes := (int(totalSeconds) % 3600) / 60
	seconds := totalSeconds - float64(hours*3600+minutes*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", hours, minutes, seconds)
}

// retagSplitTrack rewrites trackPath's VORBIS_COMMENT block with the
// per-track and album tags from the cue sheet, and copies the source
// album's first PICTURE block across as a front cover, if one exists.
func retagSplitTrack(trackPath, sourcePath string, sheet *cue.Sheet, trackNumber int) error {
	track, err := findTrack(sheet, trackNumber)
	if err != nil {
		return err
	}

	out, err := goflac.ParseFile(trackPath)
	if err != nil {
		return audioerrors.NewDriverError(err, audioerrors.ErrorCodeDriverTruncatedOutput, "failed to parse trimmed track for tagging").
			WithDriverID(string(SplitTrack)).WithDetail("path", trackPath)
	}

	comment := flacvorbis.New()
	_ = comment.Add(flacvorbis.FIELD_TITLE, track.Title)
	if performer := nonEmpty(track.Performer, sheet.Performer); performer != "" {
		_ = comment.Add(flacvorbis.FIELD_ARTIST, performer)
	}
	if sheet.Title != "" {
		_ = comment.Add("ALBUM", sheet.Title)
	}
	_ = comment.Add("TRACKNUMBER", fmt.Sprintf("%02d", track.Number))

	commentBlock := comment.Marshal()
	out.Meta = replaceOrAppendBlock(out.Meta, goflac.VorbisComment, &commentBlock)

	if picture, ok := sourcePicture(sourcePath); ok {
		pictureBlock := picture.Marshal()
		out.Meta = replaceOrAppendBlock(out.Meta, goflac.Picture, &pictureBlock)
	}

	if err := out.Save(trackPath); err != nil {
		return audioerrors.NewDriverError(err, audioerrors.ErrorCodeDriverTruncatedOutput, "failed to save retagged track").
			WithDriverID(string(SplitTrack)).WithDetail("path", trackPath)
	}
	return nil
}

func findTrack(sheet *cue.Sheet, trackNumber int) (*cue.Track, error) {
	for _, f := range sheet.Files {
		for _, t := range f.Tracks {
			if t.Number == trackNumber {
				return t, nil
			}
		}
	}
	return nil, audioerrors.NewSourceError(nil, audioerrors.ErrorCodeSourceMissing, "track not found in cue sheet").
		WithDetail("track", trackNumber)
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// sourcePicture reads the first picture embedded in the source album,
// whatever its picture type, if mewkiz/flac reports one, and re-wraps
// it as a go-flac front-cover picture metadata block ready for Marshal.
func sourcePicture(sourcePath string) (*flacpicture.MetadataBlockPicture, bool) {
	stream, err := flac.ParseFile(sourcePath)
	if err != nil {
		return nil, false
	}
	defer stream.Close()

	for _, b := range stream.Blocks {
		if b.Type != meta.TypePicture {
			continue
		}
		pic, ok := b.Body.(*meta.Picture)
		if !ok {
			continue
		}
		picture, err := flacpicture.NewFromImageData(
			flacpicture.PictureTypeFrontCover, pic.Desc, pic.Data, pic.MIME,
		)
		if err != nil {
			return nil, false
		}
		return picture, true
	}
	return nil, false
}

// replaceOrAppendBlock swaps out the first metadata block of blockType
// in blocks for replacement, or appends it if none exists.
func replaceOrAppendBlock(blocks []*goflac.MetaDataBlock, blockType goflac.BlockType, replacement *goflac.MetaDataBlock) []*goflac.MetaDataBlock {
	for i, b := range blocks {
		if b.Type == blockType {
			blocks[i] = replacement
			return blocks
		}
	}
	return append(blocks, replacement)
}
