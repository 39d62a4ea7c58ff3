package driver

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/meta"

	audioerrors "github.com/audiofs/audiofs/pkg/errors"
)

// mp3EncodeVersion is the driver-version tag for Mp3Encode. Bump it whenever the bitrate-to-estimate
// formula or the tag mapping below changes shape, so every prior cache
// entry this driver produced is invalidated.
const mp3EncodeVersion = "mp3encode.v1"

// mp3FrameBytes is the MPEG-1 Layer III frame-length coefficient: one
// frame holds 144 x bitrate / sample rate bytes, plus one padding byte
// on some frames. EstimateSize uses it to round up to a whole frame.
const mp3FrameBytes = 144

// Mp3EncodeDriver transcodes a lossless FLAC source into a CBR MPEG
// Layer III stream at a configured bitrate, mapping the source's
// Vorbis comments onto ID3v2 frames.
type Mp3EncodeDriver struct {
	encoderPath string
}

// NewMp3EncodeDriver resolves the external encoder ("lame" by
// convention) and returns a ready driver.
func NewMp3EncodeDriver() (*Mp3EncodeDriver, error) {
	path, err := lookPath(Mp3Encode, "lame")
	if err != nil {
		return nil, err
	}
	return &Mp3EncodeDriver{encoderPath: path}, nil
}

func (d *Mp3EncodeDriver) ID() ID { return Mp3Encode }

func (d *Mp3EncodeDriver) Version() string { return mp3EncodeVersion }

func (d *Mp3EncodeDriver) ParamTuple(req Request) (string, error) {
	return fmt.Sprintf("bitrate=%d", req.BitrateKbps), nil
}

// EstimateSize reports bitrate x duration rounded up to a whole MP3
// frame, reading only the FLAC STREAMINFO block to learn duration.
func (d *Mp3EncodeDriver) EstimateSize(ctx context.Context, req Request) (int64, error) {
	stream, err := flac.ParseFile(req.SourcePath)
	if err != nil {
		return 0, audioerrors.NewSourceError(err, audioerrors.ErrorCodeSourceUnreadable, "failed to parse source FLAC stream").
			WithPath(req.SourcePath)
	}
	defer stream.Close()

	info := stream.Info
	if info.SampleRate == 0 {
		return 0, audioerrors.NewSourceError(nil, audioerrors.ErrorCodeSourceUnreadable, "source FLAC stream has no sample rate").
			WithPath(req.SourcePath)
	}

	durationSeconds := float64(info.NSamples) / float64(info.SampleRate)
	bitsPerSecond := float64(req.BitrateKbps) * 1000
	totalBytes := durationSeconds * bitsPerSecond / 8

	// Every frame is counted at its padded length so the estimate stays
	// an upper bound.
	frameBytes := math.Floor(mp3FrameBytes*bitsPerSecond/float64(info.SampleRate)) + 1
	frames := math.Ceil(totalBytes / frameBytes)
	return int64(frames * frameBytes), nil
}

// RunToSink invokes lame to transcode the source to CBR MP3, then maps
// the source's lossless tags onto ID3v2 frames in place.
func (d *Mp3EncodeDriver) RunToSink(ctx context.Context, req Request, w io.Writer) error {
	run := runProcess(
		ctx, Mp3Encode, d.encoderPath,
		"--silent", "--cbr", "-b", fmt.Sprintf("%d", req.BitrateKbps),
		req.SourcePath, "-",
	)
	if err := run(w); err != nil {
		return err
	}

	file, ok := w.(*os.File)
	if !ok {
		return nil
	}

	return applyID3Tags(file.Name(), req.SourcePath)
}

// applyID3Tags copies the FLAC source's Vorbis comments onto the
// freshly-written MP3 file's ID3v2.4 tag set using canonical field
// names.
func applyID3Tags(mp3Path, sourcePath string) error {
	stream, err := flac.ParseFile(sourcePath)
	if err != nil {
		return audioerrors.NewSourceError(err, audioerrors.ErrorCodeSourceUnreadable, "failed to parse source FLAC tags").
			WithPath(sourcePath)
	}
	tags := vorbisTagsOf(stream)
	stream.Close()

	tag, err := id3v2.Open(mp3Path, id3v2.Options{Parse: false})
	if err != nil {
		return audioerrors.NewDriverError(err, audioerrors.ErrorCodeDriverTruncatedOutput, "failed to open encoded MP3 for tagging").
			WithDriverID(string(Mp3Encode)).WithDetail("path", mp3Path)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	setIfPresent := func(setter func(string), key string) {
		if v, ok := tags[key]; ok {
			setter(v)
		}
	}
	setIfPresent(tag.SetTitle, "TITLE")
	setIfPresent(tag.SetArtist, "ARTIST")
	setIfPresent(tag.SetAlbum, "ALBUM")
	setIfPresent(tag.SetYear, "DATE")
	setIfPresent(tag.SetGenre, "GENRE")
	if v, ok := tags["TRACKNUMBER"]; ok {
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"), tag.DefaultEncoding(), v)
	}
	if v, ok := tags["COMMENT"]; ok {
		tag.AddCommentFrame(id3v2.CommentFrame{
			Encoding: tag.DefaultEncoding(),
			Language: "eng",
			Description: "",
			Text: v,
		})
	}

	if err := tag.Save(); err != nil {
		return audioerrors.NewDriverError(err, audioerrors.ErrorCodeDriverTruncatedOutput, "failed to save ID3v2 tags").
			WithDriverID(string(Mp3Encode)).WithDetail("path", mp3Path)
	}
	return nil
}

// vorbisTagsOf flattens stream's Vorbis comment block into an
// upper-cased field-name map, the last value winning for repeated keys.
func vorbisTagsOf(stream *flac.Stream) map[string]string {
	out := make(map[string]string)
	for _, b := range stream.Blocks {
		if b.Type != meta.TypeVorbisComment {
			continue
		}
		vc, ok := b.Body.(*meta.VorbisComment)
		if !ok {
			continue
		}
		for _, tag := range vc.Tags {
			out[strings.ToUpper(tag[0])] = tag[1]
		}
	}
	return out
}
