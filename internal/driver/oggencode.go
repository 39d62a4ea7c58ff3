package driver

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/mewkiz/flac"

	audioerrors "github.com/audiofs/audiofs/pkg/errors"
)

// oggEncodeVersion is the driver-version tag for OggEncode. Bump it
// whenever the size-estimate formula or tag handling below changes
// shape, so every prior cache entry this driver produced is
// invalidated.
const oggEncodeVersion = "oggencode.v1"

// oggVbrSafetyMargin inflates the size estimate for the nominal-bitrate
// mode oggenc runs in by default: duration times target average
// bitrate, with a small safety margin since the encoder is VBR under
// the hood.
const oggVbrSafetyMargin = 1.08

// OggEncodeDriver transcodes a lossless FLAC source into Ogg Vorbis at
// a configured nominal bitrate. Vorbis comments need no remapping: both
// the source container and the target container use the same comment
// format, so oggenc's own FLAC-tag passthrough is authoritative.
type OggEncodeDriver struct {
	encoderPath string
}

// NewOggEncodeDriver resolves the external encoder ("oggenc" by
// convention) and returns a ready driver.
func NewOggEncodeDriver() (*OggEncodeDriver, error) {
	path, err := lookPath(OggEncode, "oggenc")
	if err != nil {
		return nil, err
	}
	return &OggEncodeDriver{encoderPath: path}, nil
}

func (d *OggEncodeDriver) ID() ID { return OggEncode }

func (d *OggEncodeDriver) Version() string { return oggEncodeVersion }

func (d *OggEncodeDriver) ParamTuple(req Request) (string, error) {
	return fmt.Sprintf("bitrate=%d", req.BitrateKbps), nil
}

// EstimateSize reports duration x nominal bitrate inflated by a small
// safety margin, since oggenc's nominal-bitrate mode is VBR and the
// true stream size is not known in advance.
func (d *OggEncodeDriver) EstimateSize(ctx context.Context, req Request) (int64, error) {
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
	totalBytes := durationSeconds * bitsPerSecond / 8 * oggVbrSafetyMargin

	return int64(math.Ceil(totalBytes)), nil
}

// RunToSink invokes oggenc to transcode the source to Ogg Vorbis,
// writing directly into the sink. oggenc copies the source FLAC's
// Vorbis comment block onto the Ogg stream itself, so no separate
// tagging pass is needed here (unlike Mp3Encode's ID3v2 remapping).
func (d *OggEncodeDriver) RunToSink(ctx context.Context, req Request, w io.Writer) error {
	run := runProcess(
		ctx, OggEncode, d.encoderPath,
		"--quiet", "-b", fmt.Sprintf("%d", req.BitrateKbps),
		"-o", "-", req.SourcePath,
	)
	return run(w)
}
