// Command audiofs-mp3 mounts an MP3 transcoder: every FLAC file in
// the source tree is projected as its MP3 encoding, transcoded lazily
// on first open.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/audiofs/audiofs/internal/mountcmd"
	"github.com/audiofs/audiofs/pkg/options"
)

func main() {
	ctx := context.Background()

	appl := mountcmd.Command(
		options.DriverMp3Encode,
		"audiofs-mp3",
		"Mount an MP3 transcoder over a source audio tree",
	)

	if err := appl.Run(ctx, os.Args); err != nil {
		slog.Error("failed to run", "error", err)
		os.Exit(1)
	}
}
