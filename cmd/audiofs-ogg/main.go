// Command audiofs-ogg mounts an Ogg Vorbis transcoder: every FLAC
// file in the source tree is projected as its Vorbis encoding,
// transcoded lazily on first open.
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
		options.DriverOggEncode,
		"audiofs-ogg",
		"Mount an Ogg Vorbis transcoder over a source audio tree",
	)

	if err := appl.Run(ctx, os.Args); err != nil {
		slog.Error("failed to run", "error", err)
		os.Exit(1)
	}
}
