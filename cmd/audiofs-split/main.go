// Command audiofs-split mounts a cue-sheet-based track splitter: each
// FLAC+CUE pair in the source tree is projected as a directory of
// per-track FLAC files, split out lazily on first open.
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
		options.DriverSplitTrack,
		"audiofs-split",
		"Mount a cue-sheet track splitter over a source audio tree",
	)

	if err := appl.Run(ctx, os.Args); err != nil {
		slog.Error("failed to run", "error", err)
		os.Exit(1)
	}
}
