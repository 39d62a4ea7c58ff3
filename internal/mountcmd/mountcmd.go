// Package mountcmd builds the urfave/cli command shared by AudioFS's
// three mount binaries (audiofs-split, audiofs-mp3, audiofs-ogg). Each
// binary differs only in which driver it pins and which flags make
// sense for that driver's parameters; the flag set, option assembly,
// and mount/signal/unmount lifecycle are otherwise identical.
package mountcmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/audiofs/audiofs/internal/engine"
	"github.com/audiofs/audiofs/pkg/logging"
	"github.com/audiofs/audiofs/pkg/options"
)

const (
	flagSource         = "source"
	flagMount          = "mount"
	flagCacheDir       = "cache-dir"
	flagCacheBudgetMiB = "cache-budget-mib"
	flagBitrate        = "bitrate"
	flagSweepInterval  = "sweep-interval"
	flagVerbose        = "verbose"
)

// Command returns the cli.Command for one mount binary. driverID pins
// the projection this binary exposes (one of options.DriverSplitTrack,
// DriverMp3Encode, DriverOggEncode); usage and name are the binary's
// own description and invocation name.
func Command(driverID, name, usage string) *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:     flagSource,
			Aliases:  []string{"s"},
			Usage:    "absolute path to the root of the source audio tree",
			Required: true,
		},
		&cli.StringFlag{
			Name:     flagMount,
			Aliases:  []string{"m"},
			Usage:    "absolute path at which to expose the derived tree",
			Required: true,
		},
		&cli.StringFlag{
			Name:  flagCacheDir,
			Usage: "directory backing the on-disk cache store",
			Value: options.DefaultCacheDir,
		},
		&cli.UintFlag{
			Name:  flagCacheBudgetMiB,
			Usage: "cache byte-budget in MiB, enforced by the size maintainer",
			Value: uint64(options.DefaultCacheBudgetBytes / (1024 * 1024)),
		},
		&cli.DurationFlag{
			Name:  flagSweepInterval,
			Usage: "interval between size maintainer sweeps",
			Value: options.DefaultSweepInterval,
		},
		&cli.BoolFlag{
			Name:    flagVerbose,
			Aliases: []string{"v"},
			Usage:   "use a human-readable development logger instead of JSON",
		},
	}
	if driverID != options.DriverSplitTrack {
		flags = append(flags, &cli.IntFlag{
			Name:  flagBitrate,
			Usage: "target encoder bitrate in kbps",
			Value: options.DefaultBitrateKbps,
		})
	}

	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, driverID, cmd)
		},
	}
}

func run(ctx context.Context, driverID string, cmd *cli.Command) error {
	opts := options.NewDefaultOptions()
	opts.Driver = driverID
	opts.SourceDir = cmd.String(flagSource)
	opts.MountPoint = cmd.String(flagMount)
	opts.CacheOptions.Directory = cmd.String(flagCacheDir)
	opts.CacheOptions.BudgetBytes = cmd.Uint(flagCacheBudgetMiB) * 1024 * 1024
	opts.CacheOptions.SweepInterval = cmd.Duration(flagSweepInterval)
	if driverID != options.DriverSplitTrack {
		opts.BitrateKbps = cmd.Int(flagBitrate)
	}

	log := logging.New(cmd.Name)
	if cmd.Bool(flagVerbose) {
		log = logging.NewDevelopment(cmd.Name)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, &engine.Config{Options: &opts, Logger: log})
	if err != nil {
		return fmt.Errorf("starting %s: %w", cmd.Name, err)
	}

	<-ctx.Done()
	log.Infow("shutting down", "reason", ctx.Err())

	return eng.Close()
}
