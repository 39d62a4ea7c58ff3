package driver

import (
	"bytes"
	"context"
	"io"
	"os/exec"

	audioerrors "github.com/audiofs/audiofs/pkg/errors"
)

// runProcess runs name with args, feeding w with the process's stdout
// as it is produced and killing the child when ctx is cancelled.
// stderr is collected for the error message only; it is never written
// to w. Whatever a failing encoder wrote to stdout before exiting has
// already reached w.
func runProcess(ctx context.Context, driverID ID, name string, args ...string) func(io.Writer) error {
	return func(w io.Writer) error {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Stdout = w

		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return audioerrors.NewCancelledError(ctx.Err(), "")
			}

			exitCode := -1
			var exitErr *exec.ExitError
			if ok := errorsAsExitError(err, &exitErr); ok {
				exitCode = exitErr.ExitCode()
			}

			return audioerrors.NewDriverError(err, audioerrors.ErrorCodeDriverExitNonZero, "encoder process exited with an error").
				WithDriverID(string(driverID)).
				WithExitCode(exitCode).
				WithDetail("command", name).
				WithDetail("args", args).
				WithDetail("stderr", stderr.String())
		}

		return nil
	}
}

func errorsAsExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// lookPath resolves an encoder's executable name to a DriverError with
// ErrorCodeDriverNotFound when the binary isn't installed, rather than
// letting a confusing *exec.Error surface all the way to the
// filesystem adapter.
func lookPath(driverID ID, name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", audioerrors.NewDriverError(err, audioerrors.ErrorCodeDriverNotFound, "encoder executable not found on PATH").
			WithDriverID(string(driverID)).
			WithDetail("executable", name)
	}
	return path, nil
}
