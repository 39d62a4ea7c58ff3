// Package logging constructs the structured loggers used throughout
// AudioFS. Every component receives a *zap.SugaredLogger at
// construction time rather than reaching for a package-level singleton.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a production-configured, structured logger scoped to the
// named service (e.g. "cachestore", "buildcoord", "fsadapter").
func New(service string) *zap.SugaredLogger {
	base, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails on an unwritable sink; fall back
		// to a logger that still works so callers never get a nil.
		base = zap.NewNop()
	}
	return base.Sugar().Named(service)
}

// NewDevelopment creates a human-friendly, colorized logger suitable for
// the cmd/ entry points during manual exercising of the engine.
func NewDevelopment(service string) *zap.SugaredLogger {
	base, err := zap.NewDevelopment()
	if err != nil {
		base = zap.NewNop()
	}
	return base.Sugar().Named(service)
}

// NewEvictionSink returns the logger the size maintainer uses to record
// each eviction. When path is empty, every record still reaches base
// and the returned closer is a no-op. When path is non-empty, records
// are additionally appended to it as JSON lines via a teed zapcore.Core,
// so an administrator can tail a dedicated eviction history without it
// being interleaved with the rest of the mount's log stream. The
// returned closer flushes and closes the file and must be called during
// shutdown.
func NewEvictionSink(base *zap.SugaredLogger, path string) (*zap.SugaredLogger, io.Closer, error) {
	if path == "" {
		return base, noopCloser{}, nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(file), zap.InfoLevel)

	tee := zapcore.NewTee(base.Desugar().Core(), fileCore)
	return zap.New(tee).Sugar().Named(base.Desugar().Name()), file, nil
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }
