package envgo

import (
	"log/slog"
)

type options struct {
	logger             *Logger
	metricsCollector   MetricsCollector
	backgroundWorkers  int64
	ioLimitBytesPerSec int64
	mmapReads          bool
	maxMmapFiles       int64
	logMaxBytes        int64
	logCompression     CompressionType
}

// Option configures environment construction.
type Option func(*options)

// WithLogger configures the environment's own diagnostic logger, used for
// internal events such as failed background work. This is distinct from the
// loggers handed out by Env.NewLogger. Pass nil to disable.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for file operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &envgo.BasicMetricsCollector{}
//	env := envgo.NewLocalEnv(envgo.WithMetricsCollector(metrics))
//	// ... use env ...
//	stats := metrics.GetStats()
//	fmt.Printf("Reads: %d, Bytes: %d\n", stats.ReadCount, stats.BytesRead)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithBackgroundWorkers bounds how many Schedule tasks run at once. The
// default of 1 serializes background work, which is what log-structured
// engines usually want for compactions; raise it for workloads that benefit
// from parallel background tasks. Values below 1 are ignored.
func WithBackgroundWorkers(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.backgroundWorkers = int64(n)
		}
	}
}

// WithIOLimitBytesPerSec throttles writes issued through writable files to
// roughly n bytes per second across the whole environment. Zero (the
// default) disables throttling.
func WithIOLimitBytesPerSec(n int64) Option {
	return func(o *options) {
		o.ioLimitBytesPerSec = n
	}
}

// WithMmapReads serves random-access reads from memory-mapped files when a
// mapping slot is available, falling back to ordinary file reads otherwise.
// Local environments only.
func WithMmapReads(enabled bool) Option {
	return func(o *options) {
		o.mmapReads = enabled
	}
}

// WithMaxMmapFiles caps how many files may be memory-mapped at once when
// mmap reads are enabled. Values below 1 are ignored.
func WithMaxMmapFiles(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.maxMmapFiles = int64(n)
		}
	}
}

// WithLogRotation rotates files produced by NewLogger once they exceed
// maxBytes, compressing the rotated-out file with the given codec on the
// background pool. Zero maxBytes (the default) disables rotation.
func WithLogRotation(maxBytes int64, compression CompressionType) Option {
	return func(o *options) {
		o.logMaxBytes = maxBytes
		o.logCompression = compression
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:            NoopLogger(),
		metricsCollector:  NoopMetricsCollector{},
		backgroundWorkers: 1,
		maxMmapFiles:      1000,
		logCompression:    CompressionNone,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
