package envgo

import (
	"errors"
	"io"
	"sync/atomic"
)

// MetricsCollector defines an interface for collecting file I/O metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    readCounter  prometheus.Counter
//	    bytesRead    prometheus.Counter
//	}
//
//	func (p *PrometheusCollector) RecordRead(bytes int64, err error) {
//	    p.readCounter.Inc()
//	    p.bytesRead.Add(float64(bytes))
//	}
type MetricsCollector interface {
	// RecordRead is called after each sequential or positioned read.
	// bytes is the number of bytes transferred, err is nil if successful.
	// End-of-file is reported as success.
	RecordRead(bytes int64, err error)

	// RecordWrite is called after each append to a writable file.
	RecordWrite(bytes int64, err error)

	// RecordSync is called after each Sync on a writable file.
	RecordSync(err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRead(int64, error)  {}
func (NoopMetricsCollector) RecordWrite(int64, error) {}
func (NoopMetricsCollector) RecordSync(error)         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ReadCount    atomic.Int64
	ReadErrors   atomic.Int64
	BytesRead    atomic.Int64
	WriteCount   atomic.Int64
	WriteErrors  atomic.Int64
	BytesWritten atomic.Int64
	SyncCount    atomic.Int64
	SyncErrors   atomic.Int64
}

// RecordRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRead(bytes int64, err error) {
	b.ReadCount.Add(1)
	b.BytesRead.Add(bytes)
	if err != nil {
		b.ReadErrors.Add(1)
	}
}

// RecordWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWrite(bytes int64, err error) {
	b.WriteCount.Add(1)
	b.BytesWritten.Add(bytes)
	if err != nil {
		b.WriteErrors.Add(1)
	}
}

// RecordSync implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSync(err error) {
	b.SyncCount.Add(1)
	if err != nil {
		b.SyncErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ReadCount:    b.ReadCount.Load(),
		ReadErrors:   b.ReadErrors.Load(),
		BytesRead:    b.BytesRead.Load(),
		WriteCount:   b.WriteCount.Load(),
		WriteErrors:  b.WriteErrors.Load(),
		BytesWritten: b.BytesWritten.Load(),
		SyncCount:    b.SyncCount.Load(),
		SyncErrors:   b.SyncErrors.Load(),
	}
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ReadCount    int64
	ReadErrors   int64
	BytesRead    int64
	WriteCount   int64
	WriteErrors  int64
	BytesWritten int64
	SyncCount    int64
	SyncErrors   int64
}

// readErr filters end-of-file before an error reaches a collector: readers
// treat EOF, including the short-read form, as success.
func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return err
}
