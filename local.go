package envgo

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/envgo/internal/clock"
	"github.com/hupe1980/envgo/internal/mmap"
	"github.com/hupe1980/envgo/internal/resource"
)

// LocalEnv is the Env backed by the operating system: real files, advisory
// OS locks and goroutine scheduling. It is what Default returns and is
// safe for concurrent use.
type LocalEnv struct {
	logger  *Logger
	metrics MetricsCollector
	res     *resource.Controller

	mmapReads bool

	logMaxBytes    int64
	logCompression CompressionType

	testDirOnce sync.Once
	testDir     string
	testDirErr  error
}

var _ Env = (*LocalEnv)(nil)

// NewLocalEnv constructs a local environment. Most callers can share the
// process-wide instance from Default; build a dedicated one to get a
// separate background pool, metrics sink or write throttle.
func NewLocalEnv(optFns ...Option) *LocalEnv {
	o := applyOptions(optFns)

	return &LocalEnv{
		logger:  o.logger,
		metrics: o.metricsCollector,
		res: resource.NewController(resource.Config{
			MaxBackgroundWorkers: o.backgroundWorkers,
			IOLimitBytesPerSec:   o.ioLimitBytesPerSec,
			MaxMappedFiles:       o.maxMmapFiles,
		}),
		mmapReads:      o.mmapReads,
		logMaxBytes:    o.logMaxBytes,
		logCompression: o.logCompression,
	}
}

// NewSequentialFile implements Env.
func (e *LocalEnv) NewSequentialFile(name string) (SequentialFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	return &localSequentialFile{
		localFile: localFile{f: f, name: name},
		metrics:   e.metrics,
	}, nil
}

// NewRandomAccessFile implements Env. With mmap reads enabled and a
// mapping slot free the file is served from a read-only mapping; otherwise
// it falls back to a mutex-guarded cursor reader.
func (e *LocalEnv) NewRandomAccessFile(name string) (RandomAccessFile, error) {
	if e.mmapReads && e.res.TryAcquireMapping() {
		m, err := mmap.Open(name)
		if err == nil {
			_ = m.Advise(mmap.AccessRandom)
			return &localMmapFile{m: m, name: name, res: e.res, metrics: e.metrics}, nil
		}
		// Mapping failures are not fatal; the plain reader below surfaces
		// any real problem such as a missing file.
		e.res.ReleaseMapping()
		e.logger.Debug("mmap open failed, using file reads", "path", name, "error", err)
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	return &localRandomAccessFile{
		localFile: localFile{f: f, name: name},
		metrics:   e.metrics,
	}, nil
}

// NewWritableFile implements Env. An existing file at name is truncated.
func (e *LocalEnv) NewWritableFile(name string) (WritableFile, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, pathError("create", name, err)
	}
	return &localWritableFile{
		localFile: localFile{f: f, name: name},
		res:       e.res,
		metrics:   e.metrics,
	}, nil
}

// NewAppendableFile implements Env. Local filesystems append natively.
func (e *LocalEnv) NewAppendableFile(name string) (WritableFile, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, pathError("append", name, err)
	}
	return &localWritableFile{
		localFile: localFile{f: f, name: name},
		res:       e.res,
		metrics:   e.metrics,
	}, nil
}

// FileExists implements Env. Directories report false.
func (e *LocalEnv) FileExists(name string) bool {
	fi, err := os.Stat(name)
	return err == nil && !fi.IsDir()
}

// GetChildren implements Env. os.ReadDir already sorts by name and never
// yields "." or "..".
func (e *LocalEnv) GetChildren(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pathError("list", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// RemoveFile implements Env.
func (e *LocalEnv) RemoveFile(name string) error {
	if err := os.Remove(name); err != nil {
		return pathError("remove", name, err)
	}
	return nil
}

// CreateDir implements Env.
func (e *LocalEnv) CreateDir(name string) error {
	if err := os.Mkdir(name, 0o755); err != nil {
		return pathError("mkdir", name, err)
	}
	return nil
}

// RemoveDir implements Env.
func (e *LocalEnv) RemoveDir(name string) error {
	if err := os.Remove(name); err != nil {
		return pathError("rmdir", name, err)
	}
	return nil
}

// GetFileSize implements Env.
func (e *LocalEnv) GetFileSize(name string) (int64, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return 0, pathError("stat", name, err)
	}
	return fi.Size(), nil
}

// RenameFile implements Env. On POSIX systems the rename is atomic and
// replaces an existing target.
func (e *LocalEnv) RenameFile(src, target string) error {
	if err := os.Rename(src, target); err != nil {
		return pathError("rename", src, err)
	}
	return nil
}

// Schedule implements Env.
func (e *LocalEnv) Schedule(task func()) {
	e.res.Go(task)
}

// StartThread implements Env.
func (e *LocalEnv) StartThread(task func()) {
	go task()
}

// GetTestDirectory implements Env. The directory is stable for the life of
// the process and keyed to the user so parallel users on one machine do
// not collide.
func (e *LocalEnv) GetTestDirectory() (string, error) {
	e.testDirOnce.Do(func() {
		dir := filepath.Join(os.TempDir(), fmt.Sprintf("envgotest-%d", os.Getuid()))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			e.testDirErr = pathError("mkdir", dir, err)
			return
		}
		e.testDir = dir
	})
	return e.testDir, e.testDirErr
}

// NewLogger implements Env. The log file is opened in append mode so a
// reopened log continues rather than truncates; rotation applies when
// configured via WithLogRotation.
func (e *LocalEnv) NewLogger(name string) (*Logger, error) {
	w, err := newEnvLogWriter(e, name, e.logMaxBytes, e.logCompression)
	if err != nil {
		return nil, err
	}
	return NewFileLogger(w), nil
}

// NowMicros implements Env.
func (e *LocalEnv) NowMicros() uint64 {
	return clock.Micros()
}

// SleepForMicroseconds implements Env.
func (e *LocalEnv) SleepForMicroseconds(micros int) {
	clock.Sleep(micros)
}
