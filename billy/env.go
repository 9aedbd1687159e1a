package billy

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"

	"github.com/hupe1980/envgo"
	"github.com/hupe1980/envgo/internal/clock"
	"github.com/hupe1980/envgo/internal/resource"
)

var (
	errNotDir   = errors.New("not a directory")
	errNotEmpty = errors.New("directory not empty")
)

type options struct {
	logger             *envgo.Logger
	metricsCollector   envgo.MetricsCollector
	backgroundWorkers  int64
	ioLimitBytesPerSec int64
}

// Option configures the environment.
type Option func(*options)

// WithLogger sets the environment's diagnostic logger.
func WithLogger(logger *envgo.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetricsCollector sets a collector for file IO metrics.
func WithMetricsCollector(mc envgo.MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithBackgroundWorkers bounds how many Schedule tasks run at once.
func WithBackgroundWorkers(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.backgroundWorkers = int64(n)
		}
	}
}

// WithIOLimitBytesPerSec throttles writes issued through writable files.
func WithIOLimitBytesPerSec(n int64) Option {
	return func(o *options) {
		o.ioLimitBytesPerSec = n
	}
}

// Env is an envgo.Env over a billy.Filesystem. It is safe for concurrent
// use as long as the wrapped filesystem is; memfs and osfs both are.
type Env struct {
	fs      billy.Filesystem
	logger  *envgo.Logger
	metrics envgo.MetricsCollector
	res     *resource.Controller

	mu    sync.Mutex
	locks map[string]bool
}

var _ envgo.Env = (*Env)(nil)

// New wraps fsys. Paths given to the environment are interpreted by fsys,
// so an osfs environment sees them relative to its root.
func New(fsys billy.Filesystem, optFns ...Option) *Env {
	o := options{
		logger:            envgo.NoopLogger(),
		metricsCollector:  envgo.NoopMetricsCollector{},
		backgroundWorkers: 1,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}

	return &Env{
		fs:      fsys,
		logger:  o.logger,
		metrics: o.metricsCollector,
		res: resource.NewController(resource.Config{
			MaxBackgroundWorkers: o.backgroundWorkers,
			IOLimitBytesPerSec:   o.ioLimitBytesPerSec,
		}),
		locks: make(map[string]bool),
	}
}

// wrapErr translates a billy failure, unwrapping the os.PathError most
// backends produce so the path is not reported twice.
func wrapErr(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var pe *os.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return &envgo.Error{Op: op, Path: name, Err: err}
}

// NewSequentialFile implements envgo.Env.
func (e *Env) NewSequentialFile(name string) (envgo.SequentialFile, error) {
	f, err := e.fs.Open(name)
	if err != nil {
		return nil, wrapErr("open", name, err)
	}
	return &sequentialFile{f: f, name: name, env: e}, nil
}

// NewRandomAccessFile implements envgo.Env.
func (e *Env) NewRandomAccessFile(name string) (envgo.RandomAccessFile, error) {
	f, err := e.fs.Open(name)
	if err != nil {
		return nil, wrapErr("open", name, err)
	}
	return &randomAccessFile{f: f, name: name, metrics: e.metrics}, nil
}

// NewWritableFile implements envgo.Env.
func (e *Env) NewWritableFile(name string) (envgo.WritableFile, error) {
	f, err := e.fs.Create(name)
	if err != nil {
		return nil, wrapErr("create", name, err)
	}
	return &writableFile{f: f, name: name, env: e}, nil
}

// NewAppendableFile implements envgo.Env. The write cursor is positioned
// explicitly because not every billy backend honors O_APPEND.
func (e *Env) NewAppendableFile(name string) (envgo.WritableFile, error) {
	f, err := e.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, wrapErr("append", name, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, wrapErr("append", name, err)
	}
	return &writableFile{f: f, name: name, env: e}, nil
}

// FileExists implements envgo.Env.
func (e *Env) FileExists(name string) bool {
	fi, err := e.fs.Stat(name)
	return err == nil && !fi.IsDir()
}

// GetChildren implements envgo.Env. memfs reports a missing directory as
// an empty listing, so emptiness is double-checked against Stat.
func (e *Env) GetChildren(dir string) ([]string, error) {
	entries, err := e.fs.ReadDir(dir)
	if err != nil {
		return nil, wrapErr("list", dir, err)
	}
	if len(entries) == 0 {
		if _, err := e.fs.Stat(dir); err != nil {
			return nil, wrapErr("list", dir, err)
		}
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// RemoveFile implements envgo.Env.
func (e *Env) RemoveFile(name string) error {
	return wrapErr("remove", name, e.fs.Remove(name))
}

// CreateDir implements envgo.Env.
func (e *Env) CreateDir(name string) error {
	if _, err := e.fs.Stat(name); err == nil {
		return wrapErr("mkdir", name, fs.ErrExist)
	}
	return wrapErr("mkdir", name, e.fs.MkdirAll(name, 0o755))
}

// RemoveDir implements envgo.Env.
func (e *Env) RemoveDir(name string) error {
	fi, err := e.fs.Stat(name)
	if err != nil {
		return wrapErr("rmdir", name, err)
	}
	if !fi.IsDir() {
		return wrapErr("rmdir", name, errNotDir)
	}
	if entries, err := e.fs.ReadDir(name); err == nil && len(entries) > 0 {
		return wrapErr("rmdir", name, errNotEmpty)
	}
	return wrapErr("rmdir", name, e.fs.Remove(name))
}

// GetFileSize implements envgo.Env.
func (e *Env) GetFileSize(name string) (int64, error) {
	fi, err := e.fs.Stat(name)
	if err != nil {
		return 0, wrapErr("stat", name, err)
	}
	return fi.Size(), nil
}

// RenameFile implements envgo.Env. Backends that refuse to clobber an
// existing target get the delete-then-move fallback.
func (e *Env) RenameFile(src, target string) error {
	err := e.fs.Rename(src, target)
	if err == nil {
		return nil
	}
	if _, serr := e.fs.Stat(src); serr != nil {
		return wrapErr("rename", src, serr)
	}
	if _, terr := e.fs.Stat(target); terr == nil {
		if rerr := e.fs.Remove(target); rerr == nil {
			if err := e.fs.Rename(src, target); err == nil {
				return nil
			}
		}
	}
	return wrapErr("rename", src, err)
}

// fileLock is the token for a held lock.
type fileLock struct {
	env      *Env
	name     string
	released atomic.Bool
}

func (l *fileLock) Path() string { return l.name }

// LockFile implements envgo.Env. Locks are tracked per Env instance; two
// environments over the same filesystem do not contend.
func (e *Env) LockFile(name string) (envgo.FileLock, error) {
	key := path.Clean(name)

	e.mu.Lock()
	if e.locks[key] {
		e.mu.Unlock()
		return nil, &envgo.Error{Op: "lock", Path: name, Err: envgo.ErrLocked}
	}
	e.locks[key] = true
	e.mu.Unlock()

	f, err := e.fs.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		e.mu.Lock()
		delete(e.locks, key)
		e.mu.Unlock()
		return nil, wrapErr("lock", name, err)
	}
	_ = f.Close()

	return &fileLock{env: e, name: name}, nil
}

// UnlockFile implements envgo.Env.
func (e *Env) UnlockFile(lock envgo.FileLock) error {
	fl, ok := lock.(*fileLock)
	if !ok || fl == nil || fl.env != e {
		return &envgo.Error{Op: "unlock", Path: lockPath(lock), Err: envgo.ErrInvalidArgument}
	}
	if fl.released.Swap(true) {
		return &envgo.Error{Op: "unlock", Path: fl.name, Err: envgo.ErrInvalidArgument}
	}

	e.mu.Lock()
	delete(e.locks, path.Clean(fl.name))
	e.mu.Unlock()
	return nil
}

func lockPath(lock envgo.FileLock) string {
	if lock == nil {
		return ""
	}
	return lock.Path()
}

// Schedule implements envgo.Env.
func (e *Env) Schedule(task func()) {
	e.res.Go(task)
}

// StartThread implements envgo.Env.
func (e *Env) StartThread(task func()) {
	go task()
}

// GetTestDirectory implements envgo.Env. The path is relative to the
// wrapped filesystem's root.
func (e *Env) GetTestDirectory() (string, error) {
	const dir = "test"
	if err := e.fs.MkdirAll(dir, 0o755); err != nil {
		return "", wrapErr("mkdir", dir, err)
	}
	return dir, nil
}

// NewLogger implements envgo.Env.
func (e *Env) NewLogger(name string) (*envgo.Logger, error) {
	w, err := e.NewAppendableFile(name)
	if err != nil {
		return nil, err
	}
	return envgo.NewFileLogger(w), nil
}

// NowMicros implements envgo.Env.
func (e *Env) NowMicros() uint64 {
	return clock.Micros()
}

// SleepForMicroseconds implements envgo.Env.
func (e *Env) SleepForMicroseconds(micros int) {
	clock.Sleep(micros)
}

type sequentialFile struct {
	f      billy.File
	name   string
	env    *Env
	closed atomic.Bool
}

func (f *sequentialFile) Read(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, &envgo.Error{Op: "read", Path: f.name, Err: envgo.ErrClosed}
	}

	n, err := f.f.Read(p)
	f.env.metrics.RecordRead(int64(n), readErr(err))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, wrapErr("read", f.name, err)
	}
	return n, err
}

func (f *sequentialFile) Skip(n int64) error {
	if f.closed.Load() {
		return &envgo.Error{Op: "skip", Path: f.name, Err: envgo.ErrClosed}
	}
	if n < 0 {
		return &envgo.Error{Op: "skip", Path: f.name, Err: envgo.ErrInvalidArgument}
	}
	if n == 0 {
		return nil
	}

	cur, err := f.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return wrapErr("skip", f.name, err)
	}

	fi, err := f.env.fs.Stat(f.name)
	if err != nil {
		return wrapErr("skip", f.name, err)
	}

	target := cur + n
	if size := fi.Size(); target > size {
		target = size
	}
	if _, err := f.f.Seek(target, io.SeekStart); err != nil {
		return wrapErr("skip", f.name, err)
	}
	return nil
}

func (f *sequentialFile) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	return wrapErr("close", f.name, f.f.Close())
}

// randomAccessFile serializes ReadAt calls. billy files expose ReaderAt,
// but whether it is safe for concurrent use is backend-specific, so the
// mutex makes the contract hold everywhere.
type randomAccessFile struct {
	f       billy.File
	name    string
	mu      sync.Mutex
	closed  atomic.Bool
	metrics envgo.MetricsCollector
}

func (f *randomAccessFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed.Load() {
		return 0, &envgo.Error{Op: "readat", Path: f.name, Err: envgo.ErrClosed}
	}
	if off < 0 {
		return 0, &envgo.Error{Op: "readat", Path: f.name, Err: envgo.ErrInvalidArgument}
	}

	f.mu.Lock()
	n, err := f.f.ReadAt(p, off)
	f.mu.Unlock()

	f.metrics.RecordRead(int64(n), readErr(err))

	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		return n, io.EOF
	default:
		return n, wrapErr("readat", f.name, err)
	}
}

func (f *randomAccessFile) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	return wrapErr("close", f.name, f.f.Close())
}

type writableFile struct {
	f      billy.File
	name   string
	env    *Env
	closed atomic.Bool
}

func (f *writableFile) Write(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, &envgo.Error{Op: "write", Path: f.name, Err: envgo.ErrClosed}
	}
	if err := f.env.res.AcquireIO(context.Background(), len(p)); err != nil {
		return 0, &envgo.Error{Op: "write", Path: f.name, Err: err}
	}

	n, err := f.f.Write(p)
	f.env.metrics.RecordWrite(int64(n), err)
	if err != nil {
		return n, wrapErr("write", f.name, err)
	}
	return n, nil
}

func (f *writableFile) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	_ = f.f.Close()
	return nil
}

func (f *writableFile) Flush() error { return nil }

// Sync forwards to the backend when it can sync; memfs files cannot, and
// for them Sync is complete as soon as Write returns.
func (f *writableFile) Sync() error {
	if f.closed.Load() {
		return &envgo.Error{Op: "sync", Path: f.name, Err: envgo.ErrClosed}
	}

	var err error
	if s, ok := f.f.(interface{ Sync() error }); ok {
		err = s.Sync()
	}
	f.env.metrics.RecordSync(err)
	if err != nil {
		return wrapErr("sync", f.name, err)
	}
	return nil
}

// readErr filters end-of-file before an error reaches a collector.
func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return err
}
