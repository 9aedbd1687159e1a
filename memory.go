package envgo

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/envgo/internal/clock"
	"github.com/hupe1980/envgo/internal/resource"
)

var (
	errNotDir   = errors.New("envgo: not a directory")
	errNotEmpty = errors.New("envgo: directory not empty")
)

// MemEnv is an in-memory Env for tests and ephemeral workloads. It
// implements the full contract, advisory locks included, without touching
// the host filesystem.
//
// Files live in a flat namespace keyed by cleaned slash paths; "/a/b",
// "a/b" and "a\\b" name the same file. Parent directories are not required
// for file creation, but CreateDir/RemoveDir maintain explicit directory
// entries so directory-shaped code keeps working.
type MemEnv struct {
	logger  *Logger
	metrics MetricsCollector
	res     *resource.Controller

	logMaxBytes    int64
	logCompression CompressionType

	mu    sync.Mutex
	files map[string]*memFile
	dirs  map[string]bool
	locks map[string]bool
}

var _ Env = (*MemEnv)(nil)

// NewMemEnv constructs an empty in-memory environment.
func NewMemEnv(optFns ...Option) *MemEnv {
	o := applyOptions(optFns)

	return &MemEnv{
		logger:  o.logger,
		metrics: o.metricsCollector,
		res: resource.NewController(resource.Config{
			MaxBackgroundWorkers: o.backgroundWorkers,
			IOLimitBytesPerSec:   o.ioLimitBytesPerSec,
		}),
		logMaxBytes:    o.logMaxBytes,
		logCompression: o.logCompression,
		files:          make(map[string]*memFile),
		dirs:           make(map[string]bool),
		locks:          make(map[string]bool),
	}
}

// memPath maps any spelling of a name onto the flat key space: slash
// separated, cleaned, no leading slash. The empty string is the root.
func memPath(name string) string {
	p := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		p = ""
	}
	return p
}

// memFile is the node shared by the open capability objects for one path.
// A reader opened before a truncating create keeps the node it opened,
// like an unlinked-but-open POSIX file.
type memFile struct {
	mu   sync.RWMutex
	data []byte
}

func (n *memFile) size() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return int64(len(n.data))
}

func (n *memFile) readAt(p []byte, off int64) (int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if off >= int64(len(n.data)) {
		return 0, io.EOF
	}
	cnt := copy(p, n.data[off:])
	if cnt < len(p) {
		return cnt, io.EOF
	}
	return cnt, nil
}

func (n *memFile) append(p []byte) {
	n.mu.Lock()
	n.data = append(n.data, p...)
	n.mu.Unlock()
}

func (e *MemEnv) lookup(name string) (*memFile, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.files[memPath(name)]
	return n, ok
}

// NewSequentialFile implements Env.
func (e *MemEnv) NewSequentialFile(name string) (SequentialFile, error) {
	n, ok := e.lookup(name)
	if !ok {
		return nil, pathError("open", name, fs.ErrNotExist)
	}
	return &memSequentialFile{node: n, name: name, metrics: e.metrics}, nil
}

// NewRandomAccessFile implements Env. The node serves positioned reads
// without any cursor, so concurrent ReadAt needs no serialization here.
func (e *MemEnv) NewRandomAccessFile(name string) (RandomAccessFile, error) {
	n, ok := e.lookup(name)
	if !ok {
		return nil, pathError("open", name, fs.ErrNotExist)
	}
	return &memRandomAccessFile{node: n, name: name, metrics: e.metrics}, nil
}

// NewWritableFile implements Env. A fresh node replaces any existing one,
// so readers holding the old node keep reading the old contents.
func (e *MemEnv) NewWritableFile(name string) (WritableFile, error) {
	node := &memFile{}

	e.mu.Lock()
	e.files[memPath(name)] = node
	e.mu.Unlock()

	return &memWritableFile{node: node, name: name, env: e}, nil
}

// NewAppendableFile implements Env.
func (e *MemEnv) NewAppendableFile(name string) (WritableFile, error) {
	key := memPath(name)

	e.mu.Lock()
	node, ok := e.files[key]
	if !ok {
		node = &memFile{}
		e.files[key] = node
	}
	e.mu.Unlock()

	return &memWritableFile{node: node, name: name, env: e}, nil
}

// FileExists implements Env. Directory entries report false.
func (e *MemEnv) FileExists(name string) bool {
	_, ok := e.lookup(name)
	return ok
}

// GetChildren implements Env.
func (e *MemEnv) GetChildren(dir string) ([]string, error) {
	key := memPath(dir)
	prefix := ""
	if key != "" {
		prefix = key + "/"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, isFile := e.files[key]; isFile && key != "" {
		return nil, pathError("list", dir, errNotDir)
	}

	seen := make(map[string]bool)
	exists := key == "" || e.dirs[key]
	collect := func(p string) {
		if p == key || !strings.HasPrefix(p, prefix) {
			return
		}
		exists = true
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		seen[rest] = true
	}
	for p := range e.files {
		collect(p)
	}
	for p := range e.dirs {
		collect(p)
	}

	if !exists {
		return nil, pathError("list", dir, fs.ErrNotExist)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RemoveFile implements Env.
func (e *MemEnv) RemoveFile(name string) error {
	key := memPath(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.files[key]; !ok {
		return pathError("remove", name, fs.ErrNotExist)
	}
	delete(e.files, key)
	return nil
}

// CreateDir implements Env.
func (e *MemEnv) CreateDir(name string) error {
	key := memPath(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dirs[key] {
		return pathError("mkdir", name, fs.ErrExist)
	}
	if _, ok := e.files[key]; ok {
		return pathError("mkdir", name, fs.ErrExist)
	}
	e.dirs[key] = true
	return nil
}

// RemoveDir implements Env. Removing a non-empty directory fails, matching
// the local environment.
func (e *MemEnv) RemoveDir(name string) error {
	key := memPath(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.dirs[key] {
		return pathError("rmdir", name, fs.ErrNotExist)
	}

	prefix := key + "/"
	for p := range e.files {
		if strings.HasPrefix(p, prefix) {
			return pathError("rmdir", name, errNotEmpty)
		}
	}
	for p := range e.dirs {
		if strings.HasPrefix(p, prefix) {
			return pathError("rmdir", name, errNotEmpty)
		}
	}

	delete(e.dirs, key)
	return nil
}

// GetFileSize implements Env.
func (e *MemEnv) GetFileSize(name string) (int64, error) {
	n, ok := e.lookup(name)
	if !ok {
		return 0, pathError("stat", name, fs.ErrNotExist)
	}
	return n.size(), nil
}

// RenameFile implements Env. The move installs the node under the target
// key, replacing whatever was there.
func (e *MemEnv) RenameFile(src, target string) error {
	srcKey, dstKey := memPath(src), memPath(target)

	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.files[srcKey]
	if !ok {
		return pathError("rename", src, fs.ErrNotExist)
	}
	delete(e.files, srcKey)
	e.files[dstKey] = node
	return nil
}

// memFileLock is the token for a held in-memory lock.
type memFileLock struct {
	env      *MemEnv
	name     string
	released atomic.Bool
}

func (l *memFileLock) Path() string { return l.name }

// LockFile implements Env. Locks are per environment instance; two MemEnvs
// never contend with each other.
func (e *MemEnv) LockFile(name string) (FileLock, error) {
	key := memPath(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.locks[key] {
		return nil, pathError("lock", name, ErrLocked)
	}
	e.locks[key] = true
	if _, ok := e.files[key]; !ok {
		e.files[key] = &memFile{}
	}
	return &memFileLock{env: e, name: name}, nil
}

// UnlockFile implements Env.
func (e *MemEnv) UnlockFile(lock FileLock) error {
	ml, ok := lock.(*memFileLock)
	if !ok || ml == nil || ml.env != e {
		return pathError("unlock", lockPath(lock), ErrInvalidArgument)
	}
	if ml.released.Swap(true) {
		return pathError("unlock", ml.name, ErrInvalidArgument)
	}

	e.mu.Lock()
	delete(e.locks, memPath(ml.name))
	e.mu.Unlock()
	return nil
}

// Schedule implements Env.
func (e *MemEnv) Schedule(task func()) {
	e.res.Go(task)
}

// StartThread implements Env.
func (e *MemEnv) StartThread(task func()) {
	go task()
}

// GetTestDirectory implements Env.
func (e *MemEnv) GetTestDirectory() (string, error) {
	e.mu.Lock()
	e.dirs[memPath("/test")] = true
	e.mu.Unlock()
	return "/test", nil
}

// NewLogger implements Env.
func (e *MemEnv) NewLogger(name string) (*Logger, error) {
	w, err := newEnvLogWriter(e, name, e.logMaxBytes, e.logCompression)
	if err != nil {
		return nil, err
	}
	return NewFileLogger(w), nil
}

// NowMicros implements Env.
func (e *MemEnv) NowMicros() uint64 {
	return clock.Micros()
}

// SleepForMicroseconds implements Env.
func (e *MemEnv) SleepForMicroseconds(micros int) {
	clock.Sleep(micros)
}

type memSequentialFile struct {
	node    *memFile
	name    string
	pos     int64
	closed  atomic.Bool
	metrics MetricsCollector
}

func (f *memSequentialFile) Read(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, pathError("read", f.name, ErrClosed)
	}

	n, err := f.node.readAt(p, f.pos)
	f.pos += int64(n)
	f.metrics.RecordRead(int64(n), readErr(err))
	return n, err
}

func (f *memSequentialFile) Skip(n int64) error {
	if f.closed.Load() {
		return pathError("skip", f.name, ErrClosed)
	}
	if n < 0 {
		return pathError("skip", f.name, ErrInvalidArgument)
	}

	f.pos += n
	if size := f.node.size(); f.pos > size {
		f.pos = size
	}
	return nil
}

func (f *memSequentialFile) Close() error {
	f.closed.Store(true)
	return nil
}

type memRandomAccessFile struct {
	node    *memFile
	name    string
	closed  atomic.Bool
	metrics MetricsCollector
}

func (f *memRandomAccessFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed.Load() {
		return 0, pathError("readat", f.name, ErrClosed)
	}
	if off < 0 {
		return 0, pathError("readat", f.name, ErrInvalidArgument)
	}

	n, err := f.node.readAt(p, off)
	f.metrics.RecordRead(int64(n), readErr(err))
	return n, err
}

func (f *memRandomAccessFile) Close() error {
	f.closed.Store(true)
	return nil
}

type memWritableFile struct {
	node   *memFile
	name   string
	env    *MemEnv
	closed atomic.Bool
}

func (f *memWritableFile) Write(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, pathError("write", f.name, ErrClosed)
	}
	if err := f.env.res.AcquireIO(context.Background(), len(p)); err != nil {
		return 0, pathError("write", f.name, err)
	}

	f.node.append(p)
	f.env.metrics.RecordWrite(int64(len(p)), nil)
	return len(p), nil
}

func (f *memWritableFile) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *memWritableFile) Flush() error { return nil }

func (f *memWritableFile) Sync() error {
	if f.closed.Load() {
		return pathError("sync", f.name, ErrClosed)
	}
	f.env.metrics.RecordSync(nil)
	return nil
}
