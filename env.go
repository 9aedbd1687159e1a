package envgo

import (
	"io"
	"sync"
)

// SequentialFile reads a file from front to back. Implementations are safe
// for use by one goroutine at a time; callers that share a handle must
// provide their own synchronization.
type SequentialFile interface {
	io.Reader
	io.Closer

	// Skip advances the read position by n bytes without transferring data.
	// Skipping past the end of the file clamps to the end, so that the next
	// Read reports io.EOF. A negative n is rejected with ErrInvalidArgument.
	Skip(n int64) error
}

// RandomAccessFile serves positioned reads. ReadAt may be called
// concurrently from multiple goroutines; implementations guarantee that
// concurrent calls do not interfere with each other.
//
// ReadAt follows the io.ReaderAt contract with one relaxation shared by all
// backends: a read that starts at or runs past the end of the file returns
// the bytes that were available together with io.EOF, never a backend
// error.
type RandomAccessFile interface {
	io.ReaderAt
	io.Closer
}

// WritableFile appends to a file created (or opened) by the environment.
// Implementations are not safe for concurrent use; a writable file has a
// single owner.
//
// Close releases the underlying handle exactly once; closing an
// already-closed file is a no-op that returns nil. Filesystem-backed
// environments never fail the first Close either; object-store environments
// finish the pending upload during Close and report its error there. Data
// that must survive a crash has to be Synced before Close: Close by itself
// promises nothing about durability.
type WritableFile interface {
	io.Writer
	io.Closer

	// Flush pushes buffered data toward the operating system. For unbuffered
	// backends it is a no-op that returns nil.
	Flush() error

	// Sync flushes and then forces the data to stable storage.
	Sync() error
}

// FileLock is an opaque token for a held advisory lock. It is issued by
// LockFile and redeemed by UnlockFile of the same environment; passing it
// to a different environment fails with ErrInvalidArgument.
type FileLock interface {
	// Path returns the lock file path the token was issued for.
	Path() string
}

// Env abstracts the operating environment used by storage engines: file
// creation and access, directory listing, advisory locking, background
// work, timing, and diagnostic logging. All implementations in this module
// are safe for concurrent use.
//
// Every failure is reported as an *Error wrapping the underlying cause, so
// errors.Is(err, fs.ErrNotExist) and the package sentinels keep working
// across backends.
type Env interface {
	// NewSequentialFile opens an existing file for front-to-back reads.
	NewSequentialFile(name string) (SequentialFile, error)

	// NewRandomAccessFile opens an existing file for positioned reads.
	NewRandomAccessFile(name string) (RandomAccessFile, error)

	// NewWritableFile creates a new file for appending. An existing file at
	// name is truncated.
	NewWritableFile(name string) (WritableFile, error)

	// NewAppendableFile opens name for appending, creating it if absent and
	// keeping existing contents. Backends that cannot append return
	// ErrNotSupported.
	NewAppendableFile(name string) (WritableFile, error)

	// FileExists reports whether name exists and is a regular file.
	// Directories report false.
	FileExists(name string) bool

	// GetChildren returns the names, not paths, of the direct entries of
	// dir in lexical order. The pseudo-entries "." and ".." never appear.
	GetChildren(dir string) ([]string, error)

	// RemoveFile deletes the named file.
	RemoveFile(name string) error

	// CreateDir creates the named directory.
	CreateDir(name string) error

	// RemoveDir deletes the named directory.
	RemoveDir(name string) error

	// GetFileSize returns the current size of the named file in bytes.
	GetFileSize(name string) (int64, error)

	// RenameFile atomically moves src to target within the environment,
	// replacing target if it exists.
	RenameFile(src, target string) error

	// LockFile acquires an exclusive advisory lock on the named file,
	// creating it if needed. It never blocks: if the lock is already held
	// anywhere, it fails immediately with ErrLocked. The returned token must
	// be released with UnlockFile.
	LockFile(name string) (FileLock, error)

	// UnlockFile releases a lock previously acquired from this environment.
	UnlockFile(lock FileLock) error

	// Schedule queues task for execution on the environment's background
	// pool. It returns immediately; tasks may run concurrently and in any
	// order relative to each other.
	Schedule(task func())

	// StartThread runs task on its own goroutine, outside the background
	// pool.
	StartThread(task func())

	// GetTestDirectory returns a per-user scratch directory, creating it if
	// needed. The same path is returned for the life of the process.
	GetTestDirectory() (string, error)

	// NewLogger creates a diagnostic logger writing to the named file.
	NewLogger(name string) (*Logger, error)

	// NowMicros returns a monotonic reading in microseconds. Readings are
	// comparable within a process; the epoch is unspecified.
	NowMicros() uint64

	// SleepForMicroseconds blocks the calling goroutine for the given
	// duration.
	SleepForMicroseconds(micros int)
}

var (
	defaultOnce sync.Once
	defaultEnv  *LocalEnv
)

// Default returns the process-wide local filesystem environment. The first
// call constructs it; later calls return the same instance. Callers must
// never close or otherwise tear it down.
func Default() *LocalEnv {
	defaultOnce.Do(func() {
		defaultEnv = NewLocalEnv()
	})
	return defaultEnv
}
