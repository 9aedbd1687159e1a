package envgo

import (
	"errors"
	"io/fs"
	"os"
)

// Sentinel errors returned by environment operations. Use errors.Is (or the
// Is* helpers below) to test for them; they are always wrapped in an *Error
// carrying the operation and path.
var (
	// ErrNotSupported indicates an optional capability the environment does
	// not provide, for example append-opens on an object store backend.
	ErrNotSupported = errors.New("envgo: operation not supported")

	// ErrLocked indicates that LockFile found the lock already held.
	// Lock acquisition never waits; contention is reported immediately.
	ErrLocked = errors.New("envgo: file already locked")

	// ErrClosed indicates an operation on a file handle that was closed.
	ErrClosed = errors.New("envgo: file already closed")

	// ErrInvalidArgument indicates a caller error such as a negative offset
	// or an unlock token that was not issued by this environment.
	ErrInvalidArgument = errors.New("envgo: invalid argument")
)

// Error is a translated environment failure. Op names the operation that
// failed, Path the file or directory it was applied to, and Err the
// underlying cause. Err is preserved for errors.Is / errors.As, so callers
// can still detect fs.ErrNotExist, fs.ErrPermission and the envgo sentinels
// through the wrapper.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// pathError wraps err with operation and path context. OS-level path errors
// are unwrapped first so the path does not appear twice in the message; the
// underlying errno survives for errors.Is.
func pathError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *os.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		err = le.Err
	}
	return &Error{Op: op, Path: path, Err: err}
}

// notSupported reports an intentionally missing capability.
func notSupported(op, path string) error {
	return &Error{Op: op, Path: path, Err: ErrNotSupported}
}

// IsNotFound reports whether err indicates a file or directory that does
// not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// IsNotSupported reports whether err indicates a capability the environment
// intentionally does not provide.
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}

// IsLocked reports whether err indicates lock contention.
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked)
}

// IsClosed reports whether err indicates a use-after-close. Both the
// package sentinel and the fs.ErrClosed surfaced by OS file handles count.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, fs.ErrClosed)
}
