package envgo

import (
	"os"
	"sync/atomic"
)

// fileLock is the token for a held local lock. Keeping the descriptor open
// is what holds the advisory lock, so the OS releases it automatically if
// the process dies without UnlockFile.
type fileLock struct {
	f        *os.File
	name     string
	released atomic.Bool
}

func (l *fileLock) Path() string { return l.name }

// LockFile implements Env. Contention is reported immediately with
// ErrLocked; there is no waiting or retry at this layer.
func (e *LocalEnv) LockFile(name string) (FileLock, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, pathError("lock", name, err)
	}
	if err := lockHandle(f); err != nil {
		_ = f.Close()
		return nil, pathError("lock", name, err)
	}
	return &fileLock{f: f, name: name}, nil
}

// UnlockFile implements Env. Tokens from another environment, and tokens
// released twice, fail with ErrInvalidArgument.
func (e *LocalEnv) UnlockFile(lock FileLock) error {
	fl, ok := lock.(*fileLock)
	if !ok || fl == nil {
		return pathError("unlock", lockPath(lock), ErrInvalidArgument)
	}
	if fl.released.Swap(true) {
		return pathError("unlock", fl.name, ErrInvalidArgument)
	}

	err := unlockHandle(fl.f)
	if cerr := fl.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return pathError("unlock", fl.name, err)
	}
	return nil
}

// lockPath names a token for error context without assuming its concrete
// type.
func lockPath(lock FileLock) string {
	if lock == nil {
		return ""
	}
	return lock.Path()
}
