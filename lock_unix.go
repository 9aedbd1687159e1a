//go:build unix

package envgo

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockHandle takes an exclusive flock on f without blocking. The lock is
// advisory and per open file description, so it excludes other processes
// as well as other handles within this one.
func lockHandle(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return ErrLocked
	}
	return err
}

func unlockHandle(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
