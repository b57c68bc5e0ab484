//go:build unix

package journal

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

const (
	lockShared    = unix.LOCK_SH
	lockExclusive = unix.LOCK_EX
)

// flock acquires an advisory lock on f, blocking until it is granted.
func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// tryFlock attempts a non-blocking lock.
func tryFlock(f *os.File, how int) error {
	err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrLockContention
	}
	return err
}

func funlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// identity returns the inode and link count of an open file.
func identity(f *os.File) (ino uint64, nlink uint64, err error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return 0, 0, err
	}
	return uint64(st.Ino), uint64(st.Nlink), nil
}

// pathInode returns the inode currently linked at path.
func pathInode(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Ino), nil
}

// replaced reports whether f is no longer the file linked at path, which is
// what a clear or compact in another process leaves behind.
func replaced(f *os.File, path string) (bool, error) {
	ino, nlink, err := identity(f)
	if err != nil {
		return false, err
	}
	if nlink == 0 {
		return true, nil
	}
	cur, err := pathInode(path)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return true, nil
		}
		return false, err
	}
	return cur != ino, nil
}
