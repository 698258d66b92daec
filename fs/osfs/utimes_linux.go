//go:build linux
// +build linux

package osfs

import (
	"time"

	"golang.org/x/sys/unix"

	"go.polydawn.net/shar/fs"
)

// SetTimesNano restores mtime (and paves atime) with nanosecond precision.
// Depends on kernel 2.6.22 or newer; we don't implement the lower-precision
// fallbacks.
func (afs *osFS) SetTimesNano(path fs.RelPath, mtime time.Time, atime time.Time) error {
	rpath, err := afs.realpath(path, true)
	if err != nil {
		return err
	}
	utimes := [2]unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, rpath, utimes[:], 0); err != nil {
		return fs.NormalizeIOError(err)
	}
	return nil
}
