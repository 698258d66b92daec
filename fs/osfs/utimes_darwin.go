//go:build darwin
// +build darwin

package osfs

import (
	"os"
	"time"

	"go.polydawn.net/shar/fs"
)

// Darwin lacks utimensat on older releases; plain Chtimes is close enough
// there (microsecond precision).
func (afs *osFS) SetTimesNano(path fs.RelPath, mtime time.Time, atime time.Time) error {
	rpath, err := afs.realpath(path, true)
	if err != nil {
		return err
	}
	if err := os.Chtimes(rpath, atime, mtime); err != nil {
		return fs.NormalizeIOError(err)
	}
	return nil
}
