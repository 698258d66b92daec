package fs

import (
	"os"
	"syscall"

	. "github.com/warpfork/go-errcat"
)

type ErrorCategory string

const (
	ErrNotExists     ErrorCategory = "fs-not-exists"
	ErrAlreadyExists ErrorCategory = "fs-already-exists"
	ErrNotDir        ErrorCategory = "fs-not-dir"       // a parent path segment is a non-dir
	ErrPermission    ErrorCategory = "fs-permission"    // the OS rejected the operation
	ErrBreakout      ErrorCategory = "fs-breakout"      // operation would traverse outside the base path
	ErrRecursion     ErrorCategory = "fs-sym-recursion" // cyclic symlinks encountered during resolution
	ErrUnknown       ErrorCategory = "fs-unknown"
)

/*
	Normalize any of the standard library's errors into categorized ones.

	Note that any function returning ErrBreakout is, by nature, doing so in a
	best-effort sense: if there are concurrent modifications to the operational
	area of the filesystem by other processes, it is *impossible* to avoid a
	TOCTOU violation.
*/
func NormalizeIOError(ioe error) error {
	switch {
	case ioe == nil:
		return nil
	case os.IsNotExist(ioe):
		return Errorf(ErrNotExists, "%s", ioe)
	case os.IsExist(ioe):
		return Errorf(ErrAlreadyExists, "%s", ioe)
	case os.IsPermission(ioe):
		return Errorf(ErrPermission, "%s", ioe)
	}
	if pe, ok := ioe.(*os.PathError); ok && pe.Err == syscall.ENOTDIR {
		return Errorf(ErrNotDir, "%s", ioe)
	}
	return Errorf(ErrUnknown, "%s", ioe)
}
