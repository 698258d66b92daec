package fs

import (
	"io"
	"os"
	"time"
)

/*
	Interface for the primitive operations the shar tools perform on a
	filesystem.

	All paths accepted are RelPath types; an FS instance is constructed
	with an AbsolutePath base, and all further operations are confined
	beneath that base.  No operation may traverse a symlink that would
	carry it outside the base path; doing so yields ErrBreakout.
*/
type FS interface {
	// BasePath returns the path this filesystem was constructed with.
	BasePath() AbsolutePath

	OpenFile(path RelPath, flag int, perms Perms) (File, error)
	Mkdir(path RelPath, perms Perms) error
	Chmod(path RelPath, perms Perms) error
	Remove(path RelPath) error
	Rename(from, to RelPath) error

	SetTimesNano(path RelPath, mtime time.Time, atime time.Time) error

	Stat(path RelPath) (*Metadata, error)
	LStat(path RelPath) (*Metadata, error)
	ReadDirNames(path RelPath) ([]string, error)
	Readlink(path RelPath) (target string, isSymlink bool, err error)
}

type File interface {
	io.Reader
	io.Writer
	io.Closer
}

type Type uint8

const (
	Type_Invalid Type = iota
	Type_File
	Type_Dir
	Type_Symlink
	Type_NamedPipe
	Type_Socket
	Type_Device
	Type_CharDevice
)

func (t Type) String() string {
	switch t {
	case Type_File:
		return "file"
	case Type_Dir:
		return "dir"
	case Type_Symlink:
		return "symlink"
	case Type_NamedPipe:
		return "fifo"
	case Type_Socket:
		return "socket"
	case Type_Device:
		return "device"
	case Type_CharDevice:
		return "chardev"
	default:
		return "invalid"
	}
}

// Perms are the lower twelve mode bits (permissions plus setuid/setgid/sticky).
type Perms uint16

const (
	Perms_Setuid Perms = 04000
	Perms_Setgid Perms = 02000
	Perms_Sticky Perms = 01000
)

type Metadata struct {
	Name  RelPath   // path within the filesystem base
	Type  Type      // file type
	Perms Perms     // permission and mode bits
	Size  int64     // length in bytes (files only)
	Mtime time.Time // modified time
}

// DefaultAtime is the atime to pave over wherever we set times.
// Access times are not part of any archive format worth caring about.
var DefaultAtime = time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC)

func PermsToOs(perms Perms) (mode os.FileMode) {
	mode = os.FileMode(perms & 0777)
	if perms&Perms_Setuid != 0 {
		mode |= os.ModeSetuid
	}
	if perms&Perms_Setgid != 0 {
		mode |= os.ModeSetgid
	}
	if perms&Perms_Sticky != 0 {
		mode |= os.ModeSticky
	}
	return
}
