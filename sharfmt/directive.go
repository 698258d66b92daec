/*
	Package sharfmt owns the shar wire grammar.

	An archive is a sequence of Directives.  The builder emits
	directives; the renderer turns them into shell-script text that real
	`sh` could run; the parser turns such text (ours, or the documented
	compatible variants) back into directives.  The interpreter in the
	unpack package executes directives and is the only thing that ever
	acts on them -- no shell is ever invoked on archive content.

	The parser's grammar is a superset of what the renderer emits, so
	that anything we produce round-trips, with headroom for foreign
	archives of the same lineage.
*/
package sharfmt

import (
	"time"

	"go.polydawn.net/shar/codec"
)

// Directive is the closed union of archive instructions.
type Directive interface {
	directive()
}

// ChangeDirectory re-roots subsequent relative paths.  Our builder never
// emits this; the parser accepts it for compatibility.
type ChangeDirectory struct {
	Path string
}

// EnsureDirectory creates a directory if it does not already exist.
// Emitted for each ancestor of a file path, root-down.
type EnsureDirectory struct {
	Path string
}

// Comment is inert archive prose (the preamble, the contents table).
type Comment struct {
	Text string
}

// Message is echoed to the user during extraction unless quiet.
type Message struct {
	Text string
}

// Trace toggles per-directive logging for the rest of the segment.
type Trace struct {
	Enabled bool
}

// PartHeader carries a part's position in a multipart archive.
// Interpreters enforce ascending order in split-size-limit archives.
type PartHeader struct {
	Index int
	Total int
}

// BeginFileWrite opens a destination file.  A raw body (Scheme=="")
// arrives as literal text lines; an encoded body's data lines carry a
// complete codec block (begin line, body, end framing) and Mode/Name
// here mirror that block's header.
type BeginFileWrite struct {
	Name        string
	Mode        uint32
	Delimiter   string       // here-document sentinel as it appears on the wire
	Scheme      codec.Scheme // "" for raw text bodies
	EncodedName bool         // encoded blocks only: name field was base64
	Append      bool         // continuation of a file split across parts
}

// FileDataLine is one line of the current file's body, with any
// transport prefix already stripped.
type FileDataLine struct {
	Text string
}

// EndFileWrite closes the current file and carries the integrity
// markers recorded at build time.  Nil/empty means a check was disabled.
type EndFileWrite struct {
	Name          string
	ExpectedCount *int64
	ExpectedMD5   string
}

// Uncompact expands a compacted member in place: Name loses the tool's
// suffix.  Always executed in-process by the interpreter.
type Uncompact struct {
	Name string // the compacted name, e.g. "data.gz"
	Tool string // "gzip", "bzip2", "xz", "compress"
}

// RestoreTimestamp sets a file's mtime to the recorded value.
type RestoreTimestamp struct {
	Name  string
	Mtime time.Time
}

// SegmentEnd is the `exit 0` marker closing an archive segment.
type SegmentEnd struct{}

func (ChangeDirectory) directive()  {}
func (EnsureDirectory) directive()  {}
func (Comment) directive()          {}
func (Message) directive()          {}
func (Trace) directive()            {}
func (PartHeader) directive()       {}
func (BeginFileWrite) directive()   {}
func (FileDataLine) directive()     {}
func (EndFileWrite) directive()     {}
func (Uncompact) directive()        {}
func (RestoreTimestamp) directive() {}
func (SegmentEnd) directive()       {}
