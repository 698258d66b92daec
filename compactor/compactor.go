/*
	Package compactor handles the optional per-file compression step of
	archive building, and its inverse during extraction.

	Building treats a compaction tool as a synchronous collaborator:
	gzip runs in-process, everything else invokes the named external
	binary with captured stderr and exit status.  Extraction NEVER runs
	archive-chosen commands: expansion happens in-process for every
	format we emit (gzip, bzip2, xz), and only the legacy `compress`
	format falls back to invoking gzip ourselves -- with a fixed argv,
	no shell, and no input-derived arguments beyond the data stream.
*/
package compactor

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"io/ioutil"
	"os/exec"
	"strings"

	"github.com/klauspost/compress/gzip"
	. "github.com/warpfork/go-errcat"
	"github.com/xi2/xz"

	"go.polydawn.net/shar"
)

// Spec names a compaction tool and its effort level.
// The zero value means no compaction.
type Spec struct {
	Tool  string // "", "gzip", "bzip2", "xz", "compress"
	Level int    // 1..9 where supported; 0 means the tool's default
}

func (s Spec) Enabled() bool {
	return s.Tool != ""
}

// Suffix is the filename suffix the compacted member carries inside the
// archive, which is also how the interpreter knows what to undo.
func (s Spec) Suffix() string {
	switch s.Tool {
	case "gzip":
		return ".gz"
	case "bzip2":
		return ".bz2"
	case "xz":
		return ".xz"
	case "compress":
		return ".Z"
	default:
		return ""
	}
}

// Validate rejects unknown tools and out-of-range levels before any
// file staging begins.
func (s Spec) Validate() error {
	switch s.Tool {
	case "", "gzip", "bzip2", "xz", "compress":
		// fine
	default:
		return Errorf(shar.ErrValidation, "unknown compaction tool %q", s.Tool)
	}
	if s.Level < 0 || s.Level > 9 {
		return Errorf(shar.ErrValidation, "compaction level %d out of range [1,9]", s.Level)
	}
	if s.Level != 0 && (s.Tool == "" || s.Tool == "compress") {
		return Errorf(shar.ErrValidation, "compaction tool %q takes no level", s.Tool)
	}
	return nil
}

// ToolForName recognizes a compacted member name by suffix, returning
// the tool that produced it and the name it will have after expansion.
func ToolForName(name string) (tool string, bareName string, ok bool) {
	for _, t := range []struct{ suffix, tool string }{
		{".gz", "gzip"},
		{".bz2", "bzip2"},
		{".xz", "xz"},
		{".Z", "compress"},
	} {
		if strings.HasSuffix(name, t.suffix) && len(name) > len(t.suffix) {
			return t.tool, name[:len(name)-len(t.suffix)], true
		}
	}
	return "", name, false
}

/*
	Compactor wraps w so that bytes written come out the far side
	compacted.  Close must be called to flush and, for external tools,
	reap the child process; a nonzero exit surfaces then as
	ErrCompactionToolFailure carrying the tool's stderr.
*/
func (s Spec) Compactor(w io.Writer) (io.WriteCloser, error) {
	switch s.Tool {
	case "gzip":
		level := s.Level
		if level == 0 {
			level = gzip.DefaultCompression
		}
		zw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, Errorf(shar.ErrValidation, "gzip: %s", err)
		}
		return zw, nil
	case "bzip2", "xz", "compress":
		var args []string
		if s.Level != 0 {
			args = append(args, fmt.Sprintf("-%d", s.Level))
		}
		args = append(args, "-c")
		return newExecCompactor(s.Tool, args, w)
	default:
		return nil, Errorf(shar.ErrValidation, "no compaction tool configured")
	}
}

type execCompactor struct {
	tool   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
}

func newExecCompactor(tool string, args []string, w io.Writer) (*execCompactor, error) {
	cmd := exec.Command(tool, args...)
	stderr := &bytes.Buffer{}
	cmd.Stdout = w
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, Errorf(shar.ErrInternal, "%s", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, Errorf(shar.ErrCompactionToolFailure, "cannot start %q: %s", tool, err)
	}
	return &execCompactor{tool, cmd, stdin, stderr}, nil
}

func (ec *execCompactor) Write(p []byte) (int, error) {
	return ec.stdin.Write(p)
}

func (ec *execCompactor) Close() error {
	ec.stdin.Close()
	if err := ec.cmd.Wait(); err != nil {
		return ErrorDetailed(shar.ErrCompactionToolFailure,
			fmt.Sprintf("%s exited: %s", ec.tool, err),
			map[string]string{
				"tool":   ec.tool,
				"stderr": strings.TrimSpace(ec.stderr.String()),
			})
	}
	return nil
}

// Expand returns a reader yielding the expansion of r, which was
// produced by the named tool.
func Expand(tool string, r io.Reader) (io.ReadCloser, error) {
	switch tool {
	case "gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, Errorf(shar.ErrArchiveCorrupt, "gzip: %s", err)
		}
		return zr, nil
	case "bzip2":
		return ioutil.NopCloser(bzip2.NewReader(r)), nil
	case "xz":
		xr, err := xz.NewReader(r, 0)
		if err != nil {
			return nil, Errorf(shar.ErrArchiveCorrupt, "xz: %s", err)
		}
		return ioutil.NopCloser(xr), nil
	case "compress":
		// The one format with no in-process reader.  gzip understands
		// .Z data; fixed argv, data only via stdin.
		return newExecExpander("gzip", []string{"-dc"}, r)
	default:
		return nil, Errorf(shar.ErrValidation, "unknown compaction tool %q", tool)
	}
}

type execExpander struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
}

func newExecExpander(tool string, args []string, r io.Reader) (*execExpander, error) {
	cmd := exec.Command(tool, args...)
	stderr := &bytes.Buffer{}
	cmd.Stdin = r
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, Errorf(shar.ErrInternal, "%s", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, Errorf(shar.ErrCompactionToolFailure, "cannot start %q: %s", tool, err)
	}
	return &execExpander{cmd, stdout, stderr}, nil
}

func (ee *execExpander) Read(p []byte) (int, error) {
	return ee.stdout.Read(p)
}

func (ee *execExpander) Close() error {
	io.Copy(ioutil.Discard, ee.stdout)
	ee.stdout.Close()
	if err := ee.cmd.Wait(); err != nil {
		return ErrorDetailed(shar.ErrCompactionToolFailure,
			fmt.Sprintf("expansion exited: %s", err),
			map[string]string{"stderr": strings.TrimSpace(ee.stderr.String())})
	}
	return nil
}
