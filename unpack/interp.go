package unpack

import (
	"io"
	"os"
	"strconv"
	"strings"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
	"go.polydawn.net/shar/codec"
	"go.polydawn.net/shar/compactor"
	"go.polydawn.net/shar/fs"
	"go.polydawn.net/shar/fs/osfs"
	"go.polydawn.net/shar/fsOp"
	"go.polydawn.net/shar/integrity"
	"go.polydawn.net/shar/sharfmt"
)

// Context is the fully resolved configuration for one extraction run.
type Context struct {
	TargetDir fs.AbsolutePath
	Overwrite shar.OverwritePolicy
	// Prompter resolves Overwrite_Interactive decisions.  Unset with
	// the interactive policy, every conflict is refused.
	Prompter func(name string) (bool, error)
	Quiet    bool // suppress archive Message directives
	// DiscardTimestamps ignores timestamp restoration directives.
	DiscardTimestamps bool
	// SplitAt closes segments at lines exactly equal to this string
	// instead of at `exit 0` lines.
	SplitAt string
	// Debug starts every segment with per-directive tracing on, as if
	// the archive opened with a trace-enable directive.
	Debug   bool
	Monitor shar.Monitor
}

// Report is the per-file outcome of an extraction.
type Report struct {
	Name    string
	Written int64
	Verify  integrity.Result
	Error   error // per-file failure; nil on success
}

/*
	Interpreter executes archive directives against a filesystem
	confined to the target directory.

	Per-file failures (overwrite refused, traversal rejected, integrity
	mismatch, codec corruption) are recorded in the report stream and
	extraction continues with the next file.  Sequencing failures are
	returned as errors and stop the run: once a part is missing, every
	later body would restore garbage.
*/
type Interpreter struct {
	afs     fs.FS
	ctx     Context
	pending *pendingWrite
	cwd     fs.RelPath // re-rooting from ChangeDirectory directives
	reports []Report

	lastPartIndex int
	partTotal     int
	spanned       bool // a file body crossed a part boundary
	trace         bool
}

type pendingWrite struct {
	name     string // final restored name
	wireName string // name the bytes land under during travel
	relPath  fs.RelPath
	file     fs.File
	digester *integrity.Digester
	mode     uint32

	encoded   bool
	decoder   *codec.Decoder
	sawHeader bool
	scheme    codec.Scheme

	uncompactTool string

	failed  bool // error recorded; body lines are swallowed
	failure error
}

func NewInterpreter(ctx Context) *Interpreter {
	return &Interpreter{
		afs:   osfs.New(ctx.TargetDir),
		ctx:   ctx,
		trace: ctx.Debug,
	}
}

// Reports returns the per-file outcomes recorded so far.
func (in *Interpreter) Reports() []Report {
	return in.reports
}

/*
	RunSegment executes one parsed segment.  A file left open at the end
	of a segment is carried into the next one; that is how split parts
	resume a body.
*/
func (in *Interpreter) RunSegment(directives []sharfmt.Directive) (err error) {
	defer RequireErrorHasCategory(&err, shar.ErrorCategory(""))
	// trace toggles live for the remainder of their segment only
	in.trace = in.ctx.Debug
	for _, d := range directives {
		if in.trace {
			in.ctx.Monitor.Log(shar.LogDebug, "directive", [2]string{"type", directiveName(d)})
		}
		switch d := d.(type) {
		case sharfmt.Comment:
			// inert
		case sharfmt.Message:
			if !in.ctx.Quiet {
				in.ctx.Monitor.Log(shar.LogInfo, d.Text)
			}
		case sharfmt.Trace:
			in.trace = d.Enabled
		case sharfmt.PartHeader:
			if err := in.sequencePart(d); err != nil {
				return err
			}
		case sharfmt.ChangeDirectory:
			in.changeDirectory(d)
		case sharfmt.EnsureDirectory:
			in.ensureDirectory(d)
		case sharfmt.BeginFileWrite:
			if err := in.beginFile(d); err != nil {
				return err
			}
		case sharfmt.FileDataLine:
			in.dataLine(d)
		case sharfmt.Uncompact:
			if in.pending != nil {
				in.pending.uncompactTool = d.Tool
			}
		case sharfmt.EndFileWrite:
			in.endFile(d)
		case sharfmt.RestoreTimestamp:
			in.restoreTimestamp(d)
		case sharfmt.SegmentEnd:
			// scanner boundary; nothing to execute
		}
	}
	return nil
}

/*
	Finish closes out the run.  A file still open here means its closing
	part never arrived: the partial write is abandoned, reported, and
	the run as a whole is ErrTruncatedArchive.
*/
func (in *Interpreter) Finish() ([]Report, error) {
	if in.pending != nil {
		p := in.pending
		in.failFile(Errorf(shar.ErrTruncatedArchive, "file %q never completed; its closing part is missing", p.name))
		in.reports = append(in.reports, Report{Name: p.name, Written: p.digester.Count(), Verify: integrity.Skipped, Error: p.failure})
		in.pending = nil
		return in.reports, Errorf(shar.ErrTruncatedArchive, "archive ended with file %q incomplete", p.name)
	}
	if in.spanned && in.partTotal != 0 && in.lastPartIndex < in.partTotal {
		return in.reports, Errorf(shar.ErrTruncatedArchive, "saw %d of %d archive parts", in.lastPartIndex, in.partTotal)
	}
	return in.reports, nil
}

/*
	sequencePart records part numbering.  Strict ascending order is only
	demanded when a file body is open across the boundary: a split body
	can resume nowhere but in the next part.  Parts that carry whole
	files stand alone and may arrive in any order, or singly.
*/
func (in *Interpreter) sequencePart(d sharfmt.PartHeader) error {
	if in.pending != nil {
		in.spanned = true
		if d.Index != in.lastPartIndex+1 {
			return ErrorDetailed(shar.ErrTruncatedArchive, "archive parts out of order", map[string]string{
				"expected": itoa(in.lastPartIndex + 1),
				"got":      itoa(d.Index),
				"file":     in.pending.name,
			})
		}
	}
	in.lastPartIndex = d.Index
	if d.Total != 0 {
		in.partTotal = d.Total
	}
	return nil
}

func (in *Interpreter) changeDirectory(d sharfmt.ChangeDirectory) {
	rel, err := in.safePath(d.Path)
	if err != nil {
		in.ctx.Monitor.Log(shar.LogWarn, "ignoring unsafe cd", [2]string{"path", d.Path})
		return
	}
	in.cwd = rel
}

func (in *Interpreter) ensureDirectory(d sharfmt.EnsureDirectory) {
	rel, err := in.safePath(d.Path)
	if err != nil {
		in.reports = append(in.reports, Report{Name: d.Path, Verify: integrity.Skipped, Error: err})
		return
	}
	if err := in.mkdirAll(rel); err != nil {
		in.reports = append(in.reports, Report{Name: d.Path, Verify: integrity.Skipped, Error: err})
	}
}

func (in *Interpreter) mkdirAll(rel fs.RelPath) error {
	if err := fsOp.MkdirAll(in.afs, rel, 0755); err != nil {
		return normalizeWriteError(err)
	}
	return nil
}

/*
	beginFile opens a destination.  An appending begin resumes the
	pending file from the previous part; anything else while a file is
	still open means the closing part went missing, which is fatal.
*/
func (in *Interpreter) beginFile(d sharfmt.BeginFileWrite) error {
	if d.Append {
		if in.pending == nil {
			return Errorf(shar.ErrTruncatedArchive, "continuation of %q but no file is open; an earlier part is missing", d.Name)
		}
		if in.pending.name != d.Name && in.pending.wireName != d.Name {
			return ErrorDetailed(shar.ErrTruncatedArchive, "continuation names the wrong file", map[string]string{
				"open":         in.pending.name,
				"continuation": d.Name,
			})
		}
		return nil
	}
	if in.pending != nil {
		p := in.pending
		in.failFile(Errorf(shar.ErrTruncatedArchive, "file %q never completed", p.name))
		in.reports = append(in.reports, Report{Name: p.name, Written: p.digester.Count(), Verify: integrity.Skipped, Error: p.failure})
		in.pending = nil
	}

	p := &pendingWrite{
		name:     d.Name,
		wireName: d.Name,
		digester: integrity.NewDigester(),
		mode:     d.Mode,
		encoded:  d.Scheme != "",
		scheme:   d.Scheme,
	}
	in.pending = p

	rel, err := in.safePath(d.Name)
	if err != nil {
		p.failed, p.failure = true, err
		return nil
	}
	p.relPath = rel
	if err := in.mkdirAll(rel.Dir()); err != nil {
		p.failed, p.failure = true, err
		return nil
	}
	if ok, err := in.clearDestination(rel, d.Name); err != nil {
		p.failed, p.failure = true, err
		return nil
	} else if !ok {
		p.failed, p.failure = true, Errorf(shar.ErrOverwriteRefused, "refusing to overwrite %q", d.Name)
		return nil
	}
	f, err := in.afs.OpenFile(rel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.Perms(0600))
	if err != nil {
		p.failed, p.failure = true, normalizeWriteError(err)
		return nil
	}
	p.file = f
	if p.encoded {
		p.decoder = codec.NewDecoder(d.Scheme, io.MultiWriter(f, p.digester))
	}
	return nil
}

// clearDestination applies the overwrite policy.  Returns false when the
// destination exists and stays.
func (in *Interpreter) clearDestination(rel fs.RelPath, name string) (bool, error) {
	_, err := in.afs.LStat(rel)
	switch Category(err) {
	case fs.ErrNotExists:
		return true, nil
	case nil:
		// fallthrough below
	default:
		return false, normalizeWriteError(err)
	}
	switch in.ctx.Overwrite {
	case shar.Overwrite_Force:
		return true, nil
	case shar.Overwrite_Interactive:
		if in.ctx.Prompter == nil {
			return false, nil
		}
		ok, err := in.ctx.Prompter(name)
		if err != nil {
			return false, Errorf(shar.ErrInternal, "overwrite prompt failed: %s", err)
		}
		return ok, nil
	default:
		return false, nil
	}
}

func (in *Interpreter) dataLine(d sharfmt.FileDataLine) {
	p := in.pending
	if p == nil || p.failed {
		return
	}
	if !p.encoded {
		if _, err := io.WriteString(io.MultiWriter(p.file, p.digester), d.Text+"\n"); err != nil {
			in.failFile(normalizeWriteError(err))
		}
		return
	}
	line := d.Text
	if !p.sawHeader {
		hdr, ok, err := codec.ParseHeader(line)
		if err != nil {
			in.failFile(err)
			return
		}
		if ok {
			p.sawHeader = true
			if hdr.Mode != 0 {
				p.mode = hdr.Mode
			}
			return
		}
		// continuation blocks resume mid-body with no header
		p.sawHeader = true
	}
	if _, err := p.decoder.WriteLine(line); err != nil {
		in.failFile(err)
	}
}

// failFile marks the open file as failed and abandons its partial write.
func (in *Interpreter) failFile(err error) {
	p := in.pending
	if p == nil || p.failed {
		return
	}
	p.failed, p.failure = true, err
	if p.file != nil {
		p.file.Close()
		in.afs.Remove(p.relPath)
		p.file = nil
	}
}

func (in *Interpreter) endFile(d sharfmt.EndFileWrite) {
	p := in.pending
	in.pending = nil
	if p == nil {
		in.reports = append(in.reports, Report{Name: d.Name, Verify: integrity.Skipped,
			Error: Errorf(shar.ErrTruncatedArchive, "close of %q without a matching open", d.Name)})
		return
	}
	if p.failed {
		in.reports = append(in.reports, Report{Name: p.name, Verify: integrity.Skipped, Error: p.failure})
		return
	}
	if p.encoded {
		if err := p.decoder.Close(); err != nil {
			p.file.Close()
			in.afs.Remove(p.relPath)
			in.reports = append(in.reports, Report{Name: p.name, Verify: integrity.Skipped, Error: err})
			return
		}
	}
	if p.file != nil {
		if err := p.file.Close(); err != nil {
			in.reports = append(in.reports, Report{Name: p.name, Verify: integrity.Skipped, Error: normalizeWriteError(err)})
			return
		}
		p.file = nil
	}

	finalRel := p.relPath
	if p.uncompactTool != "" {
		rel, digester, err := in.expand(p, d.Name)
		if err != nil {
			in.reports = append(in.reports, Report{Name: d.Name, Verify: integrity.Skipped, Error: err})
			return
		}
		finalRel, p.digester = rel, digester
	}

	if p.mode != 0 {
		if err := in.afs.Chmod(finalRel, fs.Perms(p.mode&0777)); err != nil {
			in.reports = append(in.reports, Report{Name: d.Name, Written: p.digester.Count(), Verify: integrity.Skipped, Error: normalizeWriteError(err)})
			return
		}
	}

	result := p.digester.Verify(d.ExpectedCount, d.ExpectedMD5)
	report := Report{Name: d.Name, Written: p.digester.Count(), Verify: result}
	switch result {
	case integrity.CountMismatch:
		report.Error = ErrorDetailed(shar.ErrCountMismatch, "restored file has the wrong length", map[string]string{
			"path":     d.Name,
			"expected": itoa64(*d.ExpectedCount),
			"actual":   itoa64(p.digester.Count()),
		})
	case integrity.DigestMismatch:
		report.Error = ErrorDetailed(shar.ErrDigestMismatch, "restored file has the wrong digest", map[string]string{
			"path":     d.Name,
			"expected": d.ExpectedMD5,
			"actual":   p.digester.HexDigest(),
		})
	}
	in.reports = append(in.reports, report)
}

/*
	expand decompacts a restored member in place: the travel name loses
	the tool suffix and the expanded bytes are what verification sees.
	Always in-process (or a fixed argv for the one legacy format).
*/
func (in *Interpreter) expand(p *pendingWrite, finalName string) (fs.RelPath, *integrity.Digester, error) {
	finalRel, err := in.safePath(finalName)
	if err != nil {
		return fs.RelPath{}, nil, err
	}
	src, err := in.afs.OpenFile(p.relPath, os.O_RDONLY, 0)
	if err != nil {
		return fs.RelPath{}, nil, normalizeWriteError(err)
	}
	defer src.Close()
	expander, err := compactor.Expand(p.uncompactTool, src)
	if err != nil {
		return fs.RelPath{}, nil, err
	}
	defer expander.Close()
	dst, err := in.afs.OpenFile(finalRel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.Perms(0600))
	if err != nil {
		return fs.RelPath{}, nil, normalizeWriteError(err)
	}
	digester := integrity.NewDigester()
	_, err = io.Copy(io.MultiWriter(dst, digester), expander)
	closeErr := dst.Close()
	if err != nil {
		in.afs.Remove(finalRel)
		return fs.RelPath{}, nil, Errorf(shar.ErrArchiveCorrupt, "decompaction of %q failed: %s", p.wireName, err)
	}
	if closeErr != nil {
		return fs.RelPath{}, nil, normalizeWriteError(closeErr)
	}
	in.afs.Remove(p.relPath)
	return finalRel, digester, nil
}

func (in *Interpreter) restoreTimestamp(d sharfmt.RestoreTimestamp) {
	if in.ctx.DiscardTimestamps {
		return
	}
	rel, err := in.safePath(d.Name)
	if err != nil {
		return
	}
	if err := in.afs.SetTimesNano(rel, d.Mtime, fs.DefaultAtime); err != nil {
		in.ctx.Monitor.Log(shar.LogWarn, "could not restore timestamp",
			[2]string{"path", d.Name}, [2]string{"err", err.Error()})
	}
}

/*
	safePath screens a wire name before it touches the filesystem:
	absolute paths and upward traversal are rejected here, and symlink
	escapes are rejected below by the filesystem's own confinement.
*/
func (in *Interpreter) safePath(name string) (fs.RelPath, error) {
	if name == "" || strings.HasPrefix(name, "/") {
		return fs.RelPath{}, ErrorDetailed(shar.ErrPathTraversalRejected, "archive names an absolute path", map[string]string{"path": name})
	}
	rel := fs.MustRelPath(name)
	if rel.GoesUp() {
		return fs.RelPath{}, ErrorDetailed(shar.ErrPathTraversalRejected, "archive path escapes the target directory", map[string]string{"path": name})
	}
	return in.cwd.Join(rel), nil
}

// normalizeWriteError maps filesystem categories onto the archive
// error taxonomy: confinement breakouts are traversal rejections, and
// everything else at the destination is an unwritable destination.
func normalizeWriteError(err error) error {
	switch Category(err) {
	case fs.ErrBreakout:
		return Errorf(shar.ErrPathTraversalRejected, "%s", err)
	case shar.ErrPathTraversalRejected, shar.ErrOverwriteRefused, shar.ErrInternal:
		return err
	default:
		return Errorf(shar.ErrDestinationUnwritable, "%s", err)
	}
}

func directiveName(d sharfmt.Directive) string {
	switch d.(type) {
	case sharfmt.ChangeDirectory:
		return "change-directory"
	case sharfmt.EnsureDirectory:
		return "ensure-directory"
	case sharfmt.Comment:
		return "comment"
	case sharfmt.Message:
		return "message"
	case sharfmt.Trace:
		return "trace"
	case sharfmt.PartHeader:
		return "part-header"
	case sharfmt.BeginFileWrite:
		return "begin-file-write"
	case sharfmt.FileDataLine:
		return "file-data"
	case sharfmt.EndFileWrite:
		return "end-file-write"
	case sharfmt.Uncompact:
		return "uncompact"
	case sharfmt.RestoreTimestamp:
		return "restore-timestamp"
	case sharfmt.SegmentEnd:
		return "segment-end"
	default:
		return "unknown"
	}
}

func itoa(n int) string     { return strconv.Itoa(n) }
func itoa64(n int64) string { return strconv.FormatInt(n, 10) }
