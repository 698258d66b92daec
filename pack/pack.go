/*
	Package pack builds shar archives: it stages input files, classifies
	their contents, encodes or inlines their bodies, and emits the
	directive stream that the sharfmt renderer (and the split planner)
	turn into output text.

	The builder never reads configuration from the environment; callers
	hand it a fully resolved Options.
*/
package pack

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
	"go.polydawn.net/shar/classify"
	"go.polydawn.net/shar/codec"
	"go.polydawn.net/shar/compactor"
	"go.polydawn.net/shar/fs"
	"go.polydawn.net/shar/fsOp"
	"go.polydawn.net/shar/integrity"
	"go.polydawn.net/shar/sharfmt"
)

// BodyMode selects how file bodies travel: inlined as text, encoded as
// binary, or decided per file by the content classifier.
type BodyMode string

const (
	Body_Auto   BodyMode = "auto"
	Body_Text   BodyMode = "text"
	Body_Binary BodyMode = "binary"
)

// DefaultDelimiter is the here-document token used when Options leaves
// it blank.  It appears on the wire fenced by underscores.
const DefaultDelimiter = "SHAR_EOF"

type Options struct {
	Submitter   string
	ArchiveName string // required when NetHeaders is set
	NetHeaders  bool
	CutMark     bool

	Mode        BodyMode     // zero value means Body_Auto
	Scheme      codec.Scheme // for encoded bodies; zero value means classic uuencode
	EncodeNames bool         // base64-encode names in begin headers

	Compactor compactor.Spec // zero value disables compaction

	CharacterCount bool // emit byte-count verification
	MD5Digest      bool // emit digest verification
	Timestamps     bool // emit mtime restoration
	ForcePrefix    bool // X-prefix every text body line
	Basenames      bool // flatten input paths to their final segment

	Delimiter string // here-doc token; defaults to DefaultDelimiter
}

func (o Options) Validate() error {
	if o.NetHeaders && o.ArchiveName == "" {
		return Errorf(shar.ErrValidation, "net headers require an archive name")
	}
	switch o.Mode {
	case "", Body_Auto, Body_Text, Body_Binary:
	default:
		return Errorf(shar.ErrValidation, "unknown body mode %q", o.Mode)
	}
	switch o.Scheme {
	case "", codec.UU, codec.Base64:
	default:
		return Errorf(shar.ErrValidation, "unknown codec scheme %q", o.Scheme)
	}
	if o.EncodeNames && o.scheme() != codec.Base64 {
		return Errorf(shar.ErrValidation, "filename encoding requires the base64 scheme")
	}
	return o.Compactor.Validate()
}

func (o Options) mode() BodyMode {
	if o.Mode == "" {
		return Body_Auto
	}
	return o.Mode
}

func (o Options) scheme() codec.Scheme {
	if o.Scheme == "" {
		return codec.UU
	}
	return o.Scheme
}

func (o Options) delimiter() string {
	if o.Delimiter == "" {
		return DefaultDelimiter
	}
	return o.Delimiter
}

// RenderOpts derives the envelope configuration the sharfmt renderer
// needs from these build options.
func (o Options) RenderOpts() sharfmt.RenderOpts {
	return sharfmt.RenderOpts{
		NetHeaders:  o.NetHeaders,
		ArchiveName: o.ArchiveName,
		Submitter:   o.Submitter,
		CutMark:     o.CutMark,
		ForcePrefix: o.ForcePrefix,
	}
}

type Builder struct {
	afs   fs.FS
	opts  Options
	mon   shar.Monitor
	items []item
}

type item struct {
	wireName string // name as it appears on the wire (sans compaction suffix)
	isDir    bool
	meta     fs.Metadata
	class    classify.Class
	compTool string // "" when the body travels uncompacted
	body     []byte // staged body, post-compaction
	count    int64  // original byte count
	md5      string // original content digest
}

func NewBuilder(afs fs.FS, opts Options, mon shar.Monitor) (*Builder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Builder{afs: afs, opts: opts, mon: mon}, nil
}

/*
	Add stages one input path.  Files are read in full (classification
	and digesting both need the whole body); directories become ensure
	directives.  Symlinks are followed.

	Absent or unreadable inputs are ErrMissingInput.  Paths that climb
	out of the source tree are ErrValidation.
*/
func (b *Builder) Add(path fs.RelPath) (err error) {
	defer RequireErrorHasCategory(&err, shar.ErrorCategory(""))
	if path.GoesUp() {
		return Errorf(shar.ErrValidation, "input path %q climbs above the source root", path.SansDot())
	}
	meta, body, err := fsOp.ScanFile(b.afs, path)
	if err != nil {
		return Errorf(shar.ErrMissingInput, "cannot stat input %q: %s", path.SansDot(), err)
	}
	switch meta.Type {
	case fs.Type_Dir:
		b.items = append(b.items, item{wireName: b.wireName(path), isDir: true, meta: *meta})
		return nil
	case fs.Type_File:
		defer body.Close()
		return b.addFile(path, *meta, body)
	default:
		b.mon.Log(shar.LogWarn, "skipping input of unsupported type",
			[2]string{"path", path.SansDot()}, [2]string{"type", meta.Type.String()})
		return nil
	}
}

func (b *Builder) wireName(path fs.RelPath) string {
	if b.opts.Basenames {
		return path.Last()
	}
	return path.SansDot()
}

func (b *Builder) addFile(path fs.RelPath, meta fs.Metadata, r io.Reader) error {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return Errorf(shar.ErrMissingInput, "cannot read input %q: %s", path.SansDot(), err)
	}
	body := buf.Bytes()

	digester := integrity.NewDigester()
	digester.Write(body)
	it := item{
		wireName: b.wireName(path),
		meta:     meta,
		count:    digester.Count(),
		md5:      digester.HexDigest(),
	}

	it.class = b.classifyBody(it.wireName, body)

	if b.opts.Compactor.Enabled() {
		compacted, err := compact(b.opts.Compactor, body)
		if err != nil {
			return err
		}
		it.compTool = b.opts.Compactor.Tool
		it.class = classify.Binary
		body = compacted
	}
	it.body = body
	b.items = append(b.items, it)
	return nil
}

// classifyBody resolves the travel class for one body.  Explicit text
// mode still demands a trailing newline; a file without one cannot
// round-trip through a here-document, so it falls back to encoding.
func (b *Builder) classifyBody(name string, body []byte) classify.Class {
	switch b.opts.mode() {
	case Body_Binary:
		return classify.Binary
	case Body_Text:
		if len(body) > 0 && body[len(body)-1] != '\n' {
			b.mon.Log(shar.LogWarn, "file lacks a final newline; encoding as binary",
				[2]string{"path", name})
			return classify.Binary
		}
		return classify.Text
	default:
		class, _ := classify.Classify(bytes.NewReader(body))
		return class
	}
}

/*
	Build emits the complete directive stream for everything staged so
	far: the contents table, directory ensures, one block per file, and
	the closing segment marker.  The result is a single segment; the
	split package partitions it further when a size limit is configured.
*/
func (b *Builder) Build() (_ []sharfmt.Directive, err error) {
	defer RequireErrorHasCategory(&err, shar.ErrorCategory(""))
	var out []sharfmt.Directive

	out = append(out, sharfmt.Comment{Text: "This shar contains:"})
	out = append(out, sharfmt.Comment{Text: "length mode       name"})
	out = append(out, sharfmt.Comment{Text: "------ ---------- ------------------------------------------"})
	for _, it := range b.items {
		out = append(out, sharfmt.Comment{Text: fmt.Sprintf("%6d %s %s", it.count, modeString(it.meta), it.wireName)})
	}
	out = append(out, sharfmt.Comment{Text: ""})

	ensured := map[string]bool{}
	for _, it := range b.items {
		for _, parent := range fs.MustRelPath(it.wireName).SplitParent() {
			if p := parent.SansDot(); !ensured[p] {
				ensured[p] = true
				out = append(out, sharfmt.EnsureDirectory{Path: p})
			}
		}
		if it.isDir {
			if !ensured[it.wireName] {
				ensured[it.wireName] = true
				out = append(out, sharfmt.EnsureDirectory{Path: it.wireName})
			}
			continue
		}
		fileDirectives, err := b.buildFile(it)
		if err != nil {
			return nil, err
		}
		out = append(out, fileDirectives...)
	}
	out = append(out, sharfmt.SegmentEnd{})
	return out, nil
}

func (b *Builder) buildFile(it item) ([]sharfmt.Directive, error) {
	var out []sharfmt.Directive
	mode := uint32(it.meta.Perms & 0777)

	travelName := it.wireName
	if it.compTool != "" {
		travelName += b.opts.Compactor.Suffix()
	}

	switch it.class {
	case classify.Text:
		lines := bodyLines(it.body)
		out = append(out, sharfmt.Message{Text: "x - extracting " + it.wireName + " (text)"})
		out = append(out, sharfmt.BeginFileWrite{
			Name:      it.wireName,
			Mode:      mode,
			Delimiter: pickDelimiter(b.opts.delimiter(), lines),
		})
		for _, l := range lines {
			out = append(out, sharfmt.FileDataLine{Text: l})
		}
	default:
		out = append(out, sharfmt.Message{Text: "x - extracting " + it.wireName + " (binary)"})
		hdr := codec.Header{
			Scheme:      b.opts.scheme(),
			Mode:        mode,
			Name:        travelName,
			EncodedName: b.opts.EncodeNames,
		}
		var encoded bytes.Buffer
		if err := codec.EncodeStream(&encoded, bytes.NewReader(it.body), hdr); err != nil {
			return nil, err
		}
		lines := bodyLines(encoded.Bytes())
		out = append(out, sharfmt.BeginFileWrite{
			Name:        travelName,
			Mode:        mode,
			Delimiter:   "_" + b.opts.delimiter() + "_",
			Scheme:      hdr.Scheme,
			EncodedName: hdr.EncodedName,
		})
		for _, l := range lines {
			out = append(out, sharfmt.FileDataLine{Text: l})
		}
	}

	if it.compTool != "" {
		out = append(out, sharfmt.Uncompact{Name: travelName, Tool: it.compTool})
	}
	end := sharfmt.EndFileWrite{Name: it.wireName}
	if b.opts.CharacterCount {
		count := it.count
		end.ExpectedCount = &count
	}
	if b.opts.MD5Digest {
		end.ExpectedMD5 = it.md5
	}
	out = append(out, end)
	if b.opts.Timestamps {
		out = append(out, sharfmt.RestoreTimestamp{Name: it.wireName, Mtime: it.meta.Mtime.UTC()})
	}
	return out, nil
}

// pickDelimiter fences the configured token in underscores, appending a
// counter until no body line collides with it.
func pickDelimiter(token string, lines []string) string {
	delim := "_" + token + "_"
	for n := 1; containsLine(lines, delim); n++ {
		delim = fmt.Sprintf("_%s_%d_", token, n)
	}
	return delim
}

func containsLine(lines []string, needle string) bool {
	for _, l := range lines {
		if l == needle {
			return true
		}
	}
	return false
}

// bodyLines splits staged bytes into wire lines, dropping the final
// newline's empty remainder.
func bodyLines(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	s := string(body)
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// modeString renders metadata in ls -l's habit for the contents table.
func modeString(meta fs.Metadata) string {
	var b strings.Builder
	if meta.Type == fs.Type_Dir {
		b.WriteByte('d')
	} else {
		b.WriteByte('-')
	}
	perms := meta.Perms
	for shift := 6; shift >= 0; shift -= 3 {
		bits := (perms >> uint(shift)) & 07
		chars := [3]byte{'r', 'w', 'x'}
		for i, c := range chars {
			if bits&(04>>uint(i)) != 0 {
				b.WriteByte(c)
			} else {
				b.WriteByte('-')
			}
		}
	}
	return b.String()
}

func compact(spec compactor.Spec, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	wc, err := spec.Compactor(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := wc.Write(body); err != nil {
		wc.Close()
		return nil, Errorf(shar.ErrCompactionToolFailure, "compaction write failed: %s", err)
	}
	if err := wc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
