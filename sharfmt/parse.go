package sharfmt

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
	"go.polydawn.net/shar/codec"
	"go.polydawn.net/shar/compactor"
)

/*
	ParseSegment turns the collected lines of one archive segment back
	into directives.  The grammar is deliberately a superset of what the
	renderer emits: scaffolding lines that carry no information (lock
	directory juggling, guard echoes, shell variable setup) are skipped,
	and unrecognized lines are skipped too rather than rejected, since
	hand-edited archives are common in the wild.

	No line is ever handed to a shell; every recognized form maps onto a
	directive and everything else is dropped.
*/
func ParseSegment(lines []string) (_ []Directive, err error) {
	defer RequireErrorHasCategory(&err, shar.ErrorCategory(""))
	p := parser{lines: lines}
	for p.pos < len(p.lines) {
		if err := p.step(); err != nil {
			return nil, err
		}
	}
	p.flushPending(true)
	return p.out, nil
}

type parser struct {
	lines []string
	pos   int
	out   []Directive

	// trailer accumulation for the most recent file body
	pending *pendingFile
}

type pendingFile struct {
	name      string
	endName   string // name the trailer checks refer to; differs after expansion
	sawClose  bool   // the "restore of X failed" guard marks a completed write
	count     *int64
	md5       string
	stamp     *RestoreTimestamp
	uncompact *Uncompact
}

func (pf *pendingFile) matches(name string) bool {
	return name == pf.name || name == pf.endName
}

// flushPending emits the EndFileWrite (and friends) for a completed file
// body.  A body with no completion marker is a mid-part continuation and
// gets no EndFileWrite at all; the interpreter resumes it from the next
// part.
func (p *parser) flushPending(atSegmentEnd bool) {
	pf := p.pending
	if pf == nil {
		return
	}
	p.pending = nil
	if !pf.sawClose && !atSegmentEnd {
		return
	}
	if !pf.sawClose && atSegmentEnd && pf.count == nil && pf.md5 == "" && pf.stamp == nil {
		return
	}
	if pf.uncompact != nil {
		p.out = append(p.out, *pf.uncompact)
	}
	p.out = append(p.out, EndFileWrite{Name: pf.endName, ExpectedCount: pf.count, ExpectedMD5: pf.md5})
	if pf.stamp != nil {
		p.out = append(p.out, *pf.stamp)
	}
}

func (p *parser) step() error {
	line := p.lines[p.pos]
	p.pos++
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimSuffix(trimmed, " &&")

	switch {
	case trimmed == "":
		return nil
	case strings.HasPrefix(trimmed, "#"):
		return p.parseComment(trimmed)
	case trimmed == "exit 0":
		p.flushPending(false)
		p.out = append(p.out, SegmentEnd{})
		return nil
	case trimmed == "set -x":
		p.flushPending(false)
		p.out = append(p.out, Trace{Enabled: true})
		return nil
	case trimmed == "set +x":
		p.flushPending(false)
		p.out = append(p.out, Trace{Enabled: false})
		return nil
	case strings.HasPrefix(trimmed, "echo "):
		return p.parseEcho(trimmed)
	case strings.HasPrefix(trimmed, "cd "):
		p.flushPending(false)
		if name, ok := unquoteWord(trimmed[len("cd "):]); ok {
			p.out = append(p.out, ChangeDirectory{Path: name})
		}
		return nil
	case strings.HasPrefix(trimmed, "test ! -d "):
		return p.parseMkdirGuard(trimmed)
	case strings.HasPrefix(trimmed, "mkdir "):
		p.flushPending(false)
		arg := strings.TrimPrefix(trimmed[len("mkdir "):], "-p ")
		if name, ok := unquoteWord(arg); ok {
			p.out = append(p.out, EnsureDirectory{Path: name})
		}
		return nil
	case strings.HasPrefix(trimmed, "sed "):
		return p.parseSedBody(trimmed)
	case strings.HasPrefix(trimmed, "uudecode << "):
		return p.parseDirectBody(trimmed)
	case strings.HasPrefix(trimmed, "uudecode "):
		// staged decode step; the decode itself is implied by the body's
		// begin header, so only note that the write is complete.
		if p.pending != nil {
			p.pending.sawClose = true
		}
		return nil
	case strings.HasPrefix(trimmed, "chmod "):
		return p.parseChmod(trimmed)
	case strings.HasPrefix(trimmed, "(set "):
		return p.parseTouch(trimmed)
	case strings.HasPrefix(trimmed, "touch "):
		return p.parseTouchPlain(trimmed)
	case strings.HasPrefix(trimmed, "test $? -eq 0 || echo "):
		if p.pending != nil {
			p.pending.sawClose = true
		}
		return nil
	case strings.HasPrefix(trimmed, "test `wc -c < "):
		return p.parseCountCheck(trimmed)
	case strings.HasPrefix(trimmed, "md5sum -c << "):
		return p.parseDigestCheck(trimmed)
	case strings.HasPrefix(trimmed, "uncompress "), strings.HasPrefix(trimmed, "gzip -d "),
		strings.HasPrefix(trimmed, "bzip2 -d "), strings.HasPrefix(trimmed, "xz -d "),
		strings.HasPrefix(trimmed, "gunzip "):
		return p.parseUncompact(trimmed)
	default:
		// rm -f lock dirs, shar_touch setup, if/fi guards, and whatever
		// else a generator or human left behind.
		return nil
	}
}

const partHeaderPrefix = "# This is part "

func (p *parser) parseComment(trimmed string) error {
	if strings.HasPrefix(trimmed, partHeaderPrefix) {
		rest := strings.TrimPrefix(trimmed, partHeaderPrefix)
		var idx, total int
		if n, _ := fmt.Sscanf(rest, "%d of %d", &idx, &total); n == 2 {
			p.flushPending(false)
			p.out = append(p.out, PartHeader{Index: idx, Total: total})
			return nil
		}
	}
	// Preamble boilerplate carries no archive content.
	switch {
	case trimmed == "#",
		strings.HasPrefix(trimmed, "#!"),
		strings.HasPrefix(trimmed, "# This is a shell archive"),
		strings.HasPrefix(trimmed, "# To extract the files"),
		strings.HasPrefix(trimmed, "# everything before the"):
		return nil
	}
	text := strings.TrimPrefix(trimmed, "#")
	text = strings.TrimPrefix(text, " ")
	p.out = append(p.out, Comment{Text: text})
	return nil
}

func (p *parser) parseEcho(trimmed string) error {
	p.flushPending(false)
	arg := trimmed[len("echo "):]
	if text, ok := unquoteWord(arg); ok {
		p.out = append(p.out, Message{Text: text})
	} else {
		p.out = append(p.out, Message{Text: arg})
	}
	return nil
}

func (p *parser) parseMkdirGuard(trimmed string) error {
	p.flushPending(false)
	// test ! -d 'dir' && mkdir 'dir'
	rest := trimmed[len("test ! -d "):]
	name, rest, ok := takeWord(rest)
	if !ok || !strings.HasPrefix(rest, "&& mkdir ") {
		return nil
	}
	p.out = append(p.out, EnsureDirectory{Path: name})
	return nil
}

/*
	parseSedBody handles `sed 's/^X//' << 'D' > 'name'` and the `>>`
	append form.  The here-document body runs to the delimiter line; X
	prefixes are stripped.  When the target name carries the `.uu`
	staging suffix and the first body line is a codec begin header, the
	body is an encoded staged block and the begin header supplies the
	real name and scheme.
*/
func (p *parser) parseSedBody(trimmed string) error {
	p.flushPending(false)
	rest := strings.TrimPrefix(trimmed, "sed ")
	// skip the substitution program word
	_, rest, ok := takeWord(rest)
	if !ok || !strings.HasPrefix(rest, "<< ") {
		return nil
	}
	rest = rest[len("<< "):]
	delim, rest, ok := takeWord(rest)
	if !ok {
		return nil
	}
	append_ := false
	switch {
	case strings.HasPrefix(rest, ">> "):
		append_ = true
		rest = rest[len(">> "):]
	case strings.HasPrefix(rest, "> "):
		rest = rest[len("> "):]
	default:
		return nil
	}
	target, _, ok := takeWord(rest)
	if !ok {
		return nil
	}

	body, err := p.collectHeredoc(delim, true)
	if err != nil {
		return err
	}

	begin := BeginFileWrite{Name: target, Delimiter: delim, Append: append_}
	if strings.HasSuffix(target, ".uu") {
		realName := strings.TrimSuffix(target, ".uu")
		if len(body) > 0 {
			if hdr, ok, err := codec.ParseHeader(body[0]); ok && err == nil {
				begin.Name = hdr.Name
				begin.Scheme = hdr.Scheme
				begin.Mode = hdr.Mode
				begin.EncodedName = hdr.EncodedName
			} else if append_ {
				// mid-block continuation of a staged encoded body; the
				// interpreter resolves the pending file by staging name.
				begin.Name = realName
				begin.Scheme = codec.UU
			}
		} else {
			begin.Name = realName
		}
	}
	p.out = append(p.out, begin)
	for _, l := range body {
		p.out = append(p.out, FileDataLine{Text: l})
	}
	p.pending = &pendingFile{name: begin.Name, endName: begin.Name}
	return nil
}

// parseDirectBody handles the one-part encoded form,
// `uudecode << 'D' > /dev/null 2>&1`.
func (p *parser) parseDirectBody(trimmed string) error {
	p.flushPending(false)
	rest := trimmed[len("uudecode << "):]
	delim, _, ok := takeWord(rest)
	if !ok {
		return nil
	}
	body, err := p.collectHeredoc(delim, false)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return Errorf(shar.ErrCodecMissingBegin, "empty encoded body")
	}
	hdr, ok, err := codec.ParseHeader(body[0])
	if err != nil {
		return err
	}
	if !ok {
		return Errorf(shar.ErrCodecMissingBegin, "encoded body does not start with a begin line")
	}
	p.out = append(p.out, BeginFileWrite{
		Name:        hdr.Name,
		Mode:        hdr.Mode,
		Delimiter:   delim,
		Scheme:      hdr.Scheme,
		EncodedName: hdr.EncodedName,
	})
	for _, l := range body {
		p.out = append(p.out, FileDataLine{Text: l})
	}
	p.pending = &pendingFile{name: hdr.Name, endName: hdr.Name}
	return nil
}

// collectHeredoc gathers lines up to the delimiter.  Running off the end
// of the segment without seeing it means the archive was cut short.
func (p *parser) collectHeredoc(delim string, stripPrefix bool) ([]string, error) {
	var body []string
	for p.pos < len(p.lines) {
		line := p.lines[p.pos]
		p.pos++
		if line == delim {
			return body, nil
		}
		if stripPrefix {
			line = strings.TrimPrefix(line, "X")
		}
		body = append(body, line)
	}
	return nil, Errorf(shar.ErrTruncatedArchive, "here-document for delimiter %q never terminated", delim)
}

func (p *parser) parseChmod(trimmed string) error {
	// chmod 0644 'name'
	rest := trimmed[len("chmod "):]
	modeWord, rest, ok := takeWord(rest)
	if !ok {
		return nil
	}
	mode, err := strconv.ParseUint(modeWord, 8, 32)
	if err != nil {
		return nil
	}
	name, _, ok := takeWord(rest)
	if !ok {
		return nil
	}
	// retro-patch the matching file body's mode
	for i := len(p.out) - 1; i >= 0; i-- {
		if b, isBegin := p.out[i].(BeginFileWrite); isBegin {
			if b.Name == name {
				b.Mode = uint32(mode)
				p.out[i] = b
			}
			break
		}
	}
	return nil
}

func (p *parser) parseTouch(trimmed string) error {
	// (set CC YY MM DD hh mm ss 'name'; eval "${shar_touch}")
	inner := strings.TrimPrefix(trimmed, "(set ")
	fields := strings.Fields(inner)
	if len(fields) < 8 {
		return nil
	}
	var nums [7]int
	for i := 0; i < 7; i++ {
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil
		}
		nums[i] = n
	}
	nameWord := strings.Join(fields[7:], " ")
	nameWord = strings.TrimSuffix(nameWord, `; eval "${shar_touch}")`)
	name, _, ok := takeWord(strings.TrimSpace(nameWord))
	if !ok {
		return nil
	}
	mtime := time.Date(nums[0]*100+nums[1], time.Month(nums[2]), nums[3], nums[4], nums[5], nums[6], 0, time.UTC)
	p.noteStamp(RestoreTimestamp{Name: name, Mtime: mtime})
	return nil
}

// parseTouchPlain handles the older `touch -am MMDDhhmmYY 'name'` form.
func (p *parser) parseTouchPlain(trimmed string) error {
	fields := strings.Fields(trimmed)
	if len(fields) < 3 || fields[1] != "-am" {
		return nil
	}
	stamp := fields[2]
	if len(stamp) != 10 {
		return nil
	}
	mm, e1 := strconv.Atoi(stamp[0:2])
	dd, e2 := strconv.Atoi(stamp[2:4])
	hh, e3 := strconv.Atoi(stamp[4:6])
	mi, e4 := strconv.Atoi(stamp[6:8])
	yy, e5 := strconv.Atoi(stamp[8:10])
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil {
		return nil
	}
	year := 1900 + yy
	if yy < 70 {
		year = 2000 + yy
	}
	name, _, ok := takeWord(strings.Join(fields[3:], " "))
	if !ok {
		return nil
	}
	p.noteStamp(RestoreTimestamp{Name: name, Mtime: time.Date(year, time.Month(mm), dd, hh, mi, 0, 0, time.UTC)})
	return nil
}

func (p *parser) noteStamp(d RestoreTimestamp) {
	if p.pending != nil && p.pending.matches(d.Name) {
		p.pending.stamp = &d
		return
	}
	p.out = append(p.out, d)
}

func (p *parser) parseCountCheck(trimmed string) error {
	// test `wc -c < 'name'` -eq N || echo ...
	rest := trimmed[len("test `wc -c < "):]
	name, rest, ok := takeWord(rest)
	if !ok || !strings.HasPrefix(rest, "` -eq ") {
		return nil
	}
	rest = rest[len("` -eq "):]
	numWord := rest
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		numWord = rest[:i]
	}
	n, err := strconv.ParseInt(numWord, 10, 64)
	if err != nil {
		return nil
	}
	if p.pending != nil && p.pending.matches(name) {
		p.pending.count = &n
		p.pending.sawClose = true
	}
	return nil
}

func (p *parser) parseDigestCheck(trimmed string) error {
	// md5sum -c << 'D' > /dev/null 2>&1 || echo ...
	rest := trimmed[len("md5sum -c << "):]
	delim, _, ok := takeWord(rest)
	if !ok {
		return nil
	}
	body, err := p.collectHeredoc(delim, false)
	if err != nil {
		return err
	}
	for _, l := range body {
		fields := strings.SplitN(l, "  ", 2)
		if len(fields) != 2 {
			continue
		}
		if p.pending != nil && p.pending.matches(fields[1]) {
			p.pending.md5 = fields[0]
			p.pending.sawClose = true
		}
	}
	return nil
}

func (p *parser) parseUncompact(trimmed string) error {
	var tool, rest string
	switch {
	case strings.HasPrefix(trimmed, "uncompress "):
		tool, rest = "compress", trimmed[len("uncompress "):]
	case strings.HasPrefix(trimmed, "gunzip "):
		tool, rest = "gzip", trimmed[len("gunzip "):]
	case strings.HasPrefix(trimmed, "gzip -d "):
		tool, rest = "gzip", trimmed[len("gzip -d "):]
	case strings.HasPrefix(trimmed, "bzip2 -d "):
		tool, rest = "bzip2", trimmed[len("bzip2 -d "):]
	case strings.HasPrefix(trimmed, "xz -d "):
		tool, rest = "xz", trimmed[len("xz -d "):]
	}
	name, _, ok := takeWord(rest)
	if !ok {
		return nil
	}
	d := Uncompact{Name: name, Tool: tool}
	if p.pending != nil {
		p.pending.uncompact = &d
		if _, bare, ok := compactor.ToolForName(name); ok {
			p.pending.endName = bare
		}
		return nil
	}
	p.out = append(p.out, d)
	return nil
}

// takeWord consumes one shell word (single-quoted with '\'' escapes, or
// a bare run of non-space characters) and returns it with the remaining
// input, leading spaces trimmed.
func takeWord(s string) (word string, rest string, ok bool) {
	s = strings.TrimLeft(s, " ")
	if s == "" {
		return "", "", false
	}
	if s[0] != '\'' {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			return s, "", true
		}
		return s[:i], strings.TrimLeft(s[i:], " "), true
	}
	var b strings.Builder
	i := 1
	for {
		j := strings.IndexByte(s[i:], '\'')
		if j < 0 {
			return "", "", false
		}
		b.WriteString(s[i : i+j])
		i += j + 1
		if strings.HasPrefix(s[i:], `\''`) {
			b.WriteByte('\'')
			i += len(`\''`)
			continue
		}
		break
	}
	return b.String(), strings.TrimLeft(s[i:], " "), true
}

// unquoteWord is takeWord for a whole-argument position.  Trailing
// redirects or stray tokens are tolerated; archives get hand-edited.
func unquoteWord(s string) (string, bool) {
	word, _, ok := takeWord(s)
	return word, ok
}
