/*
	Package split partitions a built directive stream into size-limited
	output parts and owns the small grammar of size limits and part
	names.

	Splitting happens on directives, before rendering; sizes are
	estimated from the wire forms the renderer will emit.  Each part is
	a self-contained segment (its own part header and segment end), and
	a file body cut mid-part resumes in the next part as an appending
	write.
*/
package split

import (
	"fmt"
	"strconv"
	"strings"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
	"go.polydawn.net/shar/sharfmt"
)

const (
	minLimit = 4096
	maxLimit = 1 << 30
)

type Plan struct {
	Limit      int64  // max bytes per rendered part; 0 disables splitting
	WholeItems bool   // never cut inside a file body
	Prefix     string // output name prefix; required when Limit > 0
}

func (p Plan) Validate() error {
	if p.Limit == 0 {
		return nil
	}
	if p.Limit < minLimit || p.Limit > maxLimit {
		return Errorf(shar.ErrValidation, "part size limit %d out of range [%d, %d]", p.Limit, minLimit, maxLimit)
	}
	if p.Prefix == "" {
		return Errorf(shar.ErrValidation, "splitting requires an output name prefix")
	}
	if strings.ContainsRune(p.Prefix, '%') {
		if err := checkNameFormat(p.Prefix); err != nil {
			return err
		}
	}
	return nil
}

/*
	ParseSizeLimit reads a size limit argument.  Suffixes follow the
	split(1) convention: `k` is 1000, `K` is 1024, `m` is 10^6, `M` is
	2^20.  A bare value under 1024 counts in KiB.  The resolved value
	must land in [4096, 1GiB].
*/
func ParseSizeLimit(s string) (int64, error) {
	if s == "" {
		return 0, Errorf(shar.ErrValidation, "empty size limit")
	}
	mult := int64(1)
	numPart := s
	switch s[len(s)-1] {
	case 'k':
		mult, numPart = 1000, s[:len(s)-1]
	case 'K':
		mult, numPart = 1024, s[:len(s)-1]
	case 'm':
		mult, numPart = 1000*1000, s[:len(s)-1]
	case 'M':
		mult, numPart = 1<<20, s[:len(s)-1]
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil || n <= 0 {
		return 0, Errorf(shar.ErrValidation, "unparsable size limit %q", s)
	}
	if mult == 1 && n < 1024 {
		mult = 1024
	}
	resolved := n * mult
	if resolved < minLimit || resolved > maxLimit {
		return 0, Errorf(shar.ErrValidation, "size limit %q resolves to %d bytes, outside [%d, %d]", s, resolved, minLimit, maxLimit)
	}
	return resolved, nil
}

/*
	PartName names one output part.  A prefix containing a `%` is taken
	as a printf-style format with a single integer verb; otherwise the
	part index is appended as a dot-suffix, two digits wide, growing
	naturally past 99.
*/
func PartName(prefix string, index int) string {
	if strings.ContainsRune(prefix, '%') {
		return fmt.Sprintf(prefix, index)
	}
	return fmt.Sprintf("%s.%02d", prefix, index)
}

// checkNameFormat accepts exactly one integer verb and nothing else
// percent-shaped.
func checkNameFormat(format string) error {
	verbs := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		j := i + 1
		for j < len(format) && (format[j] == '0' || format[j] == '-' || (format[j] >= '1' && format[j] <= '9')) {
			j++
		}
		if j >= len(format) || format[j] != 'd' {
			return Errorf(shar.ErrValidation, "part name format %q: only a single %%d verb is allowed", format)
		}
		verbs++
		i = j
	}
	if verbs != 1 {
		return Errorf(shar.ErrValidation, "part name format %q: exactly one %%d verb required, found %d", format, verbs)
	}
	return nil
}

/*
	Partition slices one built segment into parts within the plan's
	limit.  With no limit the input comes back as a single part,
	untouched.  Each emitted part opens with a part sequencing header
	and closes with a segment end.

	In whole-item mode a file bigger than the limit gets a part to
	itself, oversized; cutting it up was explicitly declined.  Otherwise
	bodies are cut between data lines and continue in the next part as
	appending writes.
*/
func Partition(directives []sharfmt.Directive, plan Plan) (_ [][]sharfmt.Directive, err error) {
	defer RequireErrorHasCategory(&err, shar.ErrorCategory(""))
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if plan.Limit == 0 {
		return [][]sharfmt.Directive{directives}, nil
	}

	pt := partitioner{limit: plan.Limit}
	for _, atom := range groupAtoms(directives) {
		size := atomSize(atom)
		pt.open()
		switch {
		case size <= pt.budget:
			pt.add(atom, size)
		case plan.WholeItems || !splittable(atom):
			// does not fit, and cutting it up was declined or is
			// impossible; it gets a part to itself, oversized if so
			if len(pt.cur) > 1 {
				pt.close()
				pt.open()
			}
			pt.add(atom, size)
			if pt.budget < 0 {
				pt.close()
			}
		default:
			pt.splitFile(atom)
		}
	}
	pt.close()

	// stamp totals now that the count is known
	for _, part := range pt.parts {
		if ph, ok := part[0].(sharfmt.PartHeader); ok {
			ph.Total = len(pt.parts)
			part[0] = ph
		}
	}
	return pt.parts, nil
}

type partitioner struct {
	limit  int64
	parts  [][]sharfmt.Directive
	cur    []sharfmt.Directive
	budget int64
}

func (pt *partitioner) open() {
	if pt.cur != nil {
		return
	}
	header := sharfmt.PartHeader{Index: len(pt.parts) + 1}
	pt.cur = []sharfmt.Directive{header}
	pt.budget = pt.limit - partOverhead - wireSize(header) - wireSize(sharfmt.SegmentEnd{})
}

func (pt *partitioner) close() {
	if pt.cur == nil {
		return
	}
	pt.cur = append(pt.cur, sharfmt.SegmentEnd{})
	pt.parts = append(pt.parts, pt.cur)
	pt.cur = nil
}

func (pt *partitioner) add(directives []sharfmt.Directive, size int64) {
	pt.cur = append(pt.cur, directives...)
	pt.budget -= size
}

// rollover closes the running part and begins the next one, reopening
// the given file body as an appending write.
func (pt *partitioner) rollover(begin sharfmt.BeginFileWrite) {
	pt.close()
	pt.open()
	cont := begin
	cont.Append = true
	pt.add([]sharfmt.Directive{cont}, wireSize(cont))
}

// splitFile lays a file atom across part boundaries.  The atom shape is
// leading directives, a BeginFileWrite, data lines, trailing directives;
// cuts land only between data lines, and the trailers stay with the
// final chunk.
func (pt *partitioner) splitFile(atom []sharfmt.Directive) {
	beginAt := 0
	for {
		if _, ok := atom[beginAt].(sharfmt.BeginFileWrite); ok {
			break
		}
		beginAt++
	}
	begin := atom[beginAt].(sharfmt.BeginFileWrite)
	dataEnd := beginAt + 1
	for ; dataEnd < len(atom); dataEnd++ {
		if _, ok := atom[dataEnd].(sharfmt.FileDataLine); !ok {
			break
		}
	}
	trailer := atom[dataEnd:]
	trailerSize := atomSize(trailer)
	head := atom[:beginAt+1]
	headSize := atomSize(head)

	// the opener and at least one data line must fit before any cut
	firstLine := int64(0)
	if dataEnd > beginAt+1 {
		firstLine = wireSize(atom[beginAt+1])
	}
	if headSize+firstLine > pt.budget {
		pt.close()
		pt.open()
	}
	pt.add(head, headSize)

	for i := beginAt + 1; i < dataEnd; i++ {
		lineSize := wireSize(atom[i])
		tail := int64(0)
		if i == dataEnd-1 {
			tail = trailerSize // the last line must leave room to finish
		}
		if lineSize+tail > pt.budget {
			pt.rollover(begin)
		}
		pt.add(atom[i:i+1], lineSize)
	}
	if trailerSize > pt.budget {
		pt.rollover(begin)
	}
	pt.add(trailer, trailerSize)
}

// groupAtoms clusters directives into runs that prefer to travel
// together: a file block (message, begin, data, trailers) is one atom;
// everything else stands alone.
func groupAtoms(directives []sharfmt.Directive) [][]sharfmt.Directive {
	var atoms [][]sharfmt.Directive
	i := 0
	for i < len(directives) {
		switch directives[i].(type) {
		case sharfmt.SegmentEnd:
			i++ // parts close themselves
		case sharfmt.Message:
			// a message immediately before a file write belongs to it
			if i+1 < len(directives) {
				if _, ok := directives[i+1].(sharfmt.BeginFileWrite); ok {
					j := fileBlockEnd(directives, i+1)
					atoms = append(atoms, directives[i:j])
					i = j
					continue
				}
			}
			atoms = append(atoms, directives[i:i+1])
			i++
		case sharfmt.BeginFileWrite:
			j := fileBlockEnd(directives, i)
			atoms = append(atoms, directives[i:j])
			i = j
		default:
			atoms = append(atoms, directives[i:i+1])
			i++
		}
	}
	return atoms
}

// fileBlockEnd finds the index one past a file block starting at the
// BeginFileWrite at position i.
func fileBlockEnd(directives []sharfmt.Directive, i int) int {
	j := i + 1
	for ; j < len(directives); j++ {
		switch directives[j].(type) {
		case sharfmt.FileDataLine, sharfmt.Uncompact, sharfmt.RestoreTimestamp:
		case sharfmt.EndFileWrite:
			return j + 1
		default:
			return j
		}
	}
	return j
}

func splittable(atom []sharfmt.Directive) bool {
	for _, d := range atom {
		if _, ok := d.(sharfmt.BeginFileWrite); ok {
			return true
		}
	}
	return false
}

func atomSize(atom []sharfmt.Directive) int64 {
	var n int64
	for _, d := range atom {
		n += wireSize(d)
	}
	return n
}

// partOverhead approximates the fixed per-part envelope: shebang,
// preamble comments, optional mail headers.
const partOverhead = 320

// wireSize estimates a directive's rendered length, newline included.
// Estimates run a little high on purpose; parts must not bust the limit.
func wireSize(d sharfmt.Directive) int64 {
	switch d := d.(type) {
	case sharfmt.Comment:
		return int64(len(d.Text)) + 3
	case sharfmt.Message:
		return int64(len(d.Text)) + 8
	case sharfmt.Trace:
		return 7
	case sharfmt.PartHeader:
		return 48
	case sharfmt.ChangeDirectory:
		return int64(len(d.Path)) + 8
	case sharfmt.EnsureDirectory:
		return int64(2*len(d.Path)) + 24
	case sharfmt.BeginFileWrite:
		return int64(len(d.Name)+len(d.Delimiter)) + 40
	case sharfmt.FileDataLine:
		return int64(len(d.Text)) + 2
	case sharfmt.EndFileWrite:
		n := int64(len(d.Name)) + 40
		if d.ExpectedCount != nil {
			n += int64(2*len(d.Name)) + 80
		}
		if d.ExpectedMD5 != "" {
			n += int64(len(d.Name)) + 100
		}
		return n
	case sharfmt.Uncompact:
		return int64(len(d.Name)) + 16
	case sharfmt.RestoreTimestamp:
		return int64(len(d.Name)) + 56
	case sharfmt.SegmentEnd:
		return 7
	default:
		return 32
	}
}
