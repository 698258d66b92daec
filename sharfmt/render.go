package sharfmt

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
)

// Producer string stamped into archive preambles.
const Producer = "go-shar 1.0"

// CutMarkLine separates mail prose from the archive proper.
const CutMarkLine = "---- Cut Here and feed the following to sh ----"

// RenderOpts carries the header-level knobs that affect the textual
// envelope of every part.
type RenderOpts struct {
	NetHeaders  bool   // emit Submitted-by:/Archive-name: mail headers
	ArchiveName string // required when NetHeaders
	Submitter   string
	CutMark     bool
	ForcePrefix bool // X-prefix every raw body line, not just the risky ones
}

/*
	RenderPart writes one output part: mail headers and cut mark when
	configured, the shell preamble, then the wire form of each directive.

	The caller is expected to have closed each part with a SegmentEnd
	directive; RenderPart does not invent one.
*/
func RenderPart(w io.Writer, index int, directives []Directive, opts RenderOpts) (err error) {
	defer RequireErrorHasCategory(&err, shar.ErrorCategory(""))
	bw := bufio.NewWriter(w)
	r := renderer{bw: bw, opts: opts}

	if opts.NetHeaders {
		r.line("Submitted-by: " + opts.Submitter)
		r.line("Archive-name: " + netArchiveName(opts.ArchiveName, index))
		r.line("")
	}
	if opts.CutMark {
		r.line(CutMarkLine)
	}
	r.line("#!/bin/sh")
	r.line("# This is a shell archive (produced by " + Producer + ").")
	r.line("# To extract the files from this archive, save it to some FILE, remove")
	r.line("# everything before the '#!/bin/sh' line above, then type 'sh FILE'.")
	r.line("#")

	for i := 0; i < len(directives); i++ {
		if r.err != nil {
			break
		}
		switch d := directives[i].(type) {
		case PartHeader:
			r.line(fmt.Sprintf("# This is part %02d of %02d of a multipart archive.", d.Index, d.Total))
		case Comment:
			if d.Text == "" {
				r.line("#")
			} else {
				r.line("# " + d.Text)
			}
		case Message:
			r.line("echo " + quote(d.Text))
		case Trace:
			if d.Enabled {
				r.line("set -x")
			} else {
				r.line("set +x")
			}
		case ChangeDirectory:
			r.line("cd " + quote(d.Path) + " &&")
		case EnsureDirectory:
			r.line("test ! -d " + quote(d.Path) + " && mkdir " + quote(d.Path))
		case BeginFileWrite:
			i = r.renderFile(directives, i, d)
		case Uncompact:
			r.line(uncompactLine(d))
		case RestoreTimestamp:
			y := d.Mtime.Year()
			r.line(fmt.Sprintf("(set %02d %02d %02d %02d %02d %02d %02d %s; eval \"${shar_touch}\") &&",
				y/100, y%100, int(d.Mtime.Month()), d.Mtime.Day(),
				d.Mtime.Hour(), d.Mtime.Minute(), d.Mtime.Second(), quote(d.Name)))
		case EndFileWrite:
			// Reached only when an EndFileWrite arrives with no preceding
			// BeginFileWrite in this part; renderFile handles the paired case.
			r.renderEnd(d, "")
		case SegmentEnd:
			r.line("exit 0")
		case FileDataLine:
			return Errorf(shar.ErrValidation, "file data line outside any file body")
		}
	}
	if r.err != nil {
		return r.err
	}
	if err := bw.Flush(); err != nil {
		return Errorf(shar.ErrDestinationUnwritable, "%s", err)
	}
	return nil
}

type renderer struct {
	bw   *bufio.Writer
	opts RenderOpts
	err  error
}

func (r *renderer) line(s string) {
	if r.err != nil {
		return
	}
	if _, err := r.bw.WriteString(s); err != nil {
		r.err = Errorf(shar.ErrDestinationUnwritable, "%s", err)
		return
	}
	if err := r.bw.WriteByte('\n'); err != nil {
		r.err = Errorf(shar.ErrDestinationUnwritable, "%s", err)
	}
}

/*
	renderFile writes a file body and whatever of its trailer directives
	are present in this part.  Returns the index of the last directive
	consumed.

	Two body forms exist on the wire:

	  - the direct form, `uudecode << 'D' >/dev/null 2>&1 &&`, for encoded
	    bodies wholly contained in one part;
	  - the staged form, `sed 's/^X//' << 'D' > 'name' &&`, used for all
	    raw bodies and for encoded bodies that straddle a part boundary
	    (those stage under a `.uu` name and get a trailing
	    `uudecode 'name.uu' && rm 'name.uu'` step).
*/
func (r *renderer) renderFile(directives []Directive, i int, begin BeginFileWrite) int {
	// Find this file's extent within the part: data lines, then
	// optionally its EndFileWrite and RestoreTimestamp.
	j := i + 1
	for ; j < len(directives); j++ {
		if _, ok := directives[j].(FileDataLine); !ok {
			break
		}
	}
	var end *EndFileWrite
	var stamp *RestoreTimestamp
	var expand *Uncompact
	k := j
scanTrailer:
	for ; k < len(directives); k++ {
		switch t := directives[k].(type) {
		case Uncompact:
			expand = &t
		case EndFileWrite:
			end = &t
		case RestoreTimestamp:
			stamp = &t
		default:
			break scanTrailer
		}
	}

	staged := begin.Scheme != "" && (end == nil || begin.Append)
	redirect := ">"
	if begin.Append {
		redirect = ">>"
	}
	switch {
	case begin.Scheme == "":
		r.line("sed 's/^X//' << " + quote(begin.Delimiter) + " " + redirect + " " + quote(begin.Name) + " &&")
		for m := i + 1; m < j; m++ {
			r.line(prefixLine(directives[m].(FileDataLine).Text, r.opts.ForcePrefix, begin.Delimiter))
		}
		r.line(begin.Delimiter)
	case staged:
		r.line("sed 's/^X//' << " + quote(begin.Delimiter) + " " + redirect + " " + quote(begin.Name+".uu") + " &&")
		for m := i + 1; m < j; m++ {
			r.line(prefixLine(directives[m].(FileDataLine).Text, r.opts.ForcePrefix, begin.Delimiter))
		}
		r.line(begin.Delimiter)
		if end != nil {
			r.line("uudecode " + quote(begin.Name+".uu") + " && rm " + quote(begin.Name+".uu"))
		}
	default:
		r.line("uudecode << " + quote(begin.Delimiter) + " > /dev/null 2>&1 &&")
		for m := i + 1; m < j; m++ {
			r.line(directives[m].(FileDataLine).Text)
		}
		r.line(begin.Delimiter)
	}

	if end != nil {
		if expand != nil {
			r.line(uncompactLine(*expand))
		}
		r.line("test $? -eq 0 || echo " + quote("restore of "+end.Name+" failed"))
		if begin.Scheme == "" {
			r.line(fmt.Sprintf("chmod %04o %s", begin.Mode&07777, quote(end.Name)))
		}
		if stamp != nil {
			y := stamp.Mtime.Year()
			r.line(fmt.Sprintf("(set %02d %02d %02d %02d %02d %02d %02d %s; eval \"${shar_touch}\") &&",
				y/100, y%100, int(stamp.Mtime.Month()), stamp.Mtime.Day(),
				stamp.Mtime.Hour(), stamp.Mtime.Minute(), stamp.Mtime.Second(), quote(stamp.Name)))
		}
		r.renderEnd(*end, begin.Delimiter)
	}
	return k - 1
}

func (r *renderer) renderEnd(end EndFileWrite, delim string) {
	if end.ExpectedCount != nil {
		r.line(fmt.Sprintf("test `wc -c < %s` -eq %d || echo %s",
			quote(end.Name), *end.ExpectedCount,
			quote(fmt.Sprintf("%s: original size %d, current size `wc -c < %s`", end.Name, *end.ExpectedCount, end.Name))))
	}
	if end.ExpectedMD5 != "" {
		if delim == "" {
			delim = "_MD5_EOF_"
		}
		r.line("md5sum -c << " + quote(delim) + " > /dev/null 2>&1 || echo " + quote(end.Name+": MD5 check failed"))
		r.line(end.ExpectedMD5 + "  " + end.Name)
		r.line(delim)
	}
}

func uncompactLine(d Uncompact) string {
	switch d.Tool {
	case "compress":
		return "uncompress " + quote(d.Name) + " &&"
	default:
		return d.Tool + " -d " + quote(d.Name) + " &&"
	}
}

// netArchiveName computes the Archive-name: header value.  A name that
// already carries a path separator is used as-is; otherwise the part
// number is appended, two digits, starting at 01.
func netArchiveName(name string, index int) string {
	if strings.ContainsRune(name, '/') {
		return name
	}
	return fmt.Sprintf("%s/part%02d", name, index)
}

// quote renders a string as a single-quoted shell word.
func quote(s string) string {
	return "'" + strings.Replace(s, "'", `'\''`, -1) + "'"
}

// prefixLine applies the X transport prefix where a raw line could
// otherwise be corrupted or misread: lines that already start with the
// prefix, mail-mangled "from " lines, anything that could be taken for
// a cut mark, and lines colliding with the here delimiter.
func prefixLine(line string, force bool, delimiter string) string {
	if force || needsPrefix(line, delimiter) {
		return "X" + line
	}
	return line
}

func needsPrefix(line string, delimiter string) bool {
	if strings.HasPrefix(line, "X") {
		return true
	}
	if len(line) >= 5 && strings.EqualFold(line[:5], "from ") {
		return true
	}
	if strings.HasPrefix(line, "---") {
		return true
	}
	if line == delimiter {
		return true
	}
	return false
}
