package unpack

import (
	"io"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
	"go.polydawn.net/shar/sharfmt"
)

/*
	Extract runs the whole pipeline over one input stream: scan out
	segments, parse each into directives, interpret them under the
	context's target directory.

	Per-file failures land in the reports and do not stop the run.  A
	segment whose text cannot be parsed at all is skipped with an error
	logged; extraction presses on with the next segment, since shars
	are routinely concatenated from separately-damaged mails.  The
	returned error is non-nil only for whole-run failures: no archive
	in the input, every segment unreadable, a missing or out-of-order
	part, or a file left incomplete at end of input.
*/
func Extract(r io.Reader, ctx Context) (_ []Report, err error) {
	defer RequireErrorHasCategory(&err, shar.ErrorCategory(""))
	var scanner *Scanner
	if ctx.SplitAt != "" {
		scanner = NewSplitScanner(r, ctx.SplitAt)
	} else {
		scanner = NewScanner(r)
	}
	interp := NewInterpreter(ctx)

	segments, unparsable := 0, 0
	var lastParseErr error
	for {
		lines, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return interp.Reports(), err
		}
		segments++
		directives, err := sharfmt.ParseSegment(lines)
		if err != nil {
			unparsable++
			lastParseErr = err
			ctx.Monitor.Log(shar.LogError, "skipping unreadable archive segment",
				[2]string{"segment", itoa(segments)}, [2]string{"err", err.Error()})
			continue
		}
		if err := interp.RunSegment(directives); err != nil {
			return interp.Reports(), err
		}
	}

	if segments == 0 {
		return interp.Reports(), Errorf(shar.ErrArchiveCorrupt, "no shell archive found in input")
	}
	if unparsable == segments {
		return interp.Reports(), Errorf(shar.ErrArchiveCorrupt, "no segment of the archive was readable: %s", lastParseErr)
	}
	return interp.Finish()
}
