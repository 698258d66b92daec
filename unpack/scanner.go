/*
	Package unpack extracts shar archives: a scanner peels archive
	segments out of surrounding mail prose, and an interpreter executes
	the parsed directives against a confined filesystem.

	Nothing in this package ever hands archive content to a shell.
*/
package unpack

import (
	"bufio"
	"io"
	"strings"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
)

/*
	Scanner finds archive segments in a byte stream that may also carry
	mail headers, signatures, and other prose.  A segment opens at a
	`#!/bin/sh` line or a recognizable shar preamble comment and closes
	at its `exit 0` line; anything between segments is discarded.
*/
type Scanner struct {
	br      *bufio.Reader
	splitAt string // segment boundary line; "" closes at `exit 0`
	sawEOF  bool
	skipped int // prose lines discarded before the current segment
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{br: bufio.NewReaderSize(r, 64*1024)}
}

/*
	NewSplitScanner closes segments at lines exactly equal to pattern
	rather than at `exit 0`.  The boundary line is a separator, not
	archive text, so it belongs to no segment.  Useful when the `exit 0`
	of a part is missing or mangled but the mail separators between
	parts survive.
*/
func NewSplitScanner(r io.Reader, pattern string) *Scanner {
	return &Scanner{br: bufio.NewReaderSize(r, 64*1024), splitAt: pattern}
}

// Skipped reports how many non-archive lines were discarded ahead of
// the most recently returned segment.
func (s *Scanner) Skipped() int {
	return s.skipped
}

/*
	Next returns the lines of the next segment, opener through `exit 0`
	inclusive.  io.EOF signals a clean end of input.  A stream that ends
	inside a segment yields the partial segment; the truncation then
	surfaces from the directive grammar or the interpreter's sequencing
	checks rather than here, since the partial text may still restore
	some files.
*/
func (s *Scanner) Next() ([]string, error) {
	// No category guard here: io.EOF is a documented sentinel and must
	// pass through bare.  Read failures are categorized in readLine.
	if s.sawEOF {
		return nil, io.EOF
	}
	s.skipped = 0

	// seek an opener
	var lines []string
	for {
		line, err := s.readLine()
		if err == io.EOF {
			s.sawEOF = true
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		if isSegmentOpener(line) {
			lines = append(lines, line)
			break
		}
		s.skipped++
	}

	// collect to the segment close
	for {
		line, err := s.readLine()
		if err == io.EOF {
			s.sawEOF = true
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
		if s.splitAt != "" {
			if line == s.splitAt {
				return lines, nil
			}
			lines = append(lines, line)
			continue
		}
		lines = append(lines, line)
		if strings.TrimSpace(line) == "exit 0" {
			return lines, nil
		}
	}
}

func (s *Scanner) readLine() (string, error) {
	line, err := s.br.ReadString('\n')
	if err == io.EOF && line != "" {
		return strings.TrimSuffix(line, "\n"), nil
	}
	if err != nil {
		if err == io.EOF {
			return "", io.EOF
		}
		return "", Errorf(shar.ErrMissingInput, "archive read failed: %s", err)
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

func isSegmentOpener(line string) bool {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "#!") && strings.Contains(trimmed, "/sh") {
		return true
	}
	if strings.HasPrefix(trimmed, "# This is a shell archive") {
		return true
	}
	return false
}
