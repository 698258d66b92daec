/*
	Package classify decides whether a byte stream can travel through a
	shar archive as literal text, or must be encoded as binary.

	A stream is Text iff all of the following hold:

	  - no control bytes other than BS, HT, LF, FF
	  - no byte >= 0x80
	  - no LF-delimited line starts with "from " (any case); mail
	    transports mangle such lines
	  - the stream is empty or ends with LF
	  - no line exceeds 200 characters

	Any violation makes the stream Binary.  The scan is total: it never
	errors on content, and it bails on the first violation rather than
	reading the remainder.
*/
package classify

import (
	"bufio"
	"io"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
)

type Class uint8

const (
	Text Class = iota
	Binary
)

func (c Class) String() string {
	if c == Text {
		return "text"
	}
	return "binary"
}

const maxLineLength = 200

// Classify streams through r applying the text rules.
// The only possible error is a read failure from r itself.
func Classify(r io.Reader) (Class, error) {
	br := bufio.NewReader(r)
	lineLen := 0
	lineStart := true
	// Rolling match state for "from " at start-of-line; index into the
	// pattern, or -1 once this line can no longer match.
	fromIdx := 0
	const fromPat = "from "
	lastByte := byte('\n') // empty stream counts as LF-terminated

	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Binary, Errorf(shar.ErrMissingInput, "reading input: %s", err)
		}

		if b >= 0x80 {
			return Binary, nil
		}
		if b < 0x20 && b != '\b' && b != '\t' && b != '\n' && b != '\f' {
			return Binary, nil
		}
		if b == 0x7f {
			return Binary, nil
		}

		if lineStart {
			lineLen = 0
			fromIdx = 0
			lineStart = false
		}
		if b == '\n' {
			lineStart = true
		} else {
			lineLen++
			if lineLen > maxLineLength {
				return Binary, nil
			}
			if fromIdx >= 0 {
				c := b
				if c >= 'A' && c <= 'Z' {
					c += 'a' - 'A'
				}
				if c == fromPat[fromIdx] {
					fromIdx++
					if fromIdx == len(fromPat) {
						return Binary, nil
					}
				} else {
					fromIdx = -1
				}
			}
		}
		lastByte = b
	}

	if lastByte != '\n' {
		return Binary, nil
	}
	return Text, nil
}
