package codec

import (
	"encoding/base64"
	"io"
	"strings"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
)

/*
	Encoder turns a byte stream into encoded body lines, emitting each
	complete line through the callback.  Close flushes the final partial
	chunk and emits the scheme's end framing.  Memory use is bounded by
	one chunk regardless of payload size.

	The begin line is not the Encoder's business; callers emit it with
	FormatHeader so that framing stays in one place for both the shar
	builder and the standalone uuencode tool.
*/
type Encoder struct {
	scheme Scheme
	emit   func(line string) error
	buf    [uuLineBytes]byte
	n      int
	closed bool
}

func NewEncoder(scheme Scheme, emit func(line string) error) *Encoder {
	return &Encoder{scheme: scheme, emit: emit}
}

func (e *Encoder) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		k := copy(e.buf[e.n:], p)
		e.n += k
		p = p[k:]
		written += k
		if e.n == uuLineBytes {
			if err := e.flushLine(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (e *Encoder) flushLine() error {
	if e.n == 0 {
		return nil
	}
	var line string
	switch e.scheme {
	case UU:
		line = uuEncodeLine(e.buf[:e.n])
	case Base64:
		line = base64.StdEncoding.EncodeToString(e.buf[:e.n])
	}
	e.n = 0
	return e.emit(line)
}

func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.flushLine(); err != nil {
		return err
	}
	switch e.scheme {
	case UU:
		// Zero-length line, then the literal end marker.
		if err := e.emit("`"); err != nil {
			return err
		}
		return e.emit(endLine)
	case Base64:
		if err := e.emit(endDataMarker); err != nil {
			return err
		}
		return e.emit(endLine)
	default:
		return Errorf(shar.ErrValidation, "unknown codec scheme %q", e.scheme)
	}
}

/*
	Decoder consumes encoded body lines one at a time and pushes decoded
	bytes to the sink.  Feed it every line after the begin line; it
	reports done=true once the scheme's end framing has been consumed.
	Closing before that point is ErrCodecMissingEnd.
*/
type Decoder struct {
	scheme  Scheme
	sink    io.Writer
	lineNum int
	// uu: set once the zero-length line arrives, after which only "end" is legal.
	sawZeroLine bool
	// base64: carry for input lines whose length is not a multiple of 4,
	// and latches for padding and the "====" marker.
	carry      string
	sawPadding bool
	sawEndData bool
	done       bool
}

func NewDecoder(scheme Scheme, sink io.Writer) *Decoder {
	return &Decoder{scheme: scheme, sink: sink}
}

func (d *Decoder) WriteLine(line string) (done bool, err error) {
	if d.done {
		return true, nil
	}
	d.lineNum++
	switch d.scheme {
	case UU:
		return d.writeLineUU(line)
	case Base64:
		return d.writeLineBase64(line)
	default:
		return false, Errorf(shar.ErrValidation, "unknown codec scheme %q", d.scheme)
	}
}

func (d *Decoder) writeLineUU(line string) (bool, error) {
	if d.sawZeroLine {
		if line != endLine {
			return false, Errorf(shar.ErrCodecMissingEnd, "line %d: expected %q after zero-length line, got %q", d.lineNum, endLine, line)
		}
		d.done = true
		return true, nil
	}
	data, n, err := uuDecodeLine(line, d.lineNum)
	if err != nil {
		return false, err
	}
	if n == 0 {
		d.sawZeroLine = true
		return false, nil
	}
	if _, err := d.sink.Write(data); err != nil {
		return false, Errorf(shar.ErrDestinationUnwritable, "%s", err)
	}
	return false, nil
}

func (d *Decoder) writeLineBase64(line string) (bool, error) {
	if d.sawEndData {
		if line != endLine {
			return false, Errorf(shar.ErrCodecMissingEnd, "line %d: expected %q after end-of-data marker, got %q", d.lineNum, endLine, line)
		}
		d.done = true
		return true, nil
	}
	if line == endDataMarker {
		if d.carry != "" {
			return false, Errorf(shar.ErrCodecLineLength, "line %d: %d stray characters before end-of-data marker", d.lineNum, len(d.carry))
		}
		d.sawEndData = true
		return false, nil
	}
	if d.sawPadding {
		return false, Errorf(shar.ErrCodecInvalidByte, "line %d: data after base64 padding", d.lineNum)
	}
	buf := d.carry + line
	// Decode the longest prefix that is a whole number of base64 quanta;
	// carry the remainder to join with the next line.
	usable := len(buf) / 4 * 4
	d.carry = buf[usable:]
	if usable == 0 {
		return false, nil
	}
	data, err := base64.StdEncoding.DecodeString(buf[:usable])
	if err != nil {
		return false, Errorf(shar.ErrCodecInvalidByte, "line %d: %s", d.lineNum, err)
	}
	if strings.ContainsRune(buf[:usable], '=') {
		d.sawPadding = true
	}
	if _, err := d.sink.Write(data); err != nil {
		return false, Errorf(shar.ErrDestinationUnwritable, "%s", err)
	}
	return false, nil
}

func (d *Decoder) Close() error {
	if !d.done {
		return Errorf(shar.ErrCodecMissingEnd, "input ended at line %d without an end marker", d.lineNum)
	}
	return nil
}
