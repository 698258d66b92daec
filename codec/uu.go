package codec

import (
	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
)

// Classic uuencode packs 3 input bytes into 4 output characters, 45 input
// bytes per line, each line prefixed with one character declaring the
// line's decoded byte count.  Zero six-bit groups render as backtick
// rather than space; historically this survived trailing-whitespace
// mangling by mail gateways.

const uuLineBytes = 45

// uuChar encodes one six-bit value.
func uuChar(v byte) byte {
	if v == 0 {
		return '`'
	}
	return 0x20 + (v & 0x3f)
}

// uuVal decodes one character to its six-bit value.
// The second return is false for bytes outside the alphabet.
func uuVal(c byte) (byte, bool) {
	switch {
	case c == '`':
		return 0, true
	case c >= 0x20 && c < 0x60:
		return c - 0x20, true
	default:
		return 0, false
	}
}

// uuEncodeLine renders one line for a chunk of 1..45 bytes.
func uuEncodeLine(chunk []byte) string {
	n := len(chunk)
	out := make([]byte, 0, 1+(n+2)/3*4)
	out = append(out, uuChar(byte(n)))
	for i := 0; i < n; i += 3 {
		var b0, b1, b2 byte
		b0 = chunk[i]
		if i+1 < n {
			b1 = chunk[i+1]
		}
		if i+2 < n {
			b2 = chunk[i+2]
		}
		out = append(out,
			uuChar(b0>>2),
			uuChar((b0<<4|b1>>4)&0x3f),
			uuChar((b1<<2|b2>>6)&0x3f),
			uuChar(b2&0x3f),
		)
	}
	return string(out)
}

// uuDecodeLine decodes one body line.  n==0 signals the zero-length line
// that precedes the "end" marker.
func uuDecodeLine(line string, lineNum int) (data []byte, n int, err error) {
	if line == "" {
		return nil, 0, Errorf(shar.ErrCodecLineLength, "line %d: empty line inside uuencoded block", lineNum)
	}
	nv, ok := uuVal(line[0])
	if !ok {
		return nil, 0, Errorf(shar.ErrCodecInvalidByte, "line %d: invalid length character %q", lineNum, line[0])
	}
	n = int(nv)
	if n == 0 {
		return nil, 0, nil
	}
	if n > uuLineBytes {
		return nil, 0, Errorf(shar.ErrCodecLineLength, "line %d: declared length %d exceeds maximum %d", lineNum, n, uuLineBytes)
	}
	groups := (n + 2) / 3
	if len(line)-1 < groups*4 {
		return nil, 0, Errorf(shar.ErrCodecLineLength, "line %d: declared length %d but only %d encoded characters", lineNum, n, len(line)-1)
	}
	data = make([]byte, 0, groups*3)
	for g := 0; g < groups; g++ {
		var v [4]byte
		for j := 0; j < 4; j++ {
			c := line[1+g*4+j]
			vv, ok := uuVal(c)
			if !ok {
				return nil, 0, Errorf(shar.ErrCodecInvalidByte, "line %d: byte %q outside uuencode alphabet", lineNum, c)
			}
			v[j] = vv
		}
		data = append(data,
			v[0]<<2|v[1]>>4,
			v[1]<<4|v[2]>>2,
			v[2]<<6|v[3],
		)
	}
	return data[:n], n, nil
}
