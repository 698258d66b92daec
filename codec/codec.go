/*
	Package codec implements the two line-oriented transcodings used by
	shar archives and the uuencode/uudecode tools: the classic uuencode
	scheme ("begin"/"end" framing, length-prefixed lines, backtick-as-zero
	convention) and the base64 scheme ("begin-base64" framing, fixed-width
	lines, "====" end-of-data marker).

	Both directions stream: encoders accept writes of any size and emit
	whole lines through a callback; decoders accept one line at a time and
	push decoded bytes to a sink.  Nothing here touches a filesystem.
*/
package codec

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
)

type Scheme string

const (
	UU     Scheme = "uu"     // classic uuencode
	Base64 Scheme = "base64" // RFC-alphabet base64 lines
)

// Header is the parsed form of a "begin" line.
type Header struct {
	Scheme      Scheme
	Mode        uint32 // permission bits, as parsed from the octal field
	Name        string // logical file name, already decoded if EncodedName
	EncodedName bool   // the name field was itself base64-encoded on the wire
}

const (
	keywordBegin              = "begin"
	keywordBeginBase64        = "begin-base64"
	keywordBeginBase64Encoded = "begin-base64-encoded"
	endDataMarker             = "===="
	endLine                   = "end"
)

// FormatHeader renders the begin line for a block.
// Filename encoding is a base64-scheme feature only; asking for it with
// the classic scheme is a validation error.
func FormatHeader(h Header) (string, error) {
	name := h.Name
	if h.EncodedName {
		if h.Scheme != Base64 {
			return "", Errorf(shar.ErrValidation, "filename encoding requires the base64 scheme")
		}
		name = base64.StdEncoding.EncodeToString([]byte(h.Name))
		return fmt.Sprintf("%s %o %s", keywordBeginBase64Encoded, h.Mode&07777, name), nil
	}
	switch h.Scheme {
	case UU:
		return fmt.Sprintf("%s %o %s", keywordBegin, h.Mode&07777, name), nil
	case Base64:
		return fmt.Sprintf("%s %o %s", keywordBeginBase64, h.Mode&07777, name), nil
	default:
		return "", Errorf(shar.ErrValidation, "unknown codec scheme %q", h.Scheme)
	}
}

// ParseHeader inspects a line; if it is a begin line of either scheme, it
// returns the parsed header and true.  Lines that aren't begin-shaped at
// all return false with no error; begin-shaped lines with bad mode or
// name fields are ErrCodecMalformedHeader.
func ParseHeader(line string) (Header, bool, error) {
	var h Header
	var rest string
	switch {
	case strings.HasPrefix(line, keywordBeginBase64Encoded+" "):
		h.Scheme, h.EncodedName = Base64, true
		rest = line[len(keywordBeginBase64Encoded)+1:]
	case strings.HasPrefix(line, keywordBeginBase64+" "):
		h.Scheme = Base64
		rest = line[len(keywordBeginBase64)+1:]
	case strings.HasPrefix(line, keywordBegin+" "):
		h.Scheme = UU
		rest = line[len(keywordBegin)+1:]
	default:
		return h, false, nil
	}
	fields := strings.SplitN(strings.TrimLeft(rest, " "), " ", 2)
	if len(fields) != 2 || fields[1] == "" {
		return h, true, Errorf(shar.ErrCodecMalformedHeader, "begin line %q has no name field", line)
	}
	mode, err := strconv.ParseUint(fields[0], 8, 32)
	if err != nil {
		return h, true, Errorf(shar.ErrCodecMalformedHeader, "begin line %q has malformed mode %q", line, fields[0])
	}
	h.Mode = uint32(mode) & 07777
	h.Name = fields[1]
	if h.EncodedName {
		raw, err := base64.StdEncoding.DecodeString(h.Name)
		if err != nil {
			return h, true, Errorf(shar.ErrCodecMalformedHeader, "begin line %q has undecodable name field: %s", line, err)
		}
		h.Name = string(raw)
	}
	return h, true, nil
}
