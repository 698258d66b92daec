/*
	Package integrity computes and checks the two compatibility markers a
	shar archive can embed per file: a byte count (the historical `wc -c`
	check) and an MD5 content digest (the historical `md5sum -c` check).

	These are transmission-damage detectors, not a security control; MD5
	is mandated by the wire format we stay compatible with.
*/
package integrity

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
)

// Digester accumulates both markers over a stream of writes.
// It never errors.
type Digester struct {
	h hash.Hash
	n int64
}

func NewDigester() *Digester {
	return &Digester{h: md5.New()}
}

func (d *Digester) Write(p []byte) (int, error) {
	d.h.Write(p)
	d.n += int64(len(p))
	return len(p), nil
}

// Count returns the number of bytes written so far.
func (d *Digester) Count() int64 {
	return d.n
}

// HexDigest returns the lowercase hex MD5 of the bytes written so far.
func (d *Digester) HexDigest() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

type Result uint8

const (
	Match Result = iota
	CountMismatch
	DigestMismatch
	Skipped // both checks were disabled when the archive was built
)

func (r Result) String() string {
	switch r {
	case Match:
		return "match"
	case CountMismatch:
		return "count-mismatch"
	case DigestMismatch:
		return "digest-mismatch"
	default:
		return "skipped"
	}
}

// Verify compares accumulated markers against the archive's records.
// A nil expectedCount or empty expectedDigest means that check was
// disabled at build time and is skipped independently of the other.
func (d *Digester) Verify(expectedCount *int64, expectedDigest string) Result {
	checked := false
	if expectedCount != nil {
		checked = true
		if d.n != *expectedCount {
			return CountMismatch
		}
	}
	if expectedDigest != "" {
		checked = true
		if d.HexDigest() != expectedDigest {
			return DigestMismatch
		}
	}
	if !checked {
		return Skipped
	}
	return Match
}
