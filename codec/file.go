package codec

import (
	"bufio"
	"io"

	. "github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
)

// EncodeStream writes a complete encoded block -- begin line, body,
// end framing -- for everything readable from r.
func EncodeStream(w io.Writer, r io.Reader, hdr Header) error {
	bw := bufio.NewWriter(w)
	emit := func(line string) error {
		if _, err := bw.WriteString(line); err != nil {
			return Errorf(shar.ErrDestinationUnwritable, "%s", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return Errorf(shar.ErrDestinationUnwritable, "%s", err)
		}
		return nil
	}
	headerLine, err := FormatHeader(hdr)
	if err != nil {
		return err
	}
	if err := emit(headerLine); err != nil {
		return err
	}
	enc := NewEncoder(hdr.Scheme, emit)
	if _, err := io.Copy(enc, r); err != nil {
		if Category(err) != nil {
			return err
		}
		return Errorf(shar.ErrMissingInput, "reading input: %s", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return Errorf(shar.ErrDestinationUnwritable, "%s", err)
	}
	return nil
}

// DecodeStream scans r for a begin line (leading junk such as mail
// headers is skipped, as uudecode always has), then decodes the block
// into a sink chosen by the caller from the parsed header.  The sink's
// Close error is the caller's to observe via the returned header; we
// close it here to keep the contract simple.
func DecodeStream(r io.Reader, open func(Header) (io.WriteCloser, error)) (Header, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// Seek the begin line.
	var hdr Header
	found := false
	for scanner.Scan() {
		h, isHeader, err := ParseHeader(scanner.Text())
		if err != nil {
			return h, err
		}
		if isHeader {
			hdr, found = h, true
			break
		}
	}
	if !found {
		if err := scanner.Err(); err != nil {
			return hdr, Errorf(shar.ErrMissingInput, "reading input: %s", err)
		}
		return hdr, Errorf(shar.ErrCodecMissingBegin, "no begin line found in input")
	}

	sink, err := open(hdr)
	if err != nil {
		return hdr, err
	}
	dec := NewDecoder(hdr.Scheme, sink)
	for scanner.Scan() {
		done, err := dec.WriteLine(scanner.Text())
		if err != nil {
			sink.Close()
			return hdr, err
		}
		if done {
			if err := sink.Close(); err != nil {
				return hdr, Errorf(shar.ErrDestinationUnwritable, "%s", err)
			}
			return hdr, nil
		}
	}
	sink.Close()
	if err := scanner.Err(); err != nil {
		return hdr, Errorf(shar.ErrMissingInput, "reading input: %s", err)
	}
	return hdr, dec.Close()
}
