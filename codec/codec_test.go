package codec

import (
	"bytes"
	"io"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func decodeWholeStream(encoded string) ([]byte, Header, error) {
	var decoded bytes.Buffer
	hdr, err := DecodeStream(strings.NewReader(encoded), func(Header) (io.WriteCloser, error) {
		return nopCloser{&decoded}, nil
	})
	return decoded.Bytes(), hdr, err
}

func TestClassicEncoding(t *testing.T) {
	Convey("Classic uuencode", t, func() {
		Convey("the canonical three byte example", func() {
			var buf bytes.Buffer
			err := EncodeStream(&buf, strings.NewReader("Cat"), Header{Scheme: UU, Mode: 0644, Name: "cat.txt"})
			So(err, ShouldBeNil)
			So(buf.String(), ShouldEqual, "begin 644 cat.txt\n#0V%T\n`\nend\n")
		})
		Convey("a zero length body still carries full framing", func() {
			var buf bytes.Buffer
			err := EncodeStream(&buf, strings.NewReader(""), Header{Scheme: UU, Mode: 0600, Name: "empty"})
			So(err, ShouldBeNil)
			So(buf.String(), ShouldEqual, "begin 600 empty\n`\nend\n")

			decoded, hdr, err := decodeWholeStream(buf.String())
			So(err, ShouldBeNil)
			So(hdr.Name, ShouldEqual, "empty")
			So(decoded, ShouldHaveLength, 0)
		})
		Convey("zero bytes use the backtick convention", func() {
			var buf bytes.Buffer
			err := EncodeStream(&buf, bytes.NewReader([]byte{0, 0, 0}), Header{Scheme: UU, Mode: 0644, Name: "zeros"})
			So(err, ShouldBeNil)
			So(strings.Split(buf.String(), "\n")[1], ShouldEqual, "#````")
		})
		Convey("round trips at chunk-boundary-straddling sizes", func() {
			for _, size := range []int{1, 2, 3, 44, 45, 46, 90, 135, 1000} {
				body := make([]byte, size)
				for i := range body {
					body[i] = byte(i * 7)
				}
				var encoded bytes.Buffer
				So(EncodeStream(&encoded, bytes.NewReader(body), Header{Scheme: UU, Mode: 0644, Name: "f"}), ShouldBeNil)
				decoded, _, err := decodeWholeStream(encoded.String())
				So(err, ShouldBeNil)
				So(decoded, ShouldResemble, body)
			}
		})
		Convey("junk ahead of the begin line is skipped", func() {
			encoded := "random mail prose\n\nbegin 644 cat.txt\n#0V%T\n`\nend\n"
			decoded, hdr, err := decodeWholeStream(encoded)
			So(err, ShouldBeNil)
			So(hdr.Mode, ShouldEqual, uint32(0644))
			So(string(decoded), ShouldEqual, "Cat")
		})
	})
}

func TestBase64Encoding(t *testing.T) {
	Convey("Base64 scheme", t, func() {
		Convey("framing uses begin-base64 and the ==== marker", func() {
			var buf bytes.Buffer
			err := EncodeStream(&buf, strings.NewReader("Cat"), Header{Scheme: Base64, Mode: 0644, Name: "cat.txt"})
			So(err, ShouldBeNil)
			So(buf.String(), ShouldEqual, "begin-base64 644 cat.txt\nQ2F0\n====\nend\n")
		})
		Convey("round trips", func() {
			body := []byte("The quick brown fox jumps over the lazy dog.\n")
			var encoded bytes.Buffer
			So(EncodeStream(&encoded, bytes.NewReader(body), Header{Scheme: Base64, Mode: 0644, Name: "f"}), ShouldBeNil)
			decoded, hdr, err := decodeWholeStream(encoded.String())
			So(err, ShouldBeNil)
			So(hdr.Scheme, ShouldEqual, Base64)
			So(decoded, ShouldResemble, body)
		})
	})
}

func TestHeaders(t *testing.T) {
	Convey("Begin headers", t, func() {
		Convey("encoded names decode transparently", func() {
			line, err := FormatHeader(Header{Scheme: Base64, Mode: 0644, Name: "søta katten", EncodedName: true})
			So(err, ShouldBeNil)
			So(line, ShouldStartWith, "begin-base64-encoded 644 ")
			hdr, ok, err := ParseHeader(line)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(hdr.Name, ShouldEqual, "søta katten")
			So(hdr.EncodedName, ShouldBeTrue)
		})
		Convey("the classic scheme refuses name encoding", func() {
			_, err := FormatHeader(Header{Scheme: UU, Mode: 0644, Name: "x", EncodedName: true})
			So(err, errcat.ErrorShouldHaveCategory, shar.ErrValidation)
		})
		Convey("non-begin lines are simply not headers", func() {
			_, ok, err := ParseHeader("this is prose")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
		Convey("a begin line with a garbage mode is malformed", func() {
			_, ok, err := ParseHeader("begin 9z9 name")
			So(ok, ShouldBeTrue)
			So(err, errcat.ErrorShouldHaveCategory, shar.ErrCodecMalformedHeader)
		})
		Convey("a begin line with no name is malformed", func() {
			_, ok, err := ParseHeader("begin 644 ")
			So(ok, ShouldBeTrue)
			So(err, errcat.ErrorShouldHaveCategory, shar.ErrCodecMalformedHeader)
		})
	})
}

func TestDecodeErrors(t *testing.T) {
	Convey("Decoding rejects corrupt streams", t, func() {
		decodeAll := func(lines ...string) error {
			d := NewDecoder(UU, &bytes.Buffer{})
			for _, l := range lines {
				if _, err := d.WriteLine(l); err != nil {
					return err
				}
			}
			return d.Close()
		}
		Convey("a length char outside the alphabet", func() {
			So(decodeAll("\x1f0V%T"), errcat.ErrorShouldHaveCategory, shar.ErrCodecInvalidByte)
		})
		Convey("a declared length longer than the chunk maximum", func() {
			So(decodeAll("_0V%T"), errcat.ErrorShouldHaveCategory, shar.ErrCodecLineLength)
		})
		Convey("a line shorter than its declared length", func() {
			So(decodeAll("M0V%T"), errcat.ErrorShouldHaveCategory, shar.ErrCodecLineLength)
		})
		Convey("a body byte outside the alphabet", func() {
			So(decodeAll("#0V%\x7f"), errcat.ErrorShouldHaveCategory, shar.ErrCodecInvalidByte)
		})
		Convey("a stream cut off before the end marker", func() {
			So(decodeAll("#0V%T"), errcat.ErrorShouldHaveCategory, shar.ErrCodecMissingEnd)
		})
		Convey("a stream with the zero line but no end line", func() {
			So(decodeAll("#0V%T", "`"), errcat.ErrorShouldHaveCategory, shar.ErrCodecMissingEnd)
		})
		Convey("DecodeStream with no begin line anywhere", func() {
			_, _, err := decodeWholeStream("prose\nmore prose\n")
			So(err, errcat.ErrorShouldHaveCategory, shar.ErrCodecMissingBegin)
		})
	})
}
