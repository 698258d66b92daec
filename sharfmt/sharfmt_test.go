package sharfmt

import (
	"bytes"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
	"go.polydawn.net/shar/codec"
)

func renderLines(index int, directives []Directive, opts RenderOpts) []string {
	var buf bytes.Buffer
	So(RenderPart(&buf, index, directives, opts), ShouldBeNil)
	return strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
}

func count(n int64) *int64 { return &n }

func TestRenderParseRoundtrip(t *testing.T) {
	Convey("The wire grammar round trips", t, func() {
		Convey("a raw text file with trailers", func() {
			mtime := time.Date(1987, time.June, 5, 12, 30, 15, 0, time.UTC)
			directives := []Directive{
				Comment{Text: "This shar contains:"},
				EnsureDirectory{Path: "docs"},
				Message{Text: "x - extracting docs/readme (text)"},
				BeginFileWrite{Name: "docs/readme", Mode: 0644, Delimiter: "_SHAR_EOF_"},
				FileDataLine{Text: "hello"},
				FileDataLine{Text: "world"},
				EndFileWrite{Name: "docs/readme", ExpectedCount: count(12), ExpectedMD5: "0f723ae7f9bf07744445e93ac5595156"},
				RestoreTimestamp{Name: "docs/readme", Mtime: mtime},
				SegmentEnd{},
			}
			lines := renderLines(1, directives, RenderOpts{})
			parsed, err := ParseSegment(lines)
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, directives)
		})
		Convey("an encoded file keeps its codec block intact", func() {
			directives := []Directive{
				Message{Text: "x - extracting blob (binary)"},
				BeginFileWrite{Name: "blob", Mode: 0755, Delimiter: "_SHAR_EOF_", Scheme: codec.UU},
				FileDataLine{Text: "begin 755 blob"},
				FileDataLine{Text: "#0V%T"},
				FileDataLine{Text: "`"},
				FileDataLine{Text: "end"},
				EndFileWrite{Name: "blob", ExpectedCount: count(3)},
				SegmentEnd{},
			}
			lines := renderLines(1, directives, RenderOpts{})
			So(lines, ShouldContain, "uudecode << '_SHAR_EOF_' > /dev/null 2>&1 &&")
			parsed, err := ParseSegment(lines)
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, directives)
		})
		Convey("risky raw lines ride behind the X prefix", func() {
			directives := []Directive{
				BeginFileWrite{Name: "mail", Mode: 0600, Delimiter: "_D_"},
				FileDataLine{Text: "From the mailbox"},
				FileDataLine{Text: "X marks the spot"},
				FileDataLine{Text: "--- a diff header"},
				FileDataLine{Text: "an ordinary line"},
				EndFileWrite{Name: "mail", ExpectedCount: count(64)},
				SegmentEnd{},
			}
			lines := renderLines(1, directives, RenderOpts{})
			So(lines, ShouldContain, "XFrom the mailbox")
			So(lines, ShouldContain, "XX marks the spot")
			So(lines, ShouldContain, "X--- a diff header")
			So(lines, ShouldContain, "an ordinary line")
			parsed, err := ParseSegment(lines)
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, directives)
		})
		Convey("force-prefix shields every line", func() {
			directives := []Directive{
				BeginFileWrite{Name: "f", Mode: 0644, Delimiter: "_D_"},
				FileDataLine{Text: "plain"},
				EndFileWrite{Name: "f", ExpectedCount: count(6)},
				SegmentEnd{},
			}
			lines := renderLines(1, directives, RenderOpts{ForcePrefix: true})
			So(lines, ShouldContain, "Xplain")
			parsed, err := ParseSegment(lines)
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, directives)
		})
		Convey("part headers and sequencing survive", func() {
			directives := []Directive{
				PartHeader{Index: 2, Total: 3},
				BeginFileWrite{Name: "big", Delimiter: "_D_", Append: true},
				FileDataLine{Text: "continued data"},
				SegmentEnd{},
			}
			lines := renderLines(2, directives, RenderOpts{})
			So(lines, ShouldContain, "# This is part 02 of 03 of a multipart archive.")
			So(lines, ShouldContain, "sed 's/^X//' << '_D_' >> 'big' &&")
			parsed, err := ParseSegment(lines)
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, directives)
		})
		Convey("quoted names with spaces and apostrophes round trip", func() {
			directives := []Directive{
				BeginFileWrite{Name: "it's here.txt", Mode: 0644, Delimiter: "_D_"},
				FileDataLine{Text: "body"},
				EndFileWrite{Name: "it's here.txt"},
				SegmentEnd{},
			}
			lines := renderLines(1, directives, RenderOpts{})
			parsed, err := ParseSegment(lines)
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, directives)
		})
		Convey("compacted members carry their expansion step", func() {
			directives := []Directive{
				BeginFileWrite{Name: "data.gz", Mode: 0644, Delimiter: "_D_", Scheme: codec.UU},
				FileDataLine{Text: "begin 644 data.gz"},
				FileDataLine{Text: "`"},
				FileDataLine{Text: "end"},
				Uncompact{Name: "data.gz", Tool: "gzip"},
				EndFileWrite{Name: "data", ExpectedCount: count(0)},
				SegmentEnd{},
			}
			lines := renderLines(1, directives, RenderOpts{})
			So(lines, ShouldContain, "gzip -d 'data.gz' &&")
			parsed, err := ParseSegment(lines)
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, directives)
		})
	})
}

func TestEnvelope(t *testing.T) {
	Convey("Part envelopes", t, func() {
		directives := []Directive{SegmentEnd{}}
		Convey("net headers number the parts", func() {
			lines := renderLines(3, directives, RenderOpts{NetHeaders: true, ArchiveName: "treasure", Submitter: "who@example.net"})
			So(lines[0], ShouldEqual, "Submitted-by: who@example.net")
			So(lines[1], ShouldEqual, "Archive-name: treasure/part03")
		})
		Convey("a name already carrying a slash is used as-is", func() {
			lines := renderLines(3, directives, RenderOpts{NetHeaders: true, ArchiveName: "treasure/map", Submitter: "who@example.net"})
			So(lines[1], ShouldEqual, "Archive-name: treasure/map")
		})
		Convey("the cut mark rides above the shebang", func() {
			lines := renderLines(1, directives, RenderOpts{CutMark: true})
			So(lines[0], ShouldEqual, CutMarkLine)
			So(lines[1], ShouldEqual, "#!/bin/sh")
		})
	})
}

func TestParseTolerance(t *testing.T) {
	Convey("Parsing foreign and damaged archives", t, func() {
		Convey("unrecognized scaffolding lines are skipped", func() {
			parsed, err := ParseSegment([]string{
				"#!/bin/sh",
				"shar_touch='touch -am $3$4$5$6$2 \"$8\"'",
				"if test ! -d ${lock_dir} ; then :; fi",
				"rm -fr ${lock_dir}",
				"exit 0",
			})
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, []Directive{SegmentEnd{}})
		})
		Convey("an unterminated here-document is a truncation", func() {
			_, err := ParseSegment([]string{
				"sed 's/^X//' << '_D_' > 'f' &&",
				"dangling data",
			})
			So(err, errcat.ErrorShouldHaveCategory, shar.ErrTruncatedArchive)
		})
		Convey("a body with no completion marker yields no file close", func() {
			parsed, err := ParseSegment([]string{
				"sed 's/^X//' << '_D_' > 'f' &&",
				"partial",
				"_D_",
			})
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, []Directive{
				BeginFileWrite{Name: "f", Delimiter: "_D_"},
				FileDataLine{Text: "partial"},
			})
		})
		Convey("the older plain touch form is understood", func() {
			parsed, err := ParseSegment([]string{
				"touch -am 0605123087 'old' &&",
				"exit 0",
			})
			So(err, ShouldBeNil)
			So(parsed, ShouldResemble, []Directive{
				RestoreTimestamp{Name: "old", Mtime: time.Date(1987, time.June, 5, 12, 30, 0, 0, time.UTC)},
				SegmentEnd{},
			})
		})
	})
}
