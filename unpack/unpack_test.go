package unpack

import (
	"bytes"
	"io"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"go.polydawn.net/shar"
	"go.polydawn.net/shar/compactor"
	"go.polydawn.net/shar/fs"
	"go.polydawn.net/shar/fs/osfs"
	"go.polydawn.net/shar/integrity"
	"go.polydawn.net/shar/pack"
	"go.polydawn.net/shar/sharfmt"
	"go.polydawn.net/shar/split"
	"go.polydawn.net/shar/testutil"
)

// buildArchive packs the named files out of srcDir and renders the
// partitioned result to text, one blob per part.
func buildArchive(srcDir fs.AbsolutePath, opts pack.Options, plan split.Plan, paths ...string) []string {
	b, err := pack.NewBuilder(osfs.New(srcDir), opts, shar.Monitor{})
	So(err, ShouldBeNil)
	for _, p := range paths {
		So(b.Add(fs.MustRelPath(p)), ShouldBeNil)
	}
	directives, err := b.Build()
	So(err, ShouldBeNil)
	parts, err := split.Partition(directives, plan)
	So(err, ShouldBeNil)
	var rendered []string
	for i, part := range parts {
		var buf bytes.Buffer
		So(sharfmt.RenderPart(&buf, i+1, part, opts.RenderOpts()), ShouldBeNil)
		rendered = append(rendered, buf.String())
	}
	return rendered
}

func patternedBytes(n int) []byte {
	body := make([]byte, n)
	for i := range body {
		body[i] = byte(i*7 + i>>8)
	}
	return body
}

func TestExtractRoundtrip(t *testing.T) {
	Convey("Extraction restores what packing staged", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			tfs := osfs.New(tmpDir)
			srcDir, dstDir := tmpDir.Join(fs.MustRelPath("src")), tmpDir.Join(fs.MustRelPath("dst"))
			So(tfs.Mkdir(fs.MustRelPath("src"), 0755), ShouldBeNil)
			So(tfs.Mkdir(fs.MustRelPath("dst"), 0755), ShouldBeNil)
			srcFs, dstFs := osfs.New(srcDir), osfs.New(dstDir)

			Convey("text and binary members, single part", func() {
				blob := patternedBytes(500)
				testutil.PlaceFile(srcFs, fs.MustRelPath("notes/readme.txt"), []byte("alpha\nbeta\n"), 0640)
				testutil.PlaceFile(srcFs, fs.MustRelPath("bin/tool"), blob, 0755)

				parts := buildArchive(srcDir, pack.Options{CharacterCount: true, MD5Digest: true, Timestamps: true}, split.Plan{},
					"notes/readme.txt", "bin/tool")
				So(parts, ShouldHaveLength, 1)

				reports, err := Extract(strings.NewReader(parts[0]), Context{TargetDir: dstDir})
				So(err, ShouldBeNil)
				So(reports, ShouldHaveLength, 2)
				for _, r := range reports {
					So(r.Error, ShouldBeNil)
					So(r.Verify, ShouldEqual, integrity.Match)
				}

				So(testutil.ShouldReadFile(dstFs, fs.MustRelPath("notes/readme.txt")), ShouldResemble, []byte("alpha\nbeta\n"))
				So(testutil.ShouldReadFile(dstFs, fs.MustRelPath("bin/tool")), ShouldResemble, blob)
				So(testutil.ShouldStat(dstFs, fs.MustRelPath("notes/readme.txt")).Perms, ShouldEqual, fs.Perms(0640))
				So(testutil.ShouldStat(dstFs, fs.MustRelPath("bin/tool")).Perms, ShouldEqual, fs.Perms(0755))
			})

			Convey("a large member split across parts, with mail prose between", func() {
				blob := patternedBytes(10000)
				testutil.PlaceFile(srcFs, fs.MustRelPath("payload"), blob, 0644)

				parts := buildArchive(srcDir, pack.Options{CharacterCount: true, MD5Digest: true},
					split.Plan{Limit: 4096, Prefix: "out"}, "payload")
				So(len(parts), ShouldBeGreaterThan, 1)

				var mail bytes.Buffer
				for i, part := range parts {
					mail.WriteString("From: somebody@example.net\nSubject: archive piece " + itoa(i+1) + "\n\n")
					mail.WriteString(part)
					mail.WriteString("\n-- \nsig\n")
				}

				reports, err := Extract(&mail, Context{TargetDir: dstDir})
				So(err, ShouldBeNil)
				So(reports, ShouldHaveLength, 1)
				So(reports[0].Error, ShouldBeNil)
				So(reports[0].Verify, ShouldEqual, integrity.Match)
				So(testutil.ShouldReadFile(dstFs, fs.MustRelPath("payload")), ShouldResemble, blob)
			})

			Convey("a split raw text member resumes appending", func() {
				text := strings.Repeat("all work and no play makes a dull archive\n", 250)
				testutil.PlaceFile(srcFs, fs.MustRelPath("prose.txt"), []byte(text), 0644)

				parts := buildArchive(srcDir, pack.Options{Mode: pack.Body_Text, CharacterCount: true},
					split.Plan{Limit: 4096, Prefix: "out"}, "prose.txt")
				So(len(parts), ShouldBeGreaterThan, 1)

				reports, err := Extract(strings.NewReader(strings.Join(parts, "")), Context{TargetDir: dstDir})
				So(err, ShouldBeNil)
				So(reports, ShouldHaveLength, 1)
				So(reports[0].Error, ShouldBeNil)
				So(testutil.ShouldReadFile(dstFs, fs.MustRelPath("prose.txt")), ShouldResemble, []byte(text))
			})

			Convey("whole-item parts stand alone, in any order", func() {
				textA := strings.Repeat(strings.Repeat("a", 39)+"\n", 50)
				textB := strings.Repeat(strings.Repeat("b", 39)+"\n", 50)
				testutil.PlaceFile(srcFs, fs.MustRelPath("first.txt"), []byte(textA), 0644)
				testutil.PlaceFile(srcFs, fs.MustRelPath("second.txt"), []byte(textB), 0644)

				parts := buildArchive(srcDir, pack.Options{CharacterCount: true},
					split.Plan{Limit: 4096, Prefix: "out", WholeItems: true}, "first.txt", "second.txt")
				So(parts, ShouldHaveLength, 2)

				Convey("parts concatenated in reverse order restore everything", func() {
					reports, err := Extract(strings.NewReader(parts[1]+parts[0]), Context{TargetDir: dstDir})
					So(err, ShouldBeNil)
					So(reports, ShouldHaveLength, 2)
					So(reports[0].Error, ShouldBeNil)
					So(reports[1].Error, ShouldBeNil)
					So(testutil.ShouldReadFile(dstFs, fs.MustRelPath("first.txt")), ShouldResemble, []byte(textA))
					So(testutil.ShouldReadFile(dstFs, fs.MustRelPath("second.txt")), ShouldResemble, []byte(textB))
				})

				Convey("a single part restores its own files by itself", func() {
					reports, err := Extract(strings.NewReader(parts[1]), Context{TargetDir: dstDir})
					So(err, ShouldBeNil)
					So(reports, ShouldHaveLength, 1)
					So(reports[0].Error, ShouldBeNil)
					So(testutil.ShouldReadFile(dstFs, fs.MustRelPath("second.txt")), ShouldResemble, []byte(textB))
				})
			})

			Convey("a compacted member is expanded and verified against the original", func() {
				body := bytes.Repeat([]byte("compress this phrase over and over\n"), 40)
				testutil.PlaceFile(srcFs, fs.MustRelPath("report"), body, 0644)

				parts := buildArchive(srcDir, pack.Options{
					Compactor:      compactor.Spec{Tool: "gzip"},
					CharacterCount: true,
					MD5Digest:      true,
				}, split.Plan{}, "report")

				reports, err := Extract(strings.NewReader(parts[0]), Context{TargetDir: dstDir})
				So(err, ShouldBeNil)
				So(reports, ShouldHaveLength, 1)
				So(reports[0].Error, ShouldBeNil)
				So(reports[0].Verify, ShouldEqual, integrity.Match)
				So(testutil.ShouldReadFile(dstFs, fs.MustRelPath("report")), ShouldResemble, body)
				// the travel name must not linger
				_, statErr := dstFs.Stat(fs.MustRelPath("report.gz"))
				So(statErr, ShouldNotBeNil)
			})

			Convey("missing parts surface as truncation", func() {
				blob := patternedBytes(10000)
				testutil.PlaceFile(srcFs, fs.MustRelPath("payload"), blob, 0644)
				parts := buildArchive(srcDir, pack.Options{}, split.Plan{Limit: 4096, Prefix: "out"}, "payload")
				So(len(parts), ShouldBeGreaterThan, 1)

				Convey("the closing part never arrives", func() {
					_, err := Extract(strings.NewReader(parts[0]), Context{TargetDir: dstDir})
					So(err, errcat.ErrorShouldHaveCategory, shar.ErrTruncatedArchive)
					// the partial write was abandoned
					_, statErr := dstFs.Stat(fs.MustRelPath("payload"))
					So(statErr, ShouldNotBeNil)
				})
				Convey("a middle part goes missing", func() {
					if len(parts) < 3 {
						SkipSo(nil, ShouldBeNil)
						return
					}
					input := parts[0] + parts[2]
					_, err := Extract(strings.NewReader(input), Context{TargetDir: dstDir})
					So(err, errcat.ErrorShouldHaveCategory, shar.ErrTruncatedArchive)
				})
			})

			Convey("prose with no archive in it at all is corrupt input", func() {
				_, err := Extract(strings.NewReader("Dear list,\nno archive here.\n"), Context{TargetDir: dstDir})
				So(err, errcat.ErrorShouldHaveCategory, shar.ErrArchiveCorrupt)
			})
		})
	})
}

func TestOverwritePolicies(t *testing.T) {
	Convey("Overwrite handling at the destination", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			tfs := osfs.New(tmpDir)
			srcDir, dstDir := tmpDir.Join(fs.MustRelPath("src")), tmpDir.Join(fs.MustRelPath("dst"))
			So(tfs.Mkdir(fs.MustRelPath("src"), 0755), ShouldBeNil)
			So(tfs.Mkdir(fs.MustRelPath("dst"), 0755), ShouldBeNil)
			srcFs, dstFs := osfs.New(srcDir), osfs.New(dstDir)

			testutil.PlaceFile(srcFs, fs.MustRelPath("config"), []byte("new contents\n"), 0644)
			testutil.PlaceFile(dstFs, fs.MustRelPath("config"), []byte("old contents\n"), 0644)
			parts := buildArchive(srcDir, pack.Options{}, split.Plan{}, "config")

			Convey("the default policy refuses and keeps the old file", func() {
				reports, err := Extract(strings.NewReader(parts[0]), Context{TargetDir: dstDir})
				So(err, ShouldBeNil)
				So(reports, ShouldHaveLength, 1)
				So(reports[0].Error, errcat.ErrorShouldHaveCategory, shar.ErrOverwriteRefused)
				So(testutil.ShouldReadFile(dstFs, fs.MustRelPath("config")), ShouldResemble, []byte("old contents\n"))
			})
			Convey("force replaces it", func() {
				reports, err := Extract(strings.NewReader(parts[0]), Context{TargetDir: dstDir, Overwrite: shar.Overwrite_Force})
				So(err, ShouldBeNil)
				So(reports[0].Error, ShouldBeNil)
				So(testutil.ShouldReadFile(dstFs, fs.MustRelPath("config")), ShouldResemble, []byte("new contents\n"))
			})
			Convey("interactive follows the prompter's answer", func() {
				asked := []string{}
				ctx := Context{TargetDir: dstDir, Overwrite: shar.Overwrite_Interactive,
					Prompter: func(name string) (bool, error) { asked = append(asked, name); return true, nil }}
				reports, err := Extract(strings.NewReader(parts[0]), ctx)
				So(err, ShouldBeNil)
				So(reports[0].Error, ShouldBeNil)
				So(asked, ShouldResemble, []string{"config"})
				So(testutil.ShouldReadFile(dstFs, fs.MustRelPath("config")), ShouldResemble, []byte("new contents\n"))
			})
			Convey("interactive with no prompter refuses", func() {
				reports, err := Extract(strings.NewReader(parts[0]), Context{TargetDir: dstDir, Overwrite: shar.Overwrite_Interactive})
				So(err, ShouldBeNil)
				So(reports[0].Error, errcat.ErrorShouldHaveCategory, shar.ErrOverwriteRefused)
			})
		})
	})
}

func TestHostileArchives(t *testing.T) {
	Convey("Hostile path handling", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			tfs := osfs.New(tmpDir)
			So(tfs.Mkdir(fs.MustRelPath("dst"), 0755), ShouldBeNil)
			dstDir := tmpDir.Join(fs.MustRelPath("dst"))
			interp := NewInterpreter(Context{TargetDir: dstDir})

			Convey("upward traversal in a file name is rejected", func() {
				err := interp.RunSegment([]sharfmt.Directive{
					sharfmt.BeginFileWrite{Name: "../escape", Mode: 0644, Delimiter: "_D_"},
					sharfmt.FileDataLine{Text: "gotcha"},
					sharfmt.EndFileWrite{Name: "../escape"},
					sharfmt.SegmentEnd{},
				})
				So(err, ShouldBeNil)
				reports := interp.Reports()
				So(reports, ShouldHaveLength, 1)
				So(reports[0].Error, errcat.ErrorShouldHaveCategory, shar.ErrPathTraversalRejected)
				_, statErr := tfs.Stat(fs.MustRelPath("escape"))
				So(statErr, ShouldNotBeNil)
			})

			Convey("absolute paths are rejected", func() {
				err := interp.RunSegment([]sharfmt.Directive{
					sharfmt.BeginFileWrite{Name: "/etc/nothanks", Mode: 0644, Delimiter: "_D_"},
					sharfmt.EndFileWrite{Name: "/etc/nothanks"},
					sharfmt.SegmentEnd{},
				})
				So(err, ShouldBeNil)
				So(interp.Reports()[0].Error, errcat.ErrorShouldHaveCategory, shar.ErrPathTraversalRejected)
			})

			Convey("an unsafe cd does not re-root later writes outside the target", func() {
				err := interp.RunSegment([]sharfmt.Directive{
					sharfmt.ChangeDirectory{Path: "../.."},
					sharfmt.BeginFileWrite{Name: "f", Mode: 0644, Delimiter: "_D_"},
					sharfmt.FileDataLine{Text: "contained"},
					sharfmt.EndFileWrite{Name: "f"},
					sharfmt.SegmentEnd{},
				})
				So(err, ShouldBeNil)
				So(interp.Reports()[0].Error, ShouldBeNil)
				dstFs := osfs.New(dstDir)
				So(testutil.ShouldReadFile(dstFs, fs.MustRelPath("f")), ShouldResemble, []byte("contained\n"))
			})
		})
	})
}

func TestIntegrityFailures(t *testing.T) {
	Convey("Integrity mismatches are reported per file", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			So(osfs.New(tmpDir).Mkdir(fs.MustRelPath("dst"), 0755), ShouldBeNil)
			dstDir := tmpDir.Join(fs.MustRelPath("dst"))

			badCount := int64(99)
			interp := NewInterpreter(Context{TargetDir: dstDir})
			err := interp.RunSegment([]sharfmt.Directive{
				sharfmt.BeginFileWrite{Name: "short", Mode: 0644, Delimiter: "_D_"},
				sharfmt.FileDataLine{Text: "five"},
				sharfmt.EndFileWrite{Name: "short", ExpectedCount: &badCount},
				sharfmt.BeginFileWrite{Name: "tampered", Mode: 0644, Delimiter: "_D_"},
				sharfmt.FileDataLine{Text: "data"},
				sharfmt.EndFileWrite{Name: "tampered", ExpectedMD5: "00000000000000000000000000000000"},
				sharfmt.SegmentEnd{},
			})
			So(err, ShouldBeNil)
			reports, err := interp.Finish()
			So(err, ShouldBeNil)
			So(reports, ShouldHaveLength, 2)
			So(reports[0].Verify, ShouldEqual, integrity.CountMismatch)
			So(reports[0].Error, errcat.ErrorShouldHaveCategory, shar.ErrCountMismatch)
			So(reports[1].Verify, ShouldEqual, integrity.DigestMismatch)
			So(reports[1].Error, errcat.ErrorShouldHaveCategory, shar.ErrDigestMismatch)
		})
	})
}

func TestMultiArchiveStream(t *testing.T) {
	Convey("A later archive still extracts after an earlier mismatch", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			So(osfs.New(tmpDir).Mkdir(fs.MustRelPath("dst"), 0755), ShouldBeNil)
			dstDir := tmpDir.Join(fs.MustRelPath("dst"))
			dstFs := osfs.New(dstDir)

			input := "#!/bin/sh\n" +
				"sed 's/^X//' << '_D_' > 'first' &&\n" +
				"one\n" +
				"_D_\n" +
				"md5sum -c << '_D_' > /dev/null 2>&1 || echo 'first: MD5 check failed'\n" +
				"00000000000000000000000000000000  first\n" +
				"_D_\n" +
				"test $? -eq 0 || echo 'restore of first failed'\n" +
				"exit 0\n" +
				"mail separator text\n" +
				"#!/bin/sh\n" +
				"sed 's/^X//' << '_D_' > 'second' &&\n" +
				"two\n" +
				"_D_\n" +
				"test $? -eq 0 || echo 'restore of second failed'\n" +
				"exit 0\n"

			reports, err := Extract(strings.NewReader(input), Context{TargetDir: dstDir})
			So(err, ShouldBeNil)
			So(reports, ShouldHaveLength, 2)
			So(reports[0].Error, errcat.ErrorShouldHaveCategory, shar.ErrDigestMismatch)
			So(reports[1].Error, ShouldBeNil)
			So(testutil.ShouldReadFile(dstFs, fs.MustRelPath("second")), ShouldResemble, []byte("two\n"))
		})
	})
}

func TestScanner(t *testing.T) {
	Convey("Scanning segments out of mail streams", t, func() {
		Convey("prose around and between segments is discarded", func() {
			input := "hello list\n" +
				"#!/bin/sh\n# one\nexit 0\n" +
				"regards\n" +
				"# This is a shell archive (produced by somebody).\nexit 0\n" +
				"trailing sig\n"
			s := NewScanner(strings.NewReader(input))

			lines, err := s.Next()
			So(err, ShouldBeNil)
			So(lines, ShouldResemble, []string{"#!/bin/sh", "# one", "exit 0"})
			So(s.Skipped(), ShouldEqual, 1)

			lines, err = s.Next()
			So(err, ShouldBeNil)
			So(lines[0], ShouldStartWith, "# This is a shell archive")
			So(lines[len(lines)-1], ShouldEqual, "exit 0")

			_, err = s.Next()
			So(err, ShouldEqual, io.EOF)
		})
		Convey("a stream ending mid-segment yields the partial text", func() {
			s := NewScanner(strings.NewReader("#!/bin/sh\nhalfway"))
			lines, err := s.Next()
			So(err, ShouldBeNil)
			So(lines, ShouldResemble, []string{"#!/bin/sh", "halfway"})
			_, err = s.Next()
			So(err, ShouldEqual, io.EOF)
		})
		Convey("carriage returns are shed", func() {
			s := NewScanner(strings.NewReader("#!/bin/sh\r\nexit 0\r\n"))
			lines, err := s.Next()
			So(err, ShouldBeNil)
			So(lines, ShouldResemble, []string{"#!/bin/sh", "exit 0"})
		})
		Convey("a split pattern closes segments instead of exit 0", func() {
			input := "#!/bin/sh\n# one\n--\nsig line\n#!/bin/sh\n# two\n"
			s := NewSplitScanner(strings.NewReader(input), "--")

			lines, err := s.Next()
			So(err, ShouldBeNil)
			So(lines, ShouldResemble, []string{"#!/bin/sh", "# one"})

			lines, err = s.Next()
			So(err, ShouldBeNil)
			So(lines, ShouldResemble, []string{"#!/bin/sh", "# two"})
			So(s.Skipped(), ShouldEqual, 1)

			_, err = s.Next()
			So(err, ShouldEqual, io.EOF)
		})
		Convey("split mode does not close at exit 0", func() {
			s := NewSplitScanner(strings.NewReader("#!/bin/sh\nexit 0\nmore\n"), "--")
			lines, err := s.Next()
			So(err, ShouldBeNil)
			So(lines, ShouldResemble, []string{"#!/bin/sh", "exit 0", "more"})
		})
	})
}
