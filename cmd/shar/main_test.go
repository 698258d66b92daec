package main

import (
	"bytes"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"go.polydawn.net/shar"
	"go.polydawn.net/shar/fs"
	"go.polydawn.net/shar/fs/osfs"
	"go.polydawn.net/shar/testutil"
)

func runShar(args ...string) (shar.ExitCode, string, string) {
	var stdout, stderr bytes.Buffer
	code := Main(append([]string{"shar"}, args...), strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestSharCommand(t *testing.T) {
	Convey("The shar command", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			afs := osfs.New(tmpDir)

			Convey("archives a file to stdout", func() {
				testutil.PlaceFile(afs, fs.MustRelPath("notes.txt"), []byte("alpha\nbeta\n"), 0644)
				code, stdout, _ := runShar("notes.txt")
				So(code, ShouldEqual, shar.ExitSuccess)
				So(stdout, ShouldContainSubstring, "#!/bin/sh")
				So(stdout, ShouldContainSubstring, "'notes.txt'")
				So(stdout, ShouldContainSubstring, "exit 0")
			})

			Convey("writes numbered part files under an output prefix", func() {
				testutil.PlaceFile(afs, fs.MustRelPath("big.txt"), bytes.Repeat([]byte("a steady stream of words\n"), 600), 0644)
				code, stdout, _ := runShar("-o", "out", "-L", "8K", "big.txt")
				So(code, ShouldEqual, shar.ExitSuccess)
				So(stdout, ShouldContainSubstring, "wrote")
				_, err := afs.Stat(fs.MustRelPath("out.01"))
				So(err, ShouldBeNil)
				_, err = afs.Stat(fs.MustRelPath("out.02"))
				So(err, ShouldBeNil)
			})

			Convey("reports missing inputs with the documented exit code", func() {
				code, _, stderr := runShar("no-such-file")
				So(code, ShouldEqual, shar.ExitMissingInput)
				So(stderr, ShouldContainSubstring, "no-such-file")
			})

			Convey("rejects contradictory body modes", func() {
				testutil.PlaceFile(afs, fs.MustRelPath("f"), []byte("x\n"), 0644)
				code, _, _ := runShar("-T", "-B", "f")
				So(code, ShouldEqual, shar.ExitUsage)
			})

			Convey("rejects unknown flags", func() {
				code, _, _ := runShar("--definitely-not-a-flag")
				So(code, ShouldEqual, shar.ExitUsage)
			})

			Convey("rejects absolute input paths", func() {
				code, _, _ := runShar("/etc/passwd")
				So(code, ShouldEqual, shar.ExitUsage)
			})
		})
	})
}
