package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	. "github.com/warpfork/go-errcat"
	"gopkg.in/alecthomas/kingpin.v2"

	"go.polydawn.net/shar"
	"go.polydawn.net/shar/cli"
	"go.polydawn.net/shar/codec"
	"go.polydawn.net/shar/fs"
	"go.polydawn.net/shar/fs/osfs"
)

type baseCLI struct {
	InputFiles []string // encoded inputs; stdin when empty
	OutputFile string   // overrides the header's recorded name
}

func configureUudecode(cliCfg *baseCLI, app *kingpin.Application) {
	app.Arg("files", "Encoded files; reads stdin when none are given").
		StringsVar(&cliCfg.InputFiles)
	app.Flag("output-file", "Write to this file, ignoring the recorded name; '-' writes stdout").Short('o').
		StringVar(&cliCfg.OutputFile)
}

func main() {
	exitCode := Main(os.Args, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(int(exitCode))
}

func Main(args []string, stdin io.Reader, stdout, stderr io.Writer) shar.ExitCode {
	cliCfg := baseCLI{}

	app := kingpin.New("uudecode", "Decode uuencoded or base64 files")
	app.HelpFlag.Short('h')
	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)
	configureUudecode(&cliCfg, app)

	if _, err := app.Parse(args[1:]); err != nil {
		fmt.Fprintln(stderr, err)
		return shar.ExitUsage
	}

	err := executeUudecode(cliCfg, stdin, stdout)
	if err != nil {
		fmt.Fprintln(stderr, err)
	}
	return cli.ExitCodeForError(err)
}

func executeUudecode(cliCfg baseCLI, stdin io.Reader, stdout io.Writer) error {
	inputs := []io.Reader{stdin}
	if len(cliCfg.InputFiles) > 0 {
		inputs = inputs[:0]
		for _, name := range cliCfg.InputFiles {
			f, err := os.Open(name)
			if err != nil {
				return Errorf(shar.ErrMissingInput, "cannot open %q: %s", name, err)
			}
			defer f.Close()
			inputs = append(inputs, f)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return Errorf(shar.ErrInternal, "cannot resolve working directory: %s", err)
	}
	afs := osfs.New(fs.MustAbsolutePath(cwd))

	for _, input := range inputs {
		if _, err := codec.DecodeStream(input, func(hdr codec.Header) (io.WriteCloser, error) {
			return openSink(afs, hdr, cliCfg.OutputFile, stdout)
		}); err != nil {
			return err
		}
	}
	return nil
}

/*
	openSink resolves where decoded bytes land.  The recorded name is
	confined to the working directory; a header pointing above it or at
	an absolute path is rejected rather than honored.
*/
func openSink(afs fs.FS, hdr codec.Header, override string, stdout io.Writer) (io.WriteCloser, error) {
	if override == "-" {
		return nopWriteCloser{stdout}, nil
	}
	name := hdr.Name
	if override != "" {
		name = override
	}
	if name == "" || strings.HasPrefix(name, "/") {
		return nil, Errorf(shar.ErrPathTraversalRejected, "refusing to decode to path %q", name)
	}
	rel := fs.MustRelPath(name)
	if rel.GoesUp() {
		return nil, Errorf(shar.ErrPathTraversalRejected, "recorded name %q escapes the working directory", name)
	}
	perms := fs.Perms(hdr.Mode & 0777)
	if perms == 0 {
		perms = 0644
	}
	f, err := afs.OpenFile(rel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perms)
	if err != nil {
		return nil, Errorf(shar.ErrDestinationUnwritable, "%s", err)
	}
	if err := afs.Chmod(rel, perms); err != nil {
		f.Close()
		return nil, Errorf(shar.ErrDestinationUnwritable, "%s", err)
	}
	return f, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
