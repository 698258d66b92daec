package main

import (
	"fmt"
	"io"
	"os"

	. "github.com/warpfork/go-errcat"
	"gopkg.in/alecthomas/kingpin.v2"

	"go.polydawn.net/shar"
	"go.polydawn.net/shar/cli"
	"go.polydawn.net/shar/codec"
)

type baseCLI struct {
	InputFile  string // "-" or empty reads stdin
	WireName   string // name recorded in the begin header
	Base64     bool
	EncodeName bool
	OutputFile string
}

func configureUuencode(cliCfg *baseCLI, app *kingpin.Application) {
	app.Arg("file", "File to encode; '-' reads stdin").
		Required().
		StringVar(&cliCfg.InputFile)
	app.Arg("name", "Name to record in the header; defaults to the input file name").
		StringVar(&cliCfg.WireName)
	app.Flag("base64", "Use base64 instead of the classic encoding").Short('m').
		BoolVar(&cliCfg.Base64)
	app.Flag("encode-file-name", "Base64-encode the recorded name").Short('e').
		BoolVar(&cliCfg.EncodeName)
	app.Flag("output-file", "Write to this file instead of stdout").Short('o').
		StringVar(&cliCfg.OutputFile)
}

func main() {
	exitCode := Main(os.Args, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(int(exitCode))
}

func Main(args []string, stdin io.Reader, stdout, stderr io.Writer) shar.ExitCode {
	cliCfg := baseCLI{}

	app := kingpin.New("uuencode", "Encode a file for text transport")
	app.HelpFlag.Short('h')
	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)
	configureUuencode(&cliCfg, app)

	if _, err := app.Parse(args[1:]); err != nil {
		fmt.Fprintln(stderr, err)
		return shar.ExitUsage
	}

	err := executeUuencode(cliCfg, stdin, stdout)
	if err != nil {
		fmt.Fprintln(stderr, err)
	}
	return cli.ExitCodeForError(err)
}

func executeUuencode(cliCfg baseCLI, stdin io.Reader, stdout io.Writer) (err error) {
	hdr := codec.Header{
		Scheme:      codec.UU,
		Mode:        0644,
		Name:        cliCfg.WireName,
		EncodedName: cliCfg.EncodeName,
	}
	if cliCfg.Base64 {
		hdr.Scheme = codec.Base64
	}

	input := stdin
	if cliCfg.InputFile != "-" {
		f, err := os.Open(cliCfg.InputFile)
		if err != nil {
			return Errorf(shar.ErrMissingInput, "cannot open %q: %s", cliCfg.InputFile, err)
		}
		defer f.Close()
		if info, err := f.Stat(); err == nil {
			hdr.Mode = uint32(info.Mode().Perm())
		}
		if hdr.Name == "" {
			hdr.Name = cliCfg.InputFile
		}
		input = f
	}
	if hdr.Name == "" {
		return Errorf(shar.ErrUsage, "a header name is required when encoding stdin")
	}

	output := stdout
	if cliCfg.OutputFile != "" {
		f, err := os.Create(cliCfg.OutputFile)
		if err != nil {
			return Errorf(shar.ErrDestinationUnwritable, "cannot create %q: %s", cliCfg.OutputFile, err)
		}
		defer func() {
			if closeErr := f.Close(); err == nil && closeErr != nil {
				err = Errorf(shar.ErrDestinationUnwritable, "%s", closeErr)
			}
		}()
		output = f
	}

	return codec.EncodeStream(output, input, hdr)
}
