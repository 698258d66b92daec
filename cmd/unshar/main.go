package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	. "github.com/warpfork/go-errcat"
	"golang.org/x/term"
	"gopkg.in/alecthomas/kingpin.v2"

	"go.polydawn.net/shar"
	"go.polydawn.net/shar/cli"
	"go.polydawn.net/shar/fs"
	"go.polydawn.net/shar/unpack"
)

type baseCLI struct {
	Format string // Output api format, eg. json

	Files []string // Archive files; stdin when empty

	Directory    string
	Force        bool
	Interactive  bool
	Quiet        bool
	NoTimestamps bool
	SplitAt      string
	ExitZero     bool
	Debug        bool
}

func configureUnshar(cliCfg *baseCLI, app *kingpin.Application) {
	app.Arg("files", "Archive files to extract; reads stdin when none are given").
		StringsVar(&cliCfg.Files)
	app.Flag("directory", "Extract into this directory").Short('d').
		Default(".").
		StringVar(&cliCfg.Directory)
	app.Flag("force", "Overwrite existing files").Short('f').
		BoolVar(&cliCfg.Force)
	app.Flag("interactive", "Ask before overwriting existing files").Short('i').
		BoolVar(&cliCfg.Interactive)
	app.Flag("quiet", "Suppress archive messages").Short('q').
		BoolVar(&cliCfg.Quiet)
	app.Flag("no-timestamps", "Do not restore recorded mtimes").
		BoolVar(&cliCfg.NoTimestamps)
	app.Flag("split-at", "End archive segments at lines exactly matching this string").Short('E').
		StringVar(&cliCfg.SplitAt)
	app.Flag("exit-0", "End archive segments at 'exit 0' lines (the default)").Short('e').
		BoolVar(&cliCfg.ExitZero)
	app.Flag("debug", "Log every interpreted directive").
		BoolVar(&cliCfg.Debug)
	app.Flag("format", "Output api format").
		Default(cli.FmtDumb).
		EnumVar(&cliCfg.Format, cli.FmtJson, cli.FmtDumb)
}

func main() {
	exitCode := Main(os.Args, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(int(exitCode))
}

func Main(args []string, stdin io.Reader, stdout, stderr io.Writer) shar.ExitCode {
	cliCfg := baseCLI{}

	app := kingpin.New("unshar", "Unpack shell archives without running them")
	app.HelpFlag.Short('h')
	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)
	configureUnshar(&cliCfg, app)

	var termErr error
	app.Terminate(func(status int) {
		termErr = fmt.Errorf("parsing error: %d\n", status)
	})
	if _, err := app.Parse(args[1:]); err != nil {
		fmt.Fprintln(stderr, err)
		return shar.ExitUsage
	}
	if termErr != nil {
		fmt.Fprintln(stderr, termErr)
		return shar.ExitUsage
	}

	reports, err := executeUnshar(cliCfg, stdin, stdout, stderr)
	if cliCfg.Format == cli.FmtDumb {
		for _, r := range reports {
			if r.Error != nil {
				fmt.Fprintf(stderr, "unshar: %s: %s\n", r.Name, r.Error)
			}
		}
	}
	msg := summarize(reports)
	if err == nil {
		err = wholeRunFailure(reports)
	}
	cli.SerializeResult(cliCfg.Format, msg, err, stdout, stderr)
	return cli.ExitCodeForError(err)
}

func executeUnshar(cliCfg baseCLI, stdin io.Reader, stdout, stderr io.Writer) (_ []unpack.Report, err error) {
	if cliCfg.Force && cliCfg.Interactive {
		return nil, Errorf(shar.ErrUsage, "--force and --interactive are mutually exclusive")
	}
	if cliCfg.ExitZero && cliCfg.SplitAt != "" {
		return nil, Errorf(shar.ErrUsage, "--exit-0 and --split-at are mutually exclusive")
	}

	input, closeInput, err := openInputs(cliCfg.Files, stdin)
	if err != nil {
		return nil, err
	}
	defer closeInput()

	target, err := resolveTarget(cliCfg.Directory)
	if err != nil {
		return nil, err
	}

	mon, closeMon := cli.NewPrintingMonitor(cliCfg.Format, stdout, stderr)
	defer closeMon()

	ctx := unpack.Context{
		TargetDir:         target,
		Overwrite:         shar.Overwrite_Reject,
		Quiet:             cliCfg.Quiet,
		DiscardTimestamps: cliCfg.NoTimestamps,
		SplitAt:           cliCfg.SplitAt,
		Debug:             cliCfg.Debug,
		Monitor:           mon,
	}
	switch {
	case cliCfg.Force:
		ctx.Overwrite = shar.Overwrite_Force
	case cliCfg.Interactive:
		ctx.Overwrite = shar.Overwrite_Interactive
		ctx.Prompter = ttyPrompter(stderr)
	}

	return unpack.Extract(input, ctx)
}

/*
	openInputs concatenates the named archive files into one stream, in
	argument order; split parts are expected to arrive that way.  With
	no names, the archive is read from stdin.
*/
func openInputs(names []string, stdin io.Reader) (io.Reader, func(), error) {
	if len(names) == 0 {
		return stdin, func() {}, nil
	}
	var readers []io.Reader
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}
	for _, name := range names {
		f, err := os.Open(name)
		if err != nil {
			closeAll()
			return nil, nil, Errorf(shar.ErrMissingInput, "cannot open archive %q: %s", name, err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}
	return io.MultiReader(readers...), closeAll, nil
}

func resolveTarget(dir string) (fs.AbsolutePath, error) {
	if strings.HasPrefix(dir, "/") {
		return fs.MustAbsolutePath(dir), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fs.AbsolutePath{}, Errorf(shar.ErrInternal, "cannot resolve working directory: %s", err)
	}
	if dir == "." || dir == "" {
		return fs.MustAbsolutePath(cwd), nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fs.AbsolutePath{}, Errorf(shar.ErrDestinationUnwritable, "cannot create target directory %q: %s", dir, err)
	}
	return fs.MustAbsolutePath(cwd).Join(fs.MustRelPath(dir)), nil
}

/*
	ttyPrompter asks overwrite questions on the controlling terminal.
	Stdin is the archive stream, so questions and answers go through
	/dev/tty; without one (or with something that is not actually a
	terminal on the other end), every conflict is refused.
*/
func ttyPrompter(stderr io.Writer) func(name string) (bool, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil || !term.IsTerminal(int(tty.Fd())) {
		fmt.Fprintln(stderr, "unshar: no terminal available; existing files will be kept")
		return func(string) (bool, error) { return false, nil }
	}
	in := bufio.NewReader(tty)
	return func(name string) (bool, error) {
		fmt.Fprintf(tty, "unshar: overwrite %q? [y/N] ", name)
		answer, err := in.ReadString('\n')
		if err != nil {
			return false, nil
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes", nil
	}
}

func summarize(reports []unpack.Report) string {
	restored, failed := 0, 0
	for _, r := range reports {
		if r.Error == nil {
			restored++
		} else {
			failed++
		}
	}
	if failed == 0 {
		return fmt.Sprintf("restored %d file(s)", restored)
	}
	return fmt.Sprintf("restored %d file(s), %d failed", restored, failed)
}

// wholeRunFailure escalates per-file failures to a process failure only
// when nothing at all was restored.
func wholeRunFailure(reports []unpack.Report) error {
	if len(reports) == 0 {
		return nil
	}
	for _, r := range reports {
		if r.Error == nil {
			return nil
		}
	}
	return reports[0].Error
}
