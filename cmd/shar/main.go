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
	"go.polydawn.net/shar/compactor"
	"go.polydawn.net/shar/config"
	"go.polydawn.net/shar/fs"
	"go.polydawn.net/shar/fs/osfs"
	"go.polydawn.net/shar/pack"
	"go.polydawn.net/shar/sharfmt"
	"go.polydawn.net/shar/split"
)

type baseCLI struct {
	Format string // Output api format, eg. json

	Files []string // Input paths, relative to the working directory

	Submitter   string
	ArchiveName string
	NetHeaders  bool
	CutMark     bool

	TextMode   bool
	BinaryMode bool
	Base64     bool
	EncodeNames bool

	CompactTool  string
	CompactLevel int

	NoCharacterCount bool
	NoMD5Digest      bool
	NoTimestamps     bool
	ForcePrefix      bool
	Basenames        bool
	Delimiter        string

	OutputPrefix   string
	WholeSizeLimit string
	SplitSizeLimit string

	Quiet bool
}

func configureShar(cliCfg *baseCLI, app *kingpin.Application) {
	app.Arg("files", "Files and directories to archive").
		Required().
		StringsVar(&cliCfg.Files)
	app.Flag("submitter", "Override the submitter name in net headers").Short('s').
		StringVar(&cliCfg.Submitter)
	app.Flag("archive-name", "Archive name for net headers").Short('n').
		StringVar(&cliCfg.ArchiveName)
	app.Flag("net-headers", "Emit Submitted-by: and Archive-name: headers").Short('a').
		BoolVar(&cliCfg.NetHeaders)
	app.Flag("cut-mark", "Start each part with a cut line").Short('c').
		BoolVar(&cliCfg.CutMark)
	app.Flag("text-files", "Treat all files as text").Short('T').
		BoolVar(&cliCfg.TextMode)
	app.Flag("uuencode", "Treat all files as binary, encode them").Short('B').
		BoolVar(&cliCfg.BinaryMode)
	app.Flag("base64", "Use base64 instead of classic uuencode for binary bodies").
		BoolVar(&cliCfg.Base64)
	app.Flag("encode-file-names", "Base64-encode file names in begin headers").
		BoolVar(&cliCfg.EncodeNames)
	app.Flag("compactor", "Compact file bodies with a tool [gzip, bzip2, xz, compress]").
		EnumVar(&cliCfg.CompactTool, "gzip", "bzip2", "xz", "compress")
	app.Flag("level", "Compaction level; 0 takes the tool's default").
		IntVar(&cliCfg.CompactLevel)
	app.Flag("no-character-count", "Skip the wc -c verification").Short('w').
		BoolVar(&cliCfg.NoCharacterCount)
	app.Flag("no-md5-digest", "Skip the md5sum verification").Short('D').
		BoolVar(&cliCfg.NoMD5Digest)
	app.Flag("no-timestamps", "Skip timestamp restoration").
		BoolVar(&cliCfg.NoTimestamps)
	app.Flag("force-prefix", "X-prefix every text body line").
		BoolVar(&cliCfg.ForcePrefix)
	app.Flag("basename", "Flatten input paths to their final segment").Short('f').
		BoolVar(&cliCfg.Basenames)
	app.Flag("here-delimiter", "Token delimiting file bodies").Short('d').
		Default(pack.DefaultDelimiter).
		StringVar(&cliCfg.Delimiter)
	app.Flag("output-prefix", "Write parts to files named from this prefix instead of stdout").Short('o').
		StringVar(&cliCfg.OutputPrefix)
	app.Flag("whole-size-limit", "Split output at this size, never cutting inside a file").Short('l').
		StringVar(&cliCfg.WholeSizeLimit)
	app.Flag("split-size-limit", "Split output at this size, cutting inside files as needed").Short('L').
		StringVar(&cliCfg.SplitSizeLimit)
	app.Flag("quiet", "Do not log per-file progress").Short('q').
		BoolVar(&cliCfg.Quiet)
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

	app := kingpin.New("shar", "Make shell archives")
	app.HelpFlag.Short('h')
	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)
	configureShar(&cliCfg, app)

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

	msg, err := executeShar(cliCfg, stdout, stderr)
	cli.SerializeResult(cliCfg.Format, msg, err, stdout, stderr)
	return cli.ExitCodeForError(err)
}

func executeShar(cliCfg baseCLI, stdout, stderr io.Writer) (string, error) {
	opts, plan, err := resolveOptions(cliCfg)
	if err != nil {
		return "", err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", Errorf(shar.ErrInternal, "cannot resolve working directory: %s", err)
	}
	mon, closeMon := cli.NewPrintingMonitor(cliCfg.Format, stdout, stderr)
	defer closeMon()
	if cliCfg.Quiet {
		mon = shar.Monitor{}
	}

	builder, err := pack.NewBuilder(osfs.New(fs.MustAbsolutePath(cwd)), opts, mon)
	if err != nil {
		return "", err
	}
	for _, file := range cliCfg.Files {
		rel, err := inputRelPath(file)
		if err != nil {
			return "", err
		}
		if err := builder.Add(rel); err != nil {
			return "", err
		}
	}
	directives, err := builder.Build()
	if err != nil {
		return "", err
	}
	parts, err := split.Partition(directives, plan)
	if err != nil {
		return "", err
	}

	if cliCfg.OutputPrefix == "" {
		if err := sharfmt.RenderPart(stdout, 1, parts[0], opts.RenderOpts()); err != nil {
			return "", err
		}
		return "", nil
	}
	for i, part := range parts {
		name := split.PartName(cliCfg.OutputPrefix, i+1)
		if err := renderToFile(name, i+1, part, opts.RenderOpts()); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("wrote %d part(s)", len(parts)), nil
}

func resolveOptions(cliCfg baseCLI) (pack.Options, split.Plan, error) {
	opts := pack.Options{
		Submitter:      cliCfg.Submitter,
		ArchiveName:    cliCfg.ArchiveName,
		NetHeaders:     cliCfg.NetHeaders,
		CutMark:        cliCfg.CutMark,
		EncodeNames:    cliCfg.EncodeNames,
		CharacterCount: !cliCfg.NoCharacterCount,
		MD5Digest:      !cliCfg.NoMD5Digest,
		Timestamps:     !cliCfg.NoTimestamps,
		ForcePrefix:    cliCfg.ForcePrefix,
		Basenames:      cliCfg.Basenames,
		Delimiter:      cliCfg.Delimiter,
	}
	if opts.Submitter == "" {
		opts.Submitter = config.Submitter()
	}
	switch {
	case cliCfg.TextMode && cliCfg.BinaryMode:
		return opts, split.Plan{}, usageErr("--text-files and --uuencode are mutually exclusive")
	case cliCfg.TextMode:
		opts.Mode = pack.Body_Text
	case cliCfg.BinaryMode:
		opts.Mode = pack.Body_Binary
	}
	if cliCfg.Base64 {
		opts.Scheme = codec.Base64
	}
	if cliCfg.CompactTool != "" {
		opts.Compactor = compactor.Spec{Tool: cliCfg.CompactTool, Level: cliCfg.CompactLevel}
	}

	plan := split.Plan{Prefix: cliCfg.OutputPrefix}
	switch {
	case cliCfg.WholeSizeLimit != "" && cliCfg.SplitSizeLimit != "":
		return opts, plan, usageErr("--whole-size-limit and --split-size-limit are mutually exclusive")
	case cliCfg.WholeSizeLimit != "":
		limit, err := split.ParseSizeLimit(cliCfg.WholeSizeLimit)
		if err != nil {
			return opts, plan, err
		}
		plan.Limit, plan.WholeItems = limit, true
	case cliCfg.SplitSizeLimit != "":
		limit, err := split.ParseSizeLimit(cliCfg.SplitSizeLimit)
		if err != nil {
			return opts, plan, err
		}
		plan.Limit = limit
	}
	return opts, plan, nil
}

func renderToFile(name string, index int, part []sharfmt.Directive, opts sharfmt.RenderOpts) error {
	f, err := os.Create(name)
	if err != nil {
		return Errorf(shar.ErrDestinationUnwritable, "cannot create output part %q: %s", name, err)
	}
	if err := sharfmt.RenderPart(f, index, part, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
