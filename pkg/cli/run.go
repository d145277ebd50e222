package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woliveiras/partfix/pkg/bootcheck"
	"github.com/woliveiras/partfix/pkg/history"
)

// Process result codes for conditions that are not a classification.
// They follow sysexits(3).
const (
	ExitUsage   = 64
	ExitNoInput = 66
	ExitOSErr   = 71
)

// Options holds high-level configuration for a partfix run.
type Options struct {
	Fix         bool
	Interactive bool
	Verbose     bool
	SkipPrereq  bool
	ScratchDir  string
	StateLog    string
	HistoryDB   string
	ConfigFile  string
}

// AddFlags registers the options on f.
func (o *Options) AddFlags(f *pflag.FlagSet) {
	f.BoolVar(&o.Fix, "fix", false, "rewrite mismatched PARTUUID references")
	f.BoolVar(&o.Interactive, "interactive", false, "ask before rewriting references when --fix is not given")
	f.BoolVarP(&o.Verbose, "verbose", "v", false, "print every reference and log every command")
	f.BoolVar(&o.SkipPrereq, "skip-prereq", false, "skip the root and required-commands checks")
	f.StringVar(&o.ScratchDir, "scratch-dir", os.TempDir(), "directory that holds the per-run mount points")
	f.StringVar(&o.StateLog, "state-log", "", "append a human-readable report of every run to this file")
	f.StringVar(&o.HistoryDB, "history-db", "", "record every run in this sqlite database")
	f.StringVar(&o.ConfigFile, "config", "", "YAML file with default values for these flags")
}

// UI abstracts user interaction so we can support both interactive
// and non-interactive modes and keep things testable.
type UI interface {
	Println(a ...any)
	Printf(format string, a ...any)
	Ask(prompt string) (string, error)
	Confirm(prompt string) (bool, error)
}

type stdUI struct {
	in  *bufio.Reader
	out io.Writer
}

// NewStdUI returns a UI backed by stdin/stdout.
func NewStdUI() UI {
	return NewUI(os.Stdin, os.Stdout)
}

// NewUI returns a UI reading answers from in and printing to out.
func NewUI(in io.Reader, out io.Writer) UI {
	return &stdUI{
		in:  bufio.NewReader(in),
		out: out,
	}
}

func (u *stdUI) Println(a ...any) {
	fmt.Fprintln(u.out, a...)
}

func (u *stdUI) Printf(format string, a ...any) {
	fmt.Fprintf(u.out, format, a...)
}

func (u *stdUI) Ask(prompt string) (string, error) {
	u.Printf("%s", prompt)
	text, err := u.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || text == "") {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (u *stdUI) Confirm(prompt string) (bool, error) {
	ans, err := u.Ask(fmt.Sprintf("%s (yes/no): ", prompt))
	if err != nil {
		return false, err
	}
	ans = strings.ToLower(strings.TrimSpace(ans))
	return ans == "y" || ans == "yes", nil
}

// uiWriter routes cobra's help and usage output through the UI.
type uiWriter struct {
	ui UI
}

func (w uiWriter) Write(p []byte) (int, error) {
	w.ui.Printf("%s", p)
	return len(p), nil
}

// exitError carries the process result code of a fatal condition.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(code int, err error) error {
	return &exitError{code: code, err: err}
}

// Hooks replaced by tests.
var (
	newSystem          = bootcheck.NewLocalSystem
	checkPrerequisites = bootcheck.CheckPrerequisites
	newLogger          = defaultLogger
)

// Run is the main entrypoint for the CLI. It returns the process result
// code: the classification of the image (0 ok, 1 fixed, 2 blocked,
// 9 unsupported) or a sysexits code together with the fatal error.
// SIGINT and SIGTERM interrupt the run; acquired resources are still
// released.
func Run(args []string) (int, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, args, NewStdUI())
}

// run is the internal implementation that allows injecting a custom UI
// (useful for tests and, later, different front-ends).
func run(ctx context.Context, args []string, ui UI) (int, error) {
	if len(args) == 0 {
		return ExitUsage, fmt.Errorf("no arguments provided")
	}

	code := 0
	cmd := newRootCommand(ui, &code)
	cmd.SetArgs(args[1:])
	cmd.SetOut(uiWriter{ui})
	cmd.SetErr(uiWriter{ui})

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return code, nil
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code, ee.err
	}
	// cobra reports unknown flags and wrong argument counts unwrapped
	return ExitUsage, err
}

func newRootCommand(ui UI, code *int) *cobra.Command {
	opts := &Options{}

	cmd := &cobra.Command{
		Use:   "partfix [flags] IMAGE",
		Short: "Check and repair the PARTUUID references of a two-partition disk image",
		Long: `partfix attaches a disk image to a loop device, mounts its two partitions and
compares the PARTUUID= references of cmdline.txt (line 1) and etc/fstab
(lines 2 and 3) with the identifiers the partitions really carry.

Mismatches are only rewritten when --fix is given or confirmed with
--interactive. The exit code is the classification: 0 ok, 1 fixed,
2 blocked, 9 unsupported.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := applyConfig(cmd.Flags(), opts); err != nil {
				return fail(ExitUsage, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := check(cmd.Context(), ui, *opts, args[0])
			*code = c
			if err != nil {
				return fail(c, err)
			}
			return nil
		},
	}
	opts.AddFlags(cmd.PersistentFlags())
	cmd.AddCommand(newHistoryCommand(ui, opts))

	return cmd
}

func defaultLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		cfg.DisableCaller = true
	}
	return cfg.Build()
}

// check runs one image through bootcheck and reports the outcome.
func check(ctx context.Context, ui UI, opts Options, image string) (int, error) {
	log, err := newLogger(opts.Verbose)
	if err != nil {
		return ExitOSErr, fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	bootcheck.SetLogger(log)
	defer bootcheck.SetLogger(nil)

	if err := bootcheck.ValidateImagePath(image); err != nil {
		return ExitNoInput, err
	}
	if !opts.SkipPrereq {
		if err := checkPrerequisites(); err != nil {
			return ExitOSErr, err
		}
	}

	runOpts := bootcheck.Options{
		ImagePath:  image,
		Fix:        opts.Fix,
		ScratchDir: opts.ScratchDir,
		System:     newSystem(),
	}
	if opts.Interactive && !opts.Fix {
		runOpts.Authorize = confirmFix(ui)
	}

	started := time.Now()
	res, runErr := bootcheck.Run(ctx, runOpts)
	record(ctx, ui, log, opts, image, started, res, runErr)

	if runErr != nil {
		if errors.Is(runErr, bootcheck.ErrInvalidInput) {
			return ExitNoInput, runErr
		}
		return ExitOSErr, runErr
	}

	report(ui, opts.Verbose, res)
	return res.Status.ExitCode(), nil
}

func confirmFix(ui UI) func(context.Context, []bootcheck.Mismatch) (bool, error) {
	return func(_ context.Context, mismatches []bootcheck.Mismatch) (bool, error) {
		ui.Println("The following PARTUUID references do not match their partitions:")
		for _, m := range mismatches {
			ui.Println("  -", m.String())
		}
		return ui.Confirm(fmt.Sprintf("Apply %d PARTUUID fix(es)?", len(mismatches)))
	}
}

func report(ui UI, verbose bool, res *bootcheck.Result) {
	if verbose {
		for _, p := range res.Observation.Partitions {
			ui.Printf("partition %d: %s PARTUUID=%s\n", p.Index, p.Device, p.PartUUID)
		}
		for i, ref := range bootcheck.References {
			if i >= len(res.Observation.Found) {
				break
			}
			found := res.Observation.Found[i]
			if found == "" {
				found = "<absent>"
			}
			ui.Printf("%s: partition %d %s line %d references %s, partition %d is %s\n",
				ref.Name, ref.Partition, ref.File, ref.Line, found, ref.Target, res.Observation.Actual(ref.Target))
		}
	}

	ui.Printf("%s", res.String())
	if res.Status == bootcheck.StatusBlocked {
		ui.Println("No file was changed. Re-run with --fix or --interactive to rewrite the references.")
	}
}

// record appends the run to the state log and the history database when
// they are configured. Failing to record never changes the run's outcome.
func record(ctx context.Context, ui UI, log *zap.Logger, opts Options, image string, started time.Time, res *bootcheck.Result, runErr error) {
	if opts.StateLog != "" {
		if err := bootcheck.AppendStateLog(opts.StateLog, image, res, runErr); err != nil {
			log.Warn("could not write state log", zap.String("path", opts.StateLog), zap.Error(err))
		}
	}

	if opts.HistoryDB == "" {
		return
	}
	id, err := uuid.NewV7()
	if err != nil {
		log.Warn("could not create history id", zap.Error(err))
		return
	}
	ctx = context.WithoutCancel(ctx)
	store, err := history.Open(ctx, opts.HistoryDB)
	if err != nil {
		log.Warn("could not open history", zap.String("path", opts.HistoryDB), zap.Error(err))
		return
	}
	defer store.Close()

	if err := store.Record(ctx, history.FromResult(id.String(), image, started, res, runErr)); err != nil {
		log.Warn("could not record run", zap.String("path", opts.HistoryDB), zap.Error(err))
		return
	}
	if opts.Verbose {
		ui.Printf("Run recorded in %s\n", opts.HistoryDB)
	}
}
