package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"k8s.io/klog/v2"

	"github.com/born-ml/swiglu/internal/config"
	"github.com/born-ml/swiglu/internal/engine"
)

// Exit codes.
const (
	ExitFailure = 1 // A pipeline call failed.
	ExitUsage   = 2 // The command line was invalid.
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Fail converts a pipeline error into an ExitError with the diagnostic
// "<call> failed: <status>". Engine errors name their own call and status;
// other errors are reported under call with their message.
func Fail(call string, err error) *ExitError {
	var engineErr *engine.Error
	if errors.As(err, &engineErr) {
		return &ExitError{
			Code:    ExitFailure,
			Message: fmt.Sprintf("%s failed: %s", engineErr.Op, engineErr.Status),
		}
	}
	return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%s failed: %v", call, err)}
}

// Flags holds the parsed command line.
type Flags struct {
	Config       string
	Weights      string
	Batch        int
	Threads      int
	WeightsCache bool
	Profile      bool
	SaveWeights  string
	SaveGraph    string
	Version      bool

	set map[string]bool
}

// Parse processes command-line arguments. It returns the parsed flags,
// a boolean indicating if the program should exit cleanly, or an ExitError.
// klog's flags (-v, -logtostderr, ...) are registered alongside.
func Parse(args []string, output io.Writer) (*Flags, bool, error) {
	flagSet := flag.NewFlagSet("swiglu", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
swiglu - builds, compiles and runs a SwiGLU feed-forward block.

Usage:
  swiglu [options]
  swiglu version

Without options the tutorial block runs: dims 3/4/2, input [1, 2, 3].

Options:
`)
		flagSet.PrintDefaults()
	}

	f := &Flags{}
	flagSet.StringVar(&f.Config, "config", "", "Path to an HCL run configuration.")
	flagSet.StringVar(&f.Weights, "weights", "", `Weight source: "tutorial", "independent", a SafeTensors path or gs://bucket/object.`)
	flagSet.IntVar(&f.Batch, "batch", 0, "Number of input rows. Overrides the configuration.")
	flagSet.IntVar(&f.Threads, "threads", 0, "Engine thread pool size. 0 or 1 runs on the calling goroutine.")
	flagSet.BoolVar(&f.WeightsCache, "weights-cache", false, "Pack identical filters once in a shared weights cache.")
	flagSet.BoolVar(&f.Profile, "profile", false, "Log per-operator timings.")
	flagSet.StringVar(&f.SaveWeights, "save-weights", "", "Write the weights in use as SafeTensors to this path or gs:// URL.")
	flagSet.StringVar(&f.SaveGraph, "save-graph", "", "Write the compiled graph snapshot to this path or gs:// URL.")
	klog.InitFlags(flagSet)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}

	switch {
	case flagSet.NArg() == 1 && flagSet.Arg(0) == "version":
		f.Version = true
	case flagSet.NArg() > 0:
		return nil, false, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("unexpected argument %q", flagSet.Arg(0))}
	}

	f.set = make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	if f.set["batch"] && f.Batch <= 0 {
		return nil, false, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("invalid -batch %d: must be > 0", f.Batch)}
	}
	if f.Threads < 0 {
		return nil, false, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("invalid -threads %d: must be >= 0", f.Threads)}
	}
	return f, false, nil
}

// Apply overrides cfg with every flag given on the command line.
func (f *Flags) Apply(cfg *config.Config) {
	if f.set["weights"] {
		cfg.Weights = f.Weights
	}
	if f.set["batch"] {
		cfg.Batch = f.Batch
	}
	if f.set["threads"] {
		cfg.Threads = f.Threads
	}
	if f.set["weights-cache"] {
		cfg.WeightsCache = f.WeightsCache
	}
	if f.set["profile"] {
		cfg.Profile = f.Profile
	}
}
