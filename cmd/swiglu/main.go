// Package main runs a SwiGLU feed-forward block and prints its output.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"k8s.io/klog/v2"

	"github.com/born-ml/swiglu/internal/blobs"
	"github.com/born-ml/swiglu/internal/cli"
	"github.com/born-ml/swiglu/internal/config"
	"github.com/born-ml/swiglu/internal/swiglu"
)

const version = "v0.1.0"

func main() {
	code := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:])
	klog.Flush()
	os.Exit(code)
}

// run executes the program and returns its exit code. The result line goes
// to stdout; a failure prints one diagnostic line to stderr.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) int {
	if err := execute(ctx, stdout, stderr, args); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			exitErr = cli.Fail("swiglu", err)
		}
		fmt.Fprintln(stderr, exitErr.Message)
		return exitErr.Code
	}
	return 0
}

func execute(ctx context.Context, stdout, stderr io.Writer, args []string) (err error) {
	flags, exit, err := cli.Parse(args, stderr)
	if err != nil || exit {
		return err
	}
	if flags.Version {
		fmt.Fprintf(stdout, "swiglu %s\n", version)
		return nil
	}
	log := klog.FromContext(ctx)

	cfg := config.Default()
	if flags.Config != "" {
		if cfg, err = config.Load(ctx, flags.Config); err != nil {
			return cli.Fail("load_config", err)
		}
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return cli.Fail("load_config", err)
	}

	weights, err := cfg.LoadWeights(ctx)
	if err != nil {
		return cli.Fail("load_weights", err)
	}
	if flags.SaveWeights != "" {
		if err := swiglu.SaveWeights(ctx, flags.SaveWeights, cfg.Dims, weights); err != nil {
			return cli.Fail("save_weights", err)
		}
	}

	block, err := swiglu.New(ctx, cfg.Dims, weights, cfg.Options())
	if err != nil {
		return cli.Fail("create_block", err)
	}
	defer func() {
		if cerr := block.Close(); cerr != nil && err == nil {
			err = cli.Fail("close_block", cerr)
		}
	}()

	output, err := block.Run(ctx, cfg.Rows(), cfg.Batch)
	if err != nil {
		return cli.Fail("run_block", err)
	}

	if cfg.Profile {
		profile, err := block.Profile()
		if err != nil {
			return cli.Fail("profile", err)
		}
		for i, p := range profile {
			log.Info("Operator timing", "index", i, "operator", p.Name, "duration", p.Duration)
		}
	}

	if flags.SaveGraph != "" {
		snapshot, err := block.Snapshot()
		if err != nil {
			return cli.Fail("save_graph", err)
		}
		if err := blobs.Write(ctx, flags.SaveGraph, snapshot); err != nil {
			return cli.Fail("save_graph", err)
		}
		log.Info("Saved graph", "destination", flags.SaveGraph, "bytes", len(snapshot))
	}

	fmt.Fprintln(stdout, formatOutput(output))
	return nil
}

// formatOutput renders "Output: [v0, v1, ...]" with %f values.
func formatOutput(values []float32) string {
	var sb strings.Builder
	sb.WriteString("Output: [")
	for i, v := range values {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%f", v)
	}
	sb.WriteString("]")
	return sb.String()
}
