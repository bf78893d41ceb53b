// Command nntagger trains, evaluates and runs neighbor-augmented sequence
// taggers.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/headlands-org/nntagger/internal/errs"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "nntagger: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "nntagger",
		Usage:     "sequence tagging with retrieved neighbor sentences",
		Version:   version,
		Writer:    out,
		ErrWriter: errOut,
		Commands: []*cli.Command{
			trainCommand(),
			evalCommand(),
			tagCommand(),
			tokenizeCommand(),
			vocabCommand(),
			indexCommand(),
			versionCommand(),
		},
	}
}

// exitCode maps error kinds to process exit codes: 2 for bad options or
// checkpoints, 1 for everything else.
func exitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.Configuration, errs.Checkpoint:
		return 2
	default:
		return 1
	}
}
