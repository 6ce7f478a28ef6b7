// Command coalesce is the CLI for the coalesce request batching toolkit.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rshade/coalesce/internal/batch"
	"github.com/rshade/coalesce/internal/cli"
	"github.com/rshade/coalesce/internal/ctxtree"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev" //nolint:gochecknoglobals // set by the linker

const (
	// shutdownGrace bounds how long in-flight batches may run after the
	// command returns or a signal arrives.
	shutdownGrace = 5 * time.Second

	exitOK          = 0
	exitError       = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI under a cancellation tree rooted at the process
// signal context and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, cancel := ctxtree.Attach(sigCtx)

	cmd := cli.NewRootCmd(version)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(root)

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
	defer done()
	if serr := cancel.Shutdown(shutdownCtx); serr != nil {
		fmt.Fprintf(stderr, "Warning: shutdown did not complete: %v\n", serr)
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps a command error to a process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, ctxtree.ErrCancelled), errors.Is(err, batch.ErrClosed), errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitError
	}
}
