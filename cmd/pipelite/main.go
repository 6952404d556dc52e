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

	"github.com/sasha-s/go-deadlock"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/davidroman0O/pipelite"
)

func init() {
	maxprocs.Set()

	deadlock.Opts.DeadlockTimeout = 30 * time.Second
}

// Exit codes
const (
	exitOK = iota
	exitFailure
	exitValidation
	exitNotFound
	exitRefused
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Stdout, os.Stderr, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(exitCode(err))
}

func run(ctx context.Context, out, errOut io.Writer, args []string) error {
	root := newRootCmd(out, errOut)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, pipelite.ErrValidation):
		return exitValidation
	case errors.Is(err, pipelite.ErrNotFound):
		return exitNotFound
	case errors.Is(err, pipelite.ErrInvalidTransition), errors.Is(err, pipelite.ErrCycleRejected):
		return exitRefused
	default:
		return exitFailure
	}
}
