package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/orchestra/internal/cmd"
	"github.com/felixgeelhaar/orchestra/internal/exitcode"
	"github.com/felixgeelhaar/orchestra/internal/ux"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\nInterrupted; state is saved and the next run resumes from it.")
			exitcode.Exit(exitcode.Interrupted)
		}

		styles := ux.DefaultStyles()
		if os.Getenv("NO_COLOR") != "" {
			styles = ux.PlainStyles()
		}
		fmt.Fprintln(os.Stderr, ux.FormatError(err, styles))
		exitcode.ExitWithError(err)
	}
	exitcode.Exit(exitcode.Success)
}
