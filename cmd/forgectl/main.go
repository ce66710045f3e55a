package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/illumination-k/forgectl/pkg/commands"
	"github.com/illumination-k/forgectl/pkg/deployerr"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := commands.NewRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "\nOperation cancelled")
		stop()
		os.Exit(130)
	}

	fmt.Fprintf(os.Stderr, "Error: %s\n", deployerr.Format(err))
	stop()
	os.Exit(1)
}
