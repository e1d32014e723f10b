// Command savingsctl previews, submits and tracks savings vault operations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/pilacorp/go-savings-sdk/cmd/savingsctl/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
