package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dropmates/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand(cli.Options{Streams: cli.Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}})
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
