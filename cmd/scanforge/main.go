package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Commands run under a context cancelled on SIGINT/SIGTERM, so a running
// serve drains its in-flight documents before exiting.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
