package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/arrowlake/arrowlake/internal/cli/arrowlake"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := arrowlake.Run(ctx, os.Args[1:], arrowlake.Options{
		Lookup: os.LookupEnv,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	stop()
	os.Exit(code)
}
