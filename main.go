package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"meetwise/app/util/mylog"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		slog.Info("Shutting down...")

		cancel()
	}()

	if err := newCLIApp().RunContext(appCtx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
