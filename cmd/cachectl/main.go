package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	// cobra skips post-run hooks when a command fails
	if closeErr := a.close(); closeErr != nil {
		log.Warn().Err(closeErr).Msg("failed to close cache")
	}
	if err != nil {
		log.Error().Err(err).Msg("cachectl failed")
		stop()
		os.Exit(1)
	}
}
