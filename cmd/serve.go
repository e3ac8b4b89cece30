package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-dispatch/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume jobs until interrupted",
		Long: `Builds the configured engine and handlers, then processes jobs until SIGINT
or SIGTERM. The ops HTTP server runs alongside when server.enabled is set.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, rt.cfg, nil, rt.logger)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	rt.logger.Info("dispatcher starting", zap.Int("handlers", len(a.Dispatcher().Handlers())))
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
