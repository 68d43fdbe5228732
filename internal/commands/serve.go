package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/gco-platform/ledgersync/internal/server"
	"github.com/gco-platform/ledgersync/internal/server/handlers"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the LedgerSync HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	s, err := buildStack(ctx)
	if err != nil {
		return err
	}

	var sheetFetcher handlers.SheetFetcher
	if s.sheet != nil {
		sheetFetcher = s.sheet
	}
	h := handlers.New(s.syncer, s.consolidator, sheetFetcher, s.cfg.Sheet.TargetWarehouses)
	h.SetLogger(s.logger)
	srv := server.New(s.cfg.Server, h, s.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		color.Green("Server stopped gracefully")
		return nil
	}
}
