// README: serve command; HTTP API plus the background sweep loop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"movedispatch/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the reconciliation loop",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, app.Options{InMemory: inMemory, Registerer: prometheus.DefaultRegisterer}, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	server, err := a.Server(ctx)
	if err != nil {
		return err
	}
	if _, err := a.Drivers.Reindex(ctx); err != nil {
		log.Warn().Err(err).Msg("rebuild geo index")
	}
	go a.Engine.Run(ctx)
	return server.Run(ctx)
}
