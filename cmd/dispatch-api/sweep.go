// README: sweep command; one reconciliation pass over pending moves.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"movedispatch/internal/app"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Resume solicitation for stale and due scheduled moves once",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, app.Options{InMemory: inMemory}, log)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Engine.Sweep(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("resumed", n).Msg("sweep done")
	return nil
}
