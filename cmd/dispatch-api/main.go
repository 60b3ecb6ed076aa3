// README: Entry point; cobra CLI with serve (default), sweep, migrate and bench commands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"movedispatch/internal/config"
	"movedispatch/internal/infra"
)

var (
	cfgPath  string
	inMemory bool
)

var rootCmd = &cobra.Command{
	Use:           "dispatch-api",
	Short:         "Move dispatch and lifecycle service",
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "optional YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&inMemory, "in-memory", false, "use process-local storage instead of Postgres and Redis")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads .env (when present) before koanf sees the environment.
func loadConfig() (config.Config, zerolog.Logger, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	return cfg, infra.NewLogger(cfg.Log.Level, cfg.Log.Format), nil
}
