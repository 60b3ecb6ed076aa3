// README: bench command; runs the case list against a live deployment and prints results.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type benchConfig struct {
	BaseURL       string
	CustomerToken string
	DriverToken   string
	DriverID      string
	AdminToken    string
	VehicleClass  string
	Strict        bool
	Timeout       time.Duration
	Concurrency   int
	Duration      time.Duration
}

var benchCfg benchConfig

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run smoke and throughput checks against a running API",
	RunE:  runBench,
}

func init() {
	f := benchCmd.Flags()
	f.StringVar(&benchCfg.BaseURL, "base-url", "http://localhost:8080", "API base URL")
	f.StringVar(&benchCfg.CustomerToken, "customer-token", "", "ID token of a customer account")
	f.StringVar(&benchCfg.DriverToken, "driver-token", "", "ID token of a driver account")
	f.StringVar(&benchCfg.DriverID, "driver-id", "", "uid behind --driver-token")
	f.StringVar(&benchCfg.AdminToken, "admin-token", "", "ID token of an admin account")
	f.StringVar(&benchCfg.VehicleClass, "vehicle-class", "van", "vehicle class used for the flow")
	f.BoolVar(&benchCfg.Strict, "strict", false, "fail when any case is skipped")
	f.DurationVar(&benchCfg.Timeout, "timeout", 60*time.Second, "total timeout")
	f.IntVar(&benchCfg.Concurrency, "concurrency", 20, "workers for concurrency and throughput cases")
	f.DurationVar(&benchCfg.Duration, "duration", 10*time.Second, "duration of throughput cases")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), benchCfg.Timeout)
	defer cancel()

	bc := benchCfg
	bc.BaseURL = strings.TrimRight(bc.BaseURL, "/")
	runner := NewRunner(bc, cfg)
	results := runner.RunAll(ctx)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case statusPass:
			pass++
		case statusFail:
			fail++
		case statusSkip:
			skipped++
		}
	}
	fmt.Fprintf(out, "PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (bc.Strict && skipped > 0) {
		return fmt.Errorf("bench: %d failed, %d skipped", fail, skipped)
	}
	return nil
}
