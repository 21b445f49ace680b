// Package main implements the pcapflow CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/pcapflow/internal/config"
	"github.com/rsclarke/pcapflow/internal/logging"
)

var (
	logger *zap.Logger
	cfg    *config.Config
)

var rootFlags struct {
	configPath      string
	ledger          string
	metricsAddr     string
	metricsTextfile string
}

var rootCmd = &cobra.Command{
	Use:   "pcapflow",
	Short: "Turn packet captures into anonymized CSV datasets",
	Long: `pcapflow converts directories of packet captures into CSV datasets of
MQTT telemetry and anonymized OT packet metadata, checks capture continuity,
and audits produced datasets for privacy leaks.

Protocol dissection is delegated to tshark; capture time bounds come from
capinfos or a native pcap reader.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}

		cfg, err = config.Load(rootFlags.configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("ledger") {
			cfg.Ledger = rootFlags.ledger
		}
		if rootFlags.metricsAddr != "" {
			cfg.Metrics.Addr = rootFlags.metricsAddr
		}
		if rootFlags.metricsTextfile != "" {
			cfg.Metrics.Textfile = rootFlags.metricsTextfile
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", getEnv("PCAPFLOW_CONFIG", ""), "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&rootFlags.ledger, "ledger", config.DefaultLedger, "run ledger database path, overriding the config file (--ledger= disables the ledger)")
	rootCmd.PersistentFlags().StringVar(&rootFlags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	rootCmd.PersistentFlags().StringVar(&rootFlags.metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file when done")
}

// Execute runs the root command, cancelling on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
