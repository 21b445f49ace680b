package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/pcapflow/internal/batch"
	"github.com/rsclarke/pcapflow/internal/config"
	"github.com/rsclarke/pcapflow/internal/continuity"
	"github.com/rsclarke/pcapflow/internal/db"
	"github.com/rsclarke/pcapflow/internal/dissect"
	"github.com/rsclarke/pcapflow/internal/logging"
)

var continuityFlags struct {
	pipelineFlags
	prober  string
	gap     time.Duration
	overlap time.Duration
}

var continuityCmd = &cobra.Command{
	Use:   "continuity",
	Short: "Check that consecutive captures cover time without gaps",
	Long: `Read the first and last packet time of every capture, sort the files by
start time and report gaps and overlaps between consecutive files.

Times come from capinfos (or the native pcap reader with --prober native),
falling back to the first packet reported by tshark. Files that cannot be
read are listed last and excluded from the score.`,
	Args: cobra.NoArgs,
	RunE: runContinuity,
}

func init() {
	rootCmd.AddCommand(continuityCmd)

	addPipelineFlags(continuityCmd, &continuityFlags.pipelineFlags)
	continuityCmd.Flags().StringVar(&continuityFlags.prober, "prober", "", "time source: capinfos or native")
	continuityCmd.Flags().DurationVar(&continuityFlags.gap, "gap", 0, "gap counted as a discontinuity (default 1s)")
	continuityCmd.Flags().DurationVar(&continuityFlags.overlap, "overlap", 0, "negative gap counted as an overlap (default 1s)")
}

func spanProber() dissect.SpanProber {
	fallback := &dissect.FirstPacket{Dissector: newTShark()}
	if cfg.Continuity.Prober == config.ProberNative {
		return dissect.Chain{dissect.NativeReader{}, fallback}
	}
	return dissect.Chain{&dissect.Capinfos{Path: cfg.Tools.Capinfos}, fallback}
}

func runContinuity(cmd *cobra.Command, args []string) error {
	continuityFlags.apply(cmd, &cfg.Continuity.Output)
	if continuityFlags.prober != "" {
		cfg.Continuity.Prober = continuityFlags.prober
	}
	if cmd.Flags().Changed("gap") {
		cfg.Continuity.GapThreshold = continuityFlags.gap
	}
	if cmd.Flags().Changed("overlap") {
		cfg.Continuity.OverlapThreshold = continuityFlags.overlap
	}
	if err := cfg.Validate(config.KindContinuity); err != nil {
		return err
	}

	files, err := batch.ListFiles(cfg.InputDir, cfg.Extensions)
	if err != nil {
		return err
	}
	fmt.Printf("--- CONTINUITY CHECK: %s ---\n", cfg.InputDir)
	fmt.Printf("Found %d files. Extracting time boundaries...\n", len(files))

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	coll := &continuity.Collector{}
	summary, runID, err := runBatch(cmd.Context(), s, config.KindContinuity, files, cfg.Continuity.Output,
		&continuity.Prober{Prober: spanProber()}, coll, batch.OrderCompletion)
	if err != nil {
		return fmt.Errorf("continuity check: %w", err)
	}

	report := continuity.Analyze(coll.Spans(), cfg.Thresholds())
	report.Elapsed = summary.Elapsed

	f, err := os.Create(cfg.Continuity.Output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := continuity.WriteCSV(f, report); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", cfg.Continuity.Output, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	fmt.Printf("Saved analysis to %s\n\n", cfg.Continuity.Output)

	if runID != "" {
		if err := db.SaveSpans(s.ledger, runID, report); err != nil {
			logger.Warn("ledger spans", logging.Run(runID), zap.Error(err))
		}
	}

	if err := continuity.WriteSummary(os.Stdout, report); err != nil {
		return err
	}
	if runID != "" {
		fmt.Printf("Run ID: %s\n", runID)
	}
	return nil
}
