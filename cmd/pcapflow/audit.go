package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/pcapflow/internal/audit"
	"github.com/rsclarke/pcapflow/internal/batch"
	"github.com/rsclarke/pcapflow/internal/config"
	"github.com/rsclarke/pcapflow/internal/db"
	"github.com/rsclarke/pcapflow/internal/logging"
)

var auditFlags struct {
	report      string
	chunkSize   int
	leakPattern string
	leakColumns []string
}

var auditCmd = &cobra.Command{
	Use:   "audit [CSV]",
	Short: "Audit a packet CSV for totals and privacy leaks",
	Long: `Scan a packet CSV in chunks, totalling rows, SYN and RST flags and the
protocol distribution. The scan stops at the first chunk holding a value in
the anonymized address columns that looks like a raw private address, and
the command exits non-zero.

The report is written to the report file and echoed to the console.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVarP(&auditFlags.report, "report", "r", "", "report file path")
	auditCmd.Flags().IntVar(&auditFlags.chunkSize, "chunk-size", 0, "rows per chunk")
	auditCmd.Flags().StringVar(&auditFlags.leakPattern, "leak-pattern", "", "regular expression for leaked values")
	auditCmd.Flags().StringSliceVar(&auditFlags.leakColumns, "leak-column", nil, "column to scan for leaks (repeatable)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		cfg.Audit.Input = args[0]
	}
	if auditFlags.report != "" {
		cfg.Audit.Report = auditFlags.report
	}
	if cmd.Flags().Changed("chunk-size") {
		cfg.Audit.ChunkSize = auditFlags.chunkSize
	}
	if auditFlags.leakPattern != "" {
		cfg.Audit.LeakPattern = auditFlags.leakPattern
	}
	if len(auditFlags.leakColumns) > 0 {
		cfg.Audit.LeakColumns = auditFlags.leakColumns
	}
	if err := cfg.Validate(config.KindAudit); err != nil {
		return err
	}
	pattern, err := cfg.LeakRegexp()
	if err != nil {
		return err
	}

	fmt.Printf("--- AUDITING %s ---\n", cfg.Audit.Input)
	fmt.Printf("Output will be saved to: %s\n", cfg.Audit.Report)

	report, err := os.Create(cfg.Audit.Report)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() { _ = report.Close() }()
	if _, err := fmt.Fprintln(report, audit.HeaderLine(cfg.Audit.Input)); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()
	runID := s.createRun(config.KindAudit, cfg.Audit.Input, cfg.Audit.Report, 1, 1)

	engine := &audit.Engine{
		ChunkSize:   cfg.Audit.ChunkSize,
		LeakPattern: pattern,
		LeakColumns: cfg.Audit.LeakColumns,
		Logger:      logger.With(logging.Component(config.KindAudit)),
	}

	acc, auditErr := auditFile(cmd, engine, cfg.Audit.Input)

	rendered := audit.Render(acc, auditErr)
	fmt.Println(rendered)
	if _, err := fmt.Fprintln(report, rendered); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := report.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	fmt.Printf("\nReport saved to %s\n", cfg.Audit.Report)

	s.metrics.AuditFinished(acc, auditErr)
	if runID != "" {
		if err := db.SaveAudit(s.ledger, runID, cfg.Audit.Input, acc, auditErr); err != nil {
			logger.Warn("ledger audit", logging.Run(runID), zap.Error(err))
		}
		sum := batch.Summary{FilesTotal: 1, FilesProcessed: 1, Items: int(acc.TotalRows)}
		if auditErr != nil {
			sum.FilesFailed = 1
		}
		s.finishRun(runID, sum, auditErr)
	}

	logger.Info("audit finished", append(acc.Fields(), zap.Error(auditErr))...)
	if auditErr != nil {
		return fmt.Errorf("audit %s: %w", cfg.Audit.Input, auditErr)
	}
	return nil
}

func auditFile(cmd *cobra.Command, engine *audit.Engine, path string) (audit.Accumulator, error) {
	f, err := os.Open(path)
	if err != nil {
		return audit.Accumulator{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return engine.Run(cmd.Context(), f)
}
