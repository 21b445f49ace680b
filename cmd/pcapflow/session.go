package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/pcapflow/internal/batch"
	"github.com/rsclarke/pcapflow/internal/db"
	"github.com/rsclarke/pcapflow/internal/dissect"
	"github.com/rsclarke/pcapflow/internal/logging"
	"github.com/rsclarke/pcapflow/internal/metrics"
)

// session holds the resources shared by every pipeline command: the run
// ledger, the metrics registry and the optional metrics listener.
type session struct {
	ledger  *sql.DB
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	server  *metrics.Server
}

func openSession() (*session, error) {
	s := &session{reg: prometheus.NewRegistry()}
	s.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := metrics.New(s.reg)
	if err != nil {
		return nil, err
	}
	s.metrics = m

	s.ledger = openLedgerSoft(cfg.Ledger, logger)

	if cfg.Metrics.Addr != "" {
		s.server = metrics.NewServer(cfg.Metrics.Addr, s.reg, logger.Named("metrics"))
		if err := s.server.Start(); err != nil {
			s.close()
			return nil, err
		}
	}
	return s, nil
}

// openLedgerSoft opens the run ledger for a pipeline command. A ledger that
// cannot be opened is reported and skipped; the pipeline runs without it.
func openLedgerSoft(path string, logger *zap.Logger) *sql.DB {
	if path == "" {
		return nil
	}
	d, err := db.Open(path)
	if err != nil {
		logger.Warn("ledger unavailable, continuing without it", logging.Path(path), zap.Error(err))
		return nil
	}
	return d
}

func (s *session) close() {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.server.Shutdown(ctx)
		cancel()
	}
	if cfg.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile, s.reg); err != nil {
			logger.Warn("metrics textfile", zap.Error(err))
		} else {
			logger.Info("metrics written", logging.Path(cfg.Metrics.Textfile))
		}
	}
	if s.ledger != nil {
		_ = s.ledger.Close()
	}
}

// createRun opens a ledger entry, returning "" when the ledger is disabled.
func (s *session) createRun(kind, input, output string, workers, files int) string {
	if s.ledger == nil {
		return ""
	}
	id, err := db.CreateRun(s.ledger, kind, input, output, workers, files)
	if err != nil {
		logger.Warn("ledger unavailable", zap.Error(err))
		return ""
	}
	return id
}

func (s *session) finishRun(id string, summary batch.Summary, runErr error) {
	if id == "" {
		return
	}
	if err := db.FinishRun(s.ledger, id, summary, runErr); err != nil {
		logger.Warn("ledger finish", logging.Run(id), zap.Error(err))
	}
}

// pipelineFlags are shared by the commands that walk a capture directory.
type pipelineFlags struct {
	input       string
	output      string
	workers     int
	fileTimeout time.Duration
}

func addPipelineFlags(cmd *cobra.Command, f *pipelineFlags) {
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "directory of capture files")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output CSV path")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "worker count (default: number of CPUs)")
	cmd.Flags().DurationVar(&f.fileTimeout, "file-timeout", 0, "abandon a capture after this long (0 disables)")
}

func (f *pipelineFlags) apply(cmd *cobra.Command, output *string) {
	if f.input != "" {
		cfg.InputDir = f.input
	}
	if f.output != "" {
		*output = f.output
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = f.workers
	}
	if cmd.Flags().Changed("file-timeout") {
		cfg.Tools.FileTimeout = f.fileTimeout
	}
}

func newTShark() *dissect.TShark {
	return &dissect.TShark{Path: cfg.Tools.TShark, AllowedExitCodes: cfg.Tools.AllowedExitCodes}
}

// runBatch drives one pipeline run with the ledger and metrics attached.
func runBatch[T any](ctx context.Context, s *session, kind string, files []string, output string,
	ex batch.Extractor[T], sink batch.Sink[T], order batch.Order) (batch.Summary, string, error) {
	opts := batch.Options{
		Workers:       cfg.Workers,
		Order:         order,
		ProgressEvery: cfg.Progress,
		FileTimeout:   cfg.Tools.FileTimeout,
		Logger:        logger.With(logging.Component(kind)),
		Observers:     []batch.Observer{s.metrics.Observer(kind)},
	}
	workers := opts.PoolSize(len(files))

	runID := s.createRun(kind, cfg.InputDir, output, workers, len(files))
	if runID != "" {
		opts.Observers = append(opts.Observers, &db.Recorder{DB: s.ledger, RunID: runID})
		opts.Logger = opts.Logger.With(logging.Run(runID))
	}

	fmt.Printf("Starting %s extraction on %d files using %d workers...\n", kind, len(files), workers)
	opts.Logger.Info("run started", logging.Kind(kind), logging.Files(len(files)), logging.Workers(workers), zap.Stringer("order", order))

	summary, err := batch.Run(ctx, files, ex, sink, opts)

	s.finishRun(runID, summary, err)
	s.metrics.RunFinished(kind, summary, err)
	opts.Logger.Info("run finished",
		logging.Files(summary.FilesProcessed),
		zap.Int("failed", summary.FilesFailed),
		zap.Int("items", summary.Items),
		zap.Int("skipped", summary.Skipped.Total()),
		logging.Rate(summary.Rate()),
		logging.Elapsed(summary.Elapsed))
	return summary, runID, err
}

func printSummary(kind, output string, summary batch.Summary, runID string) {
	fmt.Printf("Done: %d/%d files (%d failed), %d %s rows in %.2fs (%.1f files/sec)\n",
		summary.FilesProcessed, summary.FilesTotal, summary.FilesFailed, summary.Items, kind,
		summary.Elapsed.Seconds(), summary.Rate())
	if n := summary.Skipped.Total(); n > 0 {
		fmt.Printf("Skipped %d lines:", n)
		for _, r := range summary.Skipped.Reasons() {
			fmt.Printf(" %s=%d", r, summary.Skipped[r])
		}
		fmt.Println()
	}
	if output != "" {
		fmt.Printf("Saved to %s\n", output)
	}
	if runID != "" {
		fmt.Printf("Run ID: %s\n", runID)
	}
}
