package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rsclarke/pcapflow/internal/batch"
	"github.com/rsclarke/pcapflow/internal/db"
	"github.com/rsclarke/pcapflow/internal/models"
)

var errNoLedger = errors.New("no ledger configured (set --ledger or ledger in the config file)")

var runsFlags struct {
	limit int
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded pipeline runs",
	Long:  `List the runs recorded in the ledger, most recent first.`,
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run in detail",
	Long:  `Show a run with its skip totals, failed files, continuity spans and audit result.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a run",
	Long:  `Delete a run and everything recorded for it.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsShowCmd, runsDeleteCmd)

	runsCmd.Flags().IntVarP(&runsFlags.limit, "limit", "n", 20, "maximum runs to list (0 for all)")
}

func openLedger() (*sql.DB, error) {
	if cfg.Ledger == "" {
		return nil, errNoLedger
	}
	return db.Open(cfg.Ledger)
}

func runRuns(cmd *cobra.Command, args []string) error {
	d, err := openLedger()
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	runs, err := db.ListRuns(d, runsFlags.limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "No runs found.")
		return err
	}

	fmt.Fprintf(out, "%-36s  %-10s  %-7s  %-19s  %7s  %6s  %s\n", "ID", "KIND", "STATUS", "STARTED", "FILES", "FAILED", "ITEMS")
	for _, r := range runs {
		started := time.Unix(r.StartedAt, 0).Format("2006-01-02 15:04:05")
		fmt.Fprintf(out, "%-36s  %-10s  %-7s  %-19s  %7d  %6d  %d\n",
			r.ID, r.Kind, r.Status, started, r.FilesProcessed, r.FilesFailed, r.Items)
	}
	return nil
}

// runDetail is the JSON shape printed by "runs show".
type runDetail struct {
	Run         models.Run           `json:"run"`
	Skipped     batch.SkipCounts     `json:"skipped,omitempty"`
	FailedFiles []models.FileOutcome `json:"failed_files,omitempty"`
	Spans       []models.Span        `json:"spans,omitempty"`
	Audit       *models.Audit        `json:"audit,omitempty"`
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	d, err := openLedger()
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	id := args[0]
	run, err := db.GetRun(d, id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", id)
	}

	detail := runDetail{Run: *run}
	if detail.Skipped, err = db.GetSkips(d, id); err != nil {
		return err
	}
	if detail.FailedFiles, err = db.ListFileOutcomes(d, id, true); err != nil {
		return err
	}
	if detail.Spans, err = db.ListSpans(d, id); err != nil {
		return err
	}
	if detail.Audit, err = db.GetAudit(d, id); err != nil {
		return err
	}

	b, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	d, err := openLedger()
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	id := args[0]
	if err := db.DeleteRun(d, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("run %s not found", id)
		}
		return err
	}

	result := struct {
		ID      string `json:"id"`
		Deleted bool   `json:"deleted"`
	}{ID: id, Deleted: true}

	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
