package db

import (
	"database/sql"
	"fmt"

	"github.com/rsclarke/pcapflow/internal/batch"
	"github.com/rsclarke/pcapflow/internal/models"
)

// RecordOutcome stores one file result and adds its skip counts to the
// run totals, in one transaction.
func RecordOutcome(d *sql.DB, runID string, r batch.FileResult) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var errText *string
	if r.Err != nil {
		msg := r.Err.Error()
		errText = &msg
	}
	if _, err := tx.Exec(
		`INSERT INTO file_outcomes (run_id, file, file_index, items, skipped, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, r.File, r.Index, r.Items, r.Skipped.Total(), r.Duration.Milliseconds(), errText,
	); err != nil {
		return fmt.Errorf("insert file outcome: %w", err)
	}

	if err := addSkips(tx, runID, r.Skipped); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func addSkips(tx *sql.Tx, runID string, skips batch.SkipCounts) error {
	if skips.Total() == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`
		INSERT INTO run_skips (run_id, reason, count)
		VALUES (?, ?, ?)
		ON CONFLICT (run_id, reason) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, reason := range skips.Reasons() {
		n := skips[reason]
		if n == 0 {
			continue
		}
		if _, err := stmt.Exec(runID, string(reason), n); err != nil {
			return fmt.Errorf("upsert skip %q: %w", reason, err)
		}
	}
	return nil
}

// GetSkips returns the skip totals of a run.
func GetSkips(d *sql.DB, runID string) (batch.SkipCounts, error) {
	rows, err := d.Query("SELECT reason, count FROM run_skips WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("query skips: %w", err)
	}
	defer func() { _ = rows.Close() }()

	skips := make(batch.SkipCounts)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("scan skip: %w", err)
		}
		skips[batch.SkipReason(reason)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skips: %w", err)
	}
	return skips, nil
}

// ListFileOutcomes returns the file results of a run in input order. With
// failedOnly set only failed files are returned.
func ListFileOutcomes(d *sql.DB, runID string, failedOnly bool) ([]models.FileOutcome, error) {
	query := `SELECT run_id, file, file_index, items, skipped, duration_ms, error
		FROM file_outcomes WHERE run_id = ?`
	if failedOnly {
		query += " AND error IS NOT NULL"
	}
	query += " ORDER BY file_index"

	rows, err := d.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("query file outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.FileOutcome
	for rows.Next() {
		var o models.FileOutcome
		if err := rows.Scan(&o.RunID, &o.File, &o.Index, &o.Items, &o.Skipped, &o.DurationMS, &o.Error); err != nil {
			return nil, fmt.Errorf("scan file outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file outcomes: %w", err)
	}
	return out, nil
}

// Recorder writes every outcome of a run to the ledger.
type Recorder struct {
	DB    *sql.DB
	RunID string
}

// OnOutcome implements batch.Observer.
func (r *Recorder) OnOutcome(res batch.FileResult) error {
	return RecordOutcome(r.DB, r.RunID, res)
}
