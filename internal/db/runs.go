package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rsclarke/pcapflow/internal/batch"
	"github.com/rsclarke/pcapflow/internal/models"
)

// CreateRun inserts a running run and returns its generated ID.
func CreateRun(d *sql.DB, kind, input, output string, workers, filesTotal int) (string, error) {
	id := uuid.NewString()
	_, err := d.Exec(
		`INSERT INTO runs (id, kind, input, output, workers, started_at, status, files_total)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, kind, input, output, workers, time.Now().Unix(), models.StatusRunning, filesTotal,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stores the final counters of a run. A non-nil runErr marks the
// run failed.
func FinishRun(d *sql.DB, id string, s batch.Summary, runErr error) error {
	status := models.StatusOK
	var errText *string
	if runErr != nil {
		status = models.StatusFailed
		msg := runErr.Error()
		errText = &msg
	}

	res, err := d.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, files_total = ?, files_processed = ?,
		 files_failed = ?, items = ?, elapsed_ms = ?, error = ? WHERE id = ?`,
		time.Now().Unix(), status, s.FilesTotal, s.FilesProcessed,
		s.FilesFailed, s.Items, s.Elapsed.Milliseconds(), errText, id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

const runColumns = `id, kind, input, output, workers, started_at, finished_at, status,
	files_total, files_processed, files_failed, items, elapsed_ms, error`

func scanRun(row interface{ Scan(...any) error }) (models.Run, error) {
	var r models.Run
	err := row.Scan(&r.ID, &r.Kind, &r.Input, &r.Output, &r.Workers, &r.StartedAt, &r.FinishedAt,
		&r.Status, &r.FilesTotal, &r.FilesProcessed, &r.FilesFailed, &r.Items, &r.ElapsedMS, &r.Error)
	return r, err
}

// GetRun returns the run with id, or nil if there is none.
func GetRun(d *sql.DB, id string) (*models.Run, error) {
	r, err := scanRun(d.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	return &r, nil
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func ListRuns(d *sql.DB, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.Query("SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// DeleteRun removes a run and everything recorded for it. An unknown id
// returns an error wrapping sql.ErrNoRows.
func DeleteRun(d *sql.DB, id string) error {
	res, err := d.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete run %s: %w", id, sql.ErrNoRows)
	}
	return nil
}
