package db

import (
	"database/sql"
	"fmt"

	"github.com/rsclarke/pcapflow/internal/continuity"
	"github.com/rsclarke/pcapflow/internal/dissect"
	"github.com/rsclarke/pcapflow/internal/models"
)

// SaveSpans stores the rows of a continuity report in table order.
func SaveSpans(d *sql.DB, runID string, report continuity.Report) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO spans (run_id, position, file, start_epoch, end_epoch, gap_seconds, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, row := range report.Rows {
		var start, end, gap *float64
		if row.Valid {
			s, e := dissect.Seconds(row.Start), dissect.Seconds(row.End)
			start, end = &s, &e
		}
		if row.HasGap {
			g := row.Gap.Seconds()
			gap = &g
		}
		var errText *string
		if row.Err != nil {
			msg := row.Err.Error()
			errText = &msg
		}
		if _, err := stmt.Exec(runID, i, row.File, start, end, gap, errText); err != nil {
			return fmt.Errorf("insert span %q: %w", row.File, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListSpans returns the stored continuity rows of a run.
func ListSpans(d *sql.DB, runID string) ([]models.Span, error) {
	rows, err := d.Query(
		`SELECT position, file, start_epoch, end_epoch, gap_seconds, error
		 FROM spans WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query spans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Span
	for rows.Next() {
		var s models.Span
		if err := rows.Scan(&s.Position, &s.File, &s.Start, &s.End, &s.Gap, &s.Error); err != nil {
			return nil, fmt.Errorf("scan span: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spans: %w", err)
	}
	return out, nil
}
