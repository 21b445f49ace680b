package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rsclarke/pcapflow/internal/audit"
	"github.com/rsclarke/pcapflow/internal/models"
)

// SaveAudit stores the result of an audit with its protocol histogram.
func SaveAudit(d *sql.DB, runID, csvPath string, acc audit.Accumulator, auditErr error) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		leak             bool
		leakFrom, leakTo *int64
		leakColumn       *string
		errText          *string
	)
	var le *audit.LeakError
	if errors.As(auditErr, &le) {
		leak = true
		leakFrom, leakTo, leakColumn = &le.FromRow, &le.ToRow, &le.Column
	}
	if auditErr != nil {
		msg := auditErr.Error()
		errText = &msg
	}

	if _, err := tx.Exec(
		`INSERT INTO audits (run_id, csv_path, total_rows, syn, rst, leak, leak_from, leak_to, leak_column, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, csvPath, acc.TotalRows, acc.SYN, acc.RST, leak, leakFrom, leakTo, leakColumn, errText,
	); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}

	if len(acc.Protocols) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO audit_protocols (run_id, protocol, count)
			VALUES (?, ?, ?)
			ON CONFLICT (run_id, protocol) DO UPDATE SET count = excluded.count
		`)
		if err != nil {
			return fmt.Errorf("prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, pc := range acc.Histogram() {
			if _, err := stmt.Exec(runID, pc.Protocol, pc.Count); err != nil {
				return fmt.Errorf("insert protocol %q: %w", pc.Protocol, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetAudit returns the stored audit of a run, or nil if there is none.
func GetAudit(d *sql.DB, runID string) (*models.Audit, error) {
	a := models.Audit{RunID: runID}
	err := d.QueryRow(
		`SELECT csv_path, total_rows, syn, rst, leak, leak_from, leak_to, leak_column, error
		 FROM audits WHERE run_id = ?`, runID,
	).Scan(&a.CSVPath, &a.TotalRows, &a.SYN, &a.RST, &a.Leak, &a.LeakFrom, &a.LeakTo, &a.LeakColumn, &a.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}

	rows, err := d.Query("SELECT protocol, count FROM audit_protocols WHERE run_id = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("query protocols: %w", err)
	}
	defer func() { _ = rows.Close() }()

	a.Protocols = make(map[string]int64)
	for rows.Next() {
		var p string
		var n int64
		if err := rows.Scan(&p, &n); err != nil {
			return nil, fmt.Errorf("scan protocol: %w", err)
		}
		a.Protocols[p] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate protocols: %w", err)
	}
	return &a, nil
}
