// Package sink persists extraction outcomes.
package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/rsclarke/pcapflow/internal/batch"
	"github.com/rsclarke/pcapflow/internal/records"
)

// ErrClosed is returned when writing to a closed sink.
var ErrClosed = errors.New("sink closed")

// CSV writes the records of each outcome to a single CSV file. Rows are
// flushed after every file so the dataset is never held in memory.
type CSV[T records.Row] struct {
	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	path   string
	rows   int
	closed bool
}

// Create truncates or creates path and writes header as the first row.
func Create[T records.Row](path string, header []string) (*CSV[T], error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}

	w := csv.NewWriter(f)
	w.UseCRLF = runtime.GOOS == "windows"
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return &CSV[T]{f: f, w: w, path: path}, nil
}

// Write appends the items of o. Failed outcomes carry no items and write
// nothing.
func (s *CSV[T]) Write(o batch.Outcome[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if len(o.Items) == 0 {
		return nil
	}

	for _, item := range o.Items {
		if err := s.w.Write(item.CSVRow()); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}
	s.rows += len(o.Items)
	return nil
}

// Rows returns the number of data rows written so far.
func (s *CSV[T]) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Path returns the output file path.
func (s *CSV[T]) Path() string { return s.path }

// Close flushes and closes the output file. It is safe to call more than once.
func (s *CSV[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.w.Flush()
	flushErr := s.w.Error()
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("flush output: %w", flushErr)
	}
	return nil
}
