// Package audit scans a produced packet CSV in fixed size chunks, keeping
// running totals and failing fast when a raw private address shows up in a
// column that should only hold pseudonyms.
package audit

import (
	"cmp"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rsclarke/pcapflow/internal/logging"
)

// Defaults for the engine.
const (
	DefaultChunkSize     = 1_000_000
	DefaultProgressEvery = 5
	DefaultLeakPattern   = `^(?:192\.|10\.|172\.)`
)

// DefaultLeakColumns are scanned when Engine.LeakColumns is empty.
var DefaultLeakColumns = []string{"Src_IP_Anonymized"}

// Column names and the legacy names accepted in their place.
var (
	protocolColumns = []string{"Protocol_Label", "Protocol"}
	synColumns      = []string{"SYN", "TCP_SYN"}
	rstColumns      = []string{"RST", "TCP_RST"}
)

var (
	// ErrPrivacyLeak matches every *LeakError.
	ErrPrivacyLeak = errors.New("privacy leak")
	// ErrMissingColumn is returned when the header lacks a required column.
	ErrMissingColumn = errors.New("missing column")
)

// LeakError reports the chunk in which an unanonymized value was found.
// Rows are zero based data row offsets; ToRow is exclusive.
type LeakError struct {
	FromRow int64
	ToRow   int64
	Row     int64
	Column  string
	Value   string
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("real IPs detected in rows %d to %d (%s=%q at row %d)",
		e.FromRow, e.ToRow, e.Column, e.Value, e.Row)
}

// Is lets errors.Is(err, ErrPrivacyLeak) match.
func (e *LeakError) Is(target error) bool { return target == ErrPrivacyLeak }

// Accumulator holds the running totals of an audit. It only grows.
type Accumulator struct {
	TotalRows int64
	SYN       int64
	RST       int64
	Protocols map[string]int64
	Chunks    int
}

func (a *Accumulator) merge(o *Accumulator) {
	a.TotalRows += o.TotalRows
	a.SYN += o.SYN
	a.RST += o.RST
	if a.Protocols == nil {
		a.Protocols = make(map[string]int64, len(o.Protocols))
	}
	for p, n := range o.Protocols {
		a.Protocols[p] += n
	}
}

// ProtocolCount is one histogram entry.
type ProtocolCount struct {
	Protocol string
	Count    int64
}

// Histogram returns the protocol counts, largest first and ties by name.
func (a Accumulator) Histogram() []ProtocolCount {
	out := make([]ProtocolCount, 0, len(a.Protocols))
	for _, p := range slices.Sorted(maps.Keys(a.Protocols)) {
		out = append(out, ProtocolCount{Protocol: p, Count: a.Protocols[p]})
	}
	slices.SortStableFunc(out, func(x, y ProtocolCount) int { return cmp.Compare(y.Count, x.Count) })
	return out
}

// Engine audits a packet CSV.
type Engine struct {
	// ChunkSize is the number of rows merged into the totals at a time.
	ChunkSize int
	// LeakPattern matches values that must never appear in LeakColumns.
	LeakPattern *regexp.Regexp
	LeakColumns []string
	// ProgressEvery logs progress every N chunks.
	ProgressEvery int
	Logger        *zap.Logger
}

type columns struct {
	protocol, syn, rst int
	leak               []int
	leakNames          []string
}

// Run reads r to the end or to the first chunk containing a leak. On a leak
// the returned error is a *LeakError and the accumulator includes the rows
// of the offending chunk read before the scan stopped. Rows are streamed;
// only per-chunk totals are kept.
func (e *Engine) Run(ctx context.Context, r io.Reader) (Accumulator, error) {
	logger := e.logger()
	chunkSize := e.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	every := e.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}
	pattern := e.LeakPattern
	if pattern == nil {
		pattern = regexp.MustCompile(DefaultLeakPattern)
	}
	leakCols := e.LeakColumns
	if len(leakCols) == 0 {
		leakCols = DefaultLeakColumns
	}

	acc := Accumulator{Protocols: make(map[string]int64)}

	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return acc, errors.New("read header: empty input")
	}
	if err != nil {
		return acc, fmt.Errorf("read header: %w", err)
	}
	cols, err := resolve(header, leakCols)
	if err != nil {
		return acc, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return acc, err
		}

		chunk, leak, done, err := e.readChunk(cr, cols, pattern, acc.TotalRows, chunkSize)
		// A leak outranks any later read error in the same chunk.
		if leak != nil {
			acc.merge(&chunk)
			acc.Chunks++
			leak.ToRow = acc.TotalRows
			if err != nil {
				logger.Warn("audit stopped on leak", zap.Error(err))
			}
			return acc, leak
		}
		if err != nil {
			return acc, err
		}
		if chunk.TotalRows > 0 {
			acc.merge(&chunk)
			acc.Chunks++
		}
		if chunk.TotalRows > 0 && (acc.Chunks-1)%every == 0 {
			logger.Info("audit progress", zap.Int("chunks", acc.Chunks), zap.Int64("rows", acc.TotalRows))
		}
		if done {
			return acc, nil
		}
	}
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// readChunk accumulates up to n rows. The first leak is recorded but the
// chunk is still read to its end so the reported range covers it. A read
// or parse error ends the chunk early and is returned alongside any leak.
func (e *Engine) readChunk(cr *csv.Reader, cols columns, pattern *regexp.Regexp, offset int64, n int) (Accumulator, *LeakError, bool, error) {
	chunk := Accumulator{Protocols: make(map[string]int64)}
	var leak *LeakError

	for i := 0; i < n; i++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return chunk, leak, true, nil
		}
		if err != nil {
			return chunk, leak, false, fmt.Errorf("read row %d: %w", offset+int64(i), err)
		}
		row := offset + int64(i)

		syn, err := flag(rec[cols.syn])
		if err != nil {
			return chunk, leak, false, fmt.Errorf("row %d SYN: %w", row, err)
		}
		rst, err := flag(rec[cols.rst])
		if err != nil {
			return chunk, leak, false, fmt.Errorf("row %d RST: %w", row, err)
		}
		chunk.TotalRows++
		chunk.SYN += syn
		chunk.RST += rst
		chunk.Protocols[rec[cols.protocol]]++

		if leak == nil {
			for j, idx := range cols.leak {
				if v := rec[idx]; pattern.MatchString(v) {
					leak = &LeakError{FromRow: offset, Row: row, Column: cols.leakNames[j], Value: v}
					break
				}
			}
		}
	}
	return chunk, leak, false, nil
}

func resolve(header []string, leakCols []string) (columns, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	find := func(names []string) (int, error) {
		for _, n := range names {
			if i, ok := index[n]; ok {
				return i, nil
			}
		}
		return 0, fmt.Errorf("%w: %s", ErrMissingColumn, names[0])
	}

	var c columns
	var err error
	if c.protocol, err = find(protocolColumns); err != nil {
		return c, err
	}
	if c.syn, err = find(synColumns); err != nil {
		return c, err
	}
	if c.rst, err = find(rstColumns); err != nil {
		return c, err
	}
	for _, name := range leakCols {
		i, err := find([]string{name})
		if err != nil {
			return c, err
		}
		c.leak = append(c.leak, i)
		c.leakNames = append(c.leakNames, name)
	}
	return c, nil
}

// flag parses a 0/1 flag column. Empty cells count as 0.
func flag(s string) (int64, error) {
	switch strings.TrimSpace(s) {
	case "", "0", "False", "false":
		return 0, nil
	case "1", "True", "true":
		return 1, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse flag %q: %w", s, err)
	}
	return n, nil
}

// Fields returns log fields describing a finished audit.
func (a Accumulator) Fields() []zap.Field {
	return []zap.Field{
		logging.Rows(int(a.TotalRows)),
		zap.Int64("syn", a.SYN),
		zap.Int64("rst", a.RST),
		zap.Int("protocols", len(a.Protocols)),
	}
}
