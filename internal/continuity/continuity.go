// Package continuity reconstructs the chronological order of a capture set
// from per-file time spans and reports the gaps and overlaps between
// consecutive files.
package continuity

import (
	"cmp"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rsclarke/pcapflow/internal/batch"
	"github.com/rsclarke/pcapflow/internal/dissect"
)

// Default classification thresholds.
const (
	DefaultGapThreshold     = time.Second
	DefaultOverlapThreshold = time.Second
)

// Thresholds classify the gap between consecutive files.
type Thresholds struct {
	// Gap above which a file is preceded by a discontinuity.
	Gap time.Duration
	// Overlap beyond which a negative gap counts as an overlap.
	Overlap time.Duration
}

// DefaultThresholds returns the one second thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Gap: DefaultGapThreshold, Overlap: DefaultOverlapThreshold}
}

// FileSpan is the probed span of one file. Valid is false when no prober
// could read the file.
type FileSpan struct {
	File  string
	Span  dissect.Span
	Valid bool
	Err   error
}

// Prober adapts a SpanProber to the batch extractor interface. Each outcome
// holds at most one span.
type Prober struct {
	Prober dissect.SpanProber
}

// Extract probes path.
func (p *Prober) Extract(ctx context.Context, path string) batch.Outcome[dissect.Span] {
	span, err := p.Prober.Probe(ctx, path)
	if err != nil {
		return batch.Outcome[dissect.Span]{File: path, Err: err}
	}
	return batch.Outcome[dissect.Span]{File: path, Items: []dissect.Span{span}}
}

// Collector is a batch sink that keeps one FileSpan per outcome. The span
// set is small (two timestamps per file) so it is held in memory.
type Collector struct {
	mu    sync.Mutex
	spans []FileSpan
}

// Write records the outcome's span, or a null span for a failed file.
func (c *Collector) Write(o batch.Outcome[dissect.Span]) error {
	fs := FileSpan{File: o.File, Err: o.Err}
	if o.Err == nil && len(o.Items) > 0 {
		fs.Span = o.Items[0]
		fs.Valid = true
	}
	c.mu.Lock()
	c.spans = append(c.spans, fs)
	c.mu.Unlock()
	return nil
}

// Spans returns the collected spans in arrival order.
func (c *Collector) Spans() []FileSpan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.spans)
}

// Row is one line of the continuity table. HasGap is false for the first
// valid file and for files without a span.
type Row struct {
	File     string
	Valid    bool
	Start    time.Time
	End      time.Time
	Duration time.Duration
	HasGap   bool
	PrevEnd  time.Time
	Gap      time.Duration
	Err      error
}

// Discontinuity reports whether the row is preceded by a gap above t.Gap.
func (r Row) Discontinuity(t Thresholds) bool {
	return r.HasGap && r.Gap > t.Gap
}

// Overlap reports whether the row starts more than t.Overlap before the
// previous file ended.
func (r Row) Overlap(t Thresholds) bool {
	return r.HasGap && r.Gap < -t.Overlap
}

// Report is the analyzed capture set.
type Report struct {
	Rows            []Row
	Thresholds      Thresholds
	Valid           int
	Null            int
	Discontinuities int
	Overlaps        int
	// Score is the percentage of valid files not preceded by a
	// discontinuity. It is zero when no file has a span.
	Score float64
	// Elapsed is the time spent probing, when known.
	Elapsed time.Duration
}

// Analyze sorts the valid spans by start time and computes the gap between
// each file and its predecessor. Files without a span are appended at the
// end and excluded from every statistic.
func Analyze(spans []FileSpan, t Thresholds) Report {
	var valid, null []FileSpan
	for _, s := range spans {
		if s.Valid {
			valid = append(valid, s)
		} else {
			null = append(null, s)
		}
	}
	slices.SortStableFunc(valid, func(a, b FileSpan) int {
		if c := a.Span.Start.Compare(b.Span.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.File, b.File)
	})
	slices.SortFunc(null, func(a, b FileSpan) int { return cmp.Compare(a.File, b.File) })

	r := Report{Thresholds: t, Valid: len(valid), Null: len(null)}
	r.Rows = make([]Row, 0, len(spans))
	for i, s := range valid {
		row := Row{
			File:     s.File,
			Valid:    true,
			Start:    s.Span.Start,
			End:      s.Span.End,
			Duration: s.Span.End.Sub(s.Span.Start),
		}
		if i > 0 {
			row.HasGap = true
			row.PrevEnd = valid[i-1].Span.End
			row.Gap = row.Start.Sub(row.PrevEnd)
		}
		if row.Discontinuity(t) {
			r.Discontinuities++
		}
		if row.Overlap(t) {
			r.Overlaps++
		}
		r.Rows = append(r.Rows, row)
	}
	for _, s := range null {
		r.Rows = append(r.Rows, Row{File: s.File, Err: s.Err})
	}

	if r.Valid > 0 {
		r.Score = 100 - float64(r.Discontinuities)/float64(r.Valid)*100
	}
	return r
}

// TopGaps returns up to n discontinuities, largest first.
func (r Report) TopGaps(n int) []Row {
	var gaps []Row
	for _, row := range r.Rows {
		if row.Discontinuity(r.Thresholds) {
			gaps = append(gaps, row)
		}
	}
	slices.SortStableFunc(gaps, func(a, b Row) int { return cmp.Compare(b.Gap, a.Gap) })
	if len(gaps) > n {
		gaps = gaps[:n]
	}
	return gaps
}

// Header is the column layout written by WriteCSV.
var Header = []string{"FileName", "T_Start", "T_End", "Duration", "Prev_End", "True_Gap"}

// WriteCSV writes the report table. Times are epoch seconds; Duration and
// True_Gap are seconds. Undefined values are empty.
func WriteCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range r.Rows {
		rec := []string{filepath.Base(row.File), "", "", "", "", ""}
		if row.Valid {
			rec[1] = epoch(row.Start)
			rec[2] = epoch(row.End)
			rec[3] = seconds(row.Duration)
		}
		if row.HasGap {
			rec[4] = epoch(row.PrevEnd)
			rec[5] = seconds(row.Gap)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// TopGapCount is the number of gaps listed by WriteSummary.
const TopGapCount = 5

// WriteSummary writes a human readable summary of r.
func WriteSummary(w io.Writer, r Report) error {
	ew := &errWriter{w: w}
	ew.printf("--- REPORT SUMMARY ---\n")
	if r.Elapsed > 0 {
		ew.printf("Extraction time: %.2fs\n", r.Elapsed.Seconds())
	}
	ew.printf("Total Files: %d\n", r.Valid+r.Null)
	if r.Null > 0 {
		ew.printf("Unreadable Files: %d\n", r.Null)
	}
	ew.printf("Continuity Score (>%s Gap): %.2f%%\n", r.Thresholds.Gap, r.Score)
	ew.printf("Major Gaps (>%s): %d\n", r.Thresholds.Gap, r.Discontinuities)
	ew.printf("Overlaps (<-%s): %d\n", r.Thresholds.Overlap, r.Overlaps)
	ew.printf("------------------------------\n")
	ew.printf("Top %d Largest Gaps:\n", TopGapCount)
	top := r.TopGaps(TopGapCount)
	if len(top) == 0 {
		ew.printf("  (none)\n")
	}
	for _, row := range top {
		ew.printf("  %s\t%ss\n", filepath.Base(row.File), seconds(row.Gap))
	}
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

func epoch(t time.Time) string {
	return strconv.FormatFloat(dissect.Seconds(t), 'f', -1, 64)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
