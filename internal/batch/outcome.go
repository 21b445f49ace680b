// Package batch fans extraction work over capture files out to a pool of
// workers and streams the per-file results into a sink.
package batch

import (
	"context"
	"maps"
	"slices"
	"time"
)

// SkipReason classifies why a single dissector output line produced no record.
type SkipReason string

// Line-level skip reasons.
const (
	SkipWidth       SkipReason = "width"
	SkipBadHex      SkipReason = "bad_hex"
	SkipBadUTF8     SkipReason = "bad_utf8"
	SkipBadJSON     SkipReason = "bad_json"
	SkipBadInt      SkipReason = "bad_int"
	SkipNoTransport SkipReason = "no_transport"
)

// SkipCounts tallies skipped lines by reason.
type SkipCounts map[SkipReason]int

// Add increments the count for reason.
func (s SkipCounts) Add(reason SkipReason, n int) {
	s[reason] += n
}

// Merge adds every count in o to s.
func (s SkipCounts) Merge(o SkipCounts) {
	for r, n := range o {
		s[r] += n
	}
}

// Total returns the number of skipped lines across all reasons.
func (s SkipCounts) Total() int {
	var n int
	for _, c := range s {
		n += c
	}
	return n
}

// Reasons returns the reasons present, sorted.
func (s SkipCounts) Reasons() []SkipReason {
	return slices.Sorted(maps.Keys(s))
}

// Outcome is the result of extracting one file. A failed extraction has a
// non-nil Err and no items; it never aborts the run.
type Outcome[T any] struct {
	File     string
	Index    int
	Items    []T
	Skipped  SkipCounts
	Err      error
	Duration time.Duration
}

// Failed reports whether the file could not be processed.
func (o Outcome[T]) Failed() bool { return o.Err != nil }

// Result strips the items from an outcome for observers.
func (o Outcome[T]) Result() FileResult {
	return FileResult{
		File:     o.File,
		Index:    o.Index,
		Items:    len(o.Items),
		Skipped:  o.Skipped,
		Err:      o.Err,
		Duration: o.Duration,
	}
}

// FileResult summarizes one outcome without its items.
type FileResult struct {
	File     string
	Index    int
	Items    int
	Skipped  SkipCounts
	Err      error
	Duration time.Duration
}

// Extractor turns one capture file into items.
type Extractor[T any] interface {
	Extract(ctx context.Context, path string) Outcome[T]
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc[T any] func(ctx context.Context, path string) Outcome[T]

// Extract calls f.
func (f ExtractorFunc[T]) Extract(ctx context.Context, path string) Outcome[T] {
	return f(ctx, path)
}

// Sink consumes outcomes one file at a time.
type Sink[T any] interface {
	Write(o Outcome[T]) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc[T any] func(o Outcome[T]) error

// Write calls f.
func (f SinkFunc[T]) Write(o Outcome[T]) error {
	return f(o)
}

// Observer is notified after each outcome has been written to the sink.
type Observer interface {
	OnOutcome(r FileResult) error
}
