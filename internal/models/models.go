// Package models defines the run ledger entity types.
package models

// Run status values.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// Run is one invocation of a pipeline.
type Run struct {
	ID             string
	Kind           string
	Input          string
	Output         string
	Workers        int
	StartedAt      int64
	FinishedAt     *int64
	Status         string
	FilesTotal     int
	FilesProcessed int
	FilesFailed    int
	Items          int
	ElapsedMS      int64
	Error          *string
}

// FileOutcome is the recorded result of extracting one file.
type FileOutcome struct {
	RunID      string
	File       string
	Index      int
	Items      int
	Skipped    int
	DurationMS int64
	Error      *string
}

// Span is one row of a continuity table. Times are epoch seconds and are
// nil for files without a readable span.
type Span struct {
	Position int
	File     string
	Start    *float64
	End      *float64
	Gap      *float64
	Error    *string
}

// Audit is the stored result of an audit run.
type Audit struct {
	RunID      string
	CSVPath    string
	TotalRows  int64
	SYN        int64
	RST        int64
	Leak       bool
	LeakFrom   *int64
	LeakTo     *int64
	LeakColumn *string
	Error      *string
	Protocols  map[string]int64
}
