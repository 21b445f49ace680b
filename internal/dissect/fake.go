package dissect

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Dissector returning canned output per file.
type Fake struct {
	// Lines maps a capture path to the lines the tool would print.
	Lines map[string][]string
	// Errs maps a capture path to a file-level failure returned after the
	// lines for that path have been delivered.
	Errs map[string]error

	mu      sync.Mutex
	queries []Query
}

// Dissect delivers the canned lines for path.
func (f *Fake) Dissect(ctx context.Context, path string, q Query, fn LineFunc) error {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	lines, ok := f.Lines[path]
	err := f.Errs[path]
	if !ok && err == nil {
		return fmt.Errorf("open %s: no such file", path)
	}

	for i, line := range lines {
		if q.PacketLimit > 0 && i >= q.PacketLimit {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if ferr := fn(line); ferr != nil {
			return ferr
		}
	}
	return err
}

// Queries returns the queries received so far.
func (f *Fake) Queries() []Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Query(nil), f.queries...)
}
