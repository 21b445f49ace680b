package batch

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rsclarke/pcapflow/internal/logging"
)

// Order selects the sequence in which outcomes reach the sink.
type Order int

const (
	// OrderSubmission delivers outcomes in input order, so a fixed file
	// list always produces the same output.
	OrderSubmission Order = iota
	// OrderCompletion delivers outcomes as workers finish them.
	OrderCompletion
)

func (o Order) String() string {
	switch o {
	case OrderSubmission:
		return "submission"
	case OrderCompletion:
		return "completion"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// DefaultProgressEvery is the progress reporting cadence in files.
const DefaultProgressEvery = 100

// Options configures a run.
type Options struct {
	// Workers is the pool size. Zero or negative uses runtime.NumCPU().
	Workers int
	Order   Order
	// ProgressEvery logs throughput every N files; negative disables.
	ProgressEvery int
	// FileTimeout bounds each extraction when positive. A file that runs
	// over fails like any other file.
	FileTimeout time.Duration
	Logger      *zap.Logger
	Observers   []Observer
}

// Summary describes a completed run.
type Summary struct {
	FilesTotal     int
	FilesProcessed int
	FilesFailed    int
	Items          int
	Skipped        SkipCounts
	Elapsed        time.Duration
}

// Rate returns processed files per second.
func (s Summary) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.FilesProcessed) / s.Elapsed.Seconds()
}

// PoolSize resolves the number of workers used for n files.
func (o Options) PoolSize(n int) int {
	w := o.Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > n {
		w = n
	}
	if w < 1 {
		w = 1
	}
	return w
}

type job struct {
	index int
	path  string
}

// Run extracts every file with ex and writes each outcome to sink. Per-file
// failures are recorded in the summary and never stop the run; only a sink
// error or cancellation of ctx does. At most twice the worker count of
// outcomes are held in memory at any time.
func Run[T any](ctx context.Context, files []string, ex Extractor[T], sink Sink[T], opts Options) (Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	every := opts.ProgressEvery
	if every == 0 {
		every = DefaultProgressEvery
	}

	workers := opts.PoolSize(len(files))
	window := 2 * workers

	summary := Summary{FilesTotal: len(files), Skipped: make(SkipCounts)}
	start := time.Now()
	if len(files) == 0 {
		return summary, ctx.Err()
	}

	jobs := make(chan job)
	results := make(chan Outcome[T], window)
	slots := make(chan struct{}, window)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i, f := range files {
			select {
			case slots <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case jobs <- job{index: i, path: f}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for j := range jobs {
				o := extractOne(gctx, ex, j, opts.FileTimeout)
				select {
				case results <- o:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	emit := func(o Outcome[T]) error {
		if err := sink.Write(o); err != nil {
			return fmt.Errorf("write %s: %w", o.File, err)
		}
		<-slots

		summary.FilesProcessed++
		summary.Items += len(o.Items)
		summary.Skipped.Merge(o.Skipped)
		if o.Failed() {
			summary.FilesFailed++
			logger.Warn("file failed", logging.File(o.File), zap.Error(o.Err))
		}
		for _, reason := range o.Skipped.Reasons() {
			logger.Debug("lines skipped", logging.File(o.File), logging.Reason(string(reason)), zap.Int("count", o.Skipped[reason]))
		}

		r := o.Result()
		for _, obs := range opts.Observers {
			if err := obs.OnOutcome(r); err != nil {
				logger.Warn("observer error", logging.File(o.File), zap.Error(err))
			}
		}

		if every > 0 && summary.FilesProcessed%every == 0 {
			elapsed := time.Since(start)
			logger.Info("progress",
				zap.Int("processed", summary.FilesProcessed),
				logging.Files(summary.FilesTotal),
				logging.Rate(float64(summary.FilesProcessed)/elapsed.Seconds()))
		}
		return nil
	}

	g.Go(func() error {
		pending := make(map[int]Outcome[T])
		next := 0
		for o := range results {
			if opts.Order == OrderCompletion {
				if err := emit(o); err != nil {
					return err
				}
				continue
			}
			pending[o.Index] = o
			for {
				p, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				if err := emit(p); err != nil {
					return err
				}
				next++
			}
		}
		return nil
	})

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	summary.Elapsed = time.Since(start)
	return summary, err
}

func extractOne[T any](ctx context.Context, ex Extractor[T], j job, timeout time.Duration) (o Outcome[T]) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o = Outcome[T]{Err: fmt.Errorf("extractor panic: %v", r)}
		}
		o.File = j.path
		o.Index = j.index
		o.Duration = time.Since(start)
		if o.Err != nil {
			o.Items = nil
		}
	}()
	return ex.Extract(ctx, j.path)
}
