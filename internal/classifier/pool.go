package classifier

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome says how a task ended.
type Outcome int

const (
	// OutcomeVerdict means extraction and classification completed.
	OutcomeVerdict Outcome = iota
	// OutcomeException means extraction failed; the document stays checkable.
	OutcomeException
	// OutcomeTimeout means extraction exceeded the per-item budget.
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerdict:
		return "verdict"
	case OutcomeException:
		return "exception"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Task is one stored document to classify.
type Task struct {
	DocumentID int64
	Path       string
}

// Result pairs a task with its outcome. Err is set for OutcomeException and
// OutcomeTimeout; Verdict is meaningful only for OutcomeVerdict.
type Result struct {
	DocumentID int64
	Path       string
	Outcome    Outcome
	Verdict    Verdict
	Err        error
	Elapsed    time.Duration
}

// ExtractFunc extracts document text. It exists so tests can substitute slow
// or failing extractors.
type ExtractFunc func(path string, maxPages int) (string, error)

// Pool classifies documents with bounded parallelism and a hard per-item
// deadline. One pathological PDF must never stall the batch.
type Pool struct {
	Workers     int
	ItemTimeout time.Duration
	MaxPages    int
	Extract     ExtractFunc
	Logger      *zap.Logger
}

// Run classifies every task and returns results in task order. A result is
// produced for every input even when ctx is cancelled mid-batch; cancelled
// tasks report OutcomeException with the context error.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	extract := p.Extract
	if extract == nil {
		extract = ExtractText
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	results := make([]Result, len(tasks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, task := range tasks {
		if ctx.Err() != nil {
			results[i] = Result{DocumentID: task.DocumentID, Path: task.Path, Outcome: OutcomeException, Err: ctx.Err()}
			continue
		}
		g.Go(func() error {
			results[i] = p.runOne(ctx, extract, logger, task)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type extraction struct {
	text string
	err  error
}

func (p *Pool) runOne(ctx context.Context, extract ExtractFunc, logger *zap.Logger, task Task) Result {
	start := time.Now()
	res := Result{DocumentID: task.DocumentID, Path: task.Path}

	// The pdf library is not context-aware, so extraction runs in its own
	// goroutine and is abandoned on timeout. The buffered channel lets the
	// late extractor finish and be collected.
	done := make(chan extraction, 1)
	go func() {
		text, err := extract(task.Path, p.MaxPages)
		done <- extraction{text: text, err: err}
	}()

	timeout := p.ItemTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ex := <-done:
		res.Elapsed = time.Since(start)
		if ex.err != nil {
			res.Outcome = OutcomeException
			res.Err = ex.err
			logger.Warn("document classification failed",
				zap.String("path", task.Path), zap.Error(ex.err))
			return res
		}
		res.Outcome = OutcomeVerdict
		res.Verdict = Classify(ex.text)
		return res
	case <-timer.C:
		res.Elapsed = time.Since(start)
		res.Outcome = OutcomeTimeout
		res.Err = context.DeadlineExceeded
		logger.Warn("document classification timed out",
			zap.String("path", task.Path), zap.Duration("budget", timeout))
		return res
	case <-ctx.Done():
		res.Elapsed = time.Since(start)
		res.Outcome = OutcomeException
		res.Err = ctx.Err()
		return res
	}
}
