package eval

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cwbudde/clusterfit/internal/cluster"
)

// Task pairs a caller-chosen identifier with the cluster to evaluate.
type Task struct {
	ID      int
	Cluster *cluster.Cluster
}

// Result carries the outcome for one task, keyed by the submitted ID.
type Result struct {
	ID      int
	Outcome Outcome
}

// Pool fans a batch of evaluations out over a fixed number of workers and
// fans the results back in, in submission order. Distribution is
// pull-based: workers drain a shared task channel, so a slow relaxation
// never blocks the rest of the batch behind it.
type Pool struct {
	workers   int
	evaluator Evaluator
}

// NewPool creates a pool of the given width. Width is clamped to at
// least one worker.
func NewPool(workers int, evaluator Evaluator) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers, evaluator: evaluator}
}

// Workers returns the pool width.
func (p *Pool) Workers() int { return p.workers }

// Submit evaluates a batch and returns one result per task, in the same
// order the tasks were submitted. At most Workers evaluations run at
// once. A failed evaluation is reported in its slot and never fails the
// batch. Transient retryable failures are retried once with the same
// input; a second transient failure is reported as Invalid.
//
// Cancellation: once ctx is done no further task is started; tasks not
// yet started report Cancelled, and in-flight results are discarded by
// the evaluator returning a Cancelled outcome.
func (p *Pool) Submit(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	for i, t := range tasks {
		results[i] = Result{ID: t.ID, Outcome: Outcome{Kind: Cancelled}}
	}

	queue := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				results[idx].Outcome = p.evaluateOnce(ctx, tasks[idx].Cluster)
			}
		}()
	}

feed:
	for i := range tasks {
		select {
		case <-ctx.Done():
			break feed
		case queue <- i:
		}
	}
	close(queue)
	wg.Wait()

	return results
}

// evaluateOnce runs a single evaluation with the one-shot transient retry.
func (p *Pool) evaluateOnce(ctx context.Context, c *cluster.Cluster) Outcome {
	if ctx.Err() != nil {
		return Outcome{Kind: Cancelled}
	}

	out := p.evaluator.Evaluate(ctx, c)
	if out.Kind != Transient {
		return out
	}
	if !out.Retryable || ctx.Err() != nil {
		return Outcome{Kind: Invalid, Reason: out.Reason}
	}

	slog.Debug("Retrying transient evaluation failure", "evaluator", p.evaluator.Name(), "reason", out.Reason)
	retry := p.evaluator.Evaluate(ctx, c)
	if retry.Kind == Transient {
		// Second failure in a row with identical input: stop retrying.
		return Outcome{Kind: Invalid, Reason: retry.Reason}
	}
	return retry
}
