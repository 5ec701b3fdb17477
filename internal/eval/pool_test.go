package eval

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/clusterfit/internal/cluster"
)

// scriptedEvaluator maps each cluster pointer to a canned behavior, so
// pool tests can control per-task latency and outcomes.
type scriptedEvaluator struct {
	mu       sync.Mutex
	delays   map[*cluster.Cluster]time.Duration
	outcomes map[*cluster.Cluster][]Outcome // popped per call
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newScripted() *scriptedEvaluator {
	return &scriptedEvaluator{
		delays:   make(map[*cluster.Cluster]time.Duration),
		outcomes: make(map[*cluster.Cluster][]Outcome),
	}
}

func (s *scriptedEvaluator) Name() string { return "scripted" }

func (s *scriptedEvaluator) Evaluate(ctx context.Context, c *cluster.Cluster) Outcome {
	s.calls.Add(1)

	current := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if current <= seen || s.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	s.mu.Lock()
	delay := s.delays[c]
	var out Outcome
	if queue := s.outcomes[c]; len(queue) > 0 {
		out = queue[0]
		s.outcomes[c] = queue[1:]
	} else {
		out = Outcome{Kind: Relaxed, Positions: c.Positions(), Energy: 1.0}
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Outcome{Kind: Cancelled}
		}
	}
	return out
}

func makeTasks(t *testing.T, n int) []Task {
	t.Helper()
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = Task{ID: 100 + i, Cluster: testCluster(t, int64(i))}
	}
	return tasks
}

func TestPoolPreservesSubmissionOrder(t *testing.T) {
	ev := newScripted()
	tasks := makeTasks(t, 10)

	durations := []int{1, 9, 2, 8, 3, 7, 4, 6, 5, 1}
	for i, task := range tasks {
		ev.delays[task.Cluster] = time.Duration(durations[i]) * time.Millisecond
		ev.outcomes[task.Cluster] = []Outcome{{Kind: Relaxed, Energy: float64(i)}}
	}

	pool := NewPool(4, ev)
	start := time.Now()
	results := pool.Submit(context.Background(), tasks)
	elapsed := time.Since(start)

	require.Len(t, results, len(tasks))
	for i, res := range results {
		assert.Equal(t, tasks[i].ID, res.ID, "result %d out of order", i)
		assert.Equal(t, Relaxed, res.Outcome.Kind)
		assert.Equal(t, float64(i), res.Outcome.Energy)
	}

	// Four workers over 46ms of scripted latency must beat the serial
	// sum by a wide margin.
	assert.Less(t, elapsed, 30*time.Millisecond, "pool did not run tasks in parallel")
}

func TestPoolCapsConcurrency(t *testing.T) {
	ev := newScripted()
	tasks := makeTasks(t, 12)
	for _, task := range tasks {
		ev.delays[task.Cluster] = 5 * time.Millisecond
	}

	pool := NewPool(3, ev)
	pool.Submit(context.Background(), tasks)

	assert.LessOrEqual(t, ev.maxSeen.Load(), int32(3), "more than W evaluations in flight")
}

func TestPoolSingleFailureDoesNotFailBatch(t *testing.T) {
	ev := newScripted()
	tasks := makeTasks(t, 4)
	ev.outcomes[tasks[1].Cluster] = []Outcome{{Kind: Invalid, Reason: "bad geometry"}}
	ev.outcomes[tasks[2].Cluster] = []Outcome{{Kind: NonConverged}}

	pool := NewPool(2, ev)
	results := pool.Submit(context.Background(), tasks)

	assert.Equal(t, Relaxed, results[0].Outcome.Kind)
	assert.Equal(t, Invalid, results[1].Outcome.Kind)
	assert.Equal(t, NonConverged, results[2].Outcome.Kind)
	assert.Equal(t, Relaxed, results[3].Outcome.Kind)
}

func TestPoolRetriesTransientOnce(t *testing.T) {
	ev := newScripted()
	tasks := makeTasks(t, 1)

	// First call transient, second succeeds.
	ev.outcomes[tasks[0].Cluster] = []Outcome{
		{Kind: Transient, Retryable: true, Reason: "crash"},
		{Kind: Relaxed, Energy: -2.0},
	}

	pool := NewPool(1, ev)
	results := pool.Submit(context.Background(), tasks)

	require.Equal(t, Relaxed, results[0].Outcome.Kind)
	assert.Equal(t, -2.0, results[0].Outcome.Energy)
	assert.Equal(t, int32(2), ev.calls.Load())
}

func TestPoolTransientTwiceBecomesInvalid(t *testing.T) {
	ev := newScripted()
	tasks := makeTasks(t, 1)

	ev.outcomes[tasks[0].Cluster] = []Outcome{
		{Kind: Transient, Retryable: true, Reason: "crash"},
		{Kind: Transient, Retryable: true, Reason: "crash again"},
	}

	pool := NewPool(1, ev)
	results := pool.Submit(context.Background(), tasks)

	assert.Equal(t, Invalid, results[0].Outcome.Kind)
	assert.Equal(t, int32(2), ev.calls.Load())
}

func TestPoolNonRetryableTransientBecomesInvalid(t *testing.T) {
	ev := newScripted()
	tasks := makeTasks(t, 1)
	ev.outcomes[tasks[0].Cluster] = []Outcome{{Kind: Transient, Retryable: false}}

	pool := NewPool(1, ev)
	results := pool.Submit(context.Background(), tasks)

	assert.Equal(t, Invalid, results[0].Outcome.Kind)
	assert.Equal(t, int32(1), ev.calls.Load())
}

func TestPoolCancellationAbandonsPendingWork(t *testing.T) {
	ev := newScripted()
	tasks := makeTasks(t, 8)
	for _, task := range tasks {
		ev.delays[task.Cluster] = 20 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	pool := NewPool(2, ev)
	results := pool.Submit(ctx, tasks)

	require.Len(t, results, len(tasks))

	cancelled := 0
	for _, res := range results {
		if res.Outcome.Kind == Cancelled {
			cancelled++
		}
	}
	assert.Greater(t, cancelled, 0, "cancellation should leave some tasks unevaluated")
	assert.Less(t, int(ev.calls.Load()), len(tasks), "no further work should start after cancel")

	// IDs still line up with submission order.
	for i, res := range results {
		assert.Equal(t, tasks[i].ID, res.ID)
	}
}
