package solver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/clusterfit/internal/eval"
)

func newMockPool(workers int, mock *eval.Mock) *eval.Pool {
	if mock == nil {
		mock = &eval.Mock{}
	}
	return eval.NewPool(workers, mock)
}

func TestGAImprovesOverGenerations(t *testing.T) {
	// The same seed makes the one-generation and fifty-generation runs
	// share their first generation exactly, so comparing their final
	// bests checks the monotone-best guarantee end to end.
	short := testConfig(4)
	short.PopulationSize = 20
	short.Generations = 1

	shortResult, err := NewGA(short, newMockPool(4, nil)).Run(context.Background())
	require.NoError(t, err)

	long := testConfig(4)
	long.PopulationSize = 20
	long.Generations = 50

	longResult, err := NewGA(long, newMockPool(4, nil)).Run(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, longResult.Best.Energy, shortResult.Best.Energy,
		"elitism must keep the best energy from regressing")
	require.True(t, longResult.Best.Evaluated)

	// The sum-of-squares objective pulls the cluster tight around the
	// origin; the best structure's centroid sits near it.
	assert.Less(t, longResult.Best.Centroid().Norm(), 0.5)
}

func TestGAPopulationInvariantsSurviveTheRun(t *testing.T) {
	cfg := testConfig(6)
	cfg.PopulationSize = 12
	cfg.Generations = 10

	result, err := NewGA(cfg, newMockPool(4, nil)).Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, result.Best.CheckStoichiometry(cfg.Stoich))
	require.NoError(t, result.Best.Validate(cfg.Table))
}

func TestGASurvivesNonConvergedEvaluations(t *testing.T) {
	cfg := testConfig(4)
	cfg.PopulationSize = 16
	cfg.Generations = 20

	mock := &eval.Mock{FailPercent: 30}
	result, err := NewGA(cfg, newMockPool(4, mock)).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Best.Evaluated)
	assert.Greater(t, result.TotalEvals, 0)
}

func TestGAStopFlagEndsRunAtGenerationBoundary(t *testing.T) {
	cfg := testConfig(4)
	cfg.PopulationSize = 16
	cfg.Generations = 10000
	stop := &atomic.Bool{}
	cfg.Stop = stop

	// Trip the flag once the third generation has been published.
	go func() {
		for {
			if s := cfg.Mailbox.Latest(); s != nil && s.Generation >= 3 {
				stop.Store(true)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	done := make(chan *Result, 1)
	go func() {
		result, err := NewGA(cfg, newMockPool(4, nil)).Run(context.Background())
		require.NoError(t, err)
		done <- result
	}()

	select {
	case result := <-done:
		assert.True(t, result.Stopped)
		assert.Less(t, result.Generations, 10000)

		// The final snapshot still carries the best seen so far.
		latest := cfg.Mailbox.Latest()
		require.NotNil(t, latest)
		assert.LessOrEqual(t, result.Best.Energy, latest.BestEnergy+1e-9)
	case <-time.After(30 * time.Second):
		t.Fatal("run did not stop after the flag was set")
	}
}

func TestGAContextCancellation(t *testing.T) {
	cfg := testConfig(4)
	cfg.PopulationSize = 16
	cfg.Generations = 10000

	mock := &eval.Mock{Latency: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err := NewGA(cfg, newMockPool(2, mock)).Run(ctx)
		if err == nil {
			assert.True(t, result.Stopped)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("run did not wind down after context cancellation")
	}
}

func TestGAPublishesSnapshots(t *testing.T) {
	cfg := testConfig(4)
	cfg.PopulationSize = 12
	cfg.Generations = 5

	_, err := NewGA(cfg, newMockPool(4, nil)).Run(context.Background())
	require.NoError(t, err)

	latest := cfg.Mailbox.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, 5, latest.Generation)
	assert.Greater(t, latest.PopSize, 0)
	assert.GreaterOrEqual(t, latest.Diversity, 0.0)
	assert.LessOrEqual(t, latest.Diversity, 1.0)
	assert.Greater(t, latest.MutationRate, 0.0)
}

func TestGAWallClockLimit(t *testing.T) {
	cfg := testConfig(4)
	cfg.PopulationSize = 12
	cfg.Generations = 1000000
	cfg.MaxWallClock = 200 * time.Millisecond

	start := time.Now()
	_, err := NewGA(cfg, newMockPool(4, nil)).Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 10*time.Second)
}
