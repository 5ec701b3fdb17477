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

func TestBHWalkerImproves(t *testing.T) {
	cfg := testConfig(4)
	cfg.Steps = 300
	cfg.StepSize = 0.1

	result, err := NewBH(cfg, newMockPool(1, nil)).Run(context.Background())
	require.NoError(t, err)

	require.True(t, result.Best.Evaluated)
	require.NoError(t, result.Best.CheckStoichiometry(cfg.Stoich))
	require.NoError(t, result.Best.Validate(cfg.Table))

	// The walker must end at or below its published current energy.
	latest := cfg.Mailbox.Latest()
	require.NotNil(t, latest)
	assert.LessOrEqual(t, result.Best.Energy, latest.MeanEnergy+1e-9)
}

func TestBHAcceptanceStaysReasonable(t *testing.T) {
	cfg := testConfig(4)
	cfg.Steps = 500
	cfg.StepSize = 0.1
	cfg.TempSchedule = 50

	_, err := NewBH(cfg, newMockPool(1, nil)).Run(context.Background())
	require.NoError(t, err)

	latest := cfg.Mailbox.Latest()
	require.NotNil(t, latest)

	// The multiplicative schedule steers the observed ratio toward the
	// target window; the cumulative ratio lands inside a looser band.
	assert.Greater(t, latest.Acceptance, 0.05)
	assert.Less(t, latest.Acceptance, 0.95)
	assert.Greater(t, latest.Temperature, 0.0)
}

func TestBHRejectsFailedRelaxations(t *testing.T) {
	cfg := testConfig(4)
	cfg.Steps = 200

	mock := &eval.Mock{FailPercent: 30}
	result, err := NewBH(cfg, newMockPool(1, mock)).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Best.Evaluated)
	assert.NoError(t, result.Best.Validate(cfg.Table))
}

func TestBHStopFlag(t *testing.T) {
	cfg := testConfig(4)
	cfg.Steps = 1000000
	stop := &atomic.Bool{}
	cfg.Stop = stop

	done := make(chan *Result, 1)
	go func() {
		result, err := NewBH(cfg, newMockPool(1, nil)).Run(context.Background())
		require.NoError(t, err)
		done <- result
	}()

	time.Sleep(100 * time.Millisecond)
	stop.Store(true)

	select {
	case result := <-done:
		assert.True(t, result.Stopped)
		assert.True(t, result.Best.Evaluated)
	case <-time.After(30 * time.Second):
		t.Fatal("walker did not stop after the flag was set")
	}
}

func TestBHSeededWalkerStartsFromCheckpoint(t *testing.T) {
	cfg := testConfig(4)
	cfg.Steps = 10

	first, err := NewBH(cfg, newMockPool(1, nil)).Run(context.Background())
	require.NoError(t, err)

	resumed := testConfig(4)
	resumed.Steps = 10
	resumed.InitialCluster = first.Best

	second, err := NewBH(resumed, newMockPool(1, nil)).Run(context.Background())
	require.NoError(t, err)

	// Seeding with the previous best means the energy never regresses.
	assert.LessOrEqual(t, second.Best.Energy, first.Best.Energy+1e-9)
}
