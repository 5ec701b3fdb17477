package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cwbudde/clusterfit/internal/cluster"
	"github.com/cwbudde/clusterfit/internal/eval"
	"github.com/cwbudde/clusterfit/internal/op"
)

// BH is the basin-hopping solver: a single walker that perturbs its
// geometry, relaxes the trial through the pool, and applies the
// Metropolis criterion. The temperature adapts to hold the observed
// acceptance ratio inside a target window.
type BH struct {
	cfg  Config
	pool *eval.Pool
	rng  *rand.Rand

	totalEvals int
}

// Acceptance window targeted by the temperature schedule.
const (
	acceptLow  = 0.3
	acceptHigh = 0.5
)

// NewBH builds a basin-hopping solver over the given evaluator pool.
func NewBH(cfg Config, pool *eval.Pool) *BH {
	cfg = cfg.Normalize()
	return &BH{
		cfg:  cfg,
		pool: pool,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Run walks the landscape for the configured number of steps, the
// wall-clock limit, or until the stop flag trips.
func (b *BH) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	current, err := b.initialWalker(ctx)
	if err != nil {
		return nil, err
	}
	best := current.Clone()

	slog.Info("Walker initialized", "energy", current.Energy, "temperature", b.cfg.Temperature)

	temperature := b.cfg.Temperature
	accepted := 0
	windowAccepted := 0
	windowSize := 0

	step := 0
	for step = 1; step <= b.cfg.Steps; step++ {
		if b.cfg.stoppedOrDone(ctx, start) {
			break
		}

		trial, perturbed := b.perturb(current)
		if !perturbed {
			b.publish(step, current, best, temperature, accepted, start)
			continue
		}

		res := b.pool.Submit(ctx, []eval.Task{{ID: step, Cluster: trial}})
		b.totalEvals++
		if !applyOutcome(trial, res[0].Outcome) {
			// Relaxation failed: reject and keep walking from the prior
			// cluster.
			windowSize++
			b.publish(step, current, best, temperature, accepted, start)
			continue
		}

		deltaE := trial.Energy - current.Energy
		windowSize++
		if MetropolisAccept(deltaE, b.cfg.Boltzmann*temperature, b.rng.Float64) {
			current = trial
			accepted++
			windowAccepted++

			if current.Energy < best.Energy {
				best = current.Clone()
				slog.Debug("New best", "step", step, "energy", best.Energy)
			}
		}

		if step%b.cfg.TempSchedule == 0 && windowSize > 0 {
			ratio := float64(windowAccepted) / float64(windowSize)
			switch {
			case ratio > acceptHigh:
				temperature *= 0.9
			case ratio < acceptLow:
				temperature *= 1.1
			}
			windowAccepted = 0
			windowSize = 0
		}

		b.publish(step, current, best, temperature, accepted, start)
	}

	if !best.Evaluated {
		return nil, errors.New("run produced no evaluated cluster")
	}

	return &Result{
		Best:        best,
		Generations: step - 1,
		TotalEvals:  b.totalEvals,
		Stopped:     b.cfg.Stop.Load() || ctx.Err() != nil,
	}, nil
}

// initialWalker packs and relaxes the starting cluster, retrying the
// random draw a few times when the relaxer rejects it.
func (b *BH) initialWalker(ctx context.Context) (*cluster.Cluster, error) {
	const drawAttempts = 10

	if seed := b.cfg.InitialCluster; seed != nil {
		walker := seed.Clone()
		if walker.Evaluated {
			return walker, nil
		}
		res := b.pool.Submit(ctx, []eval.Task{{ID: 0, Cluster: walker}})
		b.totalEvals++
		if applyOutcome(walker, res[0].Outcome) {
			return walker, nil
		}
	}

	for attempt := 0; attempt < drawAttempts; attempt++ {
		if b.cfg.Stop.Load() || ctx.Err() != nil {
			return nil, context.Canceled
		}

		c, err := op.InitialPopulation(1, b.cfg.Stoich, b.cfg.Box, b.cfg.Table, b.rng)
		if err != nil {
			return nil, fmt.Errorf("initial walker: %w", err)
		}

		res := b.pool.Submit(ctx, []eval.Task{{ID: 0, Cluster: c[0]}})
		b.totalEvals++
		if applyOutcome(c[0], res[0].Outcome) {
			return c[0], nil
		}
	}
	return nil, errors.New("initial walker never relaxed successfully")
}

// perturb builds the trial move: a rattle of the configured step size,
// plus an occasional rigid rotation or twist to escape shallow wells.
// Returns false when every applied move violated the separation
// invariant, which counts as an immediate rejection.
func (b *BH) perturb(current *cluster.Cluster) (*cluster.Cluster, bool) {
	trial := current.Clone()
	trial.Origin = "bh-step"

	moved := false
	if trial.Rattle(b.cfg.StepSize, b.rng, b.cfg.Table) == nil {
		moved = true
	}
	if b.rng.Float64() < 0.2 {
		axis := cluster.RandomUnitVec(b.rng.Float64)
		if trial.Rotate(axis, (2*b.rng.Float64()-1)*0.2, b.cfg.Table) == nil {
			moved = true
		}
	}
	if b.rng.Float64() < 0.1 {
		axis := cluster.RandomUnitVec(b.rng.Float64)
		if trial.Twist(axis, (2*b.rng.Float64()-1)*0.5, b.cfg.Table) == nil {
			moved = true
		}
	}

	if !moved {
		return nil, false
	}
	trial.Status = cluster.StatusValid
	return trial, true
}

// publish pushes the per-step snapshot. For a single walker the
// best/mean/worst collapse onto the walker and global-best energies.
func (b *BH) publish(step int, current, best *cluster.Cluster, temperature float64, accepted int, start time.Time) {
	elapsed := time.Since(start).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(b.totalEvals) / elapsed
	}

	b.cfg.Mailbox.Publish(Stats{
		Generation:  step,
		BestEnergy:  best.Energy,
		MeanEnergy:  current.Energy,
		WorstEnergy: current.Energy,
		Diversity:   1.0,
		Acceptance:  float64(accepted) / float64(step),
		Temperature: temperature,
		ValidCount:  1,
		PopSize:     1,
		TotalEvals:  b.totalEvals,
		EvalsPerSec: rate,
	})
}
