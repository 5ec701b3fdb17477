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

// GA is the generational genetic-algorithm solver: tournament selection,
// cut-and-splice crossover, weighted mutations, duplicate suppression,
// and a diversity-driven stagnation controller with mass extinction.
type GA struct {
	cfg  Config
	pool *eval.Pool
	rng  *rand.Rand

	mutator    op.Mutator
	totalEvals int
}

// NewGA builds a GA solver over the given evaluator pool.
func NewGA(cfg Config, pool *eval.Pool) *GA {
	cfg = cfg.Normalize()
	return &GA{
		cfg:     cfg,
		pool:    pool,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		mutator: op.NewMutator(cfg.Species),
	}
}

// Run executes the generational loop until the configured generation
// count, the wall-clock limit, or the stop flag ends it. The returned
// result always carries the best evaluated cluster seen.
func (g *GA) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	pop, err := g.initialize(ctx)
	if err != nil {
		return nil, err
	}

	slog.Info("Population initialized",
		"size", len(pop),
		"best_energy", pop[0].Energy,
	)

	baseMutator := g.mutator
	pMut := g.cfg.MutationRate

	lastBest := pop[0].Energy
	stagnation := 0
	lowDiversityStreak := 0
	cooldown := 0

	gen := 0
	for gen = 1; gen <= g.cfg.Generations; gen++ {
		if g.cfg.stoppedOrDone(ctx, start) {
			break
		}

		children := g.breed(pop, pMut)
		g.evaluate(ctx, children)
		if g.cfg.stoppedOrDone(ctx, start) {
			break
		}

		merged := make([]*cluster.Cluster, 0, g.cfg.EliteCount+len(children))
		for _, elite := range pop[:min(g.cfg.EliteCount, len(pop))] {
			merged = append(merged, elite)
		}
		merged = append(merged, children...)

		pop = g.cfg.dedupe(merged)
		pop = g.refill(ctx, pop)
		rank(pop)
		if len(pop) > g.cfg.PopulationSize {
			pop = pop[:g.cfg.PopulationSize]
		}
		if len(pop) == 0 {
			return nil, errors.New("population collapsed: no evaluated clusters remain")
		}

		diversity := meanPairwiseDistance(pop, g.cfg.FingerprintBins, g.cfg.FingerprintRMax)

		// Improvement tracking.
		best := pop[0].Energy
		if best < lastBest-g.cfg.ImproveEps {
			lastBest = best
			stagnation = 0
			pMut = g.cfg.MutationRate
			g.mutator = baseMutator
		} else {
			stagnation++
		}

		// Adaptive mutation rate: sustained low diversity raises the
		// rate and broadens amplitudes; high diversity decays toward
		// the floor.
		if diversity < g.cfg.DiversityLow {
			lowDiversityStreak++
		} else {
			lowDiversityStreak = 0
		}
		switch {
		case lowDiversityStreak >= g.cfg.StagnationWindow:
			if pMut < g.cfg.MutationRateCap {
				pMut = min(g.cfg.MutationRateCap, pMut*1.5)
				g.mutator = baseMutator.Broadened(2.0)
				slog.Debug("Raising mutation pressure", "generation", gen, "rate", pMut, "diversity", diversity)
			}
		case diversity > g.cfg.DiversityHigh:
			pMut = max(g.cfg.MutationRateFloor, pMut*0.9)
		}

		// Mass extinction on prolonged stagnation.
		if cooldown > 0 {
			cooldown--
		} else if stagnation >= g.cfg.ExtinctionWindow {
			slog.Info("Mass extinction", "generation", gen, "stagnation", stagnation, "diversity", diversity)
			pop = g.extinction(ctx, pop)
			rank(pop)
			stagnation = 0
			cooldown = g.cfg.ExtinctionCooldown
			pMut = g.cfg.MutationRate
			g.mutator = baseMutator
		}

		g.publish(gen, pop, diversity, pMut, start)
	}

	if len(pop) == 0 || !pop[0].Evaluated {
		return nil, errors.New("run produced no evaluated cluster")
	}

	return &Result{
		Best:        pop[0].Clone(),
		Generations: gen - 1,
		TotalEvals:  g.totalEvals,
		Stopped:     g.cfg.Stop.Load() || ctx.Err() != nil,
	}, nil
}

// initialize builds and evaluates the first generation.
func (g *GA) initialize(ctx context.Context) ([]*cluster.Cluster, error) {
	want := g.cfg.PopulationSize
	var pop []*cluster.Cluster
	if seed := g.cfg.InitialCluster; seed != nil {
		// Resume case: the saved structure plus kicked copies of it
		// occupy part of the first generation.
		pop = append(pop, seed.Clone())
		for len(pop) < want/2 {
			mutant, err := op.HeavyMutate(seed, g.cfg.Table, g.rng)
			if err != nil {
				break
			}
			pop = append(pop, mutant)
		}
		want -= len(pop)
	}

	randoms, err := op.InitialPopulation(want, g.cfg.Stoich, g.cfg.Box, g.cfg.Table, g.rng)
	if err != nil {
		return nil, fmt.Errorf("initial population: %w", err)
	}
	pop = append(pop, randoms...)
	for _, c := range pop {
		if err := c.CheckStoichiometry(g.cfg.Stoich); err != nil {
			return nil, err
		}
	}

	g.evaluate(ctx, pop)

	evaluated := pop[:0]
	for _, c := range pop {
		if c.Evaluated {
			evaluated = append(evaluated, c)
		}
	}
	if len(evaluated) == 0 {
		return nil, errors.New("no cluster of the initial population evaluated successfully")
	}
	rank(evaluated)
	return evaluated, nil
}

// breed fills the non-elite slots with crossover and mutation offspring.
func (g *GA) breed(pop []*cluster.Cluster, pMut float64) []*cluster.Cluster {
	want := g.cfg.PopulationSize - min(g.cfg.EliteCount, len(pop))
	children := make([]*cluster.Cluster, 0, want)

	budget := want * 50
	for len(children) < want && budget > 0 {
		budget--

		p1 := g.tournament(pop)
		p2 := g.tournament(pop)

		var child *cluster.Cluster
		if g.rng.Float64() < g.cfg.CrossoverRate {
			crossed, err := op.CutSplice(p1, p2, g.cfg.Stoich, g.cfg.Table, g.rng)
			if err == nil {
				child = crossed
			}
		}
		if child == nil {
			// Crossover skipped or infeasible: clone a parent and force
			// one mutation so the child is not an exact copy.
			mutant, err := g.mutator.Apply(p1, g.cfg.Table, g.rng)
			if err != nil {
				continue
			}
			child = mutant
		} else if g.rng.Float64() < pMut {
			mutant, err := g.mutator.Apply(child, g.cfg.Table, g.rng)
			if err == nil {
				child = mutant
			}
			// A rejected mutation keeps the unmutated child; the
			// attempt is simply wasted.
		}

		if child.Validate(g.cfg.Table) != nil {
			continue
		}
		children = append(children, child)
	}

	return children
}

// tournament samples TournamentK individuals uniformly and returns the
// lowest-energy one.
func (g *GA) tournament(pop []*cluster.Cluster) *cluster.Cluster {
	best := pop[g.rng.Intn(len(pop))]
	for i := 1; i < g.cfg.TournamentK; i++ {
		cand := pop[g.rng.Intn(len(pop))]
		if cand.Energy < best.Energy {
			best = cand
		}
	}
	return best
}

// evaluate submits every unevaluated cluster as one batch and folds the
// outcomes back in.
func (g *GA) evaluate(ctx context.Context, batch []*cluster.Cluster) {
	tasks := make([]eval.Task, 0, len(batch))
	for i, c := range batch {
		if !c.Evaluated {
			tasks = append(tasks, eval.Task{ID: i, Cluster: c})
		}
	}
	if len(tasks) == 0 {
		return
	}

	for _, res := range g.pool.Submit(ctx, tasks) {
		g.totalEvals++
		applyOutcome(batch[res.ID], res.Outcome)
	}
}

// refill tops a short population back up: first with heavily mutated
// survivors (forced into new basins but starting from good energy), then
// with fresh randoms if packing room remains.
func (g *GA) refill(ctx context.Context, pop []*cluster.Cluster) []*cluster.Cluster {
	need := g.cfg.PopulationSize - len(pop)
	if need <= 0 {
		return pop
	}

	var fresh []*cluster.Cluster
	if len(pop) > 0 {
		for i := 0; len(fresh) < need && i < need*2; i++ {
			parent := pop[i%len(pop)]
			mutant, err := op.HeavyMutate(parent, g.cfg.Table, g.rng)
			if err != nil {
				continue
			}
			fresh = append(fresh, mutant)
		}
	}
	for len(fresh) < need {
		c, err := cluster.NewRandom(g.cfg.Stoich, g.cfg.Box, g.cfg.Table, g.rng)
		if err != nil {
			break
		}
		fresh = append(fresh, c)
	}

	g.evaluate(ctx, fresh)
	for _, c := range fresh {
		if c.Evaluated {
			pop = append(pop, c)
		}
	}
	return pop
}

// extinction replaces the worst ExtinctionFraction of the population
// with fresh random clusters, evaluated immediately.
func (g *GA) extinction(ctx context.Context, pop []*cluster.Cluster) []*cluster.Cluster {
	keep := len(pop) - int(float64(len(pop))*g.cfg.ExtinctionFraction)
	if keep < g.cfg.EliteCount {
		keep = min(g.cfg.EliteCount, len(pop))
	}
	pop = pop[:keep]

	var fresh []*cluster.Cluster
	for len(pop)+len(fresh) < g.cfg.PopulationSize {
		c, err := cluster.NewRandom(g.cfg.Stoich, g.cfg.Box, g.cfg.Table, g.rng)
		if err != nil {
			break
		}
		fresh = append(fresh, c)
	}

	g.evaluate(ctx, fresh)
	for _, c := range fresh {
		if c.Evaluated {
			pop = append(pop, c)
		}
	}
	return pop
}

// publish pushes the per-generation snapshot into the mailbox.
func (g *GA) publish(gen int, pop []*cluster.Cluster, diversity, pMut float64, start time.Time) {
	mean := 0.0
	for _, c := range pop {
		mean += c.Energy
	}
	mean /= float64(len(pop))

	elapsed := time.Since(start).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(g.totalEvals) / elapsed
	}

	g.cfg.Mailbox.Publish(Stats{
		Generation:   gen,
		BestEnergy:   pop[0].Energy,
		MeanEnergy:   mean,
		WorstEnergy:  pop[len(pop)-1].Energy,
		Diversity:    diversity,
		MutationRate: pMut,
		ValidCount:   len(pop),
		PopSize:      len(pop),
		TotalEvals:   g.totalEvals,
		EvalsPerSec:  rate,
	})
}
