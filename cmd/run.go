package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/clusterfit/internal/chem"
	"github.com/cwbudde/clusterfit/internal/eval"
	"github.com/cwbudde/clusterfit/internal/solver"
	"github.com/cwbudde/clusterfit/internal/store"
)

var (
	algo               string
	atoms              int
	workers            int
	boxSize            float64
	seed               int64
	popSize            int
	generations        int
	bhSteps            int
	temperature        float64
	useMock            bool
	outPath            string
	runDataDir         string
	checkpointInterval int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single cluster search",
	Long: `Runs a genetic-algorithm or basin-hopping search for the lowest-energy
cluster and writes the best structure found.`,
	RunE: runSearch,
}

func init() {
	runCmd.Flags().StringVar(&algo, "algo", "ga", "Algorithm: ga, bh")
	runCmd.Flags().IntVar(&atoms, "atoms", 12, "Number of atoms in the cluster")
	runCmd.Flags().IntVar(&workers, "workers", 4, "Parallel evaluator workers")
	runCmd.Flags().Float64Var(&boxSize, "box", 6.0, "Initial box half-extent (Angstrom)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed")
	runCmd.Flags().IntVar(&popSize, "pop", 24, "Population size (ga)")
	runCmd.Flags().IntVar(&generations, "generations", 1000, "Max generations (ga)")
	runCmd.Flags().IntVar(&bhSteps, "steps", 1000, "Max steps (bh)")
	runCmd.Flags().Float64Var(&temperature, "temp", 300.0, "Initial temperature in K (bh)")
	runCmd.Flags().BoolVar(&useMock, "mock", false, "Use the in-memory mock evaluator instead of the external relaxer")
	runCmd.Flags().StringVar(&outPath, "out", "best.xyz", "Output structure path")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "Directory for checkpoints and traces (empty = disabled)")
	runCmd.Flags().IntVar(&checkpointInterval, "checkpoint-interval", 0, "Not used: with --data-dir, run writes one checkpoint when the search ends")

	rootCmd.AddCommand(runCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if algo != "ga" && algo != "bh" {
		return fmt.Errorf("%w: unknown algorithm %q", errUsage, algo)
	}
	if atoms < 2 {
		return fmt.Errorf("%w: need at least 2 atoms, got %d", errBadSystem, atoms)
	}

	species := chem.MgO()
	stoich := chem.SplitEven(atoms)
	if stoich.Total() != atoms {
		return fmt.Errorf("%w: %d atoms cannot realize the target composition", errBadSystem, atoms)
	}
	table := chem.NewCollisionTable(species, chem.DefaultCollisionScale)

	var evaluator eval.Evaluator
	if useMock {
		evaluator = &eval.Mock{}
	} else {
		gulp := eval.NewGulp("gulp", eval.DefaultPotential, species)
		if err := gulp.Preflight(); err != nil {
			return err
		}
		evaluator = gulp
	}
	pool := eval.NewPool(workers, evaluator)

	slog.Info("Starting search",
		"algo", algo,
		"atoms", atoms,
		"workers", workers,
		"box", boxSize,
		"seed", seed,
		"evaluator", evaluator.Name(),
	)

	stop := &atomic.Bool{}
	mailbox := &solver.Mailbox{}

	cfg := solver.Config{
		Species:        species,
		Stoich:         stoich,
		Table:          table,
		Box:            boxSize,
		Seed:           seed,
		PopulationSize: popSize,
		Generations:    generations,
		Steps:          bhSteps,
		Temperature:    temperature,
		Stop:           stop,
		Mailbox:        mailbox,
	}
	if useMock {
		// Mock energies are unitless; pair them with a unitless
		// temperature scale.
		cfg.Boltzmann = 1.0
		cfg.Temperature = 1.0
	}

	var search solver.Solver
	if algo == "bh" {
		search = solver.NewBH(cfg, pool)
	} else {
		search = solver.NewGA(cfg, pool)
	}

	// Ctrl-C trips the stop flag; the solver winds down at the next
	// generation boundary and still reports its best structure.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		stop.Store(true)
	}()

	jobID := uuid.New().String()
	persistDone := startPersistence(ctx, mailbox, jobID)

	start := time.Now()
	result, err := search.Run(ctx)
	elapsed := time.Since(start)
	close(persistDone)

	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	records := toAtomRecords(result.Best, species)
	comment := fmt.Sprintf("energy %.6f  algo %s  seed %d", result.Best.Energy, algo, seed)
	if err := store.WriteXYZ(outPath, comment, records); err != nil {
		return fmt.Errorf("failed to write structure: %w", err)
	}

	if runDataDir != "" {
		checkpointStore, err := store.NewFSStore(runDataDir)
		if err == nil {
			checkpoint := store.NewCheckpoint(jobID, records, result.Best.Energy, result.Generations, result.TotalEvals, store.JobConfig{
				Algo:        algo,
				Atoms:       atoms,
				Workers:     workers,
				Box:         boxSize,
				PopSize:     popSize,
				Generations: generations,
				Steps:       bhSteps,
				Seed:        seed,
				Mock:        useMock,
			})
			if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
				slog.Warn("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}

	rate := float64(result.TotalEvals) / elapsed.Seconds()
	slog.Info("Search complete",
		"elapsed", elapsed,
		"generations", result.Generations,
		"total_evals", result.TotalEvals,
		"best_energy", result.Best.Energy,
		"stopped", result.Stopped,
	)

	fmt.Printf("Wrote %s (energy %.6f, %s evaluations in %s, %.1f evals/sec)\n",
		outPath,
		result.Best.Energy,
		humanize.Comma(int64(result.TotalEvals)),
		elapsed.Round(time.Millisecond),
		rate,
	)

	return nil
}

// startPersistence samples the mailbox into a trace file when a data
// directory is configured. Returns a channel the caller closes to stop.
func startPersistence(ctx context.Context, mailbox *solver.Mailbox, jobID string) chan struct{} {
	done := make(chan struct{})
	if runDataDir == "" {
		return done
	}

	trace, err := store.NewTraceWriter(runDataDir, jobID, false)
	if err != nil {
		slog.Warn("Trace disabled", "error", err)
		return done
	}

	go func() {
		defer trace.Close()
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		lastGen := -1
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := mailbox.Latest()
				if stats == nil || stats.Generation == lastGen {
					continue
				}
				lastGen = stats.Generation
				trace.Write(store.TraceEntry{
					Generation: stats.Generation,
					BestEnergy: stats.BestEnergy,
					MeanEnergy: stats.MeanEnergy,
					Diversity:  stats.Diversity,
					Timestamp:  time.Now(),
				})
			}
		}
	}()
	return done
}
