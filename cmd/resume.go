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
	"github.com/spf13/cobra"

	"github.com/cwbudde/clusterfit/internal/chem"
	"github.com/cwbudde/clusterfit/internal/eval"
	"github.com/cwbudde/clusterfit/internal/solver"
	"github.com/cwbudde/clusterfit/internal/store"
)

var resumeDataDir string

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume a search from a checkpoint",
	Long: `Loads the checkpoint of a previous run and continues the search seeded
with its best structure. The solver population is rebuilt, so the search is
not a bit-exact continuation, but the best energy never regresses.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	checkpointStore, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	checkpoint, err := checkpointStore.LoadCheckpoint(jobID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("corrupt checkpoint: %w", err)
	}

	cfg := checkpoint.Config
	slog.Info("Resuming search",
		"job_id", jobID,
		"algo", cfg.Algo,
		"atoms", cfg.Atoms,
		"checkpoint_energy", checkpoint.BestEnergy,
		"checkpoint_generation", checkpoint.Generation,
	)

	species := chem.MgO()
	stoich := chem.SplitEven(cfg.Atoms)
	table := chem.NewCollisionTable(species, chem.DefaultCollisionScale)

	seedCluster, err := fromAtomRecords(checkpoint.BestAtoms, species, "resume")
	if err != nil {
		return err
	}
	if err := seedCluster.CheckStoichiometry(stoich); err != nil {
		return fmt.Errorf("%w: checkpoint structure does not match composition: %v", errBadSystem, err)
	}
	seedCluster.SetEnergy(checkpoint.BestEnergy, 0)

	var evaluator eval.Evaluator
	if cfg.Mock {
		evaluator = &eval.Mock{}
	} else {
		gulp := eval.NewGulp("gulp", eval.DefaultPotential, species)
		if err := gulp.Preflight(); err != nil {
			return err
		}
		evaluator = gulp
	}
	pool := eval.NewPool(cfg.Workers, evaluator)

	stop := &atomic.Bool{}
	mailbox := &solver.Mailbox{}

	solverCfg := solver.Config{
		Species:        species,
		Stoich:         stoich,
		Table:          table,
		Box:            cfg.Box,
		Seed:           cfg.Seed + int64(checkpoint.Generation), // fresh stream past the saved run
		InitialCluster: seedCluster,
		PopulationSize: cfg.PopSize,
		Generations:    cfg.Generations,
		Steps:          cfg.Steps,
		Stop:           stop,
		Mailbox:        mailbox,
	}
	if cfg.Mock {
		solverCfg.Boltzmann = 1.0
		solverCfg.Temperature = 1.0
	}

	var search solver.Solver
	if cfg.Algo == "bh" {
		search = solver.NewBH(solverCfg, pool)
	} else {
		search = solver.NewGA(solverCfg, pool)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		stop.Store(true)
	}()

	start := time.Now()
	result, err := search.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return fmt.Errorf("resumed search failed: %w", err)
	}

	records := toAtomRecords(result.Best, species)
	totalGen := checkpoint.Generation + result.Generations
	updated := store.NewCheckpoint(jobID, records, result.Best.Energy, totalGen, checkpoint.TotalEvals+result.TotalEvals, cfg)
	if err := checkpointStore.SaveCheckpoint(jobID, updated); err != nil {
		return fmt.Errorf("failed to update checkpoint: %w", err)
	}
	if err := store.WriteXYZ(store.BestXYZPath(resumeDataDir, jobID), fmt.Sprintf("energy %.6f", result.Best.Energy), records); err != nil {
		slog.Warn("Failed to write best structure", "error", err)
	}

	fmt.Printf("Resumed %s: energy %.6f -> %.6f (%s evaluations in %s)\n",
		jobID,
		checkpoint.BestEnergy,
		result.Best.Energy,
		humanize.Comma(int64(result.TotalEvals)),
		elapsed.Round(time.Millisecond),
	)

	return nil
}
