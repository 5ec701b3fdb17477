package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/clusterfit/internal/chem"
	"github.com/cwbudde/clusterfit/internal/cluster"
	"github.com/cwbudde/clusterfit/internal/eval"
	"github.com/cwbudde/clusterfit/internal/solver"
	"github.com/cwbudde/clusterfit/internal/store"
)

// runJob executes a search job in the background. When checkpointStore is
// not nil and the job enables checkpointing, periodic checkpoints are
// saved alongside the best structure.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	}); err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "algo", job.Config.Algo, "atoms", job.Config.Atoms)

	species := chem.MgO()
	stoich := chem.SplitEven(job.Config.Atoms)
	table := chem.NewCollisionTable(species, chem.DefaultCollisionScale)

	var evaluator eval.Evaluator
	if job.Config.Mock {
		evaluator = &eval.Mock{}
	} else {
		gulp := eval.NewGulp("gulp", eval.DefaultPotential, species)
		if err := gulp.Preflight(); err != nil {
			markJobFailed(jm, jobID, err)
			return err
		}
		evaluator = gulp
	}
	pool := eval.NewPool(job.Config.Workers, evaluator)

	mailbox := &solver.Mailbox{}
	cfg := solver.Config{
		Species:        species,
		Stoich:         stoich,
		Table:          table,
		Box:            job.Config.Box,
		Seed:           job.Config.Seed,
		PopulationSize: job.Config.PopSize,
		Generations:    job.Config.Generations,
		Steps:          job.Config.Steps,
		Stop:           job.stop,
		Mailbox:        mailbox,
	}
	if job.Config.Mock {
		// Mock energies are unitless; an eV-per-kelvin Boltzmann factor
		// would freeze the walker.
		cfg.Boltzmann = 1.0
		cfg.Temperature = 1.0
	}

	var search solver.Solver
	switch job.Config.Algo {
	case "bh":
		search = solver.NewBH(cfg, pool)
	case "", "ga":
		search = solver.NewGA(cfg, pool)
	default:
		err := fmt.Errorf("unknown algorithm: %s", job.Config.Algo)
		markJobFailed(jm, jobID, err)
		return err
	}

	// Progress and checkpoint monitors follow the mailbox while the
	// solver runs.
	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, mailbox, jobID, progressDone)

	checkpointDone := make(chan struct{})
	if checkpointStore != nil && job.Config.CheckpointInterval > 0 {
		go monitorCheckpoints(ctx, jm, checkpointStore, species, jobID, checkpointDone)
	} else {
		close(checkpointDone)
	}

	result, err := search.Run(ctx)
	close(progressDone)
	if checkpointStore != nil && job.Config.CheckpointInterval > 0 {
		close(checkpointDone)
	}

	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	endTime := time.Now()
	state := StateCompleted
	if result.Stopped {
		state = StateCancelled
	}
	bestAtoms := atomRecords(result.Best, species)

	if err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = state
		j.BestEnergy = result.Best.Energy
		j.BestAtoms = bestAtoms
		j.Generation = result.Generations
		j.TotalEvals = result.TotalEvals
		j.EndTime = &endTime
	}); err != nil {
		return err
	}

	slog.Info("Job finished",
		"job_id", jobID,
		"state", state,
		"best_energy", result.Best.Energy,
		"generations", result.Generations,
		"total_evals", result.TotalEvals,
	)

	if checkpointStore != nil {
		checkpoint := store.NewCheckpoint(jobID, bestAtoms, result.Best.Energy, result.Generations, result.TotalEvals, job.Config)
		if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
			slog.Warn("Failed to save final checkpoint", "job_id", jobID, "error", err)
		}
	}

	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     state,
		Stats:     latestOrFinal(mailbox, result),
		Timestamp: time.Now(),
	})

	return nil
}

// latestOrFinal prefers the solver's last snapshot, falling back to a
// synthetic one built from the result.
func latestOrFinal(mailbox *solver.Mailbox, result *solver.Result) solver.Stats {
	if s := mailbox.Latest(); s != nil {
		return *s
	}
	return solver.Stats{
		Generation: result.Generations,
		BestEnergy: result.Best.Energy,
		TotalEvals: result.TotalEvals,
	}
}

// atomRecords flattens a cluster for persistence and API responses.
func atomRecords(c *cluster.Cluster, species []chem.Species) []store.AtomRecord {
	out := make([]store.AtomRecord, len(c.Atoms))
	for i, a := range c.Atoms {
		symbol := "X"
		if a.Species >= 0 && a.Species < len(species) {
			symbol = species[a.Species].Symbol
		}
		out[i] = store.AtomRecord{
			Symbol: symbol,
			X:      a.Position.X,
			Y:      a.Position.Y,
			Z:      a.Position.Z,
		}
	}
	return out
}

// monitorProgress mirrors mailbox snapshots into job state and SSE
// events, throttled to two updates per second.
func monitorProgress(ctx context.Context, jm *JobManager, mailbox *solver.Mailbox, jobID string, done chan struct{}) {
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

			jm.UpdateJob(jobID, func(j *Job) {
				j.Generation = stats.Generation
				j.BestEnergy = stats.BestEnergy
				j.TotalEvals = stats.TotalEvals
			})

			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			jm.broadcaster.Broadcast(ProgressEvent{
				JobID:     jobID,
				State:     job.State,
				Stats:     *stats,
				Timestamp: time.Now(),
			})
		}
	}
}

// monitorCheckpoints periodically saves checkpoints during a run.
func monitorCheckpoints(ctx context.Context, jm *JobManager, checkpointStore store.Store, species []chem.Species, jobID string, done chan struct{}) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}

	interval := time.Duration(job.Config.CheckpointInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveCheckpoint(jm, checkpointStore, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}
}

// saveCheckpoint persists the job's current best structure.
func saveCheckpoint(jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if len(job.BestAtoms) == 0 && job.Generation == 0 {
		slog.Debug("Skipping checkpoint, no progress yet", "job_id", jobID)
		return nil
	}

	checkpoint := store.NewCheckpoint(jobID, job.BestAtoms, job.BestEnergy, job.Generation, job.TotalEvals, job.Config)
	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved", "job_id", jobID, "generation", job.Generation, "best_energy", job.BestEnergy)
	return nil
}

// markJobFailed marks a job as failed with an error message.
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}
