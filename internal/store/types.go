package store

import (
	"fmt"
	"time"
)

// JobConfig holds the configuration of a search job (checkpoint copy).
// Kept here rather than in the server package to avoid import cycles.
type JobConfig struct {
	Algo               string  `json:"algo"` // ga, bh
	Atoms              int     `json:"atoms"`
	Workers            int     `json:"workers"`
	Box                float64 `json:"box"`
	PopSize            int     `json:"popSize,omitempty"`
	Generations        int     `json:"generations,omitempty"`
	Steps              int     `json:"steps,omitempty"`
	Seed               int64   `json:"seed"`
	Mock               bool    `json:"mock,omitempty"`
	CheckpointInterval int     `json:"checkpointInterval,omitempty"` // seconds, 0 = disabled
}

// AtomRecord is one atom of a persisted structure.
type AtomRecord struct {
	Symbol string  `json:"symbol"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Z      float64 `json:"z"`
}

// Checkpoint is a resumable snapshot of a search. It persists the best
// structure found so far, not the solver's internal population or walker
// state: resuming reinitializes the search around the saved structure, so
// the best energy never regresses while the checkpoint stays small and
// independent of which solver produced it.
type Checkpoint struct {
	JobID      string       `json:"jobId"`
	BestAtoms  []AtomRecord `json:"bestAtoms"`
	BestEnergy float64      `json:"bestEnergy"`
	Generation int          `json:"generation"`
	TotalEvals int          `json:"totalEvals"`
	Timestamp  time.Time    `json:"timestamp"`
	Config     JobConfig    `json:"config"`
}

// CheckpointInfo is checkpoint metadata without the structure payload,
// for cheap listings.
type CheckpointInfo struct {
	JobID      string    `json:"jobId"`
	BestEnergy float64   `json:"bestEnergy"`
	Generation int       `json:"generation"`
	Timestamp  time.Time `json:"timestamp"`
	Algo       string    `json:"algo"`
	Atoms      int       `json:"atoms"`
}

// NewCheckpoint builds a checkpoint from runtime job state.
func NewCheckpoint(jobID string, bestAtoms []AtomRecord, bestEnergy float64, generation, totalEvals int, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:      jobID,
		BestAtoms:  bestAtoms,
		BestEnergy: bestEnergy,
		Generation: generation,
		TotalEvals: totalEvals,
		Timestamp:  time.Now(),
		Config:     config,
	}
}

// ToInfo strips the structure payload.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:      c.JobID,
		BestEnergy: c.BestEnergy,
		Generation: c.Generation,
		Timestamp:  c.Timestamp,
		Algo:       c.Config.Algo,
		Atoms:      c.Config.Atoms,
	}
}

// Validate checks required checkpoint fields.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.BestAtoms) == 0 {
		return &ValidationError{Field: "BestAtoms", Reason: "cannot be empty"}
	}
	if c.Generation < 0 {
		return &ValidationError{Field: "Generation", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Algo == "" {
		return &ValidationError{Field: "Config.Algo", Reason: "cannot be empty"}
	}
	if c.Config.Atoms <= 0 {
		return &ValidationError{Field: "Config.Atoms", Reason: "must be positive"}
	}
	if len(c.BestAtoms) != c.Config.Atoms {
		return &ValidationError{
			Field:  "BestAtoms",
			Reason: fmt.Sprintf("length mismatch: %d atoms saved, config says %d", len(c.BestAtoms), c.Config.Atoms),
		}
	}
	return nil
}

// ValidationError reports an invalid checkpoint field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether a checkpoint can seed a new run with the
// given config: the solver may change between runs, but the atom count
// must match for the saved structure to be usable.
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	if c.Config.Atoms != config.Atoms {
		return &CompatibilityError{
			Field:    "Atoms",
			Expected: fmt.Sprintf("%d", c.Config.Atoms),
			Actual:   fmt.Sprintf("%d", config.Atoms),
		}
	}
	return nil
}

// CompatibilityError reports a checkpoint/config mismatch on resume.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
