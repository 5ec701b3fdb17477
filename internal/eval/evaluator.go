// Package eval defines the relax-and-score contract between the solvers
// and the physics backend, plus the worker pool that fans evaluations out.
package eval

import (
	"context"

	"github.com/cwbudde/clusterfit/internal/cluster"
)

// OutcomeKind classifies the result of a single evaluation.
type OutcomeKind int

const (
	// Relaxed means the relaxer converged; Positions and Energy are set.
	Relaxed OutcomeKind = iota
	// NonConverged means the relaxer finished without reaching a minimum.
	NonConverged
	// Transient is a failure worth retrying with the same input
	// (subprocess crash, truncated output).
	Transient
	// Invalid means the input or the output is unusable; do not retry.
	Invalid
	// Cancelled means the surrounding run was stopped before or during
	// this evaluation.
	Cancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case Relaxed:
		return "relaxed"
	case NonConverged:
		return "non-converged"
	case Transient:
		return "transient"
	case Invalid:
		return "invalid"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the result of one evaluation.
type Outcome struct {
	Kind OutcomeKind

	// Set when Kind == Relaxed.
	Positions []cluster.Vec3
	Energy    float64
	GradNorm  float64

	// Set when Kind == Transient.
	Retryable bool

	// Set when Kind == Invalid or Transient.
	Reason string
}

// Evaluator relaxes a cluster and scores it. Implementations must be pure
// with respect to their input (no shared state across calls) and safe to
// invoke from many goroutines concurrently. A call is expected to be
// expensive (seconds of wall clock for a real relaxer).
type Evaluator interface {
	Evaluate(ctx context.Context, c *cluster.Cluster) Outcome
	Name() string
}
