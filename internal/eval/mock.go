package eval

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/cwbudde/clusterfit/internal/cluster"
)

// EnergyFunc scores a geometry in closed form.
type EnergyFunc func(positions []cluster.Vec3) float64

// SumSquares is the default mock objective: the sum of squared distances
// from the origin. Compact, centered structures score lowest.
func SumSquares(positions []cluster.Vec3) float64 {
	total := 0.0
	for _, p := range positions {
		total += p.NormSq()
	}
	return total
}

// Mock is a deterministic in-memory evaluator for tests and dry runs.
// The energy comes from a caller-provided closed-form function; the
// "relaxed" geometry is the input geometry unchanged (or the output of
// an optional Relax hook).
type Mock struct {
	// Fn scores a geometry. Defaults to SumSquares when nil.
	Fn EnergyFunc

	// Relax optionally maps input positions to relaxed positions.
	Relax func(positions []cluster.Vec3) []cluster.Vec3

	// Latency is slept per call to emulate an expensive backend.
	Latency time.Duration

	// FailPercent in [0,100] makes that share of inputs report
	// NonConverged, selected by a deterministic hash of the geometry so
	// a given cluster always behaves the same way.
	FailPercent int
}

// Name implements Evaluator.
func (m *Mock) Name() string { return "mock" }

// Evaluate implements Evaluator.
func (m *Mock) Evaluate(ctx context.Context, c *cluster.Cluster) Outcome {
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return Outcome{Kind: Cancelled}
		}
	} else if ctx.Err() != nil {
		return Outcome{Kind: Cancelled}
	}

	positions := c.Positions()

	if m.FailPercent > 0 && int(geometryHash(positions)%100) < m.FailPercent {
		return Outcome{Kind: NonConverged}
	}

	if m.Relax != nil {
		positions = m.Relax(positions)
	}

	fn := m.Fn
	if fn == nil {
		fn = SumSquares
	}

	return Outcome{
		Kind:      Relaxed,
		Positions: positions,
		Energy:    fn(positions),
	}
}

// geometryHash folds the coordinate bits into a stable 64-bit hash.
func geometryHash(positions []cluster.Vec3) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	write := func(v float64) {
		bits := math.Float64bits(v)
		for i := 0; i < 8; i++ {
			buf[i] = byte(bits >> (8 * i))
		}
		h.Write(buf[:])
	}
	for _, p := range positions {
		write(p.X)
		write(p.Y)
		write(p.Z)
	}
	return h.Sum64()
}
