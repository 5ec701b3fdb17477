package cluster

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Fingerprint returns a permutation- and rotation-invariant signature: the
// histogram of all pairwise distances, binned over [0, rMax) and normalized
// to unit mass. Distances at or beyond rMax land in the last bin so the
// signature keeps unit mass for sprawling geometries.
//
// The result is cached until the geometry changes; callers must use one
// (bins, rMax) setting per run.
func (c *Cluster) Fingerprint(bins int, rMax float64) []float64 {
	if c.fingerprint != nil {
		return c.fingerprint
	}

	hist := make([]float64, bins)
	n := len(c.Atoms)
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := math.Sqrt(DistanceSq(c.Atoms[i].Position, c.Atoms[j].Position))
			bin := int(d / rMax * float64(bins))
			if bin >= bins {
				bin = bins - 1
			}
			hist[bin]++
			pairs++
		}
	}
	if pairs > 0 {
		floats.Scale(1/float64(pairs), hist)
	}

	c.fingerprint = hist
	return hist
}

// FingerprintDistance is the L2 distance between two signatures.
func FingerprintDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	return floats.Distance(a, b, 2)
}
