package cluster

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// TopologyKey builds a composite structural key for exact duplicate
// detection:
//
//   - the eigenvalue spectrum of the bond adjacency graph (two atoms are
//     bonded when closer than cutoff), which pins down connectivity, and
//   - the principal moments of inertia at unit mass, which pin down the
//     overall shape (sphere vs rod vs disc).
//
// Connectivity alone confuses distinct shapes with equal graphs; shape
// alone confuses isomers. The combination keeps false positives rare.
// The key is cached until the geometry changes.
func (c *Cluster) TopologyKey(cutoff float64) string {
	if c.topoKey != "" {
		return c.topoKey
	}

	n := len(c.Atoms)
	if n == 0 {
		return "EMPTY"
	}
	if cutoff <= 0 {
		return "INVALID_RADIUS"
	}
	for _, a := range c.Atoms {
		if a.Position.IsNaN() {
			return "NAN_COORDS"
		}
	}

	adj := mat.NewSymDense(n, nil)
	cutoffSq := cutoff * cutoff
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if DistanceSq(c.Atoms[i].Position, c.Atoms[j].Position) < cutoffSq {
				adj.SetSym(i, j, 1)
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(adj, false) {
		return "INVALID"
	}
	spectrum := eig.Values(nil)
	sort.Sort(sort.Reverse(sort.Float64Slice(spectrum)))

	pmoi := c.principalMoments()

	var b strings.Builder
	b.WriteString("GS:[")
	for i, v := range spectrum {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%.3f", v)
	}
	fmt.Fprintf(&b, "]|PMOI:[%.2f;%.2f;%.2f]", pmoi[0], pmoi[1], pmoi[2])

	c.topoKey = b.String()
	return c.topoKey
}

// principalMoments returns the sorted eigenvalues of the inertia tensor
// computed at unit mass, a purely geometric shape descriptor independent
// of the species assignment.
func (c *Cluster) principalMoments() [3]float64 {
	n := len(c.Atoms)
	if n < 2 {
		return [3]float64{}
	}

	center := c.Centroid()
	tensor := mat.NewSymDense(3, nil)
	for _, a := range c.Atoms {
		r := a.Position.Sub(center)
		tensor.SetSym(0, 0, tensor.At(0, 0)+r.Y*r.Y+r.Z*r.Z)
		tensor.SetSym(1, 1, tensor.At(1, 1)+r.X*r.X+r.Z*r.Z)
		tensor.SetSym(2, 2, tensor.At(2, 2)+r.X*r.X+r.Y*r.Y)
		tensor.SetSym(0, 1, tensor.At(0, 1)-r.X*r.Y)
		tensor.SetSym(0, 2, tensor.At(0, 2)-r.X*r.Z)
		tensor.SetSym(1, 2, tensor.At(1, 2)-r.Y*r.Z)
	}

	var eig mat.EigenSym
	if !eig.Factorize(tensor, false) {
		return [3]float64{}
	}
	vals := eig.Values(nil)
	sort.Float64s(vals)
	return [3]float64{vals[0], vals[1], vals[2]}
}
