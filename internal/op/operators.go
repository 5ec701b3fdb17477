// Package op holds the structure-generating operators: random
// initialization, cut-and-splice crossover, and the mutation set. All
// operators preserve stoichiometry and the pairwise separation invariant;
// a failed application reports an error and leaves its inputs untouched.
package op

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/clusterfit/internal/chem"
	"github.com/cwbudde/clusterfit/internal/cluster"
)

var (
	// ErrInfeasible means crossover repair ran out of budget; the caller
	// falls back to cloning and mutating a parent.
	ErrInfeasible = errors.New("crossover infeasible")
)

const (
	// boxGrowthFactor and maxBoxGrowths bound the retry-with-larger-box
	// loop during population initialization.
	boxGrowthFactor = 1.1
	maxBoxGrowths   = 5

	// repairTrials bounds random re-placement attempts per missing atom.
	repairTrials = 100
)

// InitialPopulation builds size valid random clusters. When packing fails
// the box is grown by 10% and the cluster retried, up to maxBoxGrowths
// times, so dense stoichiometries still initialize instead of dying on
// the first tight box.
func InitialPopulation(size int, stoich chem.Stoichiometry, box float64, table *chem.CollisionTable, rng *rand.Rand) ([]*cluster.Cluster, error) {
	pop := make([]*cluster.Cluster, 0, size)
	for len(pop) < size {
		c, err := randomWithGrowth(stoich, box, table, rng)
		if err != nil {
			return nil, err
		}
		pop = append(pop, c)
	}
	return pop, nil
}

func randomWithGrowth(stoich chem.Stoichiometry, box float64, table *chem.CollisionTable, rng *rand.Rand) (*cluster.Cluster, error) {
	b := box
	for attempt := 0; attempt <= maxBoxGrowths; attempt++ {
		c, err := cluster.NewRandom(stoich, b, table, rng)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, cluster.ErrPackingFailure) {
			return nil, err
		}
		b *= boxGrowthFactor
	}
	return nil, fmt.Errorf("%w: box grew to %.2f without fitting %d atoms",
		cluster.ErrPackingFailure, b, stoich.Total())
}

// CutSplice performs cut-and-splice crossover: both parents are centered
// and randomly rotated, a random plane through the shared centroid splits
// them, and the child takes parent A's atoms above the plane plus parent
// B's atoms below it. The resulting multiset rarely matches the target
// stoichiometry, so the child is repaired: excess-species atoms are
// deleted at random and missing-species atoms are re-placed at random
// inside the child's bounding region, respecting the separation
// invariant. Returns ErrInfeasible when repair runs out of budget.
func CutSplice(a, b *cluster.Cluster, stoich chem.Stoichiometry, table *chem.CollisionTable, rng *rand.Rand) (*cluster.Cluster, error) {
	if len(a.Atoms) != len(b.Atoms) {
		return nil, fmt.Errorf("%w: parent sizes %d and %d", ErrInfeasible, len(a.Atoms), len(b.Atoms))
	}
	if len(a.Atoms) < 2 {
		return nil, fmt.Errorf("%w: parents too small", ErrInfeasible)
	}

	left := randomlyOriented(a, rng)
	right := randomlyOriented(b, rng)

	normal := cluster.RandomUnitVec(rng.Float64)

	child := cluster.New("crossover")
	for _, atom := range left {
		if atom.Position.Dot(normal) >= 0 {
			child.Atoms = append(child.Atoms, atom)
		}
	}
	for _, atom := range right {
		if atom.Position.Dot(normal) < 0 {
			child.Atoms = append(child.Atoms, atom)
		}
	}

	if err := repair(child, stoich, table, rng); err != nil {
		return nil, err
	}

	child.Center()
	child.Status = cluster.StatusValid
	return child, nil
}

// randomlyOriented returns a centered, randomly rotated copy of the
// parent's atoms.
func randomlyOriented(c *cluster.Cluster, rng *rand.Rand) []cluster.Atom {
	center := c.Centroid()
	axis := cluster.RandomUnitVec(rng.Float64)
	angle := rng.Float64() * 2 * math.Pi

	atoms := make([]cluster.Atom, len(c.Atoms))
	for i, a := range c.Atoms {
		atoms[i] = cluster.Atom{
			Species:  a.Species,
			Position: a.Position.Sub(center).RotateAbout(axis, angle),
		}
	}
	return atoms
}

// repair brings the child's atom multiset back to the target: overlapping
// and excess atoms are dropped first, then every deficit is filled by
// random placement inside the child's bounding region.
func repair(child *cluster.Cluster, stoich chem.Stoichiometry, table *chem.CollisionTable, rng *rand.Rand) error {
	dropOverlaps(child, table)

	counts := child.CountSpecies(len(stoich))
	for id := range stoich {
		for counts[id] > stoich[id] {
			victims := indicesOfSpecies(child.Atoms, id)
			idx := victims[rng.Intn(len(victims))]
			child.Atoms = append(child.Atoms[:idx], child.Atoms[idx+1:]...)
			counts[id]--
		}
	}

	radius := boundingRadius(child.Atoms) + table.MaxSigma()
	grid := cluster.NewGrid(radius, table.MaxSigma())
	for i, atom := range child.Atoms {
		if err := grid.Insert(i, atom.Position); err != nil {
			return fmt.Errorf("%w: %v", ErrInfeasible, err)
		}
	}

	for id := range stoich {
		for counts[id] < stoich[id] {
			pos, ok := placeNear(child.Atoms, grid, table, id, radius, rng)
			if !ok {
				return fmt.Errorf("%w: no room for species %d", ErrInfeasible, id)
			}
			if err := grid.Insert(len(child.Atoms), pos); err != nil {
				return fmt.Errorf("%w: %v", ErrInfeasible, err)
			}
			child.Atoms = append(child.Atoms, cluster.Atom{Species: id, Position: pos})
			counts[id]++
		}
	}

	return child.Validate(table)
}

// dropOverlaps greedily removes the later atom of every violating pair.
// Removals become deficits that repair fills by re-placement.
func dropOverlaps(child *cluster.Cluster, table *chem.CollisionTable) {
	kept := child.Atoms[:0]
	for _, atom := range child.Atoms {
		ok := true
		for _, other := range kept {
			if cluster.DistanceSq(atom.Position, other.Position) < table.SigmaSq(atom.Species, other.Species) {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, atom)
		}
	}
	child.Atoms = kept
}

func indicesOfSpecies(atoms []cluster.Atom, species int) []int {
	var out []int
	for i, a := range atoms {
		if a.Species == species {
			out = append(out, i)
		}
	}
	return out
}

func boundingRadius(atoms []cluster.Atom) float64 {
	r := 0.0
	for _, a := range atoms {
		if n := a.Position.Norm(); n > r {
			r = n
		}
	}
	if r == 0 {
		r = 1
	}
	return r
}

func placeNear(atoms []cluster.Atom, grid *cluster.Grid, table *chem.CollisionTable, species int, radius float64, rng *rand.Rand) (cluster.Vec3, bool) {
	for trial := 0; trial < repairTrials; trial++ {
		pos := cluster.Vec3{
			X: (2*rng.Float64() - 1) * radius,
			Y: (2*rng.Float64() - 1) * radius,
			Z: (2*rng.Float64() - 1) * radius,
		}

		clash := false
		for _, idx := range grid.Neighbors(pos, table.MaxSigma()) {
			other := atoms[idx]
			if cluster.DistanceSq(pos, other.Position) < table.SigmaSq(species, other.Species) {
				clash = true
				break
			}
		}
		if !clash {
			return pos, true
		}
	}
	return cluster.Vec3{}, false
}
