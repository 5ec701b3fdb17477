package cluster

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"

	"github.com/cwbudde/clusterfit/internal/chem"
)

// placementTrials bounds random placement attempts per atom.
const placementTrials = 100

// Status tracks where a cluster sits in its lifecycle.
type Status int

const (
	StatusBorn      Status = iota // just created, geometry unvalidated
	StatusValid                   // geometry checks passed
	StatusEvaluated               // relaxer returned an energy
	StatusDiscarded               // failed evaluation or validation
)

func (s Status) String() string {
	switch s {
	case StatusBorn:
		return "born"
	case StatusValid:
		return "valid"
	case StatusEvaluated:
		return "evaluated"
	case StatusDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Atom is a species reference plus a position. Positions are mutated only
// by operator and evaluator transforms.
type Atom struct {
	Species  int
	Position Vec3
}

// Cluster is an ordered sequence of atoms plus an energy slot. Energy is
// set only by an evaluator; every geometry change clears it.
type Cluster struct {
	ID         uuid.UUID
	Generation int
	Origin     string

	Atoms []Atom

	Energy    float64
	Evaluated bool
	GradNorm  float64
	Status    Status

	// caches, cleared on geometry change
	fingerprint []float64
	topoKey     string
}

// New creates an empty cluster tagged with its origin.
func New(origin string) *Cluster {
	return &Cluster{
		ID:     uuid.New(),
		Origin: origin,
		Status: StatusBorn,
	}
}

// NewRandom builds a cluster by random sequential adsorption inside the
// cube [-box, box]³: each atom is drawn uniformly and kept only if it
// clears the separation threshold against everything already placed.
// Returns ErrPackingFailure when an atom cannot be placed within the
// trial budget. The result is centered and marked valid.
func NewRandom(stoich chem.Stoichiometry, box float64, table *chem.CollisionTable, rng *rand.Rand) (*Cluster, error) {
	c := New("random")

	// Exact multiset of species to place, shuffled so the packing order
	// does not bias the topology.
	order := make([]int, 0, stoich.Total())
	for id, count := range stoich {
		for i := 0; i < count; i++ {
			order = append(order, id)
		}
	}
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	grid := NewGrid(box, table.MaxSigma())

	for _, speciesID := range order {
		placed := false
		for trial := 0; trial < placementTrials; trial++ {
			pos := Vec3{
				X: (2*rng.Float64() - 1) * box,
				Y: (2*rng.Float64() - 1) * box,
				Z: (2*rng.Float64() - 1) * box,
			}

			if !fitsAt(c.Atoms, grid, table, speciesID, pos) {
				continue
			}

			if err := grid.Insert(len(c.Atoms), pos); err != nil {
				continue
			}
			c.Atoms = append(c.Atoms, Atom{Species: speciesID, Position: pos})
			placed = true
			break
		}
		if !placed {
			return nil, fmt.Errorf("%w: %d of %d atoms placed (box %.2f)",
				ErrPackingFailure, len(c.Atoms), len(order), box)
		}
	}

	c.Center()
	c.Status = StatusValid
	return c, nil
}

// fitsAt reports whether a candidate atom clears the separation threshold
// against every existing atom near pos.
func fitsAt(atoms []Atom, grid *Grid, table *chem.CollisionTable, speciesID int, pos Vec3) bool {
	for _, idx := range grid.Neighbors(pos, table.MaxSigma()) {
		other := atoms[idx]
		if DistanceSq(pos, other.Position) < table.SigmaSq(speciesID, other.Species) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy with a fresh identity. Energy, caches and
// status carry over; callers that change geometry must invalidate.
func (c *Cluster) Clone() *Cluster {
	dup := *c
	dup.ID = uuid.New()
	dup.Atoms = make([]Atom, len(c.Atoms))
	copy(dup.Atoms, c.Atoms)
	if c.fingerprint != nil {
		dup.fingerprint = append([]float64(nil), c.fingerprint...)
	}
	return &dup
}

// invalidate clears evaluation state and analysis caches after any
// geometry change.
func (c *Cluster) invalidate() {
	c.Energy = 0
	c.Evaluated = false
	c.GradNorm = 0
	c.fingerprint = nil
	c.topoKey = ""
	if c.Status == StatusEvaluated {
		c.Status = StatusValid
	}
}

// SetEnergy records an evaluator result.
func (c *Cluster) SetEnergy(energy, gradNorm float64) {
	c.Energy = energy
	c.GradNorm = gradNorm
	c.Evaluated = true
	c.Status = StatusEvaluated
}

// SetPositions replaces the geometry with relaxed coordinates from an
// evaluator. The caller is responsible for setting the energy afterwards;
// atom count must match.
func (c *Cluster) SetPositions(positions []Vec3) error {
	if len(positions) != len(c.Atoms) {
		return fmt.Errorf("position count %d does not match atom count %d", len(positions), len(c.Atoms))
	}
	for i := range c.Atoms {
		c.Atoms[i].Position = positions[i]
	}
	c.invalidate()
	return nil
}

// Positions returns a copy of all atom positions in order.
func (c *Cluster) Positions() []Vec3 {
	out := make([]Vec3, len(c.Atoms))
	for i, a := range c.Atoms {
		out[i] = a.Position
	}
	return out
}

// Centroid returns the geometric center.
func (c *Cluster) Centroid() Vec3 {
	if len(c.Atoms) == 0 {
		return Vec3{}
	}
	var sum Vec3
	for _, a := range c.Atoms {
		sum = sum.Add(a.Position)
	}
	return sum.Scale(1 / float64(len(c.Atoms)))
}

// Center translates the cluster so its centroid sits at the origin.
// Centering is a rigid motion; it does not touch the energy.
func (c *Cluster) Center() {
	center := c.Centroid()
	for i := range c.Atoms {
		c.Atoms[i].Position = c.Atoms[i].Position.Sub(center)
	}
}

// CountSpecies tallies atoms per species ID.
func (c *Cluster) CountSpecies(numSpecies int) []int {
	counts := make([]int, numSpecies)
	for _, a := range c.Atoms {
		if a.Species >= 0 && a.Species < numSpecies {
			counts[a.Species]++
		}
	}
	return counts
}

// CheckStoichiometry verifies the atom multiset against the target.
func (c *Cluster) CheckStoichiometry(stoich chem.Stoichiometry) error {
	if len(c.Atoms) != stoich.Total() {
		return fmt.Errorf("%w: %d atoms, want %d", chem.ErrStoichiometry, len(c.Atoms), stoich.Total())
	}
	return stoich.Validate(c.CountSpecies(len(stoich)))
}

// Validate runs the pairwise separation check. Returns ErrOverlap naming
// the first violating pair. Atom counts in a run are small enough that the
// exact O(n²) sweep is the right tool; the grid accelerates the
// incremental placement paths instead.
func (c *Cluster) Validate(table *chem.CollisionTable) error {
	n := len(c.Atoms)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			limit := table.SigmaSq(c.Atoms[i].Species, c.Atoms[j].Species)
			if DistanceSq(c.Atoms[i].Position, c.Atoms[j].Position) < limit {
				return fmt.Errorf("%w: atoms %d and %d", ErrOverlap, i, j)
			}
		}
	}
	return nil
}
