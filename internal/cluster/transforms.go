package cluster

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/clusterfit/internal/chem"
)

// Geometry transforms follow a copy-validate-commit pattern: candidate
// positions are built on a scratch slice and only swapped in once the
// separation invariant holds. A failed transform leaves the cluster
// untouched and returns ErrOverlap.

func (c *Cluster) commit(positions []Vec3, table *chem.CollisionTable) error {
	if err := validatePositions(c.Atoms, positions, table); err != nil {
		return err
	}
	for i := range c.Atoms {
		c.Atoms[i].Position = positions[i]
	}
	c.invalidate()
	return nil
}

func validatePositions(atoms []Atom, positions []Vec3, table *chem.CollisionTable) error {
	n := len(atoms)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			limit := table.SigmaSq(atoms[i].Species, atoms[j].Species)
			if DistanceSq(positions[i], positions[j]) < limit {
				return fmt.Errorf("%w: atoms %d and %d", ErrOverlap, i, j)
			}
		}
	}
	return nil
}

// centered returns scratch positions relative to the centroid.
func (c *Cluster) centered() []Vec3 {
	center := c.Centroid()
	out := make([]Vec3, len(c.Atoms))
	for i, a := range c.Atoms {
		out[i] = a.Position.Sub(center)
	}
	return out
}

// Rotate applies a rigid rotation around an axis through the centroid.
func (c *Cluster) Rotate(axis Vec3, angle float64, table *chem.CollisionTable) error {
	pos := c.centered()
	for i := range pos {
		pos[i] = pos[i].RotateAbout(axis, angle)
	}
	return c.commit(pos, table)
}

// Translate shifts every atom by v.
func (c *Cluster) Translate(v Vec3, table *chem.CollisionTable) error {
	pos := make([]Vec3, len(c.Atoms))
	for i, a := range c.Atoms {
		pos[i] = a.Position.Add(v)
	}
	return c.commit(pos, table)
}

// Rattle displaces every atom by an isotropic Gaussian of the given
// amplitude (standard deviation per component).
func (c *Cluster) Rattle(amplitude float64, rng *rand.Rand, table *chem.CollisionTable) error {
	pos := make([]Vec3, len(c.Atoms))
	for i, a := range c.Atoms {
		pos[i] = a.Position.Add(Vec3{
			X: rng.NormFloat64() * amplitude,
			Y: rng.NormFloat64() * amplitude,
			Z: rng.NormFloat64() * amplitude,
		})
	}
	return c.commit(pos, table)
}

// Twist rotates the atoms on the positive side of the plane through the
// centroid (normal = axis) around that axis, leaving the other half fixed.
func (c *Cluster) Twist(axis Vec3, angle float64, table *chem.CollisionTable) error {
	unit := axis.Normalize()
	pos := c.centered()
	for i := range pos {
		if pos[i].Dot(unit) > 0 {
			pos[i] = pos[i].RotateAbout(unit, angle)
		}
	}
	return c.commit(pos, table)
}

// Breathe scales every radial offset from the centroid by the given
// factor, contracting (<1) or expanding (>1) the cluster.
func (c *Cluster) Breathe(scale float64, table *chem.CollisionTable) error {
	pos := c.centered()
	for i := range pos {
		pos[i] = pos[i].Scale(scale)
	}
	return c.commit(pos, table)
}

// Swap draws two random atoms and exchanges their positions when they
// belong to different species. When the draw picks one atom twice or two
// atoms of the same species (always so for single-species clusters) it is
// a no-op.
func (c *Cluster) Swap(rng *rand.Rand, table *chem.CollisionTable) error {
	n := len(c.Atoms)
	if n < 2 {
		return nil
	}
	i := rng.Intn(n)
	j := rng.Intn(n)
	if i == j || c.Atoms[i].Species == c.Atoms[j].Species {
		return nil
	}

	pos := make([]Vec3, n)
	for k, a := range c.Atoms {
		pos[k] = a.Position
	}
	pos[i], pos[j] = pos[j], pos[i]
	return c.commit(pos, table)
}

// SplitByPlane partitions atom indices by the plane n·p = offset, with n
// taken through the centroid frame. Atoms on the plane count as above.
func (c *Cluster) SplitByPlane(normal Vec3, offset float64) (above, below []int) {
	unit := normal.Normalize()
	center := c.Centroid()
	for i, a := range c.Atoms {
		if a.Position.Sub(center).Dot(unit) >= offset {
			above = append(above, i)
		} else {
			below = append(below, i)
		}
	}
	return above, below
}
