package cluster

import (
	"fmt"
	"math"
)

// Grid is a uniform-cell acceleration structure for pairwise proximity
// queries during atom placement and repair. Cells are cubes with side equal
// to the largest pairwise separation threshold, so any two atoms closer than
// a threshold always sit in the same or adjacent cells and a single-shell
// (27 cell) scan finds every candidate.
//
// The grid stores atom indices only; positions live with the caller. It is
// owned by a single cluster operation at a time and is never shared.
type Grid struct {
	half float64 // box half-extent; valid coordinates are [-half, half]
	cell float64
	bins map[[3]int][]int
}

// NewGrid creates a grid covering the cube [-halfExtent, halfExtent]³ with
// the given cell side.
func NewGrid(halfExtent, cellSide float64) *Grid {
	return &Grid{
		half: halfExtent,
		cell: cellSide,
		bins: make(map[[3]int][]int),
	}
}

func (g *Grid) key(p Vec3) [3]int {
	return [3]int{
		int(math.Floor(p.X / g.cell)),
		int(math.Floor(p.Y / g.cell)),
		int(math.Floor(p.Z / g.cell)),
	}
}

func (g *Grid) inBox(p Vec3) bool {
	return p.X >= -g.half && p.X <= g.half &&
		p.Y >= -g.half && p.Y <= g.half &&
		p.Z >= -g.half && p.Z <= g.half
}

// Insert records an atom index at the given position.
func (g *Grid) Insert(i int, p Vec3) error {
	if !g.inBox(p) {
		return fmt.Errorf("%w: (%.3f, %.3f, %.3f)", ErrOutOfBox, p.X, p.Y, p.Z)
	}
	k := g.key(p)
	g.bins[k] = append(g.bins[k], i)
	return nil
}

// Move updates the cell membership of an atom after a single-atom move.
func (g *Grid) Move(i int, oldPos, newPos Vec3) error {
	if !g.inBox(newPos) {
		return fmt.Errorf("%w: (%.3f, %.3f, %.3f)", ErrOutOfBox, newPos.X, newPos.Y, newPos.Z)
	}
	oldKey := g.key(oldPos)
	newKey := g.key(newPos)
	if oldKey == newKey {
		return nil
	}

	cell := g.bins[oldKey]
	for n, idx := range cell {
		if idx == i {
			cell[n] = cell[len(cell)-1]
			g.bins[oldKey] = cell[:len(cell)-1]
			break
		}
	}
	if len(g.bins[oldKey]) == 0 {
		delete(g.bins, oldKey)
	}

	g.bins[newKey] = append(g.bins[newKey], i)
	return nil
}

// Neighbors returns the indices of atoms in the 27 cells surrounding the
// query position. radius must not exceed the cell side; the caller filters
// candidates by exact distance.
func (g *Grid) Neighbors(p Vec3, radius float64) []int {
	if radius > g.cell {
		// A wider query would need a multi-shell scan; the grid is sized
		// so the largest collision threshold fits in one shell.
		radius = g.cell
	}
	center := g.key(p)

	var out []int
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				k := [3]int{center[0] + dx, center[1] + dy, center[2] + dz}
				out = append(out, g.bins[k]...)
			}
		}
	}
	return out
}
