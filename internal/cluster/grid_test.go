package cluster

import (
	"errors"
	"testing"
)

func TestGridInsertAndNeighbors(t *testing.T) {
	g := NewGrid(10.0, 2.0)

	if err := g.Insert(0, Vec3{X: 1, Y: 1, Z: 1}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := g.Insert(1, Vec3{X: 1.5, Y: 1, Z: 1}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := g.Insert(2, Vec3{X: -8, Y: -8, Z: -8}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	near := g.Neighbors(Vec3{X: 1.2, Y: 1, Z: 1}, 2.0)
	if !containsIndex(near, 0) || !containsIndex(near, 1) {
		t.Errorf("Neighbors should include atoms 0 and 1, got %v", near)
	}
	if containsIndex(near, 2) {
		t.Errorf("Far atom should not appear in single-shell scan, got %v", near)
	}
}

func TestGridRejectsOutOfBox(t *testing.T) {
	g := NewGrid(5.0, 2.0)

	err := g.Insert(0, Vec3{X: 6, Y: 0, Z: 0})
	if !errors.Is(err, ErrOutOfBox) {
		t.Errorf("Expected ErrOutOfBox, got %v", err)
	}

	if err := g.Insert(0, Vec3{X: 1, Y: 1, Z: 1}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	err = g.Move(0, Vec3{X: 1, Y: 1, Z: 1}, Vec3{X: 0, Y: -7, Z: 0})
	if !errors.Is(err, ErrOutOfBox) {
		t.Errorf("Move out of box should fail, got %v", err)
	}
}

func TestGridMove(t *testing.T) {
	g := NewGrid(10.0, 2.0)

	old := Vec3{X: 1, Y: 1, Z: 1}
	if err := g.Insert(0, old); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	updated := Vec3{X: -5, Y: -5, Z: -5}
	if err := g.Move(0, old, updated); err != nil {
		t.Fatalf("Move failed: %v", err)
	}

	if containsIndex(g.Neighbors(old, 2.0), 0) {
		t.Error("Atom should have left its old cell")
	}
	if !containsIndex(g.Neighbors(updated, 2.0), 0) {
		t.Error("Atom should be found at its new cell")
	}
}

func TestGridMoveWithinCell(t *testing.T) {
	g := NewGrid(10.0, 2.0)

	old := Vec3{X: 0.2, Y: 0.2, Z: 0.2}
	updated := Vec3{X: 0.4, Y: 0.2, Z: 0.2}
	if err := g.Insert(0, old); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := g.Move(0, old, updated); err != nil {
		t.Fatalf("Move failed: %v", err)
	}

	if !containsIndex(g.Neighbors(updated, 2.0), 0) {
		t.Error("Atom should remain findable after an intra-cell move")
	}
}

func containsIndex(indices []int, want int) bool {
	for _, i := range indices {
		if i == want {
			return true
		}
	}
	return false
}
