package cluster

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/clusterfit/internal/chem"
)

func randomTestCluster(t *testing.T, seed int64, atoms int) *Cluster {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	c, err := NewRandom(chem.Stoichiometry{atoms}, 5.0, testTable(), rng)
	if err != nil {
		t.Fatalf("NewRandom failed: %v", err)
	}
	return c
}

func maxPositionDelta(a, b *Cluster) float64 {
	worst := 0.0
	for i := range a.Atoms {
		if d := a.Atoms[i].Position.Sub(b.Atoms[i].Position).Norm(); d > worst {
			worst = d
		}
	}
	return worst
}

func TestRotateRoundTrip(t *testing.T) {
	c := randomTestCluster(t, 42, 6)
	orig := c.Clone()
	table := testTable()

	axis := Vec3{X: 0.3, Y: 0.9, Z: -0.1}
	angle := 1.7

	if err := c.Rotate(axis, angle, table); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if err := c.Rotate(axis, -angle, table); err != nil {
		t.Fatalf("Inverse rotate failed: %v", err)
	}

	// Rotation re-centers, so compare in the centered frame.
	orig.Center()
	if d := maxPositionDelta(c, orig); d > 1e-9 {
		t.Errorf("Rotate round trip drifted by %g", d)
	}
}

func TestBreatheRoundTrip(t *testing.T) {
	c := randomTestCluster(t, 7, 6)
	orig := c.Clone()
	table := testTable()

	if err := c.Breathe(1.2, table); err != nil {
		t.Fatalf("Breathe failed: %v", err)
	}
	if err := c.Breathe(1/1.2, table); err != nil {
		t.Fatalf("Inverse breathe failed: %v", err)
	}

	orig.Center()
	if d := maxPositionDelta(c, orig); d > 1e-9 {
		t.Errorf("Breathe round trip drifted by %g", d)
	}
}

func TestTranslateMovesEveryAtom(t *testing.T) {
	c := randomTestCluster(t, 9, 4)
	before := c.Positions()
	table := testTable()

	v := Vec3{X: 1, Y: -2, Z: 0.5}
	if err := c.Translate(v, table); err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	for i, p := range c.Positions() {
		if d := p.Sub(before[i].Add(v)).Norm(); d > 1e-12 {
			t.Fatalf("atom %d off by %g after translate", i, d)
		}
	}
}

func TestTwistLeavesLowerHalfFixed(t *testing.T) {
	c := randomTestCluster(t, 13, 8)
	c.Center()
	before := c.Positions()
	table := testTable()

	// A twist can legitimately collide; shrink the angle until one
	// commits.
	axis := Vec3{Z: 1}
	angle := 0.8
	for {
		if err := c.Twist(axis, angle, table); err == nil {
			break
		}
		angle /= 2
		if angle < 1e-3 {
			t.Fatal("no twist angle committed")
		}
	}

	for i, p := range c.Positions() {
		if before[i].Z <= 0 {
			if d := p.Sub(before[i]).Norm(); d > 1e-9 {
				t.Errorf("atom %d below the plane moved by %g", i, d)
			}
		}
	}
}

func TestFailedTransformLeavesClusterUnchanged(t *testing.T) {
	table := testTable()

	// Two atoms just above the separation threshold: any contraction
	// violates the invariant.
	sigma := math.Sqrt(table.SigmaSq(0, 0))
	c := New("test")
	c.Atoms = []Atom{
		{Species: 0, Position: Vec3{X: -sigma/2 - 0.01}},
		{Species: 0, Position: Vec3{X: sigma/2 + 0.01}},
	}
	c.SetEnergy(-1.0, 0)
	before := c.Positions()

	err := c.Breathe(0.5, table)
	if !errors.Is(err, ErrOverlap) {
		t.Fatalf("Expected ErrOverlap, got %v", err)
	}

	for i, p := range c.Positions() {
		if p != before[i] {
			t.Errorf("atom %d moved despite failed transform", i)
		}
	}
	if !c.Evaluated {
		t.Error("Failed transform must not clear the energy")
	}
}

func TestSplitByPlanePartitionsAllAtoms(t *testing.T) {
	c := randomTestCluster(t, 21, 10)

	above, below := c.SplitByPlane(Vec3{X: 1, Y: 1, Z: 0}, 0)
	if len(above)+len(below) != len(c.Atoms) {
		t.Errorf("Partition lost atoms: %d + %d != %d", len(above), len(below), len(c.Atoms))
	}

	seen := make(map[int]bool)
	for _, i := range append(append([]int{}, above...), below...) {
		if seen[i] {
			t.Errorf("atom %d assigned to both sides", i)
		}
		seen[i] = true
	}
}
