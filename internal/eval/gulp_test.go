package eval

import (
	"errors"
	"strings"
	"testing"

	"github.com/cwbudde/clusterfit/internal/chem"
	"github.com/cwbudde/clusterfit/internal/cluster"
)

func mgoCluster() *cluster.Cluster {
	c := cluster.New("test")
	c.Atoms = []cluster.Atom{
		{Species: 0, Position: cluster.Vec3{X: 0, Y: 0, Z: 0}},
		{Species: 1, Position: cluster.Vec3{X: 1.8, Y: 0, Z: 0}},
	}
	return c
}

func TestGulpBuildInput(t *testing.T) {
	g := NewGulp("gulp", DefaultPotential, chem.MgO())

	input, err := g.buildInput(mgoCluster())
	if err != nil {
		t.Fatalf("buildInput failed: %v", err)
	}

	if !strings.HasPrefix(input, "opti conv cartesian properties\n") {
		t.Error("Input should start with the optimization keywords")
	}
	if !strings.Contains(input, "Mg  core 0.000000000 0.000000000 0.000000000") {
		t.Errorf("Missing Mg coordinate line in:\n%s", input)
	}
	if !strings.Contains(input, "O   core 1.800000000 0.000000000 0.000000000") {
		t.Errorf("Missing O coordinate line in:\n%s", input)
	}
	if !strings.Contains(input, "buckingham") {
		t.Error("Potential block missing from input")
	}
}

func TestGulpBuildInputUnknownSpecies(t *testing.T) {
	g := NewGulp("gulp", DefaultPotential, chem.MgO())

	c := cluster.New("test")
	c.Atoms = []cluster.Atom{{Species: 5}}
	if _, err := g.buildInput(c); err == nil {
		t.Error("Unknown species should fail input generation")
	}
}

const sampleOutput = `  Components of energy :

  Final energy =     -41.21893287 eV
  Final Gnorm  =       0.00021437

  Final cartesian coordinates of atoms :

--------------------------------------------------------------------------------
   No.  Atomic        x           y          z          Charge
        Label       (Angs)      (Angs)     (Angs)        (e)
--------------------------------------------------------------------------------
     1  Mg    c     0.012345    0.023456   -0.034567    2.000000
     2  O     c     1.712345   -0.013456    0.044567   -2.000000
--------------------------------------------------------------------------------
`

func TestGulpParseEnergy(t *testing.T) {
	energy, err := parseEnergy(sampleOutput)
	if err != nil {
		t.Fatalf("parseEnergy failed: %v", err)
	}
	if energy != -41.21893287 {
		t.Errorf("energy = %f", energy)
	}

	if _, err := parseEnergy("no energy here"); err == nil {
		t.Error("Missing energy should fail")
	}
}

func TestGulpParseGradNorm(t *testing.T) {
	if g := parseGradNorm(sampleOutput); g != 0.00021437 {
		t.Errorf("gnorm = %f", g)
	}
	if g := parseGradNorm("nothing"); g != 0 {
		t.Errorf("missing gnorm should be 0, got %f", g)
	}
}

func TestGulpParseGeometry(t *testing.T) {
	positions, err := parseGeometry(sampleOutput, 2)
	if err != nil {
		t.Fatalf("parseGeometry failed: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("got %d positions", len(positions))
	}
	if positions[0].X != 0.012345 || positions[1].Z != 0.044567 {
		t.Errorf("coordinates parsed wrong: %+v", positions)
	}
}

func TestGulpParseGeometryCountMismatch(t *testing.T) {
	_, err := parseGeometry(sampleOutput, 3)
	if !errors.Is(err, errAtomCountMismatch) {
		t.Errorf("Expected atom count mismatch, got %v", err)
	}
}

func TestGulpParseGeometryMissingBlock(t *testing.T) {
	_, err := parseGeometry("Final energy = -1.0 eV\n", 2)
	if err == nil || errors.Is(err, errAtomCountMismatch) {
		t.Errorf("Missing coordinate block should be a distinct failure, got %v", err)
	}
}

func TestGulpSkipsShellRows(t *testing.T) {
	withShell := strings.Replace(sampleOutput,
		"     2  O     c     1.712345   -0.013456    0.044567   -2.000000",
		"     2  O     s     9.000000    9.000000    9.000000   -2.000000\n     3  O     c     1.712345   -0.013456    0.044567   -2.000000",
		1)

	positions, err := parseGeometry(withShell, 2)
	if err != nil {
		t.Fatalf("parseGeometry failed: %v", err)
	}
	if positions[1].X != 1.712345 {
		t.Errorf("Shell row should be skipped, got %+v", positions[1])
	}
}
