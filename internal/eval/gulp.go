package eval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cwbudde/clusterfit/internal/chem"
	"github.com/cwbudde/clusterfit/internal/cluster"
)

// DefaultPotential is the Buckingham potential block for the built-in
// MgO system.
const DefaultPotential = `buckingham
Mg core O core 1280.1 0.29969 0.0 0.0 10.0
O core O core 22764.0 0.149 27.88 0.0 10.0
spring
Mg 0.0
O 0.0`

// Gulp drives the external GULP relaxer over stdin/stdout pipes: geometry
// and potential go in as a generated input deck, energy and relaxed
// coordinates come back out of the text report.
//
// The adapter holds only immutable configuration, so a single instance is
// safe to share across pool workers.
type Gulp struct {
	executable string
	potential  string
	species    []chem.Species
}

// NewGulp creates an adapter for the given executable name (resolved via
// PATH), potential block, and ordered species table.
func NewGulp(executable, potential string, species []chem.Species) *Gulp {
	return &Gulp{
		executable: executable,
		potential:  potential,
		species:    species,
	}
}

// Name implements Evaluator.
func (g *Gulp) Name() string { return "gulp" }

// Preflight verifies the relaxer binary is reachable via PATH.
func (g *Gulp) Preflight() error {
	if _, err := exec.LookPath(g.executable); err != nil {
		return fmt.Errorf("relaxer %q not found in PATH: %w", g.executable, err)
	}
	return nil
}

// Evaluate implements Evaluator. Process-level failures (non-zero exit,
// missing energy, atom-count mismatch) come back as retryable Transient
// outcomes; the pool retries once and converts a repeat into Invalid.
func (g *Gulp) Evaluate(ctx context.Context, c *cluster.Cluster) Outcome {
	input, err := g.buildInput(c)
	if err != nil {
		return Outcome{Kind: Invalid, Reason: err.Error()}
	}

	output, err := g.run(ctx, input)
	if ctx.Err() != nil {
		return Outcome{Kind: Cancelled}
	}
	if err != nil {
		return Outcome{Kind: Transient, Retryable: true, Reason: err.Error()}
	}

	if strings.Contains(output, "Conditions for a minimum have not been satisfied") {
		return Outcome{Kind: NonConverged}
	}
	if strings.Contains(output, "Interatomic distance too small") {
		return Outcome{Kind: Invalid, Reason: "geometric collapse"}
	}
	if strings.Contains(output, "Dump of error info") {
		return Outcome{Kind: Invalid, Reason: "internal relaxer error"}
	}

	energy, err := parseEnergy(output)
	if err != nil {
		return Outcome{Kind: Transient, Retryable: true, Reason: err.Error()}
	}

	positions, err := parseGeometry(output, len(c.Atoms))
	switch {
	case errors.Is(err, errAtomCountMismatch):
		return Outcome{Kind: Transient, Retryable: true, Reason: err.Error()}
	case err != nil:
		// Energy without a usable geometry block: accepting it would
		// desynchronize the population's coordinates and scores.
		return Outcome{Kind: Invalid, Reason: err.Error()}
	}

	return Outcome{
		Kind:      Relaxed,
		Positions: positions,
		Energy:    energy,
		GradNorm:  parseGradNorm(output),
	}
}

// buildInput renders the input deck: optimization keywords, cartesian
// coordinates in atom order, then the potential block.
func (g *Gulp) buildInput(c *cluster.Cluster) (string, error) {
	var b strings.Builder
	b.WriteString("opti conv cartesian properties\n")
	b.WriteString("cartesian\n")
	for _, a := range c.Atoms {
		if a.Species < 0 || a.Species >= len(g.species) {
			return "", fmt.Errorf("atom references unknown species %d", a.Species)
		}
		p := a.Position
		fmt.Fprintf(&b, "%-3s core %.9f %.9f %.9f\n", g.species[a.Species].Symbol, p.X, p.Y, p.Z)
	}
	b.WriteByte('\n')
	b.WriteString(g.potential)
	b.WriteByte('\n')
	return b.String(), nil
}

func (g *Gulp) run(ctx context.Context, input string) (string, error) {
	cmd := exec.CommandContext(ctx, g.executable)
	cmd.Stdin = strings.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("relaxer process failed: %s", msg)
	}
	return stdout.String(), nil
}

func parseEnergy(output string) (float64, error) {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "final energy") && !strings.Contains(lower, "total lattice energy") {
			continue
		}
		_, rhs, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		fields := strings.Fields(rhs)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, fmt.Errorf("malformed energy value %q", fields[0])
		}
		return v, nil
	}
	return 0, fmt.Errorf("no final energy in relaxer output")
}

func parseGradNorm(output string) float64 {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(strings.ToLower(line), "final gnorm") {
			continue
		}
		_, rhs, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(rhs), 64); err == nil {
			return v
		}
	}
	return 0
}

var errAtomCountMismatch = errors.New("atom count mismatch")

// parseGeometry extracts the last "final cartesian coordinates" block.
// The block header is followed by four decoration lines; rows hold
// index, label, core/shell flag, then x y z. Shell rows are skipped.
func parseGeometry(output string, wantAtoms int) ([]cluster.Vec3, error) {
	lines := strings.Split(output, "\n")

	start := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.Contains(strings.ToLower(lines[i]), "final cartesian coordinates") {
			start = i + 5
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("no final coordinates in relaxer output")
	}

	positions := make([]cluster.Vec3, 0, wantAtoms)
	for _, line := range lines[start:] {
		if len(positions) >= wantAtoms {
			break
		}
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		if strings.Contains(line, "------") {
			break
		}
		if strings.HasPrefix(strings.ToLower(fields[2]), "s") {
			continue
		}

		x, errX := strconv.ParseFloat(fields[3], 64)
		y, errY := strconv.ParseFloat(fields[4], 64)
		z, errZ := strconv.ParseFloat(fields[5], 64)
		if errX != nil || errY != nil || errZ != nil {
			return nil, fmt.Errorf("malformed coordinate row %q", line)
		}
		positions = append(positions, cluster.Vec3{X: x, Y: y, Z: z})
	}

	if len(positions) != wantAtoms {
		return nil, fmt.Errorf("%w: relaxer returned %d of %d coordinates", errAtomCountMismatch, len(positions), wantAtoms)
	}
	return positions, nil
}
