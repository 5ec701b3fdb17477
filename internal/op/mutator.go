package op

import (
	"math"
	"math/rand"

	"github.com/cwbudde/clusterfit/internal/chem"
	"github.com/cwbudde/clusterfit/internal/cluster"
)

// Weights is the relative selection weight of each mutation kind. Zero
// weights disable a kind.
type Weights struct {
	Rotate    float64
	Rattle    float64
	Twist     float64
	Breathe   float64
	Translate float64
	Swap      float64
}

// DefaultWeights are documented defaults. The adaptive controller leaves
// the weights unchanged and broadens amplitudes instead (see Broadened).
func DefaultWeights() Weights {
	return Weights{
		Rotate:  0.25,
		Rattle:  0.35,
		Twist:   0.15,
		Breathe: 0.10,

		// Carried from the original operator set: rigid translation to
		// reseat the cluster in the box, and a species-position swap for
		// multi-species compositions.
		Translate: 0.05,
		Swap:      0.10,
	}
}

func (w Weights) total() float64 {
	return w.Rotate + w.Rattle + w.Twist + w.Breathe + w.Translate + w.Swap
}

// Mutator applies one weighted-random mutation per call. Amplitudes are
// explicit so the solver can broaden them when the population stalls.
type Mutator struct {
	Weights Weights

	RotateMax     float64 // radians
	RattleAmp     float64 // Å, Gaussian sigma per component
	TwistMax      float64 // radians
	BreatheSpread float64 // scale drawn from 1 ± spread
	TranslateMax  float64 // Å per component
}

// NewMutator builds a mutator with amplitudes derived from the mean
// covalent radius of the species set: the rattle amplitude is a small
// fraction of a typical bond length.
func NewMutator(species []chem.Species) Mutator {
	meanRadius := 1.0
	if len(species) > 0 {
		sum := 0.0
		for _, s := range species {
			sum += s.RadiusCovalent
		}
		meanRadius = sum / float64(len(species))
	}

	return Mutator{
		Weights:       DefaultWeights(),
		RotateMax:     2 * math.Pi,
		RattleAmp:     0.1 * meanRadius,
		TwistMax:      math.Pi,
		BreatheSpread: 0.05,
		TranslateMax:  0.5,
	}
}

// Broadened returns a copy with the rattle amplitude and the breathe spread
// (capped at 0.3) scaled up, used by the stagnation controller. Rotation is
// already full-range; the twist range is left unchanged.
func (m Mutator) Broadened(factor float64) Mutator {
	out := m
	out.RattleAmp *= factor
	out.BreatheSpread = math.Min(out.BreatheSpread*factor, 0.3)
	return out
}

// Apply clones the cluster, applies one weighted-random mutation, and
// returns the mutant. When the mutation violates the separation
// invariant the original cluster is returned unchanged alongside
// ErrOverlap, and the solver counts a wasted attempt.
func (m Mutator) Apply(c *cluster.Cluster, table *chem.CollisionTable, rng *rand.Rand) (*cluster.Cluster, error) {
	mutant := c.Clone()
	mutant.Origin = "mutation"

	if err := m.applyOne(mutant, table, rng); err != nil {
		return c, err
	}
	mutant.Status = cluster.StatusValid
	return mutant, nil
}

func (m Mutator) applyOne(mutant *cluster.Cluster, table *chem.CollisionTable, rng *rand.Rand) error {
	total := m.Weights.total()
	if total <= 0 {
		return nil
	}

	pick := rng.Float64() * total
	switch {
	case below(&pick, m.Weights.Rotate):
		axis := cluster.RandomUnitVec(rng.Float64)
		return mutant.Rotate(axis, rng.Float64()*m.RotateMax, table)
	case below(&pick, m.Weights.Rattle):
		return mutant.Rattle(m.RattleAmp, rng, table)
	case below(&pick, m.Weights.Twist):
		axis := cluster.RandomUnitVec(rng.Float64)
		angle := (2*rng.Float64() - 1) * m.TwistMax
		return mutant.Twist(axis, angle, table)
	case below(&pick, m.Weights.Breathe):
		scale := 1 + (2*rng.Float64()-1)*m.BreatheSpread
		return mutant.Breathe(scale, table)
	case below(&pick, m.Weights.Translate):
		v := cluster.Vec3{
			X: (2*rng.Float64() - 1) * m.TranslateMax,
			Y: (2*rng.Float64() - 1) * m.TranslateMax,
			Z: (2*rng.Float64() - 1) * m.TranslateMax,
		}
		return mutant.Translate(v, table)
	default:
		return mutant.Swap(rng, table)
	}
}

// below walks a cumulative weight scan.
func below(pick *float64, weight float64) bool {
	if *pick < weight {
		return true
	}
	*pick -= weight
	return false
}

// heavyAttempts bounds the retry loop in HeavyMutate.
const heavyAttempts = 5

// HeavyMutate chains a full-range rotation, a twist, and a strong rattle
// to kick a survivor into a different basin. Used when refilling slots
// freed by duplicate suppression, where a light mutation would collapse
// straight back into the parent's minimum.
func HeavyMutate(c *cluster.Cluster, table *chem.CollisionTable, rng *rand.Rand) (*cluster.Cluster, error) {
	var lastErr error
	for attempt := 0; attempt < heavyAttempts; attempt++ {
		mutant := c.Clone()
		mutant.Origin = "refill"

		axis := cluster.RandomUnitVec(rng.Float64)
		if err := mutant.Rotate(axis, rng.Float64()*2*math.Pi, table); err != nil {
			lastErr = err
			continue
		}
		twistAxis := cluster.RandomUnitVec(rng.Float64)
		if err := mutant.Twist(twistAxis, (2*rng.Float64()-1)*0.5*math.Pi, table); err != nil {
			lastErr = err
			continue
		}
		if err := mutant.Rattle(0.2, rng, table); err != nil {
			lastErr = err
			continue
		}

		mutant.Status = cluster.StatusValid
		return mutant, nil
	}
	return c, lastErr
}
