package chem

import "fmt"

// Species describes a chemical element used in a search run.
// The species table is built once at startup and is read-only afterwards.
type Species struct {
	Symbol         string
	AtomicNumber   int
	Mass           float64 // amu
	Charge         float64 // formal charge, e
	RadiusCovalent float64 // Å
	RadiusIonic    float64 // Å
	ColorRGB       [3]uint8
}

// MgO returns the default magnesium oxide species table.
// Index 0 = Mg, index 1 = O.
func MgO() []Species {
	return []Species{
		{
			Symbol:         "Mg",
			AtomicNumber:   12,
			Mass:           24.305,
			Charge:         2.0,
			RadiusCovalent: 1.30,
			RadiusIonic:    0.72,
			ColorRGB:       [3]uint8{0, 255, 255},
		},
		{
			Symbol:         "O",
			AtomicNumber:   8,
			Mass:           15.999,
			Charge:         -2.0,
			RadiusCovalent: 0.73,
			RadiusIonic:    1.40,
			ColorRGB:       [3]uint8{255, 0, 0},
		},
	}
}

// Stoichiometry fixes the per-species atom count for a run.
// Index i is the required count of species i.
type Stoichiometry []int

// Total returns the total atom count.
func (s Stoichiometry) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}

// Validate checks observed per-species counts against the target.
func (s Stoichiometry) Validate(counts []int) error {
	if len(counts) != len(s) {
		return fmt.Errorf("%w: %d species observed, %d expected", ErrStoichiometry, len(counts), len(s))
	}
	for i, want := range s {
		if counts[i] != want {
			return fmt.Errorf("%w: species %d has %d atoms, want %d", ErrStoichiometry, i, counts[i], want)
		}
	}
	return nil
}

// SplitEven distributes total atoms across two species, giving the
// second species the extra atom for odd totals. Matches the default
// MgO half-and-half setup.
func SplitEven(total int) Stoichiometry {
	first := total / 2
	return Stoichiometry{first, total - first}
}
