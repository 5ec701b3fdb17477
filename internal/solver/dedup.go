package solver

import (
	"math"
	"sort"

	"github.com/cwbudde/clusterfit/internal/cluster"
)

// rank sorts evaluated clusters by energy ascending; unevaluated entries
// sink to the end.
func rank(pop []*cluster.Cluster) {
	sort.SliceStable(pop, func(i, j int) bool {
		ei, ej := math.MaxFloat64, math.MaxFloat64
		if pop[i].Evaluated {
			ei = pop[i].Energy
		}
		if pop[j].Evaluated {
			ej = pop[j].Energy
		}
		return ei < ej
	})
}

// dedupe removes near-duplicate structures from an energy-ranked
// population. Two clusters are duplicates when their topology keys match
// exactly, or when their fingerprints sit within tau (L2) of each other
// and their energies within energyTol. The survivor is always the
// lower-energy one, which the ascending scan guarantees: the first
// occurrence wins. Unevaluated entries are dropped outright.
func (c *Config) dedupe(pop []*cluster.Cluster) []*cluster.Cluster {
	rank(pop)

	seenKeys := make(map[string]bool, len(pop))
	unique := pop[:0]

	for _, cand := range pop {
		if !cand.Evaluated || cand.Status == cluster.StatusDiscarded {
			continue
		}

		key := cand.TopologyKey(c.TopologyCutoff)
		degenerate := key == "INVALID" || key == "NAN_COORDS" || key == "INVALID_RADIUS"
		if !degenerate && seenKeys[key] {
			continue
		}

		isDup := false
		fp := cand.Fingerprint(c.FingerprintBins, c.FingerprintRMax)
		for _, kept := range unique {
			if math.Abs(kept.Energy-cand.Energy) > c.DedupEnergyTol {
				continue
			}
			if cluster.FingerprintDistance(kept.Fingerprint(c.FingerprintBins, c.FingerprintRMax), fp) < c.DedupTau {
				isDup = true
				break
			}
		}
		if isDup {
			continue
		}

		if !degenerate {
			seenKeys[key] = true
		}
		unique = append(unique, cand)
	}

	return unique
}
