package main

import (
	"fmt"

	"github.com/cwbudde/clusterfit/internal/chem"
	"github.com/cwbudde/clusterfit/internal/cluster"
	"github.com/cwbudde/clusterfit/internal/store"
)

// toAtomRecords flattens a cluster into persistable atom rows.
func toAtomRecords(c *cluster.Cluster, species []chem.Species) []store.AtomRecord {
	out := make([]store.AtomRecord, len(c.Atoms))
	for i, a := range c.Atoms {
		symbol := "X"
		if a.Species >= 0 && a.Species < len(species) {
			symbol = species[a.Species].Symbol
		}
		out[i] = store.AtomRecord{
			Symbol: symbol,
			X:      a.Position.X,
			Y:      a.Position.Y,
			Z:      a.Position.Z,
		}
	}
	return out
}

// fromAtomRecords rebuilds a cluster from persisted atom rows, resolving
// symbols against the species table.
func fromAtomRecords(records []store.AtomRecord, species []chem.Species, origin string) (*cluster.Cluster, error) {
	bySymbol := make(map[string]int, len(species))
	for i, s := range species {
		bySymbol[s.Symbol] = i
	}

	c := cluster.New(origin)
	for _, r := range records {
		id, ok := bySymbol[r.Symbol]
		if !ok {
			return nil, fmt.Errorf("unknown species symbol %q in checkpoint", r.Symbol)
		}
		c.Atoms = append(c.Atoms, cluster.Atom{
			Species:  id,
			Position: cluster.Vec3{X: r.X, Y: r.Y, Z: r.Z},
		})
	}
	c.Status = cluster.StatusValid
	return c, nil
}
