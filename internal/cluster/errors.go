package cluster

import "errors"

var (
	// ErrPackingFailure means random placement could not find room for
	// every atom within the trial budget.
	ErrPackingFailure = errors.New("packing failure: could not place atoms without overlap")

	// ErrOverlap means a geometry transform would violate the pairwise
	// minimum-separation invariant. The receiving cluster is unchanged.
	ErrOverlap = errors.New("overlap violation")

	// ErrOutOfBox means a coordinate falls outside the spatial grid's box.
	ErrOutOfBox = errors.New("position outside simulation box")
)
