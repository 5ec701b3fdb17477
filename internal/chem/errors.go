package chem

import "errors"

var (
	// ErrStoichiometry reports an atom multiset that does not match the
	// run's target composition. This is a programmer error: operators
	// must preserve stoichiometry, so the run aborts with a diagnostic.
	ErrStoichiometry = errors.New("stoichiometry mismatch")
)
