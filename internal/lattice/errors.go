package lattice

import "errors"

// Precondition errors name the pipeline step that must run first, so the
// message is actionable for callers driving the stages manually.
var (
	// ErrMissingNeighborList is returned when an operation requires
	// populated nearest-neighbor lists.
	ErrMissingNeighborList = errors.New(
		"nearest neighbor list is not populated: run FindNearestNeighbors first")
	// ErrMissingZoneAxes is returned when an operation requires discovered
	// zone axes.
	ErrMissingZoneAxes = errors.New(
		"zone axis list is not populated: run ConstructZoneAxes first")
	// ErrNoAtoms is returned when an operation requires a non-empty atom list.
	ErrNoAtoms = errors.New("sublattice contains no atoms")
)

// ConvergenceWarning reports that an iterative stage hit its iteration cap
// without converging. It is non-fatal: the best-effort result is still valid
// and has been applied.
type ConvergenceWarning struct {
	Stage      string
	Iterations int
}

func (w *ConvergenceWarning) Error() string {
	return w.Stage + " did not converge within the iteration cap"
}

// IsConvergenceWarning reports whether err is a non-fatal convergence
// warning that callers may log and otherwise ignore.
func IsConvergenceWarning(err error) bool {
	var w *ConvergenceWarning
	return errors.As(err, &w)
}
