package lattice

import (
	"fmt"
	"math"
)

// AtomPosition is a single detected atomic column. Positions are in pixel
// coordinates; shape parameters describe the fitted 2-D Gaussian.
//
// Atoms live in the owning Sublattice arena and refer to their neighbors and
// plane memberships by integer index, never by pointer, so the atom ↔ plane
// topology contains no reference cycles.
type AtomPosition struct {
	X, Y float64

	// Gaussian shape parameters. SigmaX and SigmaY are always non-negative;
	// Rotation is normalised to [0, π).
	SigmaX, SigmaY float64
	Rotation       float64
	Amplitude      float64
	GaussianFitted bool

	// RefinePosition gates whether refinement passes are allowed to move
	// this atom. Interactive front-ends toggle it; defaults to true.
	RefinePosition bool

	// OldX and OldY hold one entry per completed refinement pass,
	// append-only, oldest first.
	OldX, OldY []float64

	// Neighbors holds arena indices of the k nearest other atoms, ascending
	// by distance. Populated by Sublattice.FindNearestNeighbors.
	Neighbors []int

	// Planes holds the IDs of the atom planes this atom is a member of.
	Planes []int

	// startOfZone and endOfZone tag this atom as the terminal atom of a
	// plane along the given zone vector, preventing repeated traversal.
	startOfZone map[ZoneVector]bool
	endOfZone   map[ZoneVector]bool
}

// NewAtomPosition creates an atom at pixel coordinates (x, y) with default
// shape parameters.
func NewAtomPosition(x, y float64) *AtomPosition {
	return &AtomPosition{
		X:              x,
		Y:              y,
		SigmaX:         1,
		SigmaY:         1,
		RefinePosition: true,
		startOfZone:    make(map[ZoneVector]bool),
		endOfZone:      make(map[ZoneVector]bool),
	}
}

// Distance returns the pixel distance to another atom.
func (a *AtomPosition) Distance(b *AtomPosition) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// DistanceToPoint returns the pixel distance from the atom to (px, py).
func (a *AtomPosition) DistanceToPoint(px, py float64) float64 {
	return math.Hypot(a.X-px, a.Y-py)
}

// SigmaAverage returns the mean of the two Gaussian widths.
func (a *AtomPosition) SigmaAverage() float64 {
	return (a.SigmaX + a.SigmaY) / 2
}

// Ellipticity returns the ratio of the larger to the smaller Gaussian width.
// A circular column has ellipticity 1.
func (a *AtomPosition) Ellipticity() float64 {
	if a.SigmaX == 0 || a.SigmaY == 0 {
		return math.Inf(1)
	}
	if a.SigmaX > a.SigmaY {
		return a.SigmaX / a.SigmaY
	}
	return a.SigmaY / a.SigmaX
}

// RotationEllipticity returns the rotation of the major axis, normalised so
// circular columns report 0.
func (a *AtomPosition) RotationEllipticity() float64 {
	rot := a.Rotation
	if a.SigmaY > a.SigmaX {
		rot += math.Pi / 2
	}
	return math.Mod(rot, math.Pi)
}

// recordPosition appends the current position to the refinement history.
// Called once per refinement pass, before the coordinates are overwritten.
func (a *AtomPosition) recordPosition() {
	a.OldX = append(a.OldX, a.X)
	a.OldY = append(a.OldY, a.Y)
}

// markZoneStart tags the atom as the starting terminal of a plane along the
// given zone vector. The map is created on first use so atoms built as bare
// literals instead of through NewAtomPosition are safe to traverse.
func (a *AtomPosition) markZoneStart(zv ZoneVector) {
	if a.startOfZone == nil {
		a.startOfZone = make(map[ZoneVector]bool)
	}
	a.startOfZone[zv] = true
}

// markZoneEnd tags the atom as the ending terminal of a plane along the
// given zone vector.
func (a *AtomPosition) markZoneEnd(zv ZoneVector) {
	if a.endOfZone == nil {
		a.endOfZone = make(map[ZoneVector]bool)
	}
	a.endOfZone[zv] = true
}

// isInPlaneOfZone reports whether the atom already belongs to a plane along
// the given zone vector. Terminal tags count as membership so traversal does
// not restart from a plane end.
func (a *AtomPosition) isInPlaneOfZone(s *Sublattice, zv ZoneVector) bool {
	if a.startOfZone[zv] || a.endOfZone[zv] {
		return true
	}
	for _, id := range a.Planes {
		if p := s.planeByID(id); p != nil && p.Zone == zv {
			return true
		}
	}
	return false
}

func (a *AtomPosition) removePlaneMembership(id int) {
	for i, pid := range a.Planes {
		if pid == id {
			a.Planes = append(a.Planes[:i], a.Planes[i+1:]...)
			return
		}
	}
}

// ZoneVector is a dominant lattice translation in pixel coordinates. Zone
// vectors are identified by value: two variables holding the same rounded
// (X, Y) pair denote the same zone axis.
type ZoneVector struct {
	X, Y float64
}

// Neg returns the antiparallel vector.
func (v ZoneVector) Neg() ZoneVector { return ZoneVector{-v.X, -v.Y} }

// Norm returns the vector magnitude.
func (v ZoneVector) Norm() float64 { return math.Hypot(v.X, v.Y) }

// Name returns the display name derived from the vector value.
func (v ZoneVector) Name() string {
	return fmt.Sprintf("(%.2f, %.2f)", v.X, v.Y)
}

// Rounded returns the vector quantised to 2-decimal precision, guarding
// against near-duplicate floating noise before deduplication.
func (v ZoneVector) Rounded() ZoneVector {
	round := func(f float64) float64 {
		r := math.Round(f*100) / 100
		if r == 0 {
			return 0 // strip negative zero so names and map keys agree
		}
		return r
	}
	return ZoneVector{X: round(v.X), Y: round(v.Y)}
}

// EquivalentTo reports whether two vectors describe the same zone axis:
// parallel or antiparallel within the given distance tolerance.
func (v ZoneVector) EquivalentTo(w ZoneVector, tolerance float64) bool {
	if math.Hypot(v.X-w.X, v.Y-w.Y) < tolerance {
		return true
	}
	return math.Hypot(v.X+w.X, v.Y+w.Y) < tolerance
}
