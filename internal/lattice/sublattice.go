package lattice

// Sublattice is the aggregate of every atomic column belonging to one
// crystallographic site type, together with the lattice topology discovered
// for it: the characteristic pixel separation, the zone vectors, and the
// atom planes grouped by zone vector.
//
// Atoms and planes are arena-allocated: topology links are integer indices
// into the sublattice, so the structure has no ownership cycles and can be
// serialised directly.
type Sublattice struct {
	Name  string
	Atoms []*AtomPosition

	// Image is the intensity data the atoms were detected on. Refinement
	// reads it; the sublattice never mutates it.
	Image *Image

	// ZoneAxes and ZoneAxisNames are index-aligned and pruned in lock-step.
	ZoneAxes      []ZoneVector
	ZoneAxisNames []string

	// PlaneList holds every constructed atom plane. planesByZone groups the
	// same planes by zone vector, ordered by distance to the far orthogonal
	// reference point.
	PlaneList    []*AtomPlane
	planesByZone map[ZoneVector][]*AtomPlane
	planesByID   map[int]*AtomPlane
	nextPlaneID  int

	pixelSeparation float64
}

// NewSublattice creates a sublattice from detected peak positions.
func NewSublattice(name string, positions [][2]float64, img *Image) *Sublattice {
	s := &Sublattice{
		Name:         name,
		Image:        img,
		planesByZone: make(map[ZoneVector][]*AtomPlane),
		planesByID:   make(map[int]*AtomPlane),
	}
	for _, p := range positions {
		s.Atoms = append(s.Atoms, NewAtomPosition(p[0], p[1]))
	}
	return s
}

// AddAtom appends an explicitly constructed atom to the arena and returns
// its index. Neighbor lists become stale and must be rebuilt.
func (s *Sublattice) AddAtom(a *AtomPosition) int {
	s.Atoms = append(s.Atoms, a)
	return len(s.Atoms) - 1
}

// PixelSeparation returns the characteristic lattice spacing estimate: the
// median distance between each atom and its nearest neighbor, divided by 2.
// The value is computed once and cached.
func (s *Sublattice) PixelSeparation() float64 {
	if s.pixelSeparation == 0 {
		s.pixelSeparation = s.computePixelSeparation()
	}
	return s.pixelSeparation
}

// SetPixelSeparation overrides the cached spacing estimate. Mostly useful in
// tests and when importing atoms from a known structure.
func (s *Sublattice) SetPixelSeparation(v float64) { s.pixelSeparation = v }

func (s *Sublattice) planeByID(id int) *AtomPlane { return s.planesByID[id] }

// XPositions returns the atom x coordinates aligned by atom index.
func (s *Sublattice) XPositions() []float64 {
	out := make([]float64, len(s.Atoms))
	for i, a := range s.Atoms {
		out[i] = a.X
	}
	return out
}

// YPositions returns the atom y coordinates aligned by atom index.
func (s *Sublattice) YPositions() []float64 {
	out := make([]float64, len(s.Atoms))
	for i, a := range s.Atoms {
		out[i] = a.Y
	}
	return out
}

// SigmaX returns the fitted x widths aligned by atom index.
func (s *Sublattice) SigmaX() []float64 {
	out := make([]float64, len(s.Atoms))
	for i, a := range s.Atoms {
		out[i] = a.SigmaX
	}
	return out
}

// SigmaY returns the fitted y widths aligned by atom index.
func (s *Sublattice) SigmaY() []float64 {
	out := make([]float64, len(s.Atoms))
	for i, a := range s.Atoms {
		out[i] = a.SigmaY
	}
	return out
}

// Ellipticities returns the per-atom ellipticity aligned by atom index.
func (s *Sublattice) Ellipticities() []float64 {
	out := make([]float64, len(s.Atoms))
	for i, a := range s.Atoms {
		out[i] = a.Ellipticity()
	}
	return out
}

// Rotations returns the per-atom Gaussian rotation aligned by atom index.
func (s *Sublattice) Rotations() []float64 {
	out := make([]float64, len(s.Atoms))
	for i, a := range s.Atoms {
		out[i] = a.Rotation
	}
	return out
}

// Amplitudes returns the fitted Gaussian amplitudes aligned by atom index.
// Atoms whose last refinement fell back to center of mass report 0.
func (s *Sublattice) Amplitudes() []float64 {
	out := make([]float64, len(s.Atoms))
	for i, a := range s.Atoms {
		out[i] = a.Amplitude
	}
	return out
}

// PositionHistory returns, for each completed refinement pass, the (x, y)
// estimate of every atom at that pass, aligned by atom index. Used for
// convergence diagnostics.
func (s *Sublattice) PositionHistory() [][][2]float64 {
	if len(s.Atoms) == 0 {
		return nil
	}
	passes := len(s.Atoms[0].OldX)
	out := make([][][2]float64, 0, passes)
	for p := 0; p < passes; p++ {
		pass := make([][2]float64, len(s.Atoms))
		for i, a := range s.Atoms {
			if p < len(a.OldX) {
				pass[i] = [2]float64{a.OldX[p], a.OldY[p]}
			} else {
				pass[i] = [2]float64{a.X, a.Y}
			}
		}
		out = append(out, pass)
	}
	return out
}

// PlanesByZone returns the ordered plane list for a zone vector.
func (s *Sublattice) PlanesByZone(zv ZoneVector) []*AtomPlane {
	return s.planesByZone[zv]
}

// checkNeighborLists verifies the precondition that neighbor lists have been
// populated on the current coordinates.
func (s *Sublattice) checkNeighborLists() error {
	if len(s.Atoms) == 0 {
		return ErrNoAtoms
	}
	for _, a := range s.Atoms {
		if len(a.Neighbors) == 0 {
			return ErrMissingNeighborList
		}
	}
	return nil
}

// checkZoneAxes verifies the precondition that zone axes have been found.
func (s *Sublattice) checkZoneAxes() error {
	if len(s.ZoneAxes) == 0 {
		return ErrMissingZoneAxes
	}
	return nil
}

// closestNeighborDistance returns the distance from atom i to its nearest
// neighbor. Requires a populated neighbor list.
func (s *Sublattice) closestNeighborDistance(i int) float64 {
	a := s.Atoms[i]
	return a.Distance(s.Atoms[a.Neighbors[0]])
}
