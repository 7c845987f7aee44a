package latticedb

import (
	"fmt"

	"github.com/quantem-data/lattice.report/internal/lattice"
)

// SaveSublattice stores the atoms, zone axes, and atom planes of a refined
// sublattice under the given run ID. Plane rows reference zone axes by
// their position in the sublattice's zone axis list.
func (db *DB) SaveSublattice(runID string, s *lattice.Sublattice) error {
	atoms := make([]AtomRow, len(s.Atoms))
	for i, a := range s.Atoms {
		atoms[i] = AtomRow{
			AtomIndex:      i,
			X:              a.X,
			Y:              a.Y,
			SigmaX:         a.SigmaX,
			SigmaY:         a.SigmaY,
			Rotation:       a.Rotation,
			Amplitude:      a.Amplitude,
			GaussianFitted: a.GaussianFitted,
		}
	}
	if err := db.SaveAtoms(runID, atoms); err != nil {
		return err
	}

	axisIndex := make(map[lattice.ZoneVector]int, len(s.ZoneAxes))
	axes := make([]ZoneAxisRow, len(s.ZoneAxes))
	for i, zv := range s.ZoneAxes {
		axisIndex[zv] = i
		name := zv.Name()
		if i < len(s.ZoneAxisNames) {
			name = s.ZoneAxisNames[i]
		}
		axes[i] = ZoneAxisRow{AxisIndex: i, Name: name, ZX: zv.X, ZY: zv.Y}
	}
	if err := db.SaveZoneAxes(runID, axes); err != nil {
		return err
	}

	planes := make([]PlaneRow, 0, len(s.PlaneList))
	for _, p := range s.PlaneList {
		idx, ok := axisIndex[p.Zone]
		if !ok {
			return fmt.Errorf("plane %d references unknown zone axis %v", p.ID, p.Zone)
		}
		planes = append(planes, PlaneRow{
			PlaneID:     p.ID,
			AxisIndex:   idx,
			AtomIndices: p.Atoms,
		})
	}
	return db.SavePlanes(runID, planes)
}
