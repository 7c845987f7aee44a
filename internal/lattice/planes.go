package lattice

import (
	"math"
	"sort"
)

// farReferenceLength places the orthogonal reference point used for plane
// ordering far enough away that distance to it is monotonic in the
// perpendicular offset for any realistic image size.
const farReferenceLength = 1e8

// AtomPlane is an ordered chain of atoms sharing one zone vector. Members
// are arena indices into the owning sublattice, ordered by ascending
// projection onto the zone vector; the plane owns no atoms.
type AtomPlane struct {
	ID    int
	Zone  ZoneVector
	Atoms []int
}

// Len returns the number of member atoms.
func (p *AtomPlane) Len() int { return len(p.Atoms) }

// Positions returns the ordered member coordinates from the sublattice.
func (p *AtomPlane) Positions(s *Sublattice) [][2]float64 {
	out := make([][2]float64, len(p.Atoms))
	for i, idx := range p.Atoms {
		a := s.Atoms[idx]
		out[i] = [2]float64{a.X, a.Y}
	}
	return out
}

// ConstructAtomPlanes grows atom planes for every discovered zone vector by
// bidirectional traversal over the neighbor lists, then groups and orders
// the planes per zone vector. Traversal requires neighbor lists built on
// the current coordinates; zone vectors must have been discovered first.
//
// Traversal is sequential by zone vector: plane membership tags for one
// zone vector are fully written before the next zone vector is visited.
func (s *Sublattice) ConstructAtomPlanes(tolerance float64) error {
	if err := s.checkZoneAxes(); err != nil {
		return err
	}
	if err := s.checkNeighborLists(); err != nil {
		return err
	}
	if tolerance <= 0 {
		tolerance = DefaultPlaneTolerance
	}
	for _, zv := range s.ZoneAxes {
		s.findPlanesAlongZone(zv, tolerance)
	}
	s.sortPlanesByZoneVector()
	return nil
}

// findPlanesAlongZone visits atoms in arena order and starts one traversal
// per atom not already lying in a plane of this zone vector. Chains of
// length 1 are not planes and are discarded.
func (s *Sublattice) findPlanesAlongZone(zv ZoneVector, tolerance float64) {
	searchRange := tolerance * s.PixelSeparation()
	for i, atom := range s.Atoms {
		if atom.isInPlaneOfZone(s, zv) {
			continue
		}
		chain := s.traverseBothWays(i, zv, searchRange)
		if len(chain) == 1 {
			continue
		}
		plane := &AtomPlane{ID: s.nextPlaneID, Zone: zv, Atoms: chain}
		s.nextPlaneID++
		s.PlaneList = append(s.PlaneList, plane)
		s.planesByID[plane.ID] = plane
		for _, idx := range chain {
			s.Atoms[idx].Planes = append(s.Atoms[idx].Planes, plane.ID)
		}
	}
}

// traverseBothWays walks forward along the zone vector and backward along
// its negation from the seed atom, then concatenates the two partial chains
// (backward reversed, sharing the seed) into one ordered chain. The seed's
// position in the result is wherever the backward walk ends.
func (s *Sublattice) traverseBothWays(seed int, zv ZoneVector, searchRange float64) []int {
	forward := s.traverse(seed, zv, searchRange, false)
	backward := s.traverse(seed, zv.Neg(), searchRange, true)

	// backward[0] is the seed, already present in forward.
	chain := make([]int, 0, len(forward)+len(backward)-1)
	for i := len(backward) - 1; i >= 1; i-- {
		chain = append(chain, backward[i])
	}
	chain = append(chain, forward...)
	return chain
}

// traverse extends a chain one zone-vector jump at a time: from the current
// atom, the neighbor closest to "current position + direction" within
// searchRange is appended. When no neighbor qualifies the current atom is
// the chain terminal for this direction and gets tagged so later seeds do
// not re-walk the same plane. Ties at equal distance resolve to the earlier
// entry in the neighbor list (stable sort over the ascending-distance list).
func (s *Sublattice) traverse(seed int, direction ZoneVector, searchRange float64, isStart bool) []int {
	chain := []int{seed}
	visited := map[int]bool{seed: true}
	for {
		current := s.Atoms[chain[len(chain)-1]]
		targetX := current.X + direction.X
		targetY := current.Y + direction.Y

		best := -1
		bestDist := searchRange
		for _, nIdx := range current.Neighbors {
			d := s.Atoms[nIdx].DistanceToPoint(targetX, targetY)
			if d < bestDist {
				best = nIdx
				bestDist = d
			}
		}
		if best < 0 || visited[best] {
			tag := current
			if isStart {
				tag.markZoneStart(direction.Neg())
			} else {
				tag.markZoneEnd(direction)
			}
			return chain
		}
		visited[best] = true
		chain = append(chain, best)
	}
}

// sortPlanesByZoneVector groups planes by zone vector and orders each group
// by the plane's closest distance to a reference point far along the
// orthogonal of the zone vector. This yields a deterministic total order of
// planes equivalent to sorting by perpendicular offset.
func (s *Sublattice) sortPlanesByZoneVector() {
	s.planesByZone = make(map[ZoneVector][]*AtomPlane, len(s.ZoneAxes))
	for _, zv := range s.ZoneAxes {
		var group []*AtomPlane
		for _, plane := range s.PlaneList {
			if plane.Zone == zv {
				group = append(group, plane)
			}
		}
		refX := farReferenceLength * zv.Y
		refY := -farReferenceLength * zv.X
		sort.SliceStable(group, func(i, j int) bool {
			return s.planeDistanceToPoint(group[i], refX, refY) <
				s.planeDistanceToPoint(group[j], refX, refY)
		})
		s.planesByZone[zv] = group
	}
}

func (s *Sublattice) planeDistanceToPoint(p *AtomPlane, px, py float64) float64 {
	closest := math.Inf(1)
	for _, idx := range p.Atoms {
		if d := s.Atoms[idx].DistanceToPoint(px, py); d < closest {
			closest = d
		}
	}
	return closest
}

// RemoveBadZoneVectors prunes zone vectors whose plane sets are structurally
// degenerate: zero planes, or more than badPlaneRatio of the planes holding
// exactly 2 atoms (the signature of a spurious or fragmented direction).
// Pruning removes the planes, the atoms' membership back-references, and the
// zone vector with its paired name. Vector and name lists are pruned in
// lock-step by matching value, not by index, since an earlier selection list
// may have reordered them.
func (s *Sublattice) RemoveBadZoneVectors(badPlaneRatio float64) {
	if badPlaneRatio <= 0 {
		badPlaneRatio = DefaultBadPlaneRatio
	}
	var deleteZones []ZoneVector
	for _, zv := range s.ZoneAxes {
		planes := s.planesByZone[zv]
		if len(planes) == 0 {
			deleteZones = append(deleteZones, zv)
			continue
		}
		twoAtomPlanes := 0
		for _, p := range planes {
			if p.Len() == 2 {
				twoAtomPlanes++
			}
		}
		if float64(twoAtomPlanes)/float64(len(planes)) > badPlaneRatio {
			for _, p := range planes {
				s.removePlane(p)
			}
			deleteZones = append(deleteZones, zv)
		}
	}
	for _, zv := range deleteZones {
		delete(s.planesByZone, zv)
		for i, v := range s.ZoneAxes {
			if v == zv {
				s.ZoneAxes = append(s.ZoneAxes[:i], s.ZoneAxes[i+1:]...)
				s.ZoneAxisNames = append(s.ZoneAxisNames[:i], s.ZoneAxisNames[i+1:]...)
				break
			}
		}
	}
}

func (s *Sublattice) removePlane(p *AtomPlane) {
	for _, idx := range p.Atoms {
		s.Atoms[idx].removePlaneMembership(p.ID)
	}
	delete(s.planesByID, p.ID)
	for i, q := range s.PlaneList {
		if q.ID == p.ID {
			s.PlaneList = append(s.PlaneList[:i], s.PlaneList[i+1:]...)
			break
		}
	}
}
