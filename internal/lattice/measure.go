package lattice

import (
	"math"
)

// Measurement helpers exposed for distortion and composition analysis.
// These read the discovered topology; they never mutate it.

// DistanceSample is one local spacing measurement: a distance tied to the
// position it was measured at. Used for local lattice distortion maps.
type DistanceSample struct {
	X, Y     float64
	Distance float64
}

// AtomDistanceList samples consecutive-atom distances along every plane of
// the given zone vector.
func (s *Sublattice) AtomDistanceList(zv ZoneVector) ([]DistanceSample, error) {
	if err := s.checkZoneAxes(); err != nil {
		return nil, err
	}
	var out []DistanceSample
	for _, plane := range s.planesByZone[zv] {
		for i := 0; i+1 < len(plane.Atoms); i++ {
			a := s.Atoms[plane.Atoms[i]]
			b := s.Atoms[plane.Atoms[i+1]]
			out = append(out, DistanceSample{
				X:        (a.X + b.X) / 2,
				Y:        (a.Y + b.Y) / 2,
				Distance: a.Distance(b),
			})
		}
	}
	return out, nil
}

// MonolayerDistanceList samples, for each atom, the perpendicular distance
// between its plane and the next plane of the same zone vector: one atom
// plane's worth of atoms treated as a single structural layer.
func (s *Sublattice) MonolayerDistanceList(zv ZoneVector) ([]DistanceSample, error) {
	if err := s.checkZoneAxes(); err != nil {
		return nil, err
	}
	planes := s.planesByZone[zv]
	var out []DistanceSample
	for i := 0; i+1 < len(planes); i++ {
		this, next := planes[i], planes[i+1]
		for _, idx := range this.Atoms {
			a := s.Atoms[idx]
			d := perpendicularDistanceToPlane(s, a, next)
			out = append(out, DistanceSample{X: a.X, Y: a.Y, Distance: d})
		}
	}
	return out, nil
}

// perpendicularDistanceToPlane is the shortest distance from the atom to
// any segment of the plane's chain, approximated by the closest member.
func perpendicularDistanceToPlane(s *Sublattice, a *AtomPosition, plane *AtomPlane) float64 {
	closest := math.Inf(1)
	for _, idx := range plane.Atoms {
		if d := a.Distance(s.Atoms[idx]); d < closest {
			closest = d
		}
	}
	return closest
}

// MaxIntensities returns the maximum masked image intensity around each
// atom, aligned by atom index. A cheap composition proxy that works without
// a Gaussian fit. Requires neighbor lists when the policy is percent-to-NN.
func (s *Sublattice) MaxIntensities(img *Image, policy RadiusPolicy) ([]float64, error) {
	return s.maskedIntensity(img, policy, func(values []float64) float64 {
		max := math.Inf(-1)
		for _, v := range values {
			if v > max {
				max = v
			}
		}
		return max
	})
}

// MinIntensities returns the minimum masked image intensity around each
// atom, aligned by atom index.
func (s *Sublattice) MinIntensities(img *Image, policy RadiusPolicy) ([]float64, error) {
	return s.maskedIntensity(img, policy, func(values []float64) float64 {
		min := math.Inf(1)
		for _, v := range values {
			if v < min {
				min = v
			}
		}
		return min
	})
}

func (s *Sublattice) maskedIntensity(img *Image, policy RadiusPolicy,
	reduce func([]float64) float64) ([]float64, error) {

	if img == nil {
		img = s.Image
	}
	if policy.isZero() {
		policy = PercentToNN(DefaultPercentToNN)
	}
	out := make([]float64, len(s.Atoms))
	for i, a := range s.Atoms {
		radius, err := policy.resolve(s, i)
		if err != nil {
			return nil, err
		}
		region := regionAroundAtoms(img, [][2]float64{{a.X, a.Y}}, []float64{radius})
		if region.samples() == 0 {
			continue
		}
		crop := img.Crop(region.x0, region.y0, region.x1, region.y1)
		mask := newMask(region.height(), region.width())
		mask.addCircle(a.X-float64(region.x0), a.Y-float64(region.y0), radius)
		values := applyMask(crop, mask)
		if len(values) > 0 {
			out[i] = reduce(values)
		}
	}
	return out, nil
}

// FindMissingAtoms proposes positions for atoms absent from the planes of a
// zone vector: for every consecutive pair in each plane, a candidate is
// placed vectorFraction of the way between them. Candidates closer than
// half the pixel separation to an existing atom or an already accepted
// candidate are dropped. The caller decides whether to add the results to
// the sublattice (which invalidates neighbor lists and topology).
func (s *Sublattice) FindMissingAtoms(zv ZoneVector, vectorFraction float64) ([][2]float64, error) {
	if err := s.checkZoneAxes(); err != nil {
		return nil, err
	}
	if vectorFraction <= 0 {
		vectorFraction = 0.5
	}
	minDist := s.PixelSeparation() / 2
	minDist2 := minDist * minDist

	var candidates [][2]float64
	for _, plane := range s.planesByZone[zv] {
		for i := 0; i+1 < len(plane.Atoms); i++ {
			a := s.Atoms[plane.Atoms[i]]
			b := s.Atoms[plane.Atoms[i+1]]
			cx := a.X + (b.X-a.X)*vectorFraction
			cy := a.Y + (b.Y-a.Y)*vectorFraction
			if tooCloseToAny(cx, cy, s.Atoms, candidates, minDist2) {
				continue
			}
			candidates = append(candidates, [2]float64{cx, cy})
		}
	}
	return candidates, nil
}

func tooCloseToAny(x, y float64, atoms []*AtomPosition, accepted [][2]float64, minDist2 float64) bool {
	for _, a := range atoms {
		dx, dy := a.X-x, a.Y-y
		if dx*dx+dy*dy < minDist2 {
			return true
		}
	}
	for _, c := range accepted {
		dx, dy := c[0]-x, c[1]-y
		if dx*dx+dy*dy < minDist2 {
			return true
		}
	}
	return false
}
