package lattice

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Gaussian2D is a rotated elliptical 2-D Gaussian. Amplitude is the peak
// height above background.
type Gaussian2D struct {
	CentreX, CentreY float64
	SigmaX, SigmaY   float64
	Rotation         float64 // radians, major axis vs x axis
	Amplitude        float64
}

// Eval returns the Gaussian value at (x, y).
func (g *Gaussian2D) Eval(x, y float64) float64 {
	sx2 := g.SigmaX * g.SigmaX
	sy2 := g.SigmaY * g.SigmaY
	if sx2 == 0 || sy2 == 0 {
		return 0
	}
	sin, cos := math.Sincos(g.Rotation)
	sin2 := math.Sin(2 * g.Rotation)
	a := cos*cos/(2*sx2) + sin*sin/(2*sy2)
	b := -sin2/(4*sx2) + sin2/(4*sy2)
	c := sin*sin/(2*sx2) + cos*cos/(2*sy2)
	dx, dy := x-g.CentreX, y-g.CentreY
	return g.Amplitude * math.Exp(-(a*dx*dx + 2*b*dx*dy + c*dy*dy))
}

// gaussianFromAtom seeds a Gaussian component from an atom's current state.
// Positions are shifted into crop coordinates by the caller.
func gaussianFromAtom(a *AtomPosition, cx, cy, amplitudeSeed float64) *Gaussian2D {
	amp := amplitudeSeed
	if a.GaussianFitted {
		amp = a.Amplitude
	}
	return &Gaussian2D{
		CentreX:   cx,
		CentreY:   cy,
		SigmaX:    a.SigmaX,
		SigmaY:    a.SigmaY,
		Rotation:  a.Rotation,
		Amplitude: amp,
	}
}

// ModelImage renders the sum of the fitted Gaussians of every atom over the
// sublattice image extent. Atoms without a valid fit contribute nothing.
// Useful for residual inspection and regression tests.
func (s *Sublattice) ModelImage() *Image {
	rows, cols := s.Image.Dims()
	out := mat.NewDense(rows, cols, nil)
	for _, a := range s.Atoms {
		if !a.GaussianFitted || a.Amplitude == 0 {
			continue
		}
		g := Gaussian2D{
			CentreX:   a.X,
			CentreY:   a.Y,
			SigmaX:    a.SigmaX,
			SigmaY:    a.SigmaY,
			Rotation:  a.Rotation,
			Amplitude: a.Amplitude,
		}
		// Only render within 5 sigma of the centre.
		reach := 5 * math.Max(a.SigmaX, a.SigmaY)
		x0 := int(math.Max(0, math.Floor(a.X-reach)))
		x1 := int(math.Min(float64(cols-1), math.Ceil(a.X+reach)))
		y0 := int(math.Max(0, math.Floor(a.Y-reach)))
		y1 := int(math.Min(float64(rows-1), math.Ceil(a.Y+reach)))
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				out.Set(y, x, out.At(y, x)+g.Eval(float64(x), float64(y)))
			}
		}
	}
	return &Image{Data: out, Scale: s.Image.Scale, Units: s.Image.Units}
}
