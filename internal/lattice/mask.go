package lattice

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Mask is a boolean pixel mask over a crop region.
type Mask struct {
	rows, cols int
	bits       []bool
}

func newMask(rows, cols int) *Mask {
	return &Mask{rows: rows, cols: cols, bits: make([]bool, rows*cols)}
}

// At reports whether pixel (x, y) is inside the mask. Out-of-bounds is false.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.cols || y >= m.rows {
		return false
	}
	return m.bits[y*m.cols+x]
}

func (m *Mask) set(x, y int) {
	if x < 0 || y < 0 || x >= m.cols || y >= m.rows {
		return
	}
	m.bits[y*m.cols+x] = true
}

// Count returns the number of masked-in pixels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

// addCircle marks all pixels within radius of (cx, cy).
func (m *Mask) addCircle(cx, cy, radius float64) {
	x0 := int(math.Floor(cx - radius))
	x1 := int(math.Ceil(cx + radius))
	y0 := int(math.Floor(cy - radius))
	y1 := int(math.Ceil(cy + radius))
	r2 := radius * radius
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			if dx*dx+dy*dy <= r2 {
				m.set(x, y)
			}
		}
	}
}

// makeMaskFromPositions builds a union-of-circles mask over a crop region.
// Positions are in crop coordinates.
func makeMaskFromPositions(positions [][2]float64, radii []float64, rows, cols int) *Mask {
	m := newMask(rows, cols)
	for i, p := range positions {
		m.addCircle(p[0], p[1], radii[i])
	}
	return m
}

// applyMask zeroes every pixel outside the mask in place and returns the
// masked-in values.
func applyMask(crop *mat.Dense, mask *Mask) []float64 {
	rows, cols := crop.Dims()
	values := make([]float64, 0, mask.Count())
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if mask.At(x, y) {
				values = append(values, crop.At(y, x))
			} else {
				crop.Set(y, x, 0)
			}
		}
	}
	return values
}

// subtractBackground removes level from every masked-in pixel, clamping
// negatives to zero.
func subtractBackground(crop *mat.Dense, mask *Mask, level float64) {
	rows, cols := crop.Dims()
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if !mask.At(x, y) {
				continue
			}
			v := crop.At(y, x) - level
			if v < 0 {
				v = 0
			}
			crop.Set(y, x, v)
		}
	}
}

// cropRegion is the minimal bounding region covering a set of atoms plus
// their mask radii, clamped to the image bounds.
type cropRegion struct {
	x0, y0, x1, y1 int // [x0, x1) x [y0, y1) in image coordinates
}

func regionAroundAtoms(img *Image, positions [][2]float64, radii []float64) cropRegion {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i, p := range positions {
		r := radii[i]
		minX = math.Min(minX, p[0]-r)
		maxX = math.Max(maxX, p[0]+r)
		minY = math.Min(minY, p[1]-r)
		maxY = math.Max(maxY, p[1]+r)
	}
	rows, cols := img.Dims()
	reg := cropRegion{
		x0: int(math.Round(minX)),
		y0: int(math.Round(minY)),
		x1: int(math.Round(maxX)) + 1,
		y1: int(math.Round(maxY)) + 1,
	}
	if reg.x0 < 0 {
		reg.x0 = 0
	}
	if reg.y0 < 0 {
		reg.y0 = 0
	}
	if reg.x1 > cols {
		reg.x1 = cols
	}
	if reg.y1 > rows {
		reg.y1 = rows
	}
	return reg
}

func (r cropRegion) width() int  { return r.x1 - r.x0 }
func (r cropRegion) height() int { return r.y1 - r.y0 }
func (r cropRegion) samples() int {
	w, h := r.width(), r.height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}
