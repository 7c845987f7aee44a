package lattice

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Image is a 2-D intensity map with an optional physical scale.
// Pixel coordinates follow the (x, y) = (column, row) convention used
// throughout this package.
type Image struct {
	Data  *mat.Dense
	Scale float64 // physical units per pixel, 0 means uncalibrated
	Units string  // e.g. "nm", "A"
}

// NewImage wraps a dense matrix as an uncalibrated image.
func NewImage(data *mat.Dense) *Image {
	return &Image{Data: data, Scale: 0, Units: "px"}
}

// NewImageFromSlice builds an image from row-major float64 data.
func NewImageFromSlice(rows, cols int, values []float64) (*Image, error) {
	if len(values) != rows*cols {
		return nil, fmt.Errorf("image data length %d does not match %dx%d", len(values), rows, cols)
	}
	return NewImage(mat.NewDense(rows, cols, values)), nil
}

// Dims returns the image size as (rows, cols).
func (im *Image) Dims() (rows, cols int) { return im.Data.Dims() }

// At returns the intensity at pixel (x, y). Out-of-bounds reads return 0 so
// crops that overhang the image edge behave as zero-padded.
func (im *Image) At(x, y int) float64 {
	rows, cols := im.Data.Dims()
	if x < 0 || y < 0 || x >= cols || y >= rows {
		return 0
	}
	return im.Data.At(y, x)
}

// Max returns the maximum intensity of the image.
func (im *Image) Max() float64 {
	return mat.Max(im.Data)
}

// Crop extracts the region [x0, x1) x [y0, y1) into a new dense matrix.
// Regions overhanging the image edge are zero padded.
func (im *Image) Crop(x0, y0, x1, y1 int) *mat.Dense {
	out := mat.NewDense(y1-y0, x1-x0, nil)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			out.Set(y-y0, x-x0, im.At(x, y))
		}
	}
	return out
}

// Normalized returns a copy of the image scaled so the maximum intensity is 1.
func (im *Image) Normalized() *Image {
	rows, cols := im.Dims()
	max := im.Max()
	out := mat.NewDense(rows, cols, nil)
	if max != 0 {
		out.Scale(1/max, im.Data)
	}
	return &Image{Data: out, Scale: im.Scale, Units: im.Units}
}

// SubtractBlurredBackground returns a copy of the image with a boxcar-blurred
// estimate of the slowly varying background removed, shifted so the minimum
// value is zero. Used as an optional pre-processing step before peak finding
// on images with strong thickness or contamination gradients.
func (im *Image) SubtractBlurredBackground(blurRadius int) *Image {
	rows, cols := im.Dims()
	blurred := boxBlur(im.Data, blurRadius)
	out := mat.NewDense(rows, cols, nil)
	out.Sub(im.Data, blurred)
	min := mat.Min(out)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			out.Set(y, x, out.At(y, x)-min)
		}
	}
	return &Image{Data: out, Scale: im.Scale, Units: im.Units}
}

// boxBlur applies a square mean filter of half-width radius, clamping at the
// image edges.
func boxBlur(m *mat.Dense, radius int) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			var sum float64
			var n int
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					yy, xx := y+dy, x+dx
					if yy < 0 || xx < 0 || yy >= rows || xx >= cols {
						continue
					}
					sum += m.At(yy, xx)
					n++
				}
			}
			out.Set(y, x, sum/float64(n))
		}
	}
	return out
}

// findBackgroundValue estimates the background level of Gaussian-shaped
// image data as the median of the lowest percentile of values. The median is
// preferred over the minimum so acquisition artifacts with near-zero pixels
// do not drag the background down.
func findBackgroundValue(values []float64, lowestPercentile float64) float64 {
	return percentileMedian(values, lowestPercentile, false)
}

// findMedianUpperPercentile returns the median of the upper percentile of
// values. Used to seed the amplitude of Gaussian components before fitting.
func findMedianUpperPercentile(values []float64, upperPercentile float64) float64 {
	return percentileMedian(values, upperPercentile, true)
}

func percentileMedian(values []float64, percentile float64, upper bool) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	amount := int(percentile * float64(len(sorted)))
	if amount == 0 {
		amount = 1
	}
	var tail []float64
	if upper {
		tail = sorted[len(sorted)-amount:]
	} else {
		tail = sorted[:amount]
	}
	return stat.Quantile(0.5, stat.Empirical, tail, nil)
}

// centerOfMass returns the first-moment centroid (cx, cy) of a 2-D array in
// (column, row) pixel coordinates. All-zero input yields the array centre.
func centerOfMass(m *mat.Dense) (cx, cy float64) {
	rows, cols := m.Dims()
	var total, sumX, sumY float64
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			v := m.At(y, x)
			total += v
			sumX += v * float64(x)
			sumY += v * float64(y)
		}
	}
	if total == 0 || math.IsNaN(total) {
		return float64(cols-1) / 2, float64(rows-1) / 2
	}
	return sumX / total, sumY / total
}
