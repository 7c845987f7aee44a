// Package units provides shared constants and validation for length units
package units

// Unit constants
const (
	Pixel     = "px"
	Nanometre = "nm"
	Angstrom  = "A"
	Picometre = "pm"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Pixel, Nanometre, Angstrom, Picometre}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "px, nm, A, pm"
}

// nanometresPer gives the length of one target unit in nanometres.
func nanometresPer(unit string) float64 {
	switch unit {
	case Nanometre:
		return 1
	case Angstrom:
		return 0.1
	case Picometre:
		return 0.001
	default:
		return 0
	}
}

// ConvertLength converts a pixel distance to the target units using the
// image calibration scale (nanometres per pixel). An unknown target unit or
// a zero scale leaves the value in pixels.
func ConvertLength(pixels, nmPerPixel float64, targetUnits string) float64 {
	if targetUnits == Pixel || nmPerPixel == 0 {
		return pixels
	}
	per := nanometresPer(targetUnits)
	if per == 0 {
		return pixels
	}
	return pixels * nmPerPixel / per
}

// ConvertArea converts a squared-pixel area to the target units squared.
func ConvertArea(pixels2, nmPerPixel float64, targetUnits string) float64 {
	if targetUnits == Pixel || nmPerPixel == 0 {
		return pixels2
	}
	per := nanometresPer(targetUnits)
	if per == 0 {
		return pixels2
	}
	scale := nmPerPixel / per
	return pixels2 * scale * scale
}
