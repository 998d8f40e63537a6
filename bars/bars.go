// Package bars holds the numbering and geometry conventions of the MOSFIRE
// configurable slit unit (CSU).
//
// The CSU has 92 bars forming 46 slits.  Odd bars are the right side of a
// slit, even bars the left.  Every other package converts between bars and
// slits through this one.
package bars

import "fmt"

const (
	// NumBars is the number of independently movable bars
	NumBars = 92

	// NumSlits is the number of slits (bar pairs)
	NumSlits = 46

	// MinPositionMM is the mechanical extreme of the right bars, fully open
	MinPositionMM = 4.0

	// MaxPositionMM is the mechanical extreme of the left bars, fully open
	MaxPositionMM = 270.4

	// CenterSlit is the slit in the middle of the field
	CenterSlit = 24

	// AlignBoxSlit is the slit whose bars (45, 46) form the alignment box
	AlignBoxSlit = 23

	// NominalWidthArcsec is the reference slit width on sky
	NominalWidthArcsec = 0.7

	// NominalWidthMM is the bar separation which yields NominalWidthArcsec
	NominalWidthMM = 0.507

	// AlignBoxOffsetArcsec is the half width added to the alignment box
	AlignBoxOffsetArcsec = 1.65

	// ClosedGapMM is the bar separation of a closed slit
	ClosedGapMM = 0.05

	// centerZeroArcsec and centerSlope define the linear mm -> arcsec
	// calibration of slit centers
	centerZeroArcsec = 189.62934431020133
	centerSlope      = 1.3801254681363402
)

// SlitToBars returns the (right, left) bar numbers of a slit
func SlitToBars(slit int) (right, left int) {
	return slit*2 - 1, slit * 2
}

// BarToSlit returns the slit a bar belongs to
func BarToSlit(bar int) int {
	return (bar + 1) / 2
}

// IsRight is true for the odd, right-hand, bar of a slit
func IsRight(bar int) bool {
	return bar%2 == 1
}

// ValidBar is true if bar is in [1, NumBars]
func ValidBar(bar int) bool {
	return bar >= 1 && bar <= NumBars
}

// ValidSlit is true if slit is in [1, NumSlits]
func ValidSlit(slit int) bool {
	return slit >= 1 && slit <= NumSlits
}

// InStroke is true if a bar position is within the mechanical travel
func InStroke(mm float64) bool {
	return mm >= MinPositionMM && mm <= MaxPositionMM
}

// CenterArcsec converts the center of a slit in mm to arcseconds
func CenterArcsec(mm float64) float64 {
	return centerZeroArcsec - centerSlope*mm
}

// CenterMM is the inverse of CenterArcsec
func CenterMM(arcsec float64) float64 {
	return (centerZeroArcsec - arcsec) / centerSlope
}

// WidthArcsec converts a pair of bar positions to a slit width on sky
func WidthArcsec(leftMM, rightMM float64) float64 {
	return (leftMM - rightMM) * NominalWidthArcsec / NominalWidthMM
}

// WidthMM converts a slit width on sky to a bar separation in mm
func WidthMM(arcsec float64) float64 {
	return arcsec * NominalWidthMM / NominalWidthArcsec
}

// Keyword formats a per-bar keyword, e.g. Keyword(7, "TARG") = "B07TARG"
func Keyword(bar int, suffix string) string {
	return fmt.Sprintf("B%02d%s", bar, suffix)
}
