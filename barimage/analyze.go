/*Package barimage measures CSU bar positions from images of the slit mask.

For each slit, the rows the slit occupies on the detector are found from
the physical to pixel transform.  The rows are median filtered along x,
differentiated along x and summed into a profile in which the two bar edges
show as a negative (falling) and a positive (rising) lobe.  A dual gaussian
fit locates the lobes, and the pixel positions are returned to mm through
the pixel to physical transform.
*/
package barimage

import (
	"errors"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/keckobservatory/instruments/affine"
	"github.com/keckobservatory/instruments/bars"
	"github.com/keckobservatory/instruments/mask"
	"github.com/keckobservatory/instruments/mathx"
)

// DefaultFilterWidth is the width of the median filter applied along rows
const DefaultFilterWidth = 7

// Band is the rows [Y1, Y2) of an image that belong to a slit
type Band struct {
	Slit int `json:"slit"`
	Y1   int `json:"y1"`
	Y2   int `json:"y2"`
}

// Empty is true if the band has no rows
func (b Band) Empty() bool {
	return b.Y2 <= b.Y1
}

// BarEstimate is the measured position of one bar
type BarEstimate struct {
	Bar      int     `json:"bar"`
	Slit     int     `json:"slit"`
	Pixel    float64 `json:"pixel"`
	MM       float64 `json:"mm"`
	Resolved bool    `json:"resolved"`
}

// Analysis is the result of analyzing an image
type Analysis struct {
	// Bars holds an estimate for every bar, resolved or not
	Bars map[int]BarEstimate `json:"bars"`

	// Bands holds the row range of each slit, in slit order
	Bands []Band `json:"bands"`
}

// Analyzer finds bar positions in images
type Analyzer struct {
	Transform   affine.Transform
	FilterWidth int
	Log         logrus.FieldLogger
}

// NewAnalyzer returns an analyzer with the default filter width
func NewAnalyzer(tf affine.Transform) *Analyzer {
	return &Analyzer{
		Transform:   tf,
		FilterWidth: DefaultFilterWidth,
		Log:         logrus.WithField("component", "barimage")}
}

// Band returns the rows of a slit, clamped to an image of the given height.
// The band spans from the row at (4.0 mm, slit+0.5) to the row at
// (270.4 mm, slit-0.5)
func (a *Analyzer) Band(slit, height int) Band {
	s := float64(slit)
	pts := a.Transform.ToPixel(
		affine.Point{bars.MinPositionMM, s + 0.5},
		affine.Point{bars.MaxPositionMM, s - 0.5})
	lo, hi := pts[0][1], pts[1][1]
	if lo > hi {
		lo, hi = hi, lo
	}
	b := Band{Slit: slit, Y1: int(math.Ceil(lo)), Y2: int(math.Floor(hi))}
	if b.Y1 < 0 {
		b.Y1 = 0
	}
	if b.Y2 > height {
		b.Y2 = height
	}
	return b
}

// Profile is the sum over the rows of a band of the x derivative of the
// median filtered rows
func (a *Analyzer) Profile(img *Image, b Band) []float64 {
	prof := make([]float64, img.Width)
	for y := b.Y1; y < b.Y2; y++ {
		g := mathx.Gradient(mathx.MedianFilter1D(img.Row(y), a.FilterWidth))
		for x, v := range g {
			prof[x] += v
		}
	}
	return prof
}

// Analyze measures every bar in img
func (a *Analyzer) Analyze(img *Image) (Analysis, error) {
	if img == nil || img.Width == 0 || img.Height == 0 || len(img.Pix) != img.Width*img.Height {
		return Analysis{}, errors.New("barimage: empty or malformed image")
	}
	out := Analysis{Bars: make(map[int]BarEstimate, bars.NumBars), Bands: make([]Band, 0, bars.NumSlits)}
	resolved := 0
	for slit := 1; slit <= bars.NumSlits; slit++ {
		right, left := bars.SlitToBars(slit)
		band := a.Band(slit, img.Height)
		out.Bands = append(out.Bands, band)
		re := BarEstimate{Bar: right, Slit: slit, Pixel: math.NaN(), MM: math.NaN()}
		le := BarEstimate{Bar: left, Slit: slit, Pixel: math.NaN(), MM: math.NaN()}
		if band.Empty() {
			a.Log.Debugf("slit %d has no rows in the image", slit)
		} else if x1, x2, ok := FindBarEdges(a.Profile(img, band)); ok {
			mid := float64(band.Y1+band.Y2) / 2
			phys := a.Transform.ToPhysical(affine.Point{x1, mid}, affine.Point{x2, mid})
			re.Pixel, re.MM, re.Resolved = x1, phys[0][0], true
			le.Pixel, le.MM, le.Resolved = x2, phys[1][0], true
			resolved++
			a.Log.Debugf("slit %d: x2=%.2f x1=%.2f dx=%.2f left=%.3f mm right=%.3f mm",
				slit, x2, x1, x1-x2, le.MM, re.MM)
		} else {
			a.Log.Debugf("slit %d: bar edges not found", slit)
		}
		out.Bars[right] = re
		out.Bars[left] = le
	}
	a.Log.WithFields(logrus.Fields{"resolved": resolved, "slits": bars.NumSlits}).Info("analyzed mask image")
	return out, nil
}

// Discrepancy is a bar whose measured position disagrees with the mask
type Discrepancy struct {
	Bar         int     `json:"bar"`
	CommandedMM float64 `json:"commandedMM"`
	MeasuredMM  float64 `json:"measuredMM"`
	DeltaMM     float64 `json:"deltaMM"`
	Resolved    bool    `json:"resolved"`
}

// Verify compares the measured positions to the bar targets of a mask.
// Bars which were not resolved, or which differ by more than tolerance mm,
// are returned in bar order.  Closed slits pass no light and are skipped
func Verify(a Analysis, m *mask.Mask, tolerance float64) []Discrepancy {
	targets := make(map[int]float64, bars.NumBars)
	for _, s := range m.Slits {
		if s.Closed() {
			continue
		}
		targets[s.RightBarNumber] = s.RightBarPositionMM
		targets[s.LeftBarNumber] = s.LeftBarPositionMM
	}
	ids := make([]int, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var out []Discrepancy
	for _, id := range ids {
		est, ok := a.Bars[id]
		d := Discrepancy{Bar: id, CommandedMM: targets[id], MeasuredMM: math.NaN(), DeltaMM: math.NaN()}
		if !ok || !est.Resolved {
			out = append(out, d)
			continue
		}
		d.Resolved = true
		d.MeasuredMM = est.MM
		d.DeltaMM = est.MM - targets[id]
		if math.Abs(d.DeltaMM) > tolerance {
			out = append(out, d)
		}
	}
	return out
}
