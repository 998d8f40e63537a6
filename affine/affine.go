// Package affine fits and applies the linear maps between detector pixel
// coordinates (x, y) and CSU physical coordinates (mm, slit).
//
// Points are padded with a trailing 1 so a single 3x3 matrix carries both the
// linear part and the translation.  Row vectors are right-multiplied, so
// a point p maps to pad(p) * M.
package affine

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v2"
)

// ZeroThreshold is the magnitude below which fitted matrix entries are
// replaced with exact zeros
const ZeroThreshold = 1e-10

// Point is a coordinate pair, (x, y) in pixel space or (mm, slit) in
// physical space
type Point [2]float64

// Matrix is an affine transform in homogeneous coordinates
type Matrix [3][3]float64

// ShapeError is generated when point sets are not N x 2, differ in length,
// or are too short to fit
type ShapeError struct {
	Msg string
}

func (e *ShapeError) Error() string {
	return "affine: " + e.Msg
}

// Points converts rows of floats to Points, requiring each row to have
// exactly two columns
func Points(rows [][]float64) ([]Point, error) {
	out := make([]Point, len(rows))
	for i, r := range rows {
		if len(r) != 2 {
			return nil, &ShapeError{Msg: fmt.Sprintf("row %d has %d columns, expected 2", i, len(r))}
		}
		out[i] = Point{r[0], r[1]}
	}
	return out, nil
}

// Transform holds the forward and backward maps.  They are fit separately,
// so they are inverses only to within the residual of the fit
type Transform struct {
	PixelToPhysical Matrix
	PhysicalToPixel Matrix
}

// Fit determines the pixel -> physical and physical -> pixel transforms
// from paired point sets by least squares
func Fit(pixels, physical []Point) (Transform, error) {
	if len(pixels) != len(physical) {
		return Transform{}, &ShapeError{Msg: fmt.Sprintf("%d pixel points but %d physical points", len(pixels), len(physical))}
	}
	if len(pixels) < 3 {
		return Transform{}, &ShapeError{Msg: fmt.Sprintf("need at least 3 points, got %d", len(pixels))}
	}
	X := pad(pixels)
	Y := pad(physical)
	fwd, err := lstsq(X, Y)
	if err != nil {
		return Transform{}, errors.Wrap(err, "fitting pixel to physical")
	}
	bwd, err := lstsq(Y, X)
	if err != nil {
		return Transform{}, errors.Wrap(err, "fitting physical to pixel")
	}
	return Transform{PixelToPhysical: fwd, PhysicalToPixel: bwd}, nil
}

// lstsq solves a * M = b for M and zeroes the tiny entries
func lstsq(a, b *mat.Dense) (Matrix, error) {
	var m mat.Dense
	err := m.Solve(a, b)
	if err != nil {
		return Matrix{}, err
	}
	var out Matrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := m.At(i, j)
			if math.Abs(v) < ZeroThreshold {
				v = 0
			}
			out[i][j] = v
		}
	}
	return out, nil
}

func pad(pts []Point) *mat.Dense {
	d := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		d.Set(i, 0, p[0])
		d.Set(i, 1, p[1])
		d.Set(i, 2, 1)
	}
	return d
}

// Apply transforms points by m
func Apply(m Matrix, pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		for j := 0; j < 2; j++ {
			out[i][j] = p[0]*m[0][j] + p[1]*m[1][j] + m[2][j]
		}
	}
	return out
}

// ToPhysical converts pixel coordinates to (mm, slit)
func (t Transform) ToPhysical(pts ...Point) []Point {
	return Apply(t.PixelToPhysical, pts)
}

// ToPixel converts (mm, slit) to pixel coordinates
func (t Transform) ToPixel(pts ...Point) []Point {
	return Apply(t.PhysicalToPixel, pts)
}

// the persisted layout is [physical_to_pixel, pixel_to_physical]
func (t Transform) lists() [][][]float64 {
	out := make([][][]float64, 2)
	for k, m := range []Matrix{t.PhysicalToPixel, t.PixelToPhysical} {
		out[k] = make([][]float64, 3)
		for i := range m {
			out[k][i] = []float64{m[i][0], m[i][1], m[i][2]}
		}
	}
	return out
}

// Encode writes the transform as YAML
func (t Transform) Encode(w io.Writer) error {
	return yaml.NewEncoder(w).Encode(t.lists())
}

// Save writes the transform to a YAML file
func (t Transform) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return t.Encode(f)
}

// Decode reads a transform written by Encode
func Decode(r io.Reader) (Transform, error) {
	var raw [][][]float64
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return Transform{}, errors.Wrap(err, "decoding transforms")
	}
	if len(raw) != 2 {
		return Transform{}, &ShapeError{Msg: fmt.Sprintf("expected 2 matrices, got %d", len(raw))}
	}
	var ms [2]Matrix
	for k := range raw {
		if len(raw[k]) != 3 {
			return Transform{}, &ShapeError{Msg: fmt.Sprintf("matrix %d has %d rows, expected 3", k, len(raw[k]))}
		}
		for i := range raw[k] {
			if len(raw[k][i]) != 3 {
				return Transform{}, &ShapeError{Msg: fmt.Sprintf("matrix %d row %d has %d columns, expected 3", k, i, len(raw[k][i]))}
			}
			copy(ms[k][i][:], raw[k][i])
		}
	}
	return Transform{PhysicalToPixel: ms[0], PixelToPhysical: ms[1]}, nil
}

// Load reads a transform from a YAML file
func Load(path string) (Transform, error) {
	f, err := os.Open(path)
	if err != nil {
		return Transform{}, err
	}
	defer f.Close()
	return Decode(f)
}

// LoadPoints reads a YAML list of [a, b] pairs, the format of the
// calibration point files
func LoadPoints(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rows [][]float64
	if err := yaml.NewDecoder(f).Decode(&rows); err != nil {
		return nil, errors.Wrapf(err, "decoding points from %s", path)
	}
	return Points(rows)
}
