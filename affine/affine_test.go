package affine

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pix = (7.2*mm + 100, -44*slit + 2100), roughly the MOSFIRE plate scale
func syntheticPairs() (pixels, physical []Point) {
	for _, mm := range []float64{4, 60, 137.2, 200, 270.4} {
		for _, slit := range []float64{1, 12, 24, 46} {
			physical = append(physical, Point{mm, slit})
			pixels = append(pixels, Point{7.2*mm + 100, -44*slit + 2100})
		}
	}
	return
}

func TestFitRoundTrip(t *testing.T) {
	pixels, physical := syntheticPairs()
	tf, err := Fit(pixels, physical)
	require.NoError(t, err)

	for i, p := range tf.ToPixel(physical...) {
		assert.InDelta(t, pixels[i][0], p[0], 1e-6)
		assert.InDelta(t, pixels[i][1], p[1], 1e-6)
	}
	for i, p := range tf.ToPhysical(tf.ToPixel(physical...)...) {
		assert.InDelta(t, physical[i][0], p[0], 1e-6)
		assert.InDelta(t, physical[i][1], p[1], 1e-6)
	}
}

func TestFitZeroesCrossTerms(t *testing.T) {
	pixels, physical := syntheticPairs()
	tf, err := Fit(pixels, physical)
	require.NoError(t, err)
	// mm does not depend on y and slit does not depend on x
	assert.Equal(t, 0., tf.PixelToPhysical[1][0])
	assert.Equal(t, 0., tf.PixelToPhysical[0][1])
	assert.Equal(t, 0., tf.PhysicalToPixel[1][0])
	assert.Equal(t, 0., tf.PhysicalToPixel[0][1])
	// homogeneous column
	assert.Equal(t, 0., tf.PhysicalToPixel[0][2])
	assert.InDelta(t, 1., tf.PhysicalToPixel[2][2], 1e-12)
}

func TestFitShapeErrors(t *testing.T) {
	var se *ShapeError
	_, err := Fit([]Point{{0, 0}, {1, 1}}, []Point{{0, 0}, {1, 1}})
	assert.True(t, errors.As(err, &se), "expected ShapeError for two points, got %v", err)

	_, err = Fit([]Point{{0, 0}, {1, 1}, {2, 0}}, []Point{{0, 0}, {1, 1}})
	assert.True(t, errors.As(err, &se), "expected ShapeError for unequal lengths, got %v", err)

	_, err = Points([][]float64{{1, 2}, {1, 2, 3}})
	assert.True(t, errors.As(err, &se), "expected ShapeError for a 3 column row, got %v", err)
}

func TestApplyIdentity(t *testing.T) {
	id := Matrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	in := []Point{{1.5, -2}, {0, 0}}
	assert.Equal(t, in, Apply(id, in))
}

func TestEncodeDecode(t *testing.T) {
	pixels, physical := syntheticPairs()
	tf, err := Fit(pixels, physical)
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, tf.Encode(buf))
	back, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, tf, back)
}

func TestLoadSave(t *testing.T) {
	tf := Transform{
		PixelToPhysical: Matrix{{0.1388, 0, 0}, {0, -0.0227, 0}, {-13.9, 47.7, 1}},
		PhysicalToPixel: Matrix{{7.2, 0, 0}, {0, -44, 0}, {100, 2100, 1}},
	}
	path := filepath.Join(t.TempDir(), "transforms.yml")
	require.NoError(t, tf.Save(path))
	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, tf, back)
}

func TestDecodeRejectsBadLayout(t *testing.T) {
	_, err := Decode(bytes.NewBufferString("- [[1, 0, 0], [0, 1, 0], [0, 0, 1]]\n"))
	var se *ShapeError
	assert.True(t, errors.As(err, &se))

	_, err = Decode(bytes.NewBufferString("- [[1, 0], [0, 1], [0, 0]]\n- [[1, 0, 0], [0, 1, 0], [0, 0, 1]]\n"))
	assert.True(t, errors.As(err, &se))
}

func TestFitNoisyIsClose(t *testing.T) {
	pixels, physical := syntheticPairs()
	for i := range pixels {
		// deterministic sub-pixel jitter
		pixels[i][0] += 0.3 * math.Sin(float64(i))
		pixels[i][1] += 0.3 * math.Cos(float64(i))
	}
	tf, err := Fit(pixels, physical)
	require.NoError(t, err)
	p := tf.ToPixel(Point{137.2, 24})[0]
	assert.InDelta(t, 7.2*137.2+100, p[0], 0.5)
	assert.InDelta(t, -44*24+2100, p[1], 0.5)
}
