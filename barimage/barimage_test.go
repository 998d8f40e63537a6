package barimage

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keckobservatory/instruments/affine"
	"github.com/keckobservatory/instruments/bars"
	"github.com/keckobservatory/instruments/mask"
	"github.com/keckobservatory/instruments/mathx"
)

const (
	width  = 1000
	height = 480
)

// x = 1000 - 3.5 mm, y = 474.5 - 10 slit.  mm falls to the right and slit
// numbers run down the detector
func testTransform(t *testing.T) affine.Transform {
	var pix, phys []affine.Point
	for _, mm := range []float64{4, 100, 200, 270.4} {
		for _, slit := range []float64{0.5, 10, 30, 46.5} {
			phys = append(phys, affine.Point{mm, slit})
			pix = append(pix, affine.Point{1000 - 3.5*mm, 474.5 - 10*slit})
		}
	}
	tf, err := affine.Fit(pix, phys)
	require.NoError(t, err)
	return tf
}

func testMask() *mask.Mask {
	m := &mask.Mask{Name: "staircase", Kind: mask.Design}
	half := bars.WidthMM(5) / 2
	for s := 1; s <= bars.NumSlits; s++ {
		c := 80 + 2.5*float64(s)
		m.Slits = append(m.Slits, mask.NewSlit(s, c+half, c-half, ""))
	}
	return m
}

func profile(n int, lobes ...[3]float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		for _, l := range lobes {
			out[i] += mathx.Gaussian(float64(i), l[0], l[1], l[2])
		}
	}
	return out
}

func TestFindBarEdgesClean(t *testing.T) {
	// falling edge at 70, rising edge at 30
	p := profile(100, [3]float64{-5, 70, 1.5}, [3]float64{5, 30, 1.5})
	x1, x2, ok := FindBarEdges(p)
	require.True(t, ok)
	assert.InDelta(t, 70, x1, 0.05)
	assert.InDelta(t, 30, x2, 0.05)
}

func TestFindBarEdgesRejectsReversedLobes(t *testing.T) {
	// a falling edge left of the rising edge is a bar, not a slit
	p := profile(100, [3]float64{-5, 30, 1.5}, [3]float64{5, 70, 1.5})
	_, _, ok := FindBarEdges(p)
	assert.False(t, ok)
}

func TestFindBarEdgesFlatAndNoise(t *testing.T) {
	_, _, ok := FindBarEdges(make([]float64, 100))
	assert.False(t, ok, "flat profile")

	noise := make([]float64, 100)
	for i := range noise {
		noise[i] = 0.3*math.Sin(1.7*float64(i)) + 0.2*math.Cos(0.3*float64(i))
	}
	_, _, ok = FindBarEdges(noise)
	assert.False(t, ok, "noise profile")

	_, _, ok = FindBarEdges([]float64{1, 2})
	assert.False(t, ok, "short profile")
}

func TestFindBarEdgesRejectsWide(t *testing.T) {
	p := profile(200, [3]float64{-50, 140, 6}, [3]float64{50, 60, 6})
	_, _, ok := FindBarEdges(p)
	assert.False(t, ok)
}

func TestBand(t *testing.T) {
	a := NewAnalyzer(testTransform(t))
	assert.Equal(t, Band{Slit: 24, Y1: 230, Y2: 239}, a.Band(24, height))
	assert.Equal(t, Band{Slit: 46, Y1: 10, Y2: 19}, a.Band(46, height))
	assert.True(t, a.Band(1, 100).Empty())
}

func TestAnalyzeSynthetic(t *testing.T) {
	tf := testTransform(t)
	m := testMask()
	img := Synthesize(tf, m, width, height, 1)

	a := NewAnalyzer(tf)
	log, hook := test.NewNullLogger()
	a.Log = log
	res, err := a.Analyze(img)
	require.NoError(t, err)
	require.Len(t, res.Bars, bars.NumBars)
	require.Len(t, res.Bands, bars.NumSlits)
	require.NotNil(t, hook.LastEntry())

	for _, s := range m.Slits {
		r, l := res.Bars[s.RightBarNumber], res.Bars[s.LeftBarNumber]
		require.True(t, r.Resolved && l.Resolved, "slit %d unresolved", s.SlitNumber)
		assert.InDelta(t, s.RightBarPositionMM, r.MM, 0.1, "bar %d", r.Bar)
		assert.InDelta(t, s.LeftBarPositionMM, l.MM, 0.1, "bar %d", l.Bar)
		assert.Greater(t, r.Pixel, l.Pixel)
	}
	assert.Empty(t, Verify(res, m, 0.1))

	moved := testMask()
	moved.Slits[9].LeftBarPositionMM += 5
	d := Verify(res, moved, 0.1)
	require.Len(t, d, 1)
	assert.Equal(t, 20, d[0].Bar)
	assert.InDelta(t, -5, d[0].DeltaMM, 0.1)
}

func TestAnalyzeUnresolvedRows(t *testing.T) {
	tf := testTransform(t)
	// only the top 100 rows, slits 38 to 46
	img := Synthesize(tf, testMask(), width, 100, 1)
	res, err := NewAnalyzer(tf).Analyze(img)
	require.NoError(t, err)
	assert.False(t, res.Bars[1].Resolved)
	assert.True(t, math.IsNaN(res.Bars[1].MM))
	assert.True(t, res.Bars[91].Resolved)

	d := Verify(res, testMask(), 0.1)
	require.NotEmpty(t, d)
	assert.False(t, d[0].Resolved)
}

func TestVerifySkipsClosedSlits(t *testing.T) {
	tf := testTransform(t)
	res, err := NewAnalyzer(tf).Analyze(Synthesize(tf, testMask(), width, height, 1))
	require.NoError(t, err)

	closed := testMask()
	closed.Slits[0] = mask.NewClosed(1)
	assert.Empty(t, Verify(res, closed, 0.1))
}

func TestAnalyzeRejectsEmpty(t *testing.T) {
	_, err := NewAnalyzer(affine.Transform{}).Analyze(&Image{})
	assert.Error(t, err)
}

func TestFITSRoundTrip(t *testing.T) {
	im := NewImage(4, 3)
	for i := range im.Pix {
		im.Pix[i] = float64(i) * 0.5
	}
	buf := &bytes.Buffer{}
	require.NoError(t, WriteFITS(buf, im, fitsio.Card{Name: "OBJECT", Value: "test"}))
	back, err := ReadFITS(buf)
	require.NoError(t, err)
	assert.Equal(t, im, back)
	assert.Equal(t, 2.5, back.At(1, 1))
}

func TestReadFITSAppliesBZero(t *testing.T) {
	buf := &bytes.Buffer{}
	f, err := fitsio.Create(buf)
	require.NoError(t, err)
	img := fitsio.NewImage(16, []int{2, 2})
	require.NoError(t, img.Header().Append(
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0}))
	require.NoError(t, img.Write([]int16{-32768, 0, 1, 32767}))
	require.NoError(t, f.Write(img))
	require.NoError(t, img.Close())
	require.NoError(t, f.Close())

	im, err := ReadFITS(buf)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 32768, 32769, 65535}, im.Pix)
}

func TestRenderQA(t *testing.T) {
	tf := testTransform(t)
	img := Synthesize(tf, testMask(), width, height, 1)
	res, err := NewAnalyzer(tf).Analyze(img)
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	require.NoError(t, RenderQA(buf, img, res))
	out, err := png.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, width, out.Bounds().Dx())
	assert.Equal(t, height, out.Bounds().Dy())
}
