package mask_test

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keckobservatory/instruments/bars"
	"github.com/keckobservatory/instruments/mask"
)

const designFile = "testdata/ngc1333.xml"

func ExampleLongSlitOrder() {
	fmt.Println(mask.LongSlitOrder(7))
	// Output: [24 23 25 22 26 21 27]
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in     string
		kind   mask.Kind
		width  float64
		length int
	}{
		{"OPEN", mask.Open, 0, 0},
		{"open mask", mask.Open, 0, 0},
		{"  Open  ", mask.Open, 0, 0},
		{"RAND", mask.Random, 0, 0},
		{"random", mask.Random, 0, 0},
		{"0.7x46", mask.LongSlit, 0.7, 46},
		{"2.7X3", mask.LongSlit, 2.7, 3},
		{".5x1", mask.LongSlit, 0.5, 1},
		{"<slitConfiguration/>", mask.Design, 0, 0},
		{designFile, mask.Design, 0, 0},
	}
	for _, c := range cases {
		s, err := mask.Classify(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.kind, s.Kind, c.in)
		assert.Equal(t, c.width, s.Width, c.in)
		assert.Equal(t, c.length, s.Length, c.in)
	}
}

func TestClassifyRejects(t *testing.T) {
	for _, in := range []string{"", "closed", "0x10", "0.7x0", "0.7x47", "0.7x", "x46", "nosuchfile.xml"} {
		_, err := mask.Classify(in)
		var pe *mask.ParseError
		assert.True(t, errors.As(err, &pe), "expected ParseError for %q, got %v", in, err)
	}
}

func TestOpenMask(t *testing.T) {
	m, err := mask.New("OPEN")
	require.NoError(t, err)
	require.Len(t, m.Slits, bars.NumSlits)
	expected := (270.4 - 4.0) * 0.7 / 0.507
	for i, s := range m.Slits {
		assert.Equal(t, i+1, s.SlitNumber)
		assert.InDelta(t, expected, s.SlitWidthArcsec, 1e-9)
		assert.InDelta(t, 367.8, s.SlitWidthArcsec, 0.1)
	}
	assert.NoError(t, m.Validate())
}

func TestLongSlit(t *testing.T) {
	m, err := mask.New("0.7x46")
	require.NoError(t, err)
	require.Len(t, m.Slits, 46)
	assert.Equal(t, 24, m.Slits[0].SlitNumber)
	assert.Equal(t, 23, m.Slits[1].SlitNumber)
	assert.Equal(t, 25, m.Slits[2].SlitNumber)

	var center, box *mask.Slit
	seen := map[int]bool{}
	for i := range m.Slits {
		s := m.Slits[i]
		seen[s.SlitNumber] = true
		switch s.SlitNumber {
		case 23:
			box = &m.Slits[i]
			continue
		case 24:
			center = &m.Slits[i]
		}
		assert.InDelta(t, 0.7, s.SlitWidthArcsec, 1e-9)
	}
	assert.Len(t, seen, 46)
	require.NotNil(t, center)
	require.NotNil(t, box)

	require.NotNil(t, m.AlignBox)
	off := 1.65 * 0.507 / 0.7
	assert.Equal(t, 45, m.AlignBox.RightBar)
	assert.Equal(t, 46, m.AlignBox.LeftBar)
	assert.InDelta(t, center.RightBarPositionMM-off, m.AlignBox.RightMM, 1e-9)
	assert.InDelta(t, center.LeftBarPositionMM+off, m.AlignBox.LeftMM, 1e-9)
	assert.Equal(t, m.AlignBox.RightMM, box.RightBarPositionMM)
	assert.Equal(t, m.AlignBox.LeftMM, box.LeftBarPositionMM)
	assert.InDelta(t, 0.7+2*1.65, box.SlitWidthArcsec, 1e-9)
	assert.NoError(t, m.Validate())
}

func TestShortLongSlitClosesTheRest(t *testing.T) {
	m, err := mask.New("0.7x1")
	require.NoError(t, err)
	require.Len(t, m.Slits, 46)
	assert.Equal(t, []int{24, 23, 1}, []int{m.Slits[0].SlitNumber, m.Slits[1].SlitNumber, m.Slits[2].SlitNumber})
	assert.InDelta(t, 0.7, m.Slits[0].SlitWidthArcsec, 1e-9)
	assert.False(t, m.Slits[0].Closed())
	assert.False(t, m.Slits[1].Closed(), "the alignment box is always formed")
	assert.Equal(t, m.AlignBox.LeftMM, m.Slits[1].LeftBarPositionMM)
	for _, s := range m.Slits[2:] {
		assert.True(t, s.Closed(), "slit %d", s.SlitNumber)
		assert.InDelta(t, mask.MidStrokeMM, (s.LeftBarPositionMM+s.RightBarPositionMM)/2, 1e-9)
		assert.Greater(t, s.LeftBarPositionMM, s.RightBarPositionMM)
	}
	assert.NoError(t, m.Validate())
}

func TestLongSlitCenter(t *testing.T) {
	assert.Equal(t, mask.LongSlitZeroMM, mask.LongSlitCenterMM(bars.CenterSlit))
	for slit := 1; slit <= bars.NumSlits; slit++ {
		want := mask.LongSlitZeroMM + mask.LongSlitSlopeMM*float64(slit-bars.CenterSlit)
		assert.Equal(t, want, mask.LongSlitCenterMM(slit))
	}
}

func TestLongSlitOutsideStroke(t *testing.T) {
	_, err := mask.NewLongSlit(500, 3)
	var pe *mask.ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestRandomMask(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		m, err := mask.New("RANDOM", mask.WithRand(rand.New(rand.NewSource(seed))))
		require.NoError(t, err)
		require.Len(t, m.Slits, 46)
		prev := math.NaN()
		for _, s := range m.Slits {
			c := (s.LeftBarPositionMM + s.RightBarPositionMM) / 2
			assert.True(t, c >= 54 && c <= 220, "center %v out of range", c)
			assert.NotEqual(t, prev, c, "adjacent slits share a center")
			assert.InDelta(t, 0.7, s.SlitWidthArcsec, 1e-9)
			prev = c
		}
		assert.NoError(t, m.Validate())
	}
}

// a source that repeats itself forces the redraw
type stutter struct {
	vals []int64
	i    int
}

func (s *stutter) Int63() int64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func (s *stutter) Seed(int64) {}

func TestRandomRedrawsAdjacent(t *testing.T) {
	r := rand.New(&stutter{vals: []int64{5 << 32, 5 << 32, 9 << 32}})
	m := mask.NewRandom(r)
	for i := 1; i < len(m.Slits); i++ {
		assert.NotEqual(t, m.Slits[i-1].CenterPositionArcsec, m.Slits[i].CenterPositionArcsec)
	}
}

func TestDesignFile(t *testing.T) {
	m, err := mask.New(designFile)
	require.NoError(t, err)
	assert.Equal(t, mask.Design, m.Kind)
	assert.Equal(t, "NGC1333_1", m.Name)
	assert.Equal(t, 1523.0, m.Priority)
	assert.Equal(t, 12.5, m.PA)
	assert.Equal(t, "3:29:2.01", m.CenterRA)
	assert.Equal(t, "31:20:54.7", m.CenterDec)

	require.Len(t, m.Slits, 46)
	for _, s := range m.Slits[3:] {
		assert.True(t, s.Closed(), "slit %d is not in the design", s.SlitNumber)
	}
	assert.Equal(t, "star12", m.Slits[0].Target)
	assert.InDelta(t, 0.7, m.Slits[1].SlitWidthArcsec, 1e-3)
	assert.Equal(t, 3, m.Slits[1].RightBarNumber)

	require.Len(t, m.Targets, 2)
	assert.Equal(t, "3:28:59.80", m.Targets[0]["RA"])
	assert.Equal(t, "31:21:4.1", m.Targets[0]["DEC"])
	require.Len(t, m.Stars, 1)
	assert.Equal(t, "3:29:10.00", m.Stars[0]["RA"])

	require.Len(t, m.Args, 4)
	assert.Equal(t, "inputFile", m.Args[0].Name)
	assert.Equal(t, "ngc1333.coords", m.Args[0].Text)
	assert.Equal(t, "3", m.Args[3].Attrs["centerRaH"])

	require.Contains(t, m.Extra, "overlap")
	assert.Equal(t, "edge", m.Extra["overlap"][0]["name"])
	assert.NoError(t, m.Validate())
}

func TestDesignInline(t *testing.T) {
	doc := `<slitConfiguration><mechanicalSlitConfig>
<mechanicalSlit slitNumber="5" leftBarPositionMM="100.5" rightBarPositionMM="100"/>
</mechanicalSlitConfig></slitConfiguration>`
	m, err := mask.New(doc)
	require.NoError(t, err)
	require.Len(t, m.Slits, 46)
	assert.Equal(t, 10, m.Slits[0].LeftBarNumber)
	assert.Equal(t, 9, m.Slits[0].RightBarNumber)
	assert.False(t, m.Slits[0].Closed())
	assert.Equal(t, 1, m.Slits[1].SlitNumber)
	assert.True(t, m.Slits[1].Closed())
	assert.Equal(t, "UNNAMED", m.Name)
	assert.NoError(t, m.Validate())
}

func TestDesignMissingCoordinate(t *testing.T) {
	doc := `<slitConfiguration><mechanicalSlitConfig>
<mechanicalSlit slitNumber="5" leftBarPositionMM="100.5" rightBarPositionMM="100"/>
</mechanicalSlitConfig><alignment><alignSlit targetRaH="1"/></alignment></slitConfiguration>`
	_, err := mask.New(doc)
	var pe *mask.ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestFromPositions(t *testing.T) {
	pos := make([]float64, bars.NumBars)
	for bar := 1; bar <= bars.NumBars; bar++ {
		if bars.IsRight(bar) {
			pos[bar-1] = 100
		} else {
			pos[bar-1] = 100 + 0.507
		}
	}
	m, err := mask.FromPositions("live", pos)
	require.NoError(t, err)
	assert.Equal(t, mask.Current, m.Kind)
	require.Len(t, m.Slits, 46)
	for _, s := range m.Slits {
		assert.InDelta(t, 0.7, s.SlitWidthArcsec, 1e-9)
	}
	assert.NoError(t, m.Validate())

	_, err = mask.FromPositions("short", pos[:10])
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	m := mask.NewOpen()
	m.Slits[3].LeftBarPositionMM = 300
	var verr *mask.ValidationError
	require.True(t, errors.As(m.Validate(), &verr))
	assert.Equal(t, "OPEN", verr.Mask)

	m = mask.NewOpen()
	m.Slits[3].RightBarNumber = 1
	assert.Error(t, m.Validate())

	m = mask.NewOpen()
	m.Slits[3].RightBarPositionMM = math.NaN()
	assert.Error(t, m.Validate())

	m = &mask.Mask{Name: "empty"}
	assert.Error(t, m.Validate())

	m = mask.NewOpen()
	m.Slits = m.Slits[:45]
	assert.Error(t, m.Validate(), "a missing row leaves two bars uncommanded")
}

func TestFingerprint(t *testing.T) {
	a, _ := mask.NewLongSlit(0.7, 46)
	b, _ := mask.NewLongSlit(0.7, 46)
	c, _ := mask.NewLongSlit(2.7, 46)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())

	// positions within a hundredth of a millimeter agree
	b.Slits[5].LeftBarPositionMM += 0.001
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestWriteTable(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, mask.NewOpen().WriteTable(buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2+46)
	assert.Contains(t, lines[0], "OPEN")
	assert.Contains(t, lines[2], "270.400")
}

func TestNewDesignFileMissing(t *testing.T) {
	_, err := mask.NewDesignFile(filepath.Join(t.TempDir(), "nope.xml"))
	assert.Error(t, err)
}
