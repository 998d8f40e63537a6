package mask

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/keckobservatory/instruments/bars"
)

const (
	// RandomMinMM and RandomMaxMM bound the centers of random slits
	RandomMinMM = 54
	RandomMaxMM = 220

	// MidStrokeMM is the bar position at the middle of the CSU travel
	MidStrokeMM = (bars.MinPositionMM + bars.MaxPositionMM) / 2

	// LongSlitZeroMM is the center of the center slit of a longslit, and
	// LongSlitSlopeMM the change of center per slit away from it
	LongSlitZeroMM  = MidStrokeMM
	LongSlitSlopeMM = 0.0
)

// NewOpen returns the mask with every bar at its mechanical extreme
func NewOpen() *Mask {
	m := &Mask{Name: "OPEN", Kind: Open, Slits: make([]Slit, 0, bars.NumSlits)}
	for slit := 1; slit <= bars.NumSlits; slit++ {
		m.Slits = append(m.Slits, NewSlit(slit, bars.MaxPositionMM, bars.MinPositionMM, ""))
	}
	return m
}

// NewRandom returns 46 slits of nominal width at integer mm centers drawn
// uniformly from [RandomMinMM, RandomMaxMM].  A center is redrawn only
// while it equals the center of the slit before it
func NewRandom(r *rand.Rand) *Mask {
	m := &Mask{Name: "RANDOM", Kind: Random, Slits: make([]Slit, 0, bars.NumSlits)}
	half := bars.WidthMM(bars.NominalWidthArcsec) / 2
	prev := math.NaN()
	for slit := 1; slit <= bars.NumSlits; slit++ {
		c := float64(RandomMinMM + r.Intn(RandomMaxMM-RandomMinMM+1))
		for c == prev {
			c = float64(RandomMinMM + r.Intn(RandomMaxMM-RandomMinMM+1))
		}
		prev = c
		m.Slits = append(m.Slits, NewSlit(slit, c+half, c-half, ""))
	}
	return m
}

// LongSlitOrder returns the slits of a longslit of the given length, in
// the order they are built: outward from the center slit, alternating
// sides, 24, 23, 25, 22, 26 ...
func LongSlitOrder(length int) []int {
	out := make([]int, 0, length)
	for i := 0; i < length; i++ {
		sign := 1
		if i%2 == 1 {
			sign = -1
		}
		out = append(out, sign*((i+1)/2)+bars.CenterSlit)
	}
	return out
}

// LongSlitCenterMM is the center of a longslit row,
// LongSlitZeroMM + LongSlitSlopeMM*(slit-CenterSlit)
func LongSlitCenterMM(slit int) float64 {
	return LongSlitZeroMM + LongSlitSlopeMM*float64(slit-bars.CenterSlit)
}

// NewClosed returns a slit closed at mid-stroke
func NewClosed(slit int) Slit {
	return NewSlit(slit, MidStrokeMM+bars.ClosedGapMM/2, MidStrokeMM-bars.ClosedGapMM/2, "")
}

// closeRest appends a closed row for every slit m does not name
func closeRest(m *Mask) {
	named := make(map[int]bool, len(m.Slits))
	for _, s := range m.Slits {
		named[s.SlitNumber] = true
	}
	for slit := 1; slit <= bars.NumSlits; slit++ {
		if !named[slit] {
			m.Slits = append(m.Slits, NewClosed(slit))
		}
	}
}

// NewLongSlit returns length contiguous slits of width arcsec about the
// center slit.  The alignment box is always formed, as the row of
// AlignBoxSlit, and every slit outside the longslit and the box is closed
func NewLongSlit(width float64, length int) (*Mask, error) {
	input := fmt.Sprintf("%vx%d", width, length)
	if !(width > 0) || math.IsInf(width, 0) {
		return nil, &ParseError{Input: input, Reason: "longslit width must be a positive number"}
	}
	if length < 1 || length > bars.NumSlits {
		return nil, &ParseError{Input: input, Reason: fmt.Sprintf("longslit length must be in [1,%d]", bars.NumSlits)}
	}
	half := bars.WidthMM(width) / 2
	off := bars.WidthMM(bars.AlignBoxOffsetArcsec)
	m := &Mask{Name: "LONGSLIT-" + input, Kind: LongSlit, Slits: make([]Slit, 0, bars.NumSlits)}
	row := func(slit int, pad float64) error {
		c := LongSlitCenterMM(slit)
		left, right := c+half+pad, c-half-pad
		if !bars.InStroke(left) || !bars.InStroke(right) {
			return &ParseError{Input: input, Reason: "bars would be outside the mechanical stroke"}
		}
		m.Slits = append(m.Slits, NewSlit(slit, left, right, ""))
		if slit == bars.AlignBoxSlit {
			rb, lb := bars.SlitToBars(slit)
			m.AlignBox = &BarPair{RightBar: rb, RightMM: right, LeftBar: lb, LeftMM: left}
		}
		return nil
	}
	for _, slit := range LongSlitOrder(length) {
		pad := 0.0
		if slit == bars.AlignBoxSlit {
			pad = off
		}
		if err := row(slit, pad); err != nil {
			return nil, err
		}
	}
	if m.AlignBox == nil {
		if err := row(bars.AlignBoxSlit, off); err != nil {
			return nil, err
		}
	}
	closeRest(m)
	return m, nil
}

// FromPositions builds a mask from the position of every bar, indexed by
// bar number - 1
func FromPositions(name string, positions []float64) (*Mask, error) {
	if len(positions) != bars.NumBars {
		return nil, fmt.Errorf("mask: %d bar positions, expected %d", len(positions), bars.NumBars)
	}
	m := &Mask{Name: name, Kind: Current, Slits: make([]Slit, 0, bars.NumSlits)}
	for slit := 1; slit <= bars.NumSlits; slit++ {
		right, left := bars.SlitToBars(slit)
		m.Slits = append(m.Slits, NewSlit(slit, positions[left-1], positions[right-1], ""))
	}
	return m, nil
}
