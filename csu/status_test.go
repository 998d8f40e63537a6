package csu

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ExampleParseStatus() {
	st := ParseStatus("Setup aborted.  Collision detected at row 17")
	fmt.Println(st.Kind, st.Row)
	// Output: collision 17
}

func TestParseStatusGrammar(t *testing.T) {
	cases := []struct {
		raw  string
		kind StatusKind
		row  int
	}{
		{"Creating Group.", StatusCreatingGroup, 0},
		{" Creating Group. ", StatusCreatingGroup, 0},
		{"Setup aborted.  Collision detected at row 3", StatusCollision, 3},
		{"Setup aborted. Collision detected at row 46", StatusCollision, 46},
		{"Setup aborted.\tCollision detected at row 12.", StatusCollision, 12},
		{"Setup complete.", StatusSetupComplete, 0},
		{"setup complete", StatusSetupComplete, 0},
		{"Move complete.", StatusOther, 0},
		{"", StatusOther, 0},
		{"Creating Group", StatusOther, 0},
		{"Collision detected at row 3", StatusOther, 0},
	}
	for _, c := range cases {
		st := ParseStatus(c.raw)
		assert.Equal(t, c.kind, st.Kind, "%q", c.raw)
		assert.Equal(t, c.row, st.Row, "%q", c.raw)
		assert.Equal(t, c.raw, st.Raw)
	}
	assert.Equal(t, 1, StatusGrammarVersion)
}

func TestParseBarState(t *testing.T) {
	in := strings.Join([]string{
		"1,4.000,OK",
		"2,270.400,OK",
		"3,100.0,OK",
		"4,100.507,MOVING",
		"",
		"6,150.0,OK",
		"7,80.0",
	}, "\n")
	bs, err := ParseBarState(strings.NewReader(in))
	require.NoError(t, err)
	m := bs.Mask
	assert.Equal(t, BarStateName, m.Name)
	require.Len(t, m.Slits, 4)

	assert.Equal(t, 1, m.Slits[0].SlitNumber)
	assert.InDelta(t, 367.81, m.Slits[0].SlitWidthArcsec, 0.01)
	assert.InDelta(t, 0.7, m.Slits[1].SlitWidthArcsec, 1e-9)

	// slit 3 has only its left bar
	s3 := m.Slits[2]
	assert.Equal(t, 3, s3.SlitNumber)
	assert.Equal(t, -1, s3.RightBarNumber)
	assert.True(t, s3.RightBarPositionMM != s3.RightBarPositionMM, "expected NaN right position")
	assert.Equal(t, 150.0, s3.LeftBarPositionMM)

	// slit 4 has only its right bar and no state
	assert.Equal(t, 7, m.Slits[3].RightBarNumber)
	assert.Equal(t, -1, m.Slits[3].LeftBarNumber)

	assert.Equal(t, "MOVING", bs.States[4])
	_, ok := bs.States[7]
	assert.False(t, ok)
}

func TestParseBarStateBadBar(t *testing.T) {
	_, err := ParseBarState(strings.NewReader("99,1,OK\n"))
	assert.Error(t, err)
	_, err = ParseBarState(strings.NewReader("x,1,OK\n"))
	assert.Error(t, err)
}
