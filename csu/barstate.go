package csu

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/keckobservatory/instruments/bars"
	"github.com/keckobservatory/instruments/mask"
)

// BarStateName is the name given to masks read from a bar state file
const BarStateName = "From csu_bar_state"

// BarState is the content of a csu_bar_state snapshot
type BarState struct {
	// Mask has one row per slit mentioned in the file.  Fields of bars the
	// file does not mention are -1 or NaN
	Mask *mask.Mask

	// States maps bar number to the state string in the file
	States map[int]string
}

// ReadBarState reads a csu_bar_state file
func ReadBarState(path string) (BarState, error) {
	f, err := os.Open(path)
	if err != nil {
		return BarState{}, err
	}
	defer f.Close()
	return ParseBarState(f)
}

// ParseBarState parses lines of barNumber,barPositionMM,barState.  An odd
// bar starts the row of its slit, an even bar fills in the left side
func ParseBarState(r io.Reader) (BarState, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows := make(map[int]*mask.Slit)
	states := make(map[int]string)
	row := func(slit int) *mask.Slit {
		s, ok := rows[slit]
		if !ok {
			s = &mask.Slit{
				SlitNumber:           slit,
				LeftBarNumber:        -1,
				LeftBarPositionMM:    math.NaN(),
				RightBarNumber:       -1,
				RightBarPositionMM:   math.NaN(),
				CenterPositionArcsec: math.NaN(),
				SlitWidthArcsec:      math.NaN(),
			}
			rows[slit] = s
		}
		return s
	}

	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return BarState{}, errors.Wrapf(err, "bar state line %d", line)
		}
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		bar, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil || !bars.ValidBar(bar) {
			return BarState{}, errors.Errorf("bar state line %d: bad bar number %q", line, rec[0])
		}
		mm := math.NaN()
		if len(rec) > 1 {
			if v, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64); err == nil {
				mm = v
			}
		}
		if len(rec) > 2 {
			states[bar] = strings.TrimSpace(rec[2])
		}
		s := row(bars.BarToSlit(bar))
		if bars.IsRight(bar) {
			s.RightBarNumber = bar
			s.RightBarPositionMM = mm
		} else {
			s.LeftBarNumber = bar
			s.LeftBarPositionMM = mm
		}
	}

	slits := make([]int, 0, len(rows))
	for n := range rows {
		slits = append(slits, n)
	}
	sort.Ints(slits)
	m := &mask.Mask{Name: BarStateName, Kind: mask.Current, Slits: make([]mask.Slit, 0, len(slits))}
	for _, n := range slits {
		s := rows[n]
		if !math.IsNaN(s.LeftBarPositionMM) && !math.IsNaN(s.RightBarPositionMM) {
			s.CenterPositionArcsec = bars.CenterArcsec((s.LeftBarPositionMM + s.RightBarPositionMM) / 2)
			s.SlitWidthArcsec = bars.WidthArcsec(s.LeftBarPositionMM, s.RightBarPositionMM)
		}
		m.Slits = append(m.Slits, *s)
	}
	return BarState{Mask: m, States: states}, nil
}
