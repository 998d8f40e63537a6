package csu

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// State is the value of the CSUREADY keyword
type State int

const (
	// Error is a fatal fault; nothing more may be commanded
	Error State = -1

	// SystemStopped means the CSU software is not running
	SystemStopped State = -2

	// Unknown is reported before the CSU has determined its state
	Unknown State = 0

	// SystemStarted is reported after power on, before bars are initialized
	SystemStarted State = 1

	// ReadyForMove is the idle state, accepting setups and moves
	ReadyForMove State = 2

	// Moving is reported while bars are in motion
	Moving State = 3

	// Configuring is reported while a setup or init is in progress
	Configuring State = 4
)

var stateText = map[State]string{
	Unknown:       "Unknown",
	SystemStarted: "System Started",
	ReadyForMove:  "Ready for Move",
	Moving:        "Moving",
	Configuring:   "Configuring",
	Error:         "Error",
	SystemStopped: "System Stopped",
}

func (s State) String() string {
	if txt, ok := stateText[s]; ok {
		return txt
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrFatal matches any FatalError with errors.Is
	ErrFatal = errors.New("CSU has experienced a fatal error")

	// ErrNotMask is generated when setup is asked to use something that is
	// not a mask
	ErrNotMask = errors.New("csu: input is not a mask")
)

// FatalError is generated when the CSU reports the Error state
type FatalError struct {
	State State
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s (CSUREADY=%d)", ErrFatal.Error(), int(e.State))
}

// Is makes errors.Is(err, ErrFatal) true
func (e *FatalError) Is(target error) bool {
	return target == ErrFatal
}

// CollisionError is generated when the CSU aborts a setup because two bars
// would collide
type CollisionError struct {
	Row    int
	Status string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("csu: setup aborted, collision at row %d: %q", e.Row, e.Status)
}

// BarRangeError is generated for a bar number outside [1, 92]
type BarRangeError struct {
	Bar int
}

func (e BarRangeError) Error() string {
	return fmt.Sprintf("csu: bar %d out of range [1, 92]", e.Bar)
}

// ReadbackError is generated when bars are not at their commanded targets
type ReadbackError struct {
	// Bars maps bar number to [position, target]
	Bars map[int][2]float64
}

func (e *ReadbackError) Error() string {
	ids := make([]int, 0, len(e.Bars))
	for id := range e.Bars {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		pt := e.Bars[id]
		parts = append(parts, fmt.Sprintf("B%02d pos=%.3f targ=%.3f", id, pt[0], pt[1]))
	}
	return "csu: bars not at target: " + strings.Join(parts, ", ")
}
