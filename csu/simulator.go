package csu

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/keckobservatory/instruments/bars"
	"github.com/keckobservatory/instruments/ktl"
)

// Simulator makes a pair of Mock services behave like the CSU.  It answers
// setups with a short run of "Creating Group." followed by completion or a
// collision, moves bars to their targets on CSUGO, and homes bars on
// CSUINITBAR.  Bars are in collision when a slit's left bar is not to the
// left of its right bar
type Simulator struct {
	// CSU holds the bar and command keywords, Status the mcsus keywords
	CSU, Status *ktl.Mock

	// GroupPolls is how many reads of CSUSTAT return "Creating Group."
	// after a setup
	GroupPolls int

	// MovePolls is how many reads of CSUREADY return Moving after CSUGO
	MovePolls int

	mu      sync.Mutex
	pending string
}

// NewSimulator returns a simulator over fresh mocks, with every bar open
// and the CSU ready for a move
func NewSimulator() *Simulator {
	s := &Simulator{CSU: ktl.NewMock(), Status: ktl.NewMock(), GroupPolls: 2, MovePolls: 2}
	for bar := 1; bar <= bars.NumBars; bar++ {
		mm := home(bar)
		s.CSU.Seed(bars.Keyword(bar, "POS"), ktl.Format(mm))
		s.CSU.Seed(bars.Keyword(bar, "TARG"), ktl.Format(mm))
		s.CSU.Seed(bars.Keyword(bar, "STAT"), "OK")
	}
	s.CSU.Seed("CSUREADY", strconv.Itoa(int(ReadyForMove)))
	s.Status.Seed("CSUSTAT", "Ready.")
	s.Status.Seed("MASKNAME", "OPEN")
	s.Status.Seed("SETUPNAME", "")
	s.CSU.OnWrite = s.onCSUWrite
	s.Status.OnWrite = s.onStatusWrite
	return s
}

// Services returns the mocks keyed by their MOSFIRE service names
func (s *Simulator) Services() map[string]ktl.Service {
	return map[string]ktl.Service{"mosfire": s.CSU, "mcsus": s.Status}
}

// Fault puts the simulated CSU in the Error state
func (s *Simulator) Fault() {
	s.CSU.Seed("CSUREADY", strconv.Itoa(int(Error)))
}

// Jam sets a bar's position away from its target and its status bad, as a
// stalled bar would be
func (s *Simulator) Jam(bar int, mm float64) {
	s.CSU.Seed(bars.Keyword(bar, "POS"), ktl.Format(mm))
	s.CSU.Seed(bars.Keyword(bar, "STAT"), "STALLED")
}

func home(bar int) float64 {
	if bars.IsRight(bar) {
		return bars.MinPositionMM
	}
	return bars.MaxPositionMM
}

func (s *Simulator) value(kw string) float64 {
	v, _ := s.CSU.Value(kw)
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

func (s *Simulator) onStatusWrite(m *ktl.Mock, keyword, value string) {
	if keyword == "SETUPNAME" {
		s.mu.Lock()
		s.pending = value
		s.mu.Unlock()
	}
}

func (s *Simulator) onCSUWrite(m *ktl.Mock, keyword, value string) {
	switch keyword {
	case "CSUSETUP":
		s.setup()
	case "CSUGO":
		s.move()
	case "CSUINITBAR":
		s.init(value)
	}
}

func (s *Simulator) setup() {
	final := "Setup complete."
	for slit := 1; slit <= bars.NumSlits; slit++ {
		right, left := bars.SlitToBars(slit)
		if s.value(bars.Keyword(left, "TARG")) <= s.value(bars.Keyword(right, "TARG")) {
			final = fmt.Sprintf("Setup aborted.  Collision detected at row %d", slit)
			break
		}
	}
	seq := make([]string, 0, s.GroupPolls+1)
	for i := 0; i < s.GroupPolls; i++ {
		seq = append(seq, CreatingGroup)
	}
	s.Status.Script("CSUSTAT", append(seq, final)...)
}

func (s *Simulator) move() {
	for bar := 1; bar <= bars.NumBars; bar++ {
		t, _ := s.CSU.Value(bars.Keyword(bar, "TARG"))
		s.CSU.Seed(bars.Keyword(bar, "POS"), t)
	}
	s.mu.Lock()
	name := s.pending
	s.mu.Unlock()
	s.Status.Seed("MASKNAME", name)
	s.Status.Seed("CSUSTAT", "Move complete.")
	s.ready(Moving, s.MovePolls)
}

func (s *Simulator) init(value string) {
	id, _ := strconv.Atoi(value)
	for bar := 1; bar <= bars.NumBars; bar++ {
		if id != 0 && bar != id {
			continue
		}
		mm := ktl.Format(home(bar))
		s.CSU.Seed(bars.Keyword(bar, "POS"), mm)
		s.CSU.Seed(bars.Keyword(bar, "TARG"), mm)
		s.CSU.Seed(bars.Keyword(bar, "STAT"), "OK")
	}
	s.ready(Configuring, s.MovePolls)
}

// ready scripts CSUREADY to report busy n times and then ReadyForMove
func (s *Simulator) ready(busy State, n int) {
	seq := make([]string, 0, n+1)
	for i := 0; i < n; i++ {
		seq = append(seq, strconv.Itoa(int(busy)))
	}
	s.CSU.Script("CSUREADY", append(seq, strconv.Itoa(int(ReadyForMove)))...)
}
