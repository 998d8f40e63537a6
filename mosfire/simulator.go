package mosfire

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/keckobservatory/instruments/ktl"
)

// Simulator makes Mock services behave like the instrument: filter wheels
// and the hatch arrive at their targets, OBSMODE moves the wheels, and go
// produces a frame after a few reads of imagedone
type Simulator struct {
	Main, Filter1, Filter2, Hatch, Dome *ktl.Mock

	// Dir, if not empty, is where frames are written.  Render writes the
	// frame at path; when nil an empty file is made
	Dir    string
	Render func(path string) error

	// ExposurePolls is how many reads of imagedone return 0 after go
	ExposurePolls int

	mu    sync.Mutex
	frame int
}

// NewSimulator returns a dark, healthy instrument with the hatch closed.
// main is shared with the CSU when not nil; any OnWrite hook it already has
// receives the keywords the simulator does not handle
func NewSimulator(main *ktl.Mock) *Simulator {
	if main == nil {
		main = ktl.NewMock()
	}
	s := &Simulator{
		Main:          main,
		Filter1:       ktl.NewMock(),
		Filter2:       ktl.NewMock(),
		Hatch:         ktl.NewMock(),
		Dome:          ktl.NewMock(),
		ExposurePolls: 1}
	for _, m := range append(append([]Mechanism{}, Mechanisms...), Assemblies...) {
		main.Seed(m.Keyword, "OK")
	}
	dark := darkCombos[""]
	s.Filter1.Seed("posname", dark[0])
	s.Filter2.Seed("posname", dark[1])
	main.Seed("FILTER", "Dark")
	main.Seed("OBSMODE", "K-Dark-Spectroscopy")
	main.Seed("imagedone", "1")
	main.Seed("ITIME", "1000")
	main.Seed("COADDS", "1")
	main.Seed("sampmode", "2")
	main.Seed("numreads", "1")
	main.Seed("FILENAME", s.filename(1))
	main.Seed("LASTFILE", "")
	lamps := DefaultLamps()
	for _, kw := range lamps.ArcKeywords {
		main.Seed(kw, "0")
	}
	s.Dome.Seed(lamps.DomeKeyword, "0")
	s.Hatch.Seed("POSNAME", HatchClosed)

	prev := main.OnWrite
	main.OnWrite = func(m *ktl.Mock, kw, value string) {
		if !s.onMainWrite(kw, value) && prev != nil {
			prev(m, kw, value)
		}
	}
	s.Filter1.OnWrite = s.onWheelWrite
	s.Filter2.OnWrite = s.onWheelWrite
	s.Hatch.OnWrite = func(m *ktl.Mock, kw, value string) {
		if kw == "TARGNAME" {
			m.Seed("POSNAME", value)
		}
	}
	return s
}

// Services returns the mocks keyed by their default service names
func (s *Simulator) Services() map[string]ktl.Service {
	d, l := DefaultServices(), DefaultLamps()
	return map[string]ktl.Service{
		d.Main:        s.Main,
		d.Filter1:     s.Filter1,
		d.Filter2:     s.Filter2,
		d.Hatch:       s.Hatch,
		l.DomeService: s.Dome,
	}
}

// Break sets a mechanism status to bad
func (s *Simulator) Break(m Mechanism, status string) {
	s.Main.Seed(m.Keyword, status)
}

func (s *Simulator) filename(n int) string {
	return fmt.Sprintf("m%04d.fits", n)
}

func (s *Simulator) updateFilter() {
	f1, _ := s.Filter1.Value("posname")
	f2, _ := s.Filter2.Value("posname")
	if f1 == "Open" {
		s.Main.Seed("FILTER", f2)
		return
	}
	s.Main.Seed("FILTER", "Dark")
}

func (s *Simulator) onWheelWrite(m *ktl.Mock, kw, value string) {
	if kw == "TARGNAME" {
		m.Seed("posname", value)
		s.updateFilter()
	}
}

func (s *Simulator) onMainWrite(kw, value string) bool {
	switch kw {
	case "OBSMODE":
		idx := strings.Index(value, "-")
		if idx < 0 {
			return true
		}
		filter, mode := value[:idx], value[idx+1:]
		if strings.HasPrefix(mode, "Dark") {
			combo, ok := darkCombos[filter]
			if !ok {
				combo = darkCombos[""]
			}
			s.Filter1.Seed("posname", combo[0])
			s.Filter2.Seed("posname", combo[1])
		} else {
			s.Filter1.Seed("posname", "Open")
			s.Filter2.Seed("posname", filter)
		}
		s.updateFilter()
		return true
	case "GO":
		s.expose()
		return true
	}
	return false
}

func (s *Simulator) expose() {
	s.mu.Lock()
	s.frame++
	name := s.filename(s.frame)
	next := s.filename(s.frame + 1)
	s.mu.Unlock()

	path := name
	if s.Dir != "" {
		path = filepath.Join(s.Dir, name)
		var err error
		if s.Render != nil {
			err = s.Render(path)
		} else {
			err = os.WriteFile(path, nil, 0644)
		}
		if err != nil {
			path = ""
		}
	}
	s.Main.Seed("LASTFILE", path)
	s.Main.Seed("FILENAME", next)
	script := make([]string, 0, s.ExposurePolls+1)
	for i := 0; i < s.ExposurePolls; i++ {
		script = append(script, "0")
	}
	s.Main.Script("imagedone", append(script, "1")...)
}
