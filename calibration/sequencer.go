/*Package calibration sequences the afternoon calibrations and the quick
checkout of MOSFIRE.

A plan is an INI file with a section per filter.  Spectroscopic
calibrations for a filter are Ne and Ar arcs with the hatch closed and dome
flats, lamps on and off, with the hatch open.  The hatch is moved as few
times as possible: if it is already open the flats are taken first.
*/
package calibration

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/keckobservatory/instruments/barimage"
	"github.com/keckobservatory/instruments/csu"
	"github.com/keckobservatory/instruments/mask"
	"github.com/keckobservatory/instruments/mosfire"
)

// arc lamps, in the order they are used.  The prefix selects the keys of
// the plan
var arcLamps = []struct{ Prefix, Name string }{
	{"ne", "Ne"},
	{"ar", "Ar"},
}

// CheckoutLongslits are imaged by QuickCheckout, width x length
var CheckoutLongslits = [][2]float64{{2.7, 46}, {0.7, 46}}

// Step is one mask and the filters to calibrate it in
type Step struct {
	Mask    *mask.Mask
	Filters []string
}

// VerifyError is generated when the bars seen in an image differ from the
// mask that was commanded
type VerifyError struct {
	Mask string
	Bars []barimage.Discrepancy
}

func (e *VerifyError) Error() string {
	ids := make([]string, len(e.Bars))
	for i, d := range e.Bars {
		ids[i] = fmt.Sprint(d.Bar)
	}
	return fmt.Sprintf("mask %s: bars %s not where commanded", e.Mask, strings.Join(ids, ","))
}

// Sequencer runs calibration plans
type Sequencer struct {
	Inst *mosfire.Instrument
	CSU  *csu.Controller
	Cfg  *Config
	Log  logrus.FieldLogger

	// MoveTimeout bounds the wait for the CSU after each execute
	MoveTimeout time.Duration

	// Analyzer, if not nil, is used by QuickCheckout to measure the bars
	// in an image of each longslit.  Tolerance is the allowed error in mm
	Analyzer  *barimage.Analyzer
	Tolerance float64
}

// NewSequencer returns a sequencer with a five minute move timeout
func NewSequencer(inst *mosfire.Instrument, c *csu.Controller, cfg *Config) *Sequencer {
	return &Sequencer{
		Inst:        inst,
		CSU:         c,
		Cfg:         cfg,
		Log:         logrus.WithField("component", "calibration"),
		MoveTimeout: 5 * time.Minute,
		Tolerance:   0.2}
}

func (s *Sequencer) expose(n int, e mosfire.Exposure) error {
	for i := 0; i < n; i++ {
		s.Log.Infof("taking %s %d/%d (exptime = %.0f)", e.Object, i+1, n, e.Exptime)
		if err := s.Inst.TakeExposure(e); err != nil {
			return errors.Wrap(err, e.Object)
		}
	}
	return nil
}

// TakeArcs takes the Ne then Ar arcs of filter with the hatch closed, and
// leaves the instrument dark
func (s *Sequencer) TakeArcs(filter string) error {
	for _, lamp := range arcLamps {
		arcs, err := s.Cfg.Arcs(filter, lamp.Prefix)
		if err != nil {
			return err
		}
		if arcs.Count <= 0 {
			continue
		}
		s.Log.Infof("taking %d %s arcs", arcs.Count, lamp.Name)
		if err := s.Inst.GoDark(); err != nil {
			return err
		}
		if err := s.Inst.CloseHatch(); err != nil {
			return err
		}
		if err := s.Inst.SetMode(filter, "Spectroscopy"); err != nil {
			return err
		}
		if err := s.Inst.Lamp(lamp.Name, true); err != nil {
			return err
		}
		err = s.expose(arcs.Count, mosfire.Exposure{
			Exptime:  arcs.Exptime,
			Coadds:   arcs.Coadds,
			Sampmode: arcs.Sampmode,
			Object:   lamp.Name + " arc"})
		if offErr := s.Inst.Lamp(lamp.Name, false); err == nil {
			err = offErr
		}
		if err != nil {
			return err
		}
	}
	s.Log.Info("going dark")
	return s.Inst.GoDark()
}

// TakeFlats takes the dome flats of filter with the hatch open, with the
// lamps on or off, and leaves the instrument dark
func (s *Sequencer) TakeFlats(filter string, imaging, lampsOff bool) error {
	flats, err := s.Cfg.Flats(filter, imaging)
	if err != nil {
		return err
	}
	n, power, suffix := flats.Count, flats.Power, ""
	if lampsOff {
		n, power, suffix = flats.OffCount, 0, " (lamps off)"
	}
	if n > 0 {
		s.Log.Infof("taking %d flats%s", n, suffix)
		if err := s.Inst.OpenHatch(); err != nil {
			return err
		}
		if err := s.Inst.DomeFlatLamps(power); err != nil {
			return err
		}
		mode := "Spectroscopy"
		if imaging {
			mode = "Imaging"
		}
		if err := s.Inst.SetMode(filter, mode); err != nil {
			return err
		}
		err := s.expose(n, mosfire.Exposure{
			Exptime:  flats.Exptime,
			Coadds:   flats.Coadds,
			Sampmode: flats.Sampmode,
			Object:   "Dome Flat" + suffix})
		if err != nil {
			return err
		}
	}
	s.Log.Info("going dark")
	return s.Inst.GoDark()
}

// configure sets up and executes a mask, then waits for the move.  Nothing
// moves if m is the last mask commanded and the bars still read back at
// their targets
func (s *Sequencer) configure(m *mask.Mask) error {
	if s.CSU.Matches(m) {
		if _, err := s.CSU.CurrentMask(); err == nil {
			s.Log.Infof("CSU already formed %s", m.Name)
			return nil
		}
	}
	if err := s.CSU.SetupMask(m); err != nil {
		return err
	}
	if err := s.CSU.ExecuteMask(); err != nil {
		return err
	}
	done, err := s.CSU.WaitFor(s.MoveTimeout, false)
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("CSU did not finish moving to %s within %v", m.Name, s.MoveTimeout)
	}
	return nil
}

// ForMask configures the CSU for m and takes the calibrations of each
// filter.  The filters must all be in the plan and the mechanisms healthy
// before anything moves
func (s *Sequencer) ForMask(m *mask.Mask, filters []string, imaging bool) error {
	if m == nil {
		return csu.ErrNotMask
	}
	for _, f := range filters {
		if !s.Cfg.Has(f, imaging) {
			return fmt.Errorf("filter %q not in calibration configuration", SectionName(f, imaging))
		}
	}
	if err := s.Inst.CheckMechanisms(); err != nil {
		return err
	}
	kind := ""
	if imaging {
		kind = " imaging"
	}
	s.Log.Infof("taking%s calibrations for %s in %s", kind, m.Name, strings.Join(filters, ", "))
	if err := s.Inst.GoDark(); err != nil {
		return err
	}
	if err := s.configure(m); err != nil {
		return err
	}
	for _, f := range filters {
		hatch, err := s.Inst.HatchPosition()
		if err != nil {
			return err
		}
		var steps []func() error
		arcs := func() error {
			if imaging {
				return nil
			}
			return s.TakeArcs(f)
		}
		flats := func() error { return s.TakeFlats(f, imaging, false) }
		flatsOff := func() error { return s.TakeFlats(f, imaging, true) }
		switch hatch {
		case mosfire.HatchClosed:
			steps = []func() error{arcs, flats, flatsOff}
		case mosfire.HatchOpen:
			steps = []func() error{flats, flatsOff, arcs}
		default:
			return fmt.Errorf("hatch in unknown state %q", hatch)
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return errors.Wrapf(err, "%s calibrations for %s", f, m.Name)
			}
		}
	}
	s.Log.Infof("done with %s calibrations for %s", strings.Join(filters, ", "), m.Name)
	return nil
}

// TakeAll calibrates each mask in turn and turns the dome lamps off at the
// end, also after a failure
func (s *Sequencer) TakeAll(plan []Step, imaging bool) error {
	var err error
	for i, step := range plan {
		s.Log.Infof("taking calibrations for mask %d/%d", i+1, len(plan))
		if err = s.ForMask(step.Mask, step.Filters, imaging); err != nil {
			break
		}
	}
	if offErr := s.Inst.DomeFlatLamps(0); err == nil {
		err = offErr
	}
	return err
}

// QuickCheckout verifies the instrument is dark and healthy, takes a dark
// frame, forms the checkout longslits, and cycles through J imaging back
// to dark.  Each longslit is imaged and measured when an Analyzer is set
func (s *Sequencer) QuickCheckout() error {
	dark, err := s.Inst.IsDark()
	if err != nil {
		return err
	}
	if !dark {
		if err := s.Inst.GoDark(); err != nil {
			return err
		}
	}
	if err := s.Inst.CheckMechanisms(); err != nil {
		return err
	}

	err = s.Inst.TakeExposure(mosfire.Exposure{Exptime: 1, Coadds: 1, Sampmode: "CDS", Object: "checkout dark"})
	if err != nil {
		return err
	}
	f, err := s.Inst.LastFile()
	if err != nil {
		return err
	}
	s.Log.Infof("dark frame written to %s", f)

	for _, ls := range CheckoutLongslits {
		m, err := mask.NewLongSlit(ls[0], int(ls[1]))
		if err != nil {
			return err
		}
		s.Log.Infof("forming %s", m.Name)
		if err := s.configure(m); err != nil {
			return err
		}
		if s.Analyzer != nil {
			if err := s.verify(m); err != nil {
				return err
			}
		}
	}

	if err := s.Inst.CloseHatch(); err != nil {
		return err
	}
	if err := s.Inst.SetMode("J", "Imaging"); err != nil {
		return err
	}
	if err := s.Inst.CheckMechanisms(); err != nil {
		return err
	}
	s.Log.Info("quick checkout complete, going dark")
	return s.Inst.GoDark()
}

func (s *Sequencer) verify(m *mask.Mask) error {
	err := s.Inst.TakeExposure(mosfire.Exposure{Exptime: 1, Coadds: 1, Sampmode: "CDS", Object: m.Name})
	if err != nil {
		return err
	}
	f, err := s.Inst.LastFile()
	if err != nil {
		return err
	}
	img, err := barimage.ReadFITSFile(f)
	if err != nil {
		return err
	}
	a, err := s.Analyzer.Analyze(img)
	if err != nil {
		return err
	}
	if d := barimage.Verify(a, m, s.Tolerance); len(d) > 0 {
		for _, bad := range d {
			s.Log.Warnf("bar %d commanded %.3f mm measured %.3f mm", bad.Bar, bad.CommandedMM, bad.MeasuredMM)
		}
		return &VerifyError{Mask: m.Name, Bars: d}
	}
	s.Log.Infof("%s bars verified in %s", m.Name, f)
	return nil
}
