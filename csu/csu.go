/*Package csu drives the MOSFIRE configurable slit unit.

The CSU is a state machine that lives in the device.  The Controller only
observes it, by reading CSUREADY fresh on every query, and requests
transitions by writing keywords.  The only thing it remembers is the last
mask it set up.

A move is three steps:

	c.SetupMask(m)      // write targets, have the CSU plan the move
	c.ExecuteMask()     // start the move
	c.WaitFor(t, false) // poll until ready

The controller assumes it is the only command issuer for the instrument.
It does no locking of its own.
*/
package csu

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/keckobservatory/instruments/bars"
	"github.com/keckobservatory/instruments/ktl"
	"github.com/keckobservatory/instruments/mask"
)

// Controller commands the CSU through KTL
type Controller struct {
	// KTL is the keyword client
	KTL *ktl.Client

	// Service holds the bar and command keywords, StatusService holds
	// CSUSTAT, SETUPNAME and MASKNAME
	Service       string
	StatusService string

	// PollInterval is the period of WaitFor
	PollInterval time.Duration

	// SetupPollInterval is the period at which CSUSTAT is read during setup
	SetupPollInterval time.Duration

	// SetupTimeout bounds the wait for the CSU to finish creating a group
	SetupTimeout time.Duration

	// ExecuteShim is slept after CSUGO, since CSUREADY lags the command
	ExecuteShim time.Duration

	// InitialDelay is slept at the start of WaitFor unless skipped
	InitialDelay time.Duration

	// Tolerance is the permissible |position - target| of a bar, mm
	Tolerance float64

	Log logrus.FieldLogger

	last *mask.Mask
}

// New returns a Controller with the standard MOSFIRE services and timings
func New(client *ktl.Client) *Controller {
	return &Controller{
		KTL:               client,
		Service:           "mosfire",
		StatusService:     "mcsus",
		PollInterval:      2 * time.Second,
		SetupPollInterval: time.Second,
		SetupTimeout:      time.Minute,
		ExecuteShim:       3 * time.Second,
		InitialDelay:      time.Second,
		Tolerance:         0.01,
		Log:               logrus.WithField("component", "csu")}
}

// Ready returns the state of the CSU.  If the CSU reports Error, a
// *FatalError is returned along with the state
func (c *Controller) Ready() (State, error) {
	i, err := c.KTL.GetInt(c.Service, "CSUREADY")
	if err != nil {
		return Unknown, err
	}
	s := State(i)
	c.Log.Debugf("  CSU state: %d, %s", i, s)
	if s == Error {
		return s, &FatalError{State: s}
	}
	return s, nil
}

// BarOK returns true if the bar reports an OK status
func (c *Controller) BarOK(bar int) (bool, error) {
	if !bars.ValidBar(bar) {
		return false, BarRangeError{Bar: bar}
	}
	s, err := c.KTL.GetString(c.Service, bars.Keyword(bar, "STAT"))
	if err != nil {
		return false, err
	}
	return s == "OK", nil
}

// AllBarsOK returns true if every bar reports an OK status.  The bars which
// do not are returned
func (c *Controller) AllBarsOK() (bool, []int, error) {
	var bad []int
	for bar := 1; bar <= bars.NumBars; bar++ {
		ok, err := c.BarOK(bar)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			bad = append(bad, bar)
		}
	}
	return len(bad) == 0, bad, nil
}

// Status reads and parses CSUSTAT
func (c *Controller) Status() (Status, error) {
	raw, err := c.KTL.GetString(c.StatusService, "CSUSTAT")
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(raw), nil
}

// SetupMask writes the bar targets of m and has the CSU plan the move.  It
// does not move the bars; see ExecuteMask.
//
// m is validated before anything is written.  If the CSU aborts the setup
// for a collision, a *CollisionError is returned and the mask is not
// recorded as the last commanded
func (c *Controller) SetupMask(m *mask.Mask) error {
	if m == nil {
		c.Log.Error("input is not a Mask object")
		return ErrNotMask
	}
	if err := m.Validate(); err != nil {
		return errors.Wrap(err, "csu: refusing to set up")
	}
	c.Log.WithFields(logrus.Fields{"mask": m.Name, "kind": m.Kind.String()}).Info("setting up mask")
	c.Log.Debug("setting bar target position keywords")
	for _, s := range m.Slits {
		if err := c.setTarget(s.RightBarNumber, s.RightBarPositionMM); err != nil {
			return err
		}
		if err := c.setTarget(s.LeftBarNumber, s.LeftBarPositionMM); err != nil {
			return err
		}
	}
	c.Log.Debug("invoking SETUP process on CSU")
	if err := c.KTL.Set(c.Service, "CSUSETUP", 1, true); err != nil {
		return err
	}
	if err := c.KTL.Set(c.StatusService, "SETUPNAME", m.Name, true); err != nil {
		return err
	}

	st, err := c.Status()
	if err != nil {
		return err
	}
	deadline := time.Now().Add(c.SetupTimeout)
	for st.Kind == StatusCreatingGroup && time.Now().Before(deadline) {
		time.Sleep(c.SetupPollInterval)
		st, err = c.Status()
		if err != nil {
			return err
		}
	}
	switch st.Kind {
	case StatusCreatingGroup:
		c.Log.Warnf("CSU still creating group after %v", c.SetupTimeout)
		return nil
	case StatusCollision:
		c.Log.Error(st.Raw)
		return &CollisionError{Row: st.Row, Status: st.Raw}
	}
	c.Log.Infof("setup finished: %s", st.Raw)
	c.last = m
	return nil
}

func (c *Controller) setTarget(bar int, mm float64) error {
	kw := bars.Keyword(bar, "TARG")
	c.Log.Debugf("  setting %s = %v", kw, mm)
	return c.KTL.Set(c.Service, kw, mm, true)
}

// ExecuteMask starts the move to a mask which has been set up.  It returns
// after ExecuteShim and does not wait for the move to finish
func (c *Controller) ExecuteMask() error {
	c.Log.Info("executing CSU move")
	if err := c.KTL.Set(c.Service, "CSUGO", 1, true); err != nil {
		return err
	}
	time.Sleep(c.ExecuteShim)
	return nil
}

// WaitFor polls the CSU every PollInterval until it is ReadyForMove or
// timeout elapses.  A timeout is not an error; done is false.  A fatal state
// ends the wait at once with a *FatalError
func (c *Controller) WaitFor(timeout time.Duration, skipInitialDelay bool) (done bool, err error) {
	c.Log.Debug("waiting for CSU to be ready")
	if !skipInitialDelay {
		time.Sleep(c.InitialDelay)
	}
	s, err := c.Ready()
	if err != nil {
		return false, err
	}
	deadline := time.Now().Add(timeout)
	for s != ReadyForMove && time.Now().Before(deadline) {
		time.Sleep(c.PollInterval)
		s, err = c.Ready()
		if err != nil {
			return false, err
		}
	}
	if s != ReadyForMove {
		c.Log.Warnf("timeout of %v exceeded waiting for CSU, state %s", timeout, s)
		return false, nil
	}
	return true, nil
}

// InitialiseBars homes bars.  With no arguments every bar is initialized
// by a single command.  Every bar number is checked before any is written
func (c *Controller) InitialiseBars(ids ...int) error {
	if len(ids) == 0 {
		c.Log.Info("initializing all bars")
		return c.KTL.Set(c.Service, "CSUINITBAR", 0, true)
	}
	for _, id := range ids {
		if !bars.ValidBar(id) {
			return BarRangeError{Bar: id}
		}
	}
	for _, id := range ids {
		c.Log.Infof("initializing bar %d", id)
		if err := c.KTL.Set(c.Service, "CSUINITBAR", id, true); err != nil {
			return err
		}
	}
	return nil
}

// CurrentMask reconstructs the mask on the hardware from the live bar
// positions.  Every bar must be within Tolerance of its target, otherwise a
// *ReadbackError is returned and no mask
func (c *Controller) CurrentMask() (*mask.Mask, error) {
	pos := make([]float64, bars.NumBars)
	targ := make([]float64, bars.NumBars)
	for bar := 1; bar <= bars.NumBars; bar++ {
		p, err := c.KTL.GetFloat(c.Service, bars.Keyword(bar, "POS"))
		if err != nil {
			return nil, err
		}
		pos[bar-1] = p
	}
	for bar := 1; bar <= bars.NumBars; bar++ {
		t, err := c.KTL.GetFloat(c.Service, bars.Keyword(bar, "TARG"))
		if err != nil {
			return nil, err
		}
		targ[bar-1] = t
	}
	bad := make(map[int][2]float64)
	for i := range pos {
		d := pos[i] - targ[i]
		if !(d < c.Tolerance && d > -c.Tolerance) {
			bad[i+1] = [2]float64{pos[i], targ[i]}
		}
	}
	if len(bad) > 0 {
		err := &ReadbackError{Bars: bad}
		c.Log.Error(err)
		return nil, err
	}
	name, err := c.KTL.GetString(c.StatusService, "MASKNAME")
	if err != nil {
		return nil, err
	}
	return mask.FromPositions(name, pos)
}

// LastCommanded returns the last mask set up without error, or nil
func (c *Controller) LastCommanded() *mask.Mask {
	return c.last
}

// Matches returns true if m puts the bars where the last commanded mask did
func (c *Controller) Matches(m *mask.Mask) bool {
	if c.last == nil || m == nil {
		return false
	}
	return c.last.Fingerprint() == m.Fingerprint()
}
