/*Package mosfire contains the simple actuator functions of the MOSFIRE
spectrograph: observing mode and filters, mechanism status, the detector,
the hatch and the calibration lamps.

Every function is a keyword read or write through a ktl.Client.  The CSU
is controlled by package csu.
*/
package mosfire

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keckobservatory/instruments/ktl"
)

var (
	// Modes are the observing modes OBSMODE may be set to, after the filter
	Modes = []string{"Dark-Imaging", "Dark-Spectroscopy", "Imaging", "Spectroscopy"}

	// Filters are the science filters
	Filters = []string{"Y", "J", "H", "K", "J2", "J3", "NB"}

	// darkCombos maps a filter to the filter1 and filter2 wheel positions
	// that make the instrument dark while staying close to that filter.
	// The empty string is the default
	darkCombos = map[string][2]string{
		"Y":  {"H2", "Y"},
		"J":  {"NB1061", "J"},
		"H":  {"NB1061", "H"},
		"Ks": {"NB1061", "Ks"},
		"K":  {"NB1061", "K"},
		"J2": {"J2", "K"},
		"J3": {"J3", "K"},
		"H1": {"H1", "K"},
		"H2": {"H2", "K"},
		"":   {"NB1061", "Ks"},
	}
)

// Services names the KTL services of the instrument
type Services struct {
	// Main is the top level instrument service
	Main string `yaml:"Main"`

	// Filter1 and Filter2 are the two filter wheel servers
	Filter1 string `yaml:"Filter1"`
	Filter2 string `yaml:"Filter2"`

	// Hatch is the dust cover server
	Hatch string `yaml:"Hatch"`
}

// LampConfig locates the lamp keywords
type LampConfig struct {
	// DomeService and DomeKeyword hold the dome flat lamp power, in percent
	DomeService string `yaml:"DomeService"`
	DomeKeyword string `yaml:"DomeKeyword"`

	// ArcService holds the arc lamp power switches, ArcKeywords maps lamp
	// names (Ne, Ar) to their keyword
	ArcService  string            `yaml:"ArcService"`
	ArcKeywords map[string]string `yaml:"ArcKeywords"`
}

// DefaultServices are the services of the instrument at the telescope
func DefaultServices() Services {
	return Services{Main: "mosfire", Filter1: "mmf1s", Filter2: "mmf2s", Hatch: "mmdcs"}
}

// DefaultLamps are the lamp keywords at the telescope
func DefaultLamps() LampConfig {
	return LampConfig{
		DomeService: "dcs",
		DomeKeyword: "FLAMPPWR",
		ArcService:  "mosfire",
		ArcKeywords: map[string]string{"Ne": "PWSTATA7", "Ar": "PWSTATA8"}}
}

// Instrument is MOSFIRE, less the CSU
type Instrument struct {
	KTL      *ktl.Client
	Services Services
	Lamps    LampConfig
	Log      logrus.FieldLogger

	// ExposurePoll is the interval between reads of imagedone
	ExposurePoll time.Duration

	// ExposureTimeout bounds the wait for a prior exposure in GoI
	ExposureTimeout time.Duration
}

// New returns an Instrument with the services and lamps at the telescope
func New(client *ktl.Client) *Instrument {
	return &Instrument{
		KTL:             client,
		Services:        DefaultServices(),
		Lamps:           DefaultLamps(),
		Log:             logrus.WithField("component", "mosfire"),
		ExposurePoll:    time.Second,
		ExposureTimeout: 300 * time.Second}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ObsMode returns the raw OBSMODE, e.g. J-Spectroscopy
func (i *Instrument) ObsMode() (string, error) {
	return i.KTL.GetString(i.Services.Main, "OBSMODE")
}

// Mode returns the filter and mode parts of OBSMODE.  They are split at
// the first dash, so J-Dark-Imaging is J, Dark-Imaging
func (i *Instrument) Mode() (filter, mode string, err error) {
	obs, err := i.ObsMode()
	if err != nil {
		return "", "", err
	}
	obs = strings.TrimSpace(obs)
	idx := strings.Index(obs, "-")
	if idx < 0 {
		return obs, "", nil
	}
	return obs[:idx], obs[idx+1:], nil
}

// SetMode sets OBSMODE to filter-mode and checks it was reached
func (i *Instrument) SetMode(filter, mode string) error {
	if !contains(Modes, mode) {
		return fmt.Errorf("mode %q is unknown, not one of %v", mode, Modes)
	}
	if !contains(Filters, filter) {
		return fmt.Errorf("filter %q is unknown, not one of %v", filter, Filters)
	}
	target := filter + "-" + mode
	i.Log.Infof("setting mode to %s", target)
	if err := i.KTL.Set(i.Services.Main, "OBSMODE", target, true); err != nil {
		return err
	}
	got, err := i.ObsMode()
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(got), target) {
		i.Log.Errorf("mode %q not reached, current mode %q", target, got)
		return fmt.Errorf("mode %q not reached, current mode %q", target, got)
	}
	return nil
}

// Filter returns the current filter name
func (i *Instrument) Filter() (string, error) {
	return i.KTL.GetString(i.Services.Main, "FILTER")
}

// Filter1 returns the position of filter wheel 1
func (i *Instrument) Filter1() (string, error) {
	return i.KTL.GetString(i.Services.Filter1, "posname")
}

// Filter2 returns the position of filter wheel 2
func (i *Instrument) Filter2() (string, error) {
	return i.KTL.GetString(i.Services.Filter2, "posname")
}

// IsDark is true when the filter is Dark
func (i *Instrument) IsDark() (bool, error) {
	f, err := i.Filter()
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(f) == "Dark", nil
}

// QuickDark makes the instrument dark by crossing the two filter wheels,
// choosing a pair near filter.  An unknown or empty filter uses the
// default pair.  Wheels already in place are not moved
func (i *Instrument) QuickDark(filter string) error {
	combo, ok := darkCombos[filter]
	if !ok {
		i.Log.Warnf("filter %q has no dark combination, using the default", filter)
		combo = darkCombos[""]
	}
	wheels := []struct {
		svc  string
		read func() (string, error)
	}{
		{i.Services.Filter1, i.Filter1},
		{i.Services.Filter2, i.Filter2},
	}
	for n, w := range wheels {
		pos, err := w.read()
		if err != nil {
			return err
		}
		if strings.TrimSpace(pos) == combo[n] {
			continue
		}
		if err := i.KTL.Set(w.svc, "targname", combo[n], true); err != nil {
			return err
		}
	}
	return nil
}

// GoDark is QuickDark with the default filter pair
func (i *Instrument) GoDark() error {
	return i.QuickDark("")
}

// Mechanism is a status keyword of the main service which reads OK when
// the mechanism is healthy
type Mechanism struct {
	Name    string
	Keyword string
}

// Mechanisms are checked in order by CheckMechanisms
var Mechanisms = []Mechanism{
	{"filter1", "MF1STAT"},
	{"filter2", "MF2STAT"},
	{"fcs", "FCSSTAT"},
	{"grating shim", "MGSSTAT"},
	{"grating turret", "MGTSTAT"},
	{"pupil rotator", "MPRSTAT"},
	{"dust cover", "MDCSTAT"},
}

// Assemblies are the summary status keywords of the grating and filters
var Assemblies = []Mechanism{
	{"grating", "GRATSTAT"},
	{"filters", "FILTSTAT"},
}

// MechanismError is generated when a mechanism status is not OK
type MechanismError struct {
	Mechanism Mechanism
	Status    string
}

func (e *MechanismError) Error() string {
	return fmt.Sprintf("%s status is %q (%s), not OK", e.Mechanism.Name, e.Status, e.Mechanism.Keyword)
}

// MechanismStatus returns the raw status of a mechanism
func (i *Instrument) MechanismStatus(m Mechanism) (string, error) {
	s, err := i.KTL.GetString(i.Services.Main, m.Keyword)
	return strings.TrimSpace(s), err
}

// MechanismOK reports whether a mechanism status is OK
func (i *Instrument) MechanismOK(m Mechanism) (bool, error) {
	s, err := i.MechanismStatus(m)
	return s == "OK", err
}

// CheckMechanisms checks every mechanism and returns a *MechanismError for
// the first that is not OK
func (i *Instrument) CheckMechanisms() error {
	for _, m := range Mechanisms {
		s, err := i.MechanismStatus(m)
		if err != nil {
			return err
		}
		if s != "OK" {
			i.Log.Errorf("%s status is not ok", m.Name)
			i.Log.Error("address the problem, then re-run the checkout")
			return &MechanismError{Mechanism: m, Status: s}
		}
	}
	return nil
}
