package mosfire

import (
	"fmt"
	"strings"
)

// hatch positions
const (
	HatchOpen   = "Open"
	HatchClosed = "Closed"
)

// HatchPosition returns the hatch position, normally Open or Closed
func (i *Instrument) HatchPosition() (string, error) {
	s, err := i.KTL.GetString(i.Services.Hatch, "POSNAME")
	return strings.TrimSpace(s), err
}

func (i *Instrument) moveHatch(pos string) error {
	i.Log.Infof("moving hatch to %s", pos)
	if err := i.KTL.Set(i.Services.Hatch, "TARGNAME", pos, true); err != nil {
		return err
	}
	got, err := i.HatchPosition()
	if err != nil {
		return err
	}
	if got != pos {
		return fmt.Errorf("hatch is %q after move to %q", got, pos)
	}
	return nil
}

// OpenHatch opens the hatch
func (i *Instrument) OpenHatch() error {
	return i.moveHatch(HatchOpen)
}

// CloseHatch closes the hatch
func (i *Instrument) CloseHatch() error {
	return i.moveHatch(HatchClosed)
}

// DomeFlatLamps sets the dome flat lamp power in percent.  Zero is off
func (i *Instrument) DomeFlatLamps(power float64) error {
	if power < 0 || power > 100 {
		return fmt.Errorf("dome lamp power %v outside [0,100]", power)
	}
	if power == 0 {
		i.Log.Info("turning dome flat lamps off")
	} else {
		i.Log.Infof("turning dome flat lamps on at %v%%", power)
	}
	return i.KTL.Set(i.Lamps.DomeService, i.Lamps.DomeKeyword, power, true)
}

// Lamp switches an arc lamp, Ne or Ar, on or off
func (i *Instrument) Lamp(name string, on bool) error {
	kw, ok := i.Lamps.ArcKeywords[name]
	if !ok {
		return fmt.Errorf("no arc lamp named %q", name)
	}
	i.Log.Infof("%s lamp on=%v", name, on)
	return i.KTL.Set(i.Lamps.ArcService, kw, on, true)
}
