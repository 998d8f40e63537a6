package mosfire

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/keckobservatory/instruments/ktl"
)

// Sampmode is a detector sampling mode and, if non-zero, its number of reads
type Sampmode struct {
	Mode  int
	Reads int
}

var sampmodeNames = map[string]Sampmode{
	"CDS":    {Mode: 2},
	"MCDS":   {Mode: 3},
	"MCDS16": {Mode: 3, Reads: 16},
}

// ParseSampmode parses a named mode (CDS, MCDS, MCDS16) or a bare mode
// number
func ParseSampmode(s string) (Sampmode, error) {
	s = strings.TrimSpace(s)
	if m, ok := sampmodeNames[strings.ToUpper(s)]; ok {
		return m, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Sampmode{}, fmt.Errorf("unknown sampling mode %q", s)
	}
	return Sampmode{Mode: n}, nil
}

// Valid is true for the supported modes 2 and 3
func (s Sampmode) Valid() bool {
	return s.Mode == 2 || s.Mode == 3
}

// SetExptime sets the exposure time per coadd in seconds.  ITIME is in ms
func (i *Instrument) SetExptime(seconds float64) error {
	return i.KTL.Set(i.Services.Main, "ITIME", int(seconds*1000), true)
}

// SetCoadds sets the number of coadds
func (i *Instrument) SetCoadds(n int) error {
	return i.KTL.Set(i.Services.Main, "COADDS", n, true)
}

// SetSampmode sets the sampling mode, and the number of reads if given
func (i *Instrument) SetSampmode(s Sampmode) error {
	if !s.Valid() {
		return fmt.Errorf("sampling mode %d is not supported", s.Mode)
	}
	i.Log.Infof("setting sampling mode: %d", s.Mode)
	if err := i.KTL.Set(i.Services.Main, "sampmode", s.Mode, true); err != nil {
		return err
	}
	if s.Reads > 0 {
		i.Log.Infof("setting number of reads: %d", s.Reads)
		return i.KTL.Set(i.Services.Main, "numreads", s.Reads, true)
	}
	return nil
}

// WaitForExposure polls imagedone until it is true or timeout elapses.
// A timeout is logged and returns false with no error
func (i *Instrument) WaitForExposure(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		done, err := i.KTL.GetBool(i.Services.Main, "imagedone")
		if err != nil {
			return false, err
		}
		if done == ktl.True {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			i.Log.Warn("timeout exceeded waiting for the exposure to finish")
			return false, nil
		}
		time.Sleep(i.ExposurePoll)
	}
}

// Exposure holds the optional settings of GoI.  Zero values leave the
// detector as it is
type Exposure struct {
	Exptime  float64 `json:"exptime"`
	Coadds   int     `json:"coadds"`
	Sampmode string  `json:"sampmode"`
	Object   string  `json:"object"`
}

// GoI waits for any exposure in progress, applies the settings, and starts
// an exposure.  It does not wait for the new exposure to finish
func (i *Instrument) GoI(e Exposure) error {
	if _, err := i.WaitForExposure(i.ExposureTimeout); err != nil {
		return err
	}
	if e.Exptime > 0 {
		if err := i.SetExptime(e.Exptime); err != nil {
			return err
		}
	}
	if e.Coadds > 0 {
		if err := i.SetCoadds(e.Coadds); err != nil {
			return err
		}
	}
	if e.Sampmode != "" {
		s, err := ParseSampmode(e.Sampmode)
		if err != nil {
			return err
		}
		if err := i.SetSampmode(s); err != nil {
			return err
		}
	}
	if e.Object != "" {
		if err := i.KTL.Set(i.Services.Main, "OBJECT", e.Object, true); err != nil {
			return err
		}
	}
	return i.KTL.Set(i.Services.Main, "go", 1, true)
}

// TakeExposure is GoI followed by a wait for the exposure to finish
func (i *Instrument) TakeExposure(e Exposure) error {
	if err := i.GoI(e); err != nil {
		return err
	}
	wait := i.ExposureTimeout + time.Duration(e.Exptime*float64(max(e.Coadds, 1))*float64(time.Second))
	done, err := i.WaitForExposure(wait)
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("exposure did not finish within %v", wait)
	}
	return nil
}

// Filename is the name the next image will be written to
func (i *Instrument) Filename() (string, error) {
	return i.KTL.GetString(i.Services.Main, "FILENAME")
}

// LastFile is the last image written, which must exist
func (i *Instrument) LastFile() (string, error) {
	f, err := i.KTL.GetString(i.Services.Main, "LASTFILE")
	if err != nil {
		return "", err
	}
	f = strings.TrimSpace(f)
	if _, err := os.Stat(f); err != nil {
		return "", fmt.Errorf("last file %q: %w", f, err)
	}
	return f, nil
}
