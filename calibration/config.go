package calibration

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// DefaultINI is the calibration plan used when no file is given.  There is
// one section per filter for spectroscopy and a FILTER-imaging section for
// imaging flats
const DefaultINI = `
[Y]
ne_arc_count = 2
ne_arc_exptime = 2
ar_arc_count = 2
ar_arc_exptime = 2
flat_count = 13
flat_exptime = 17
flat_power = 11

[J]
ne_arc_count = 2
ne_arc_exptime = 2
ar_arc_count = 2
ar_arc_exptime = 2
flat_count = 13
flat_exptime = 11
flat_power = 11

[H]
ne_arc_count = 2
ne_arc_exptime = 2
ar_arc_count = 2
ar_arc_exptime = 2
flat_count = 13
flat_exptime = 11
flat_power = 11

[K]
ne_arc_count = 2
ne_arc_exptime = 2
ar_arc_count = 2
ar_arc_exptime = 2
flat_count = 13
flatoff_count = 13
flat_exptime = 11
flat_power = 14

[J-imaging]
flat_count = 9
flat_exptime = 4
flat_power = 3

[K-imaging]
flat_count = 9
flatoff_count = 9
flat_exptime = 4
flat_power = 3
`

// Arcs are the arc exposures of one lamp in one filter
type Arcs struct {
	Count    int
	Exptime  float64
	Coadds   int
	Sampmode string
}

// Flats are the dome flats of one filter
type Flats struct {
	Count    int
	OffCount int
	Exptime  float64
	Coadds   int
	Sampmode string

	// Power is the dome lamp power in percent, required if Count > 0
	Power float64
}

// Config is a calibration plan read from an INI file
type Config struct {
	file *ini.File
}

// LoadConfig reads a plan from path, or the default plan if path is empty
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return ParseConfig([]byte(DefaultINI))
	}
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	return &Config{file: f}, nil
}

// ParseConfig reads a plan from the contents of an INI file
func ParseConfig(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, err
	}
	return &Config{file: f}, nil
}

// SectionName is the section holding a filter's calibrations
func SectionName(filter string, imaging bool) string {
	if imaging {
		return filter + "-imaging"
	}
	return filter
}

// Has reports whether the plan has a section for filter
func (c *Config) Has(filter string, imaging bool) bool {
	_, err := c.file.GetSection(SectionName(filter, imaging))
	return err == nil
}

// Sections lists the sections of the plan
func (c *Config) Sections() []string {
	var out []string
	for _, s := range c.file.SectionStrings() {
		if s != ini.DefaultSection {
			out = append(out, s)
		}
	}
	return out
}

// Arcs returns the arc settings of a lamp, "ne" or "ar", in filter
func (c *Config) Arcs(filter, lamp string) (Arcs, error) {
	sec, err := c.file.GetSection(filter)
	if err != nil {
		return Arcs{}, fmt.Errorf("filter %q not in calibration configuration", filter)
	}
	p := lamp + "_arc_"
	return Arcs{
		Count:    sec.Key(p + "count").MustInt(0),
		Exptime:  sec.Key(p + "exptime").MustFloat64(2),
		Coadds:   sec.Key(p + "coadds").MustInt(1),
		Sampmode: sec.Key(p + "sampmode").MustString("CDS"),
	}, nil
}

// Flats returns the flat settings of filter
func (c *Config) Flats(filter string, imaging bool) (Flats, error) {
	name := SectionName(filter, imaging)
	sec, err := c.file.GetSection(name)
	if err != nil {
		return Flats{}, fmt.Errorf("filter %q not in calibration configuration", name)
	}
	f := Flats{
		Count:    sec.Key("flat_count").MustInt(0),
		OffCount: sec.Key("flatoff_count").MustInt(0),
		Exptime:  sec.Key("flat_exptime").MustFloat64(11),
		Coadds:   sec.Key("flat_coadds").MustInt(1),
		Sampmode: sec.Key("flat_sampmode").MustString("CDS"),
	}
	if f.Count > 0 {
		if !sec.HasKey("flat_power") {
			return Flats{}, fmt.Errorf("[%s] has flats but no flat_power", name)
		}
		f.Power, err = sec.Key("flat_power").Float64()
		if err != nil {
			return Flats{}, fmt.Errorf("[%s] flat_power: %w", name, err)
		}
	}
	return f, nil
}
