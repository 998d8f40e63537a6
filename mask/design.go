package mask

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/keckobservatory/instruments/bars"
)

// node is a generic XML element
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []node     `xml:",any"`
}

func (n node) record() Record {
	r := make(Record, len(n.Attrs))
	for _, a := range n.Attrs {
		r[a.Name.Local] = a.Value
	}
	return r
}

func (n node) records() []Record {
	out := make([]Record, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, c.record())
	}
	return out
}

// NewDesignFile reads a mask design document from disk
func NewDesignFile(path string) (*Mask, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := NewDesign(b)
	if pe, ok := err.(*ParseError); ok {
		pe.Input = path
	}
	return m, err
}

// NewDesign builds a mask from a mask design document
func NewDesign(doc []byte) (*Mask, error) {
	var root node
	if err := xml.NewDecoder(bytes.NewReader(doc)).Decode(&root); err != nil {
		return nil, &ParseError{Input: string(doc), Reason: err.Error()}
	}
	perr := func(format string, args ...interface{}) error {
		return &ParseError{Input: string(doc), Reason: fmt.Sprintf(format, args...)}
	}

	m := &Mask{Kind: Design, Extra: make(map[string][]Record)}
	for _, sec := range root.Children {
		switch sec.XMLName.Local {
		case "maskDescription":
			d := sec.record()
			m.Description = d
			m.Name = d["maskName"]
			m.Priority, _ = strconv.ParseFloat(d["totalPriority"], 64)
			m.PA, _ = strconv.ParseFloat(d["maskPA"], 64)
			if _, ok := d["centerRaH"]; ok {
				m.CenterRA = sexagesimal(d, "centerRaH", "centerRaM", "centerRaS")
				m.CenterDec = sexagesimal(d, "centerDecD", "centerDecM", "centerDecS")
			}
		case "mascgenArguments":
			for _, el := range sec.Children {
				a := Arg{Name: el.XMLName.Local}
				if len(el.Attrs) == 0 {
					a.Text = strings.TrimSpace(el.Content)
				} else {
					a.Attrs = el.record()
				}
				m.Args = append(m.Args, a)
			}
		case "mechanicalSlitConfig":
			for i, r := range sec.records() {
				s, err := slitFromRecord(r)
				if err != nil {
					return nil, perr("mechanical slit %d: %v", i+1, err)
				}
				m.Slits = append(m.Slits, s)
			}
		case "scienceSlitConfig":
			m.Targets = sec.records()
			if err := combineCoords(m.Targets); err != nil {
				return nil, perr("science slit: %v", err)
			}
		case "alignment":
			m.Stars = sec.records()
			if err := combineCoords(m.Stars); err != nil {
				return nil, perr("alignment star: %v", err)
			}
		default:
			m.Extra[sec.XMLName.Local] = sec.records()
		}
	}
	if len(m.Slits) == 0 {
		return nil, perr("no mechanicalSlitConfig slits")
	}
	if m.Name == "" {
		m.Name = "UNNAMED"
	}
	closeRest(m)
	return m, nil
}

func sexagesimal(r Record, a, b, c string) string {
	return r[a] + ":" + r[b] + ":" + r[c]
}

// combineCoords adds RA and DEC strings to each record from their three
// sexagesimal components
func combineCoords(rs []Record) error {
	for i, r := range rs {
		for _, k := range []string{"targetRaH", "targetRaM", "targetRaS", "targetDecD", "targetDecM", "targetDecS"} {
			if _, ok := r[k]; !ok {
				return fmt.Errorf("row %d is missing %s", i+1, k)
			}
		}
		r["RA"] = sexagesimal(r, "targetRaH", "targetRaM", "targetRaS")
		r["DEC"] = sexagesimal(r, "targetDecD", "targetDecM", "targetDecS")
	}
	return nil
}

// slitFromRecord converts mechanicalSlitConfig attributes to a Slit.  Bar
// numbers default from the slit number, center and width from the bar
// positions
func slitFromRecord(r Record) (Slit, error) {
	num := func(k string) (float64, error) {
		v, ok := r[k]
		if !ok {
			return 0, fmt.Errorf("missing %s", k)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %v", k, err)
		}
		return f, nil
	}
	n, err := num("slitNumber")
	if err != nil {
		return Slit{}, err
	}
	left, err := num("leftBarPositionMM")
	if err != nil {
		return Slit{}, err
	}
	right, err := num("rightBarPositionMM")
	if err != nil {
		return Slit{}, err
	}
	s := NewSlit(int(n), left, right, r["target"])
	if v, err := num("leftBarNumber"); err == nil {
		s.LeftBarNumber = int(v)
	}
	if v, err := num("rightBarNumber"); err == nil {
		s.RightBarNumber = int(v)
	}
	if v, err := num("centerPositionArcsec"); err == nil {
		s.CenterPositionArcsec = v
	}
	if v, err := num("slitWidthArcsec"); err == nil {
		s.SlitWidthArcsec = v
	}
	if !bars.ValidSlit(s.SlitNumber) {
		return Slit{}, fmt.Errorf("slit number %d out of range", s.SlitNumber)
	}
	return s, nil
}
