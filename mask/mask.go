/*Package mask describes CSU slit masks independent of the hardware.

Every mask, regardless of how it was made, is reduced to the same table of
Slit rows, which is all the CSU controller consumes.  Masks are built from
a specifier string by New, which classifies the string then dispatches to
exactly one builder:

	OPEN, OPEN MASK      all bars at their mechanical extremes
	RAND, RANDOM         46 narrow slits at random positions
	{width}x{length}     a longslit, e.g. 0.7x46
	XML or a file path   a mask design document

FromPositions builds a fifth kind from live bar positions.  No builder
touches hardware.
*/
package mask

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/snksoft/crc"

	"github.com/keckobservatory/instruments/bars"
)

var crcTable = crc.NewTable(crc.XMODEM)

// Kind is the variety of a mask
type Kind int

const (
	// Open has every slit at its maximum width
	Open Kind = iota

	// Random has narrow slits at random centers
	Random

	// LongSlit has contiguous equal width slits about the center row
	LongSlit

	// Design comes from a mask design document
	Design

	// Current was read back from the hardware
	Current
)

func (k Kind) String() string {
	switch k {
	case Open:
		return "open"
	case Random:
		return "random"
	case LongSlit:
		return "longslit"
	case Design:
		return "design"
	case Current:
		return "current"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Slit is one row of the canonical slit table
type Slit struct {
	SlitNumber           int     `json:"slitNumber"`
	LeftBarNumber        int     `json:"leftBarNumber"`
	LeftBarPositionMM    float64 `json:"leftBarPositionMM"`
	RightBarNumber       int     `json:"rightBarNumber"`
	RightBarPositionMM   float64 `json:"rightBarPositionMM"`
	CenterPositionArcsec float64 `json:"centerPositionArcsec"`
	SlitWidthArcsec      float64 `json:"slitWidthArcsec"`
	Target               string  `json:"target"`
}

// NewSlit fills a row from a slit number and the two bar positions, deriving
// the center and width
func NewSlit(slit int, leftMM, rightMM float64, target string) Slit {
	right, left := bars.SlitToBars(slit)
	return Slit{
		SlitNumber:           slit,
		LeftBarNumber:        left,
		LeftBarPositionMM:    leftMM,
		RightBarNumber:       right,
		RightBarPositionMM:   rightMM,
		CenterPositionArcsec: bars.CenterArcsec((leftMM + rightMM) / 2),
		SlitWidthArcsec:      bars.WidthArcsec(leftMM, rightMM),
		Target:               target,
	}
}

// Closed is true if the bars of the slit are no further apart than a
// closed slit's
func (s Slit) Closed() bool {
	return s.LeftBarPositionMM-s.RightBarPositionMM <= bars.ClosedGapMM+1e-9
}

// Record is a row of a star or target table, attribute name to value
type Record map[string]string

// Arg is one mascgenArguments entry.  An entry carries either text or
// attributes
type Arg struct {
	Name  string `json:"name"`
	Text  string `json:"text,omitempty"`
	Attrs Record `json:"attrs,omitempty"`
}

// BarPair is the position of a pair of bars that are not part of the slit
// table
type BarPair struct {
	RightBar int     `json:"rightBar"`
	RightMM  float64 `json:"rightMM"`
	LeftBar  int     `json:"leftBar"`
	LeftMM   float64 `json:"leftMM"`
}

// Mask is a complete configuration of the CSU
type Mask struct {
	Name      string  `json:"name"`
	Kind      Kind    `json:"kind"`
	Priority  float64 `json:"priority"`
	PA        float64 `json:"pa"`
	CenterRA  string  `json:"centerRA,omitempty"`
	CenterDec string  `json:"centerDec,omitempty"`

	// Description holds the raw maskDescription attributes of a design
	Description Record `json:"description,omitempty"`

	// Args holds the generation arguments of a design
	Args []Arg `json:"args,omitempty"`

	Slits   []Slit   `json:"slits"`
	Stars   []Record `json:"stars,omitempty"`
	Targets []Record `json:"targets,omitempty"`

	// Extra holds sections of a design document that are not understood,
	// as lists of attributes
	Extra map[string][]Record `json:"extra,omitempty"`

	// AlignBox is the row of AlignBoxSlit of a longslit, which forms the
	// alignment box
	AlignBox *BarPair `json:"alignBox,omitempty"`
}

// ParseError is generated when a specifier or a design document cannot be
// turned into a mask
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	in := e.Input
	if len(in) > 64 {
		in = in[:61] + "..."
	}
	return fmt.Sprintf("mask: cannot build a mask from %q: %s", in, e.Reason)
}

// Specifier is a classified mask specifier
type Specifier struct {
	Kind Kind

	// Width (arcsec) and Length (slits) of a longslit
	Width  float64
	Length int

	// Document is the content of an inline design, Path the file of one
	Document []byte
	Path     string
}

var longslitRE = regexp.MustCompile(`^([0-9]*\.?[0-9]+)\s*[xX]\s*([0-9]+)$`)

// Classify inspects a specifier and determines which builder it belongs to
func Classify(spec string) (Specifier, error) {
	s := strings.TrimSpace(spec)
	switch strings.ToUpper(s) {
	case "OPEN", "OPEN MASK":
		return Specifier{Kind: Open}, nil
	case "RAND", "RANDOM":
		return Specifier{Kind: Random}, nil
	}
	if m := longslitRE.FindStringSubmatch(s); m != nil {
		width, err := strconv.ParseFloat(m[1], 64)
		if err != nil || width <= 0 {
			return Specifier{}, &ParseError{Input: spec, Reason: "longslit width must be a positive number"}
		}
		length, err := strconv.Atoi(m[2])
		if err != nil || length < 1 || length > bars.NumSlits {
			return Specifier{}, &ParseError{Input: spec, Reason: fmt.Sprintf("longslit length must be in [1,%d]", bars.NumSlits)}
		}
		return Specifier{Kind: LongSlit, Width: width, Length: length}, nil
	}
	if strings.HasPrefix(s, "<") {
		return Specifier{Kind: Design, Document: []byte(s)}, nil
	}
	if s != "" {
		if fi, err := os.Stat(s); err == nil && !fi.IsDir() {
			return Specifier{Kind: Design, Path: s}, nil
		}
	}
	return Specifier{}, &ParseError{Input: spec, Reason: "not OPEN, RANDOM, {width}x{length}, XML, or a file"}
}

type options struct {
	rand *rand.Rand
}

// Option configures New
type Option func(*options)

// WithRand sets the source of randomness for random masks
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		o.rand = r
	}
}

// New builds a mask from a specifier
func New(spec string, opts ...Option) (*Mask, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	s, err := Classify(spec)
	if err != nil {
		return nil, err
	}
	switch s.Kind {
	case Open:
		return NewOpen(), nil
	case Random:
		r := o.rand
		if r == nil {
			r = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		return NewRandom(r), nil
	case LongSlit:
		return NewLongSlit(s.Width, s.Length)
	case Design:
		if s.Path != "" {
			return NewDesignFile(s.Path)
		}
		return NewDesign(s.Document)
	default:
		return nil, &ParseError{Input: spec, Reason: "unsupported kind " + s.Kind.String()}
	}
}

// ValidationError is generated when a mask cannot be sent to the CSU
type ValidationError struct {
	Mask   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Mask == "" {
		return "mask: " + e.Reason
	}
	return "mask " + e.Mask + ": " + e.Reason
}

func invalid(name, format string, args ...interface{}) error {
	return &ValidationError{Mask: name, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks that a mask can be sent to the CSU.  Every kind but
// Current must have a row for each of the 46 slits
func (m *Mask) Validate() error {
	if m == nil {
		return &ValidationError{Reason: "nil mask"}
	}
	n := len(m.Slits)
	if m.Kind == Current && (n < 1 || n > bars.NumSlits) {
		return invalid(m.Name, "%d slits, expected 1 to %d", n, bars.NumSlits)
	}
	if m.Kind != Current && n != bars.NumSlits {
		return invalid(m.Name, "%d slits, expected %d", n, bars.NumSlits)
	}
	seen := make(map[int]bool, len(m.Slits))
	for _, s := range m.Slits {
		if !bars.ValidSlit(s.SlitNumber) {
			return invalid(m.Name, "slit number %d out of range", s.SlitNumber)
		}
		if seen[s.SlitNumber] {
			return invalid(m.Name, "slit %d appears twice", s.SlitNumber)
		}
		seen[s.SlitNumber] = true
		right, left := bars.SlitToBars(s.SlitNumber)
		if s.RightBarNumber != right || s.LeftBarNumber != left {
			return invalid(m.Name, "slit %d has bars %d/%d, expected %d/%d",
				s.SlitNumber, s.RightBarNumber, s.LeftBarNumber, right, left)
		}
		if m.Kind == Current {
			continue
		}
		for _, mm := range []float64{s.LeftBarPositionMM, s.RightBarPositionMM} {
			if math.IsNaN(mm) || math.IsInf(mm, 0) || !bars.InStroke(mm) {
				return invalid(m.Name, "slit %d bar position %v outside [%v, %v] mm",
					s.SlitNumber, mm, bars.MinPositionMM, bars.MaxPositionMM)
			}
		}
	}
	return nil
}

// BarTargets returns the commanded position of each bar in the table
func (m *Mask) BarTargets() map[int]float64 {
	out := make(map[int]float64, 2*len(m.Slits))
	for _, s := range m.Slits {
		out[s.RightBarNumber] = s.RightBarPositionMM
		out[s.LeftBarNumber] = s.LeftBarPositionMM
	}
	return out
}

// Fingerprint is a CRC-16/XMODEM over the bar targets, rounded to the
// 0.01 mm positioning tolerance.  Two masks that put every bar in the same
// place share a fingerprint
func (m *Mask) Fingerprint() uint16 {
	targets := m.BarTargets()
	ids := make([]int, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	buf := make([]byte, 6)
	c := crcTable.InitCrc()
	for _, id := range ids {
		binary.BigEndian.PutUint16(buf, uint16(id))
		binary.BigEndian.PutUint32(buf[2:], uint32(int32(math.Round(targets[id]*100))))
		c = crcTable.UpdateCrc(c, buf)
	}
	return crcTable.CRC16(c)
}

// WriteTable prints the slit table in columns
func (m *Mask) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "%s (%s)\t\t\t\t\t\t\t\n", m.Name, m.Kind)
	fmt.Fprintln(tw, "slit\tleft bar\tleft mm\tright bar\tright mm\tcenter\"\twidth\"\ttarget\t")
	for _, s := range m.Slits {
		fmt.Fprintf(tw, "%d\t%d\t%.3f\t%d\t%.3f\t%.3f\t%.3f\t%s\t\n",
			s.SlitNumber, s.LeftBarNumber, s.LeftBarPositionMM,
			s.RightBarNumber, s.RightBarPositionMM,
			s.CenterPositionArcsec, s.SlitWidthArcsec, s.Target)
	}
	return tw.Flush()
}
