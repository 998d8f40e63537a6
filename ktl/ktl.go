/*Package ktl is a typed adapter over the keyword telemetry and control
service (KTL).

A KTL service is a named collection of keywords which can be read and
written.  This package does not speak the KTL protocol itself; it wraps a
Service, of which there are two implementations here:

	1.  Exec, which shells out to the show and modify command line tools
	2.  Mock, an in-memory service for tests and simulation

The Client converts raw keyword strings into the type the caller asks for.
Parsing is forgiving: a value which cannot be converted is returned as the
raw string with a warning, rather than failing the read.
*/
package ktl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	// ErrNoService is generated when a keyword is requested from a service
	// the client does not know about
	ErrNoService = errors.New("no such KTL service")
)

// Service reads and writes keywords of a single KTL service
type Service interface {
	// Read returns the ascii value of a keyword
	Read(keyword string) (string, error)

	// Write sets a keyword.  If wait is true, Write blocks until the
	// service reports the write complete
	Write(keyword, value string, wait bool) error
}

// Mode is the type a keyword value is converted to on read
type Mode int

const (
	// String returns the value untouched
	String Mode = iota

	// Float parses the value as a float64
	Float

	// Int parses the value as an int
	Int

	// Bool parses the value as a Tristate
	Bool
)

func (m Mode) String() string {
	switch m {
	case String:
		return "string"
	case Float:
		return "float"
	case Int:
		return "int"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Tristate is the result of a boolean keyword read.  Unknown is returned
// when the value is neither true/false nor an integer
type Tristate int

const (
	// Unknown means the value could not be interpreted
	Unknown Tristate = iota

	// False is a false boolean
	False

	// True is a true boolean
	True
)

func (t Tristate) String() string {
	switch t {
	case False:
		return "false"
	case True:
		return "true"
	default:
		return "unknown"
	}
}

// ParseError is generated by the typed getters when a value does not parse
type ParseError struct {
	Service string
	Keyword string
	Raw     string
	Mode    Mode
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s.%s: could not parse %q as %s", e.Service, e.Keyword, e.Raw, e.Mode)
}

// Client holds the services of an instrument
type Client struct {
	// Services maps service names to implementations
	Services map[string]Service

	// Default is the service used when the service name is empty
	Default string

	// Log receives keyword traffic at debug level, and parse warnings
	Log logrus.FieldLogger

	limiter *rate.Limiter
}

// NewClient returns a client over the given services.  Default names the
// service used for an empty service name
func NewClient(def string, services map[string]Service) *Client {
	return &Client{
		Services: services,
		Default:  def,
		Log:      logrus.WithField("component", "ktl")}
}

// LimitWrites paces writes to at most perSecond per second, with bursts of
// up to burst writes.  perSecond <= 0 removes the limit
func (c *Client) LimitWrites(perSecond float64, burst int) {
	if perSecond <= 0 {
		c.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (c *Client) service(name string) (string, Service, error) {
	if name == "" {
		name = c.Default
	}
	svc, ok := c.Services[name]
	if !ok {
		return name, nil, fmt.Errorf("%w: %s", ErrNoService, name)
	}
	return name, svc, nil
}

// Read returns the raw value of a keyword
func (c *Client) Read(service, keyword string) (string, error) {
	name, svc, err := c.service(service)
	if err != nil {
		return "", err
	}
	c.Log.Debugf("querying %s for %s", name, keyword)
	raw, err := svc.Read(keyword)
	if err != nil {
		return "", fmt.Errorf("reading %s.%s: %w", name, keyword, err)
	}
	c.Log.Debugf("  got result: %q", raw)
	return raw, nil
}

// Get reads a keyword and converts it according to mode.  The concrete type
// of the returned value is string, float64, int, or Tristate.  A value that
// does not parse as a number is returned as its raw string, with a warning
func (c *Client) Get(service, keyword string, mode Mode) (interface{}, error) {
	raw, err := c.Read(service, keyword)
	if err != nil {
		return nil, err
	}
	switch mode {
	case Bool:
		return c.parseBool(raw), nil
	case Float:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			c.Log.Warnf("failed to parse %q as %s, returning string", raw, mode)
			return raw, nil
		}
		return f, nil
	case Int:
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			c.Log.Warnf("failed to parse %q as %s, returning string", raw, mode)
			return raw, nil
		}
		return i, nil
	default:
		return raw, nil
	}
}

func (c *Client) parseBool(raw string) Tristate {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "true":
		return True
	case "false":
		return False
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		c.Log.Errorf("failed to parse %q as bool", raw)
		return Unknown
	}
	if i != 0 {
		return True
	}
	return False
}

// GetString reads a keyword as a string
func (c *Client) GetString(service, keyword string) (string, error) {
	return c.Read(service, keyword)
}

// GetFloat reads a keyword as a float64.  A non-numeric value is a
// *ParseError
func (c *Client) GetFloat(service, keyword string) (float64, error) {
	v, err := c.Get(service, keyword, Float)
	if err != nil {
		return 0, err
	}
	f, ok := v.(float64)
	if !ok {
		return 0, c.parseErr(service, keyword, v, Float)
	}
	return f, nil
}

// GetInt reads a keyword as an int.  A non-integer value is a *ParseError
func (c *Client) GetInt(service, keyword string) (int, error) {
	v, err := c.Get(service, keyword, Int)
	if err != nil {
		return 0, err
	}
	i, ok := v.(int)
	if !ok {
		return 0, c.parseErr(service, keyword, v, Int)
	}
	return i, nil
}

// GetBool reads a keyword as a Tristate
func (c *Client) GetBool(service, keyword string) (Tristate, error) {
	v, err := c.Get(service, keyword, Bool)
	if err != nil {
		return Unknown, err
	}
	return v.(Tristate), nil
}

func (c *Client) parseErr(service, keyword string, v interface{}, mode Mode) error {
	if service == "" {
		service = c.Default
	}
	return &ParseError{Service: service, Keyword: keyword, Raw: fmt.Sprint(v), Mode: mode}
}

// Set writes a keyword.  Floats are written in their shortest exact form
// and bools as 1 or 0
func (c *Client) Set(service, keyword string, value interface{}, wait bool) error {
	name, svc, err := c.service(service)
	if err != nil {
		return err
	}
	str := Format(value)
	if c.limiter != nil {
		if err := c.limiter.Wait(context.Background()); err != nil {
			return err
		}
	}
	c.Log.Debugf("setting %s.%s to %q (wait=%v)", name, keyword, str, wait)
	err = svc.Write(keyword, str, wait)
	if err != nil {
		return fmt.Errorf("writing %s.%s: %w", name, keyword, err)
	}
	c.Log.Debug("  done.")
	return nil
}

// Format converts a value to the ascii form written to a keyword
func Format(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case Tristate:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
