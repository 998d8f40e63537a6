// Package csu exposes the configurable slit unit over HTTP
package csu

import (
	"encoding/json"
	"errors"
	"fmt"
	"go/types"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/sirupsen/logrus"

	ctl "github.com/keckobservatory/instruments/csu"
	"github.com/keckobservatory/instruments/generichttp"
	"github.com/keckobservatory/instruments/mask"
)

// StateT is the JSON form of the CSU state
type StateT struct {
	State int    `json:"state"`
	Name  string `json:"name"`
}

// BarsT is a list of bar numbers
type BarsT struct {
	Bars []int `json:"bars"`
}

// OKT reports the health of every bar
type OKT struct {
	OK  bool  `json:"ok"`
	Bad []int `json:"bad"`
}

// MaskT summarizes a mask which has been set up
type MaskT struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Slits       int    `json:"slits"`
	Fingerprint uint16 `json:"fingerprint"`
}

// StatusCode maps an error from the controller to an HTTP status.  A fatal
// CSU is 500, a collision or bars off target 409, and bad input 400
func StatusCode(err error) int {
	var (
		coll  *ctl.CollisionError
		rb    *ctl.ReadbackError
		br    ctl.BarRangeError
		parse *mask.ParseError
		inval *mask.ValidationError
	)
	switch {
	case errors.Is(err, ctl.ErrFatal):
		return http.StatusInternalServerError
	case errors.As(err, &coll), errors.As(err, &rb):
		return http.StatusConflict
	case errors.As(err, &br), errors.As(err, &parse), errors.As(err, &inval), errors.Is(err, ctl.ErrNotMask):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// HTTPWrapper holds a CSU controller and the routes which expose it
type HTTPWrapper struct {
	CSU *ctl.Controller

	// FeedInterval is the period at which the state feed polls the CSU
	FeedInterval time.Duration

	// FeedOrigins are the hosts, besides the server's own, whose pages may
	// open the state feed
	FeedOrigins []string

	Log     logrus.FieldLogger
	Metrics *Metrics

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a wrapper with freshly registered metrics
func NewHTTPWrapper(c *ctl.Controller) *HTTPWrapper {
	h := &HTTPWrapper{
		CSU:          c,
		FeedInterval: time.Second,
		Log:          logrus.WithField("component", "csuhttp"),
		Metrics:      NewMetrics()}
	h.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/csu/state"}:    h.GetState,
		{Method: http.MethodGet, Path: "/csu/status"}:   h.GetStatus,
		{Method: http.MethodGet, Path: "/csu/ok"}:       h.GetOK,
		{Method: http.MethodGet, Path: "/bar/{bar}/ok"}: h.GetBarOK,
		{Method: http.MethodPost, Path: "/csu/mask"}:    h.SetupMask,
		{Method: http.MethodGet, Path: "/csu/mask"}:     h.GetMask,
		{Method: http.MethodPost, Path: "/csu/execute"}: h.Execute,
		{Method: http.MethodPost, Path: "/csu/wait"}:    h.Wait,
		{Method: http.MethodPost, Path: "/csu/init"}:    h.Init,
		{Method: http.MethodGet, Path: "/csu/feed"}:     h.Feed,
		{Method: http.MethodGet, Path: "/metrics"}:      h.Metrics.Handler().ServeHTTP,
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h *HTTPWrapper) fail(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	msg := err.Error()
	if errors.Is(err, ctl.ErrFatal) {
		h.Metrics.Fatals.Inc()
		msg = "CSU FATAL ERROR, operator intervention required: " + msg
	}
	var coll *ctl.CollisionError
	if errors.As(err, &coll) {
		h.Metrics.Collisions.Inc()
	}
	h.Log.WithField("status", code).Warn(err)
	http.Error(w, msg, code)
}

func (h *HTTPWrapper) state() (StateT, error) {
	s, err := h.CSU.Ready()
	h.Metrics.State.Set(float64(s))
	return StateT{State: int(s), Name: s.String()}, err
}

// GetState returns the CSUREADY state
func (h *HTTPWrapper) GetState(w http.ResponseWriter, r *http.Request) {
	st, err := h.state()
	if err != nil {
		h.fail(w, err)
		return
	}
	generichttp.RespondJSON(w, st)
}

// GetStatus returns the parsed CSUSTAT message
func (h *HTTPWrapper) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.CSU.Status()
	if err != nil {
		h.fail(w, err)
		return
	}
	generichttp.RespondJSON(w, st)
}

// GetOK reports whether every bar status is OK
func (h *HTTPWrapper) GetOK(w http.ResponseWriter, r *http.Request) {
	ok, bad, err := h.CSU.AllBarsOK()
	if err != nil {
		h.fail(w, err)
		return
	}
	if bad == nil {
		bad = []int{}
	}
	generichttp.RespondJSON(w, OKT{OK: ok, Bad: bad})
}

// GetBarOK reports whether one bar status is OK
func (h *HTTPWrapper) GetBarOK(w http.ResponseWriter, r *http.Request) {
	bar, err := strconv.Atoi(chi.URLParam(r, "bar"))
	if err != nil {
		http.Error(w, fmt.Sprintf("bar %q is not a number", chi.URLParam(r, "bar")), http.StatusBadRequest)
		return
	}
	ok, err := h.CSU.BarOK(bar)
	if err != nil {
		h.fail(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.Bool, Bool: ok}
	hp.EncodeAndRespond(w, r)
}

// SetupMask builds a mask from {"str": specifier} and sets it up
func (h *HTTPWrapper) SetupMask(w http.ResponseWriter, r *http.Request) {
	s := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := mask.New(s.Str)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.Metrics.Setups.Inc()
	if err := h.CSU.SetupMask(m); err != nil {
		h.fail(w, err)
		return
	}
	generichttp.RespondJSON(w, MaskT{Name: m.Name, Kind: m.Kind.String(), Slits: len(m.Slits), Fingerprint: m.Fingerprint()})
}

// GetMask returns the mask on the hardware, read back from the bars
func (h *HTTPWrapper) GetMask(w http.ResponseWriter, r *http.Request) {
	m, err := h.CSU.CurrentMask()
	if err != nil {
		h.fail(w, err)
		return
	}
	generichttp.RespondJSON(w, m)
}

// Execute starts the move to the mask which has been set up
func (h *HTTPWrapper) Execute(w http.ResponseWriter, r *http.Request) {
	if err := h.CSU.ExecuteMask(); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Wait waits up to {"f64": seconds} for the CSU to be ready, and replies
// {"bool": done}
func (h *HTTPWrapper) Wait(w http.ResponseWriter, r *http.Request) {
	f := generichttp.FloatT{}
	err := json.NewDecoder(r.Body).Decode(&f)
	defer r.Body.Close()
	if err != nil || f.F64 < 0 {
		http.Error(w, "body must be {\"f64\": timeout seconds >= 0}", http.StatusBadRequest)
		return
	}
	done, err := h.CSU.WaitFor(time.Duration(f.F64*float64(time.Second)), false)
	if err != nil {
		h.fail(w, err)
		return
	}
	hp := generichttp.HumanPayload{T: types.Bool, Bool: done}
	hp.EncodeAndRespond(w, r)
}

// Init homes the bars of {"bars": [...]}, or all bars if the list is empty
func (h *HTTPWrapper) Init(w http.ResponseWriter, r *http.Request) {
	b := BarsT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.CSU.InitialiseBars(b.Bars...); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
