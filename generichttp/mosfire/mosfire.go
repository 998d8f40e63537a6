// Package mosfire exposes the instrument functions and calibration
// sequences over HTTP
package mosfire

import (
	"encoding/json"
	"errors"
	"go/types"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/sirupsen/logrus"

	"github.com/keckobservatory/instruments/barimage"
	"github.com/keckobservatory/instruments/calibration"
	"github.com/keckobservatory/instruments/generichttp"
	csuhttp "github.com/keckobservatory/instruments/generichttp/csu"
	"github.com/keckobservatory/instruments/mask"
	"github.com/keckobservatory/instruments/mosfire"
	"github.com/keckobservatory/instruments/server"
)

// MechanismT is the status of one mechanism
type MechanismT struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	OK     bool   `json:"ok"`
}

// CalibrateT is the body of POST /calibrate
type CalibrateT struct {
	Mask    string   `json:"mask"`
	Filters []string `json:"filters"`
	Imaging bool     `json:"imaging"`
}

// HTTPWrapper holds an instrument, an optional calibration sequencer, and
// the routes which expose them
type HTTPWrapper struct {
	Inst *mosfire.Instrument
	Seq  *calibration.Sequencer
	Log  logrus.FieldLogger

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a wrapper.  The calibration routes are only
// registered when seq is not nil
func NewHTTPWrapper(inst *mosfire.Instrument, seq *calibration.Sequencer) *HTTPWrapper {
	h := &HTTPWrapper{Inst: inst, Seq: seq, Log: logrus.WithField("component", "mosfirehttp")}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/mode"}:           generichttp.GetString(inst.ObsMode),
		{Method: http.MethodPost, Path: "/mode"}:          generichttp.SetString(h.setMode),
		{Method: http.MethodGet, Path: "/filter"}:         generichttp.GetString(inst.Filter),
		{Method: http.MethodGet, Path: "/dark"}:           generichttp.GetBool(inst.IsDark),
		{Method: http.MethodPost, Path: "/dark"}:          generichttp.Action(inst.GoDark),
		{Method: http.MethodPost, Path: "/dark/{filter}"}: h.QuickDark,
		{Method: http.MethodGet, Path: "/mechanisms"}:     h.GetMechanisms,
		{Method: http.MethodGet, Path: "/hatch"}:          generichttp.GetString(inst.HatchPosition),
		{Method: http.MethodPost, Path: "/hatch"}:         generichttp.SetBool(h.setHatch),
		{Method: http.MethodPost, Path: "/lamps/dome"}:    generichttp.SetFloat(inst.DomeFlatLamps),
		{Method: http.MethodPost, Path: "/lamps/{lamp}"}:  h.SetLamp,
		{Method: http.MethodPost, Path: "/exptime"}:       generichttp.SetFloat(inst.SetExptime),
		{Method: http.MethodPost, Path: "/coadds"}:        generichttp.SetInt(inst.SetCoadds),
		{Method: http.MethodPost, Path: "/sampmode"}:      generichttp.SetString(h.setSampmode),
		{Method: http.MethodPost, Path: "/expose"}:        h.Expose,
		{Method: http.MethodGet, Path: "/filename"}:       generichttp.GetString(inst.Filename),
		{Method: http.MethodGet, Path: "/lastfile"}:       generichttp.GetString(inst.LastFile),
	}
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/frame"}] = h.GetFrame
	if seq != nil {
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/calibrate"}] = h.Calibrate
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/checkout"}] = h.Checkout
		if seq.Analyzer != nil {
			rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/frame/qa"}] = h.GetFrameQA
		}
	}
	h.RouteTable = rt
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// setMode takes "FILTER-Mode", e.g. "K-Spectroscopy"
func (h *HTTPWrapper) setMode(s string) error {
	filter, mode, ok := strings.Cut(s, "-")
	if !ok {
		return errors.New("mode must be FILTER-Mode, e.g. K-Spectroscopy")
	}
	return h.Inst.SetMode(filter, mode)
}

func (h *HTTPWrapper) setHatch(open bool) error {
	if open {
		return h.Inst.OpenHatch()
	}
	return h.Inst.CloseHatch()
}

func (h *HTTPWrapper) setSampmode(s string) error {
	sm, err := mosfire.ParseSampmode(s)
	if err != nil {
		return err
	}
	return h.Inst.SetSampmode(sm)
}

// QuickDark puts the wheels in the dark combination for a filter
func (h *HTTPWrapper) QuickDark(w http.ResponseWriter, r *http.Request) {
	if err := h.Inst.QuickDark(chi.URLParam(r, "filter")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetMechanisms returns the status of every mechanism and assembly
func (h *HTTPWrapper) GetMechanisms(w http.ResponseWriter, r *http.Request) {
	all := append(append([]mosfire.Mechanism{}, mosfire.Mechanisms...), mosfire.Assemblies...)
	out := make([]MechanismT, 0, len(all))
	for _, m := range all {
		st, err := h.Inst.MechanismStatus(m)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out = append(out, MechanismT{Name: m.Name, Status: st, OK: st == "OK"})
	}
	generichttp.RespondJSON(w, out)
}

// SetLamp turns an arc lamp on or off with {"bool": on}
func (h *HTTPWrapper) SetLamp(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Inst.Lamp(chi.URLParam(r, "lamp"), b.Bool); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Expose takes one exposure, waiting for it to finish, and replies with the
// file written as {"str": path}
func (h *HTTPWrapper) Expose(w http.ResponseWriter, r *http.Request) {
	e := mosfire.Exposure{}
	err := json.NewDecoder(r.Body).Decode(&e)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if e.Sampmode != "" {
		if _, err := mosfire.ParseSampmode(e.Sampmode); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if err := h.Inst.TakeExposure(e); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	f, err := h.Inst.LastFile()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := generichttp.HumanPayload{T: types.String, String: f}
	hp.EncodeAndRespond(w, r)
}

// GetFrame serves the last image written
func (h *HTTPWrapper) GetFrame(w http.ResponseWriter, r *http.Request) {
	f, err := h.Inst.LastFile()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	server.ReplyWithFile(w, r, f, "application/fits")
}

// GetFrameQA measures the bars in the last image and serves the image with
// the measurements drawn on it, as PNG
func (h *HTTPWrapper) GetFrameQA(w http.ResponseWriter, r *http.Request) {
	f, err := h.Inst.LastFile()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	server.ReplyWithRender(w, r, "qa.png", "image/png", func(out io.Writer) error {
		img, err := barimage.ReadFITSFile(f)
		if err != nil {
			return err
		}
		a, err := h.Seq.Analyzer.Analyze(img)
		if err != nil {
			return err
		}
		return barimage.RenderQA(out, img, a)
	})
}

func (h *HTTPWrapper) fail(w http.ResponseWriter, err error) {
	code := csuhttp.StatusCode(err)
	var ve *calibration.VerifyError
	var me *mosfire.MechanismError
	if errors.As(err, &ve) || errors.As(err, &me) {
		code = http.StatusConflict
	}
	h.Log.WithField("status", code).Warn(err)
	http.Error(w, err.Error(), code)
}

// Calibrate sets up a mask and takes its calibrations
func (h *HTTPWrapper) Calibrate(w http.ResponseWriter, r *http.Request) {
	c := CalibrateT{}
	err := json.NewDecoder(r.Body).Decode(&c)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(c.Filters) == 0 {
		http.Error(w, "no filters given", http.StatusBadRequest)
		return
	}
	m, err := mask.New(c.Mask)
	if err != nil {
		h.fail(w, err)
		return
	}
	for _, f := range c.Filters {
		if !h.Seq.Cfg.Has(f, c.Imaging) {
			http.Error(w, "filter "+calibration.SectionName(f, c.Imaging)+" not in calibration configuration", http.StatusBadRequest)
			return
		}
	}
	if err := h.Seq.TakeAll([]calibration.Step{{Mask: m, Filters: c.Filters}}, c.Imaging); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Checkout runs the quick checkout
func (h *HTTPWrapper) Checkout(w http.ResponseWriter, r *http.Request) {
	if err := h.Seq.QuickCheckout(); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
