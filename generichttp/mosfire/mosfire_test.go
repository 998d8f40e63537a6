package mosfire

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keckobservatory/instruments/calibration"
	"github.com/keckobservatory/instruments/csu"
	"github.com/keckobservatory/instruments/ktl"
	"github.com/keckobservatory/instruments/mosfire"
)

type rig struct {
	router chi.Router
	csu    *csu.Simulator
	mos    *mosfire.Simulator
}

func newRig(t *testing.T) rig {
	cs := csu.NewSimulator()
	cs.GroupPolls, cs.MovePolls = 1, 1
	ms := mosfire.NewSimulator(cs.CSU)
	ms.Dir = t.TempDir()
	ms.ExposurePolls = 0
	services := cs.Services()
	for k, v := range ms.Services() {
		services[k] = v
	}
	log, _ := test.NewNullLogger()
	client := ktl.NewClient("mosfire", services)
	client.Log = log

	inst := mosfire.New(client)
	inst.Log = log
	inst.ExposurePoll = time.Millisecond
	inst.ExposureTimeout = time.Second

	ctl := csu.New(client)
	ctl.Log = log
	ctl.PollInterval = time.Millisecond
	ctl.SetupPollInterval = time.Millisecond
	ctl.SetupTimeout = time.Second
	ctl.ExecuteShim = 0
	ctl.InitialDelay = 0

	cfg, err := calibration.LoadConfig("")
	require.NoError(t, err)
	seq := calibration.NewSequencer(inst, ctl, cfg)
	seq.Log = log
	seq.MoveTimeout = time.Second

	h := NewHTTPWrapper(inst, seq)
	h.Log = log
	r := chi.NewRouter()
	h.RT().Bind(r)
	return rig{router: r, csu: cs, mos: ms}
}

func (g rig) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestMode(t *testing.T) {
	g := newRig(t)
	w := g.do(http.MethodGet, "/mode", "")
	assert.JSONEq(t, `{"str": "K-Dark-Spectroscopy"}`, w.Body.String())

	w = g.do(http.MethodPost, "/mode", `{"str": "H-Imaging"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = g.do(http.MethodGet, "/filter", "")
	assert.JSONEq(t, `{"str": "H"}`, w.Body.String())
	w = g.do(http.MethodGet, "/dark", "")
	assert.JSONEq(t, `{"bool": false}`, w.Body.String())

	assert.Equal(t, http.StatusInternalServerError, g.do(http.MethodPost, "/mode", `{"str": "Imaging"}`).Code)
	assert.Equal(t, http.StatusBadRequest, g.do(http.MethodPost, "/mode", `{`).Code)

	require.Equal(t, http.StatusOK, g.do(http.MethodPost, "/dark", "").Code)
	w = g.do(http.MethodGet, "/dark", "")
	assert.JSONEq(t, `{"bool": true}`, w.Body.String())
}

func TestPlainText(t *testing.T) {
	g := newRig(t)
	req := httptest.NewRequest(http.MethodGet, "/hatch", nil)
	req.Header.Set("Accept", "text/plain")
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	assert.Equal(t, mosfire.HatchClosed, w.Body.String())
}

func TestMechanisms(t *testing.T) {
	g := newRig(t)
	g.mos.Break(mosfire.Mechanisms[2], "FAULT")
	w := g.do(http.MethodGet, "/mechanisms", "")
	var ms []MechanismT
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ms))
	require.Len(t, ms, len(mosfire.Mechanisms)+len(mosfire.Assemblies))
	assert.Equal(t, MechanismT{Name: mosfire.Mechanisms[2].Name, Status: "FAULT"}, ms[2])
	assert.True(t, ms[0].OK)
}

func TestHatchAndLamps(t *testing.T) {
	g := newRig(t)
	require.Equal(t, http.StatusOK, g.do(http.MethodPost, "/hatch", `{"bool": true}`).Code)
	v, _ := g.mos.Hatch.Value("POSNAME")
	assert.Equal(t, mosfire.HatchOpen, v)

	require.Equal(t, http.StatusOK, g.do(http.MethodPost, "/lamps/Ne", `{"bool": true}`).Code)
	v, _ = g.mos.Main.Value(mosfire.DefaultLamps().ArcKeywords["Ne"])
	assert.Equal(t, "1", v)
	assert.Equal(t, http.StatusBadRequest, g.do(http.MethodPost, "/lamps/Kr", `{"bool": true}`).Code)

	require.Equal(t, http.StatusOK, g.do(http.MethodPost, "/lamps/dome", `{"f64": 20}`).Code)
	v, _ = g.mos.Dome.Value(mosfire.DefaultLamps().DomeKeyword)
	assert.Equal(t, "20", v)
	assert.Equal(t, http.StatusInternalServerError, g.do(http.MethodPost, "/lamps/dome", `{"f64": 120}`).Code)
}

func TestExpose(t *testing.T) {
	g := newRig(t)
	require.Equal(t, http.StatusOK, g.do(http.MethodPost, "/coadds", `{"int": 3}`).Code)
	v, _ := g.mos.Main.Value("COADDS")
	assert.Equal(t, "3", v)

	assert.Equal(t, http.StatusBadRequest, g.do(http.MethodPost, "/expose", `{"sampmode": "UTR"}`).Code)
	w := g.do(http.MethodPost, "/expose", `{"exptime": 0.01, "object": "test"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var s struct{ Str string }
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.True(t, strings.HasPrefix(s.Str, g.mos.Dir))

	w = g.do(http.MethodGet, "/lastfile", "")
	assert.Contains(t, w.Body.String(), s.Str)
}

func TestCalibrate(t *testing.T) {
	g := newRig(t)
	assert.Equal(t, http.StatusBadRequest, g.do(http.MethodPost, "/calibrate", `{"mask": "0.7x46"}`).Code)
	assert.Equal(t, http.StatusBadRequest, g.do(http.MethodPost, "/calibrate", `{"mask": "0.7x46", "filters": ["Q"]}`).Code)
	assert.Equal(t, http.StatusBadRequest, g.do(http.MethodPost, "/calibrate", `{"mask": "0.7x99", "filters": ["K"]}`).Code)

	w := g.do(http.MethodPost, "/calibrate", `{"mask": "0.7x46", "filters": ["K"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v, _ := g.mos.Dome.Value(mosfire.DefaultLamps().DomeKeyword)
	assert.Equal(t, "0", v, "lamps off at the end")
}

func TestCheckoutBadMechanism(t *testing.T) {
	g := newRig(t)
	g.mos.Break(mosfire.Mechanisms[0], "FAULT")
	w := g.do(http.MethodPost, "/checkout", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), mosfire.Mechanisms[0].Name)
}

func TestFrame(t *testing.T) {
	g := newRig(t)
	assert.Equal(t, http.StatusNotFound, g.do(http.MethodGet, "/frame", "").Code)
	assert.Equal(t, http.StatusNotFound, g.do(http.MethodGet, "/frame/qa", "").Code, "no analyzer, no route")

	require.Equal(t, http.StatusOK, g.do(http.MethodPost, "/expose", `{}`).Code)
	w := g.do(http.MethodGet, "/frame", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/fits", w.Header().Get("Content-Type"))
}
