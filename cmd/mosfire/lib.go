package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"

	"github.com/keckobservatory/instruments/affine"
	"github.com/keckobservatory/instruments/barimage"
	"github.com/keckobservatory/instruments/calibration"
	"github.com/keckobservatory/instruments/csu"
	"github.com/keckobservatory/instruments/generichttp"
	csuhttp "github.com/keckobservatory/instruments/generichttp/csu"
	moshttp "github.com/keckobservatory/instruments/generichttp/mosfire"
	"github.com/keckobservatory/instruments/ktl"
	"github.com/keckobservatory/instruments/mosfire"
	"github.com/keckobservatory/instruments/server/middleware/locker"
)

// KTLConfig holds the settings of the keyword layer
type KTLConfig struct {
	// Show and Modify are the KTL command line tools
	Show   string `yaml:"Show"`
	Modify string `yaml:"Modify"`

	// Retries is the number of times a failed read is retried
	Retries uint64 `yaml:"Retries"`

	// WriteRate paces keyword writes, per second.  Zero is unlimited
	WriteRate  float64 `yaml:"WriteRate"`
	WriteBurst int     `yaml:"WriteBurst"`
}

// CSUConfig holds the services and timings of the slit unit
type CSUConfig struct {
	Service           string        `yaml:"Service"`
	StatusService     string        `yaml:"StatusService"`
	PollInterval      time.Duration `yaml:"PollInterval"`
	SetupPollInterval time.Duration `yaml:"SetupPollInterval"`
	SetupTimeout      time.Duration `yaml:"SetupTimeout"`
	ExecuteShim       time.Duration `yaml:"ExecuteShim"`
	InitialDelay      time.Duration `yaml:"InitialDelay"`
	MoveTimeout       time.Duration `yaml:"MoveTimeout"`
	Tolerance         float64       `yaml:"Tolerance"`
	FeedInterval      time.Duration `yaml:"FeedInterval"`

	// FeedOrigins are other hosts whose pages may open the state feed, "*"
	// for any
	FeedOrigins []string `yaml:"FeedOrigins"`
}

// Config is the configuration of the mosfire command
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Root is the path the routes are served under, e.g. /mosfire
	Root string `yaml:"Root"`

	// Mock replaces the keyword services with simulators
	Mock bool `yaml:"Mock"`

	// LogLevel is a logrus level, e.g. info or debug
	LogLevel string `yaml:"LogLevel"`

	KTL        KTLConfig          `yaml:"KTL"`
	CSU        CSUConfig          `yaml:"CSU"`
	Instrument mosfire.Services   `yaml:"Instrument"`
	Lamps      mosfire.LampConfig `yaml:"Lamps"`

	// TransformFile holds the pixel/physical transforms of the detector.
	// Bar positions cannot be measured from images without it, except in
	// mock mode
	TransformFile string `yaml:"TransformFile"`

	// CalibrationFile is the INI calibration plan.  Empty is the built-in
	// plan
	CalibrationFile string `yaml:"CalibrationFile"`

	// VerifyTolerance is the allowed error of a bar seen in an image, mm
	VerifyTolerance float64 `yaml:"VerifyTolerance"`

	// FrameDir is where the simulator writes frames in mock mode
	FrameDir string `yaml:"FrameDir"`
}

func defaultConfig() Config {
	return Config{
		Addr:     ":8000",
		Root:     "/mosfire",
		LogLevel: "info",
		KTL: KTLConfig{
			Show:       "show",
			Modify:     "modify",
			Retries:    3,
			WriteRate:  50,
			WriteBurst: 10},
		CSU: CSUConfig{
			Service:           "mosfire",
			StatusService:     "mcsus",
			PollInterval:      2 * time.Second,
			SetupPollInterval: time.Second,
			SetupTimeout:      time.Minute,
			ExecuteShim:       3 * time.Second,
			InitialDelay:      time.Second,
			MoveTimeout:       5 * time.Minute,
			Tolerance:         0.01,
			FeedInterval:      time.Second},
		Instrument:      mosfire.DefaultServices(),
		Lamps:           mosfire.DefaultLamps(),
		VerifyTolerance: 0.2,
		FrameDir:        os.TempDir()}
}

// system is everything the commands act on
type system struct {
	KTL  *ktl.Client
	CSU  *csu.Controller
	Inst *mosfire.Instrument
	Seq  *calibration.Sequencer
}

// mockTransform maps the stroke onto a 2048 pixel wide detector, 20
// pixels a slit.  It stands in for a fitted transform in mock mode
func mockTransform() affine.Transform {
	phys := []affine.Point{{0, 0}, {270, 0}, {0, 46}, {270, 46}}
	pix := make([]affine.Point, len(phys))
	for i, p := range phys {
		pix[i] = affine.Point{2000 - 7*p[0], 1000 - 20*p[1]}
	}
	tf, err := affine.Fit(pix, phys)
	if err != nil {
		panic(err)
	}
	return tf
}

// loadTransform reads the configured transform, or the mock one in mock
// mode when none is configured
func loadTransform(c Config) (affine.Transform, bool, error) {
	if c.TransformFile == "" {
		if c.Mock {
			return mockTransform(), true, nil
		}
		return affine.Transform{}, false, nil
	}
	tf, err := affine.Load(c.TransformFile)
	return tf, err == nil, err
}

// services builds the keyword services, live or simulated
func services(c Config) (map[string]ktl.Service, error) {
	if c.Mock {
		cs := csu.NewSimulator()
		ms := mosfire.NewSimulator(cs.CSU)
		ms.Dir = c.FrameDir
		out := cs.Services()
		for k, v := range ms.Services() {
			out[k] = v
		}
		tf, _, err := loadTransform(c)
		if err != nil {
			return nil, err
		}
		// frames show the bars where the simulated CSU holds them
		ctl := csu.New(ktl.NewClient("mosfire", out))
		ctl.Log = logrus.WithField("component", "simulator")
		ms.Render = func(path string) error {
			m, err := ctl.CurrentMask()
			if err != nil {
				return err
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			defer f.Close()
			return barimage.WriteFITS(f, barimage.Synthesize(tf, m, 2048, 1024, 1.5))
		}
		return out, nil
	}
	names := []string{
		c.CSU.Service, c.CSU.StatusService,
		c.Instrument.Main, c.Instrument.Filter1, c.Instrument.Filter2, c.Instrument.Hatch,
		c.Lamps.DomeService, c.Lamps.ArcService}
	out := make(map[string]ktl.Service, len(names))
	for _, n := range names {
		if n == "" {
			return nil, fmt.Errorf("empty service name in configuration")
		}
		e := ktl.NewExec(n)
		e.Show, e.Modify, e.Retries = c.KTL.Show, c.KTL.Modify, c.KTL.Retries
		out[n] = e
	}
	return out, nil
}

func build(c Config) (*system, error) {
	svcs, err := services(c)
	if err != nil {
		return nil, err
	}
	client := ktl.NewClient("mosfire", svcs)
	client.LimitWrites(c.KTL.WriteRate, c.KTL.WriteBurst)

	ctl := csu.New(client)
	if !c.Mock {
		ctl.Service, ctl.StatusService = c.CSU.Service, c.CSU.StatusService
	}
	ctl.PollInterval = c.CSU.PollInterval
	ctl.SetupPollInterval = c.CSU.SetupPollInterval
	ctl.SetupTimeout = c.CSU.SetupTimeout
	ctl.ExecuteShim = c.CSU.ExecuteShim
	ctl.InitialDelay = c.CSU.InitialDelay
	ctl.Tolerance = c.CSU.Tolerance

	inst := mosfire.New(client)
	if !c.Mock {
		inst.Services, inst.Lamps = c.Instrument, c.Lamps
	}

	cfg, err := calibration.LoadConfig(c.CalibrationFile)
	if err != nil {
		return nil, err
	}
	seq := calibration.NewSequencer(inst, ctl, cfg)
	seq.MoveTimeout = c.CSU.MoveTimeout
	seq.Tolerance = c.VerifyTolerance
	tf, ok, err := loadTransform(c)
	if err != nil {
		return nil, err
	}
	if ok {
		seq.Analyzer = barimage.NewAnalyzer(tf)
	}
	return &system{KTL: client, CSU: ctl, Inst: inst, Seq: seq}, nil
}

// BuildMux mounts the CSU and instrument routes under c.Root, behind the
// lock and single-command middleware
func BuildMux(c Config, s *system) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)

	ch := csuhttp.NewHTTPWrapper(s.CSU)
	ch.FeedInterval = c.CSU.FeedInterval
	ch.FeedOrigins = c.CSU.FeedOrigins
	mh := moshttp.NewHTTPWrapper(s.Inst, s.Seq)

	rt := generichttp.RouteTable{}
	for _, w := range []generichttp.HTTPer{ch, mh} {
		for k, v := range w.RT() {
			rt[k] = v
		}
	}
	lock := locker.New()
	lock.DoNotProtect = append(lock.DoNotProtect, "feed", "metrics")
	locker.Inject(table(rt), lock)

	mux := chi.NewRouter()
	mux.Use(ch.Metrics.Middleware, lock.Check, lock.Exclusive)
	rt.Bind(mux)
	root.Mount(generichttp.SubMuxSanitize(c.Root), mux)
	return root
}

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }
