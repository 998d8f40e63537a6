package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	log "github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/keckobservatory/instruments/affine"
	"github.com/keckobservatory/instruments/barimage"
	"github.com/keckobservatory/instruments/bars"
	"github.com/keckobservatory/instruments/calibration"
	"github.com/keckobservatory/instruments/csu"
	"github.com/keckobservatory/instruments/mask"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "mosfire.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `mosfire sets up masks on the MOSFIRE configurable slit unit, takes
calibrations, and exposes the instrument over HTTP.

Usage:
	mosfire <command> [arguments]

Commands:
	run                                  serve HTTP
	mask <specifier>                     print the slits of a mask
	setup <specifier>                    set up, execute, and wait for a mask
	init [bar ...]                       home bars, all if none given
	current                              print the mask the bars form now
	barstate <file>                      print a csu_bar_state snapshot
	fit <pixels.yml> <physical.yml> <out.yml>
	                                     fit the detector transforms
	analyze <image.fits> <specifier> [qa.png]
	                                     measure bars in an image and compare
	calibrate <specifier> <filter,...> [imaging]
	                                     set up a mask and take calibrations
	checkout                             run the quick checkout
	synth <specifier> <out.fits>         render the image a mask would make
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `mosfire is amenable to configuration via its .yaml file, mosfire.yml in the
working directory.  For a primer on YAML, see https://yaml.org/start.html
Run mkconf to write the defaults to a file to start from.

Mask specifiers are one of
	OPEN             every slit open
	RANDOM           random slit centers, for testing
	<width>x<length> a longslit, e.g. 0.7x46, width in arcseconds
	<path>.xml       a MAGMA slitmask design

With Mock: true the keyword services are replaced by simulators, and no
KTL installation is needed.  Frames are written to FrameDir.

The HTTP routes are served under Root; GET <Root>/endpoints lists them.
POST <Root>/lock {"bool": true} refuses every command with 423 until
unlocked.  Only one command runs at a time.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("mosfire version %v\n", Version)
}

func config() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)
	return c
}

func mustBuild(c Config) *system {
	s, err := build(c)
	if err != nil {
		log.Fatal(err)
	}
	return s
}

func arg(args []string, i int, what string) string {
	if len(args) <= i {
		log.Fatalf("missing argument: %s", what)
	}
	return args[i]
}

func mustMask(spec string) *mask.Mask {
	m, err := mask.New(spec)
	if err != nil {
		log.Fatal(err)
	}
	return m
}

func run() {
	c := config()
	s := mustBuild(c)
	mux := BuildMux(c, s)
	log.Infof("now listening for requests at %s%s", c.Addr, c.Root)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func printMask(spec string) {
	m := mustMask(spec)
	if err := m.Validate(); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%s (%s), fingerprint %04x\n", m.Name, m.Kind, m.Fingerprint())
	if err := m.WriteTable(os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func spinner(msg string) *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	return s
}

func setup(spec string) {
	c := config()
	sys := mustBuild(c)
	m := mustMask(spec)

	sp := spinner("setting up " + m.Name)
	sp.Start()
	fail := func(err error) {
		sp.StopFailMessage(err.Error())
		sp.StopFail()
		os.Exit(1)
	}
	if err := sys.CSU.SetupMask(m); err != nil {
		fail(err)
	}
	sp.Message("moving bars")
	if err := sys.CSU.ExecuteMask(); err != nil {
		fail(err)
	}
	done, err := sys.CSU.WaitFor(c.CSU.MoveTimeout, false)
	if err != nil {
		fail(err)
	}
	if !done {
		fail(fmt.Errorf("CSU not ready after %v", c.CSU.MoveTimeout))
	}
	sp.StopMessage(m.Name + " formed")
	sp.Stop()
}

func initBars(args []string) {
	sys := mustBuild(config())
	ids := make([]int, 0, len(args))
	for _, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil {
			log.Fatalf("bar %q is not a number", a)
		}
		ids = append(ids, id)
	}
	if err := sys.CSU.InitialiseBars(ids...); err != nil {
		log.Fatal(err)
	}
}

func current() {
	sys := mustBuild(config())
	m, err := sys.CSU.CurrentMask()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(m.Name)
	if err := m.WriteTable(os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func barstate(path string) {
	bs, err := csu.ReadBarState(path)
	if err != nil {
		log.Fatal(err)
	}
	if err := bs.Mask.WriteTable(os.Stdout); err != nil {
		log.Fatal(err)
	}
	for bar := 1; bar <= bars.NumBars; bar++ {
		if st, ok := bs.States[bar]; ok && st != "OK" {
			fmt.Printf("bar %d: %s\n", bar, st)
		}
	}
}

func fit(pixels, physical, out string) {
	px, err := affine.LoadPoints(pixels)
	if err != nil {
		log.Fatal(err)
	}
	ph, err := affine.LoadPoints(physical)
	if err != nil {
		log.Fatal(err)
	}
	tf, err := affine.Fit(px, ph)
	if err != nil {
		log.Fatal(err)
	}
	if err := tf.Save(out); err != nil {
		log.Fatal(err)
	}
	log.Infof("transforms of %d points written to %s", len(px), out)
}

type report struct {
	Analysis      barimage.Analysis      `json:"analysis"`
	Discrepancies []barimage.Discrepancy `json:"discrepancies"`
}

func analyze(args []string) {
	c := config()
	tf, ok, err := loadTransform(c)
	if err != nil {
		log.Fatal(err)
	}
	if !ok {
		log.Fatal("analyze needs TransformFile in the configuration")
	}
	img, err := barimage.ReadFITSFile(arg(args, 0, "image"))
	if err != nil {
		log.Fatal(err)
	}
	m := mustMask(arg(args, 1, "mask specifier"))
	a, err := barimage.NewAnalyzer(tf).Analyze(img)
	if err != nil {
		log.Fatal(err)
	}
	bad := barimage.Verify(a, m, c.VerifyTolerance)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report{Analysis: a, Discrepancies: bad}); err != nil {
		log.Fatal(err)
	}
	if len(args) > 2 {
		f, err := os.Create(args[2])
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		if err := barimage.RenderQA(f, img, a); err != nil {
			log.Fatal(err)
		}
	}
	if len(bad) > 0 {
		log.Errorf("%d bars not where %s puts them", len(bad), m.Name)
		os.Exit(1)
	}
}

func calibrate(args []string) {
	sys := mustBuild(config())
	m := mustMask(arg(args, 0, "mask specifier"))
	filters := strings.Split(arg(args, 1, "filters"), ",")
	imaging := len(args) > 2 && strings.EqualFold(args[2], "imaging")
	if err := sys.Seq.TakeAll([]calibration.Step{{Mask: m, Filters: filters}}, imaging); err != nil {
		log.Fatal(err)
	}
}

func checkout() {
	sys := mustBuild(config())
	if err := sys.Seq.QuickCheckout(); err != nil {
		log.Fatal(err)
	}
}

func synth(spec, out string) {
	c := config()
	tf, ok, err := loadTransform(c)
	if err != nil {
		log.Fatal(err)
	}
	if !ok {
		tf = mockTransform()
	}
	m := mustMask(spec)
	f, err := os.Create(out)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := barimage.WriteFITS(f, barimage.Synthesize(tf, m, 2048, 1024, 1.5)); err != nil {
		log.Fatal(err)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	rest := args[2:]
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "run":
		run()
	case "mask":
		printMask(arg(rest, 0, "mask specifier"))
	case "setup":
		setup(arg(rest, 0, "mask specifier"))
	case "init":
		initBars(rest)
	case "current":
		current()
	case "barstate":
		barstate(arg(rest, 0, "bar state file"))
	case "fit":
		fit(arg(rest, 0, "pixel points"), arg(rest, 1, "physical points"), arg(rest, 2, "output"))
	case "analyze":
		analyze(rest)
	case "calibrate":
		calibrate(rest)
	case "checkout":
		checkout()
	case "synth":
		synth(arg(rest, 0, "mask specifier"), arg(rest, 1, "output"))
	case "version":
		pversion()
	default:
		log.Fatal("unknown command")
	}
}
