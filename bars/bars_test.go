package bars_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/keckobservatory/instruments/bars"
)

func ExampleSlitToBars() {
	fmt.Println(bars.SlitToBars(1))
	fmt.Println(bars.SlitToBars(46))
	// Output:
	// 1 2
	// 91 92
}

func ExampleKeyword() {
	fmt.Println(bars.Keyword(7, "TARG"))
	// Output: B07TARG
}

func TestSlitBarRoundTrip(t *testing.T) {
	for s := 1; s <= bars.NumSlits; s++ {
		r, l := bars.SlitToBars(s)
		if bars.BarToSlit(r) != s || bars.BarToSlit(l) != s {
			t.Errorf("expected bars %d,%d to map back to slit %d, got %d,%d", r, l, s, bars.BarToSlit(r), bars.BarToSlit(l))
		}
		if !bars.IsRight(r) || bars.IsRight(l) {
			t.Errorf("expected bar %d to be right and %d left", r, l)
		}
	}
}

func TestValidBar(t *testing.T) {
	for _, b := range []int{0, -1, 93} {
		if bars.ValidBar(b) {
			t.Errorf("expected bar %d to be invalid", b)
		}
	}
	for _, b := range []int{1, 46, 92} {
		if !bars.ValidBar(b) {
			t.Errorf("expected bar %d to be valid", b)
		}
	}
}

func TestOpenWidth(t *testing.T) {
	w := bars.WidthArcsec(bars.MaxPositionMM, bars.MinPositionMM)
	if math.Abs(w-367.81) > 0.01 {
		t.Errorf("expected fully open width of 367.81, got %f", w)
	}
}

func TestCenterInverse(t *testing.T) {
	for _, mm := range []float64{4, 54, 137.2, 220, 270.4} {
		got := bars.CenterMM(bars.CenterArcsec(mm))
		if math.Abs(got-mm) > 1e-9 {
			t.Errorf("expected CenterMM to invert CenterArcsec at %f, got %f", mm, got)
		}
	}
}

func TestWidthInverse(t *testing.T) {
	if math.Abs(bars.WidthMM(0.7)-0.507) > 1e-12 {
		t.Errorf("expected 0.7 arcsec to be 0.507 mm, got %f", bars.WidthMM(0.7))
	}
}
