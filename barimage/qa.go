package barimage

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"sort"

	"golang.org/x/image/draw"

	"github.com/keckobservatory/instruments/bars"
)

var (
	bandColor  = color.RGBA{R: 0, G: 160, B: 255, A: 255}
	rightColor = color.RGBA{R: 255, G: 64, B: 64, A: 255}
	leftColor  = color.RGBA{R: 64, G: 255, B: 64, A: 255}
)

// Gray stretches an image linearly between its lo and hi quantiles
func (im *Image) Gray(lo, hi float64) *image.Gray {
	sorted := append([]float64{}, im.Pix...)
	sort.Float64s(sorted)
	q := func(f float64) float64 {
		if len(sorted) == 0 {
			return 0
		}
		i := int(f * float64(len(sorted)-1))
		return sorted[i]
	}
	min, max := q(lo), q(hi)
	span := max - min
	if span <= 0 {
		span = 1
	}
	g := image.NewGray(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			v := (im.At(x, y) - min) / span * 255
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			g.Pix[y*g.Stride+x] = uint8(v)
		}
	}
	return g
}

// RenderQA draws the image with the slit bands outlined and a cross at each
// resolved bar edge, and writes it as a PNG
func RenderQA(w io.Writer, im *Image, a Analysis) error {
	out := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	draw.Draw(out, out.Bounds(), im.Gray(0.01, 0.99), image.Point{}, draw.Src)

	hline := func(y int) {
		if y < 0 || y >= im.Height {
			return
		}
		for x := 0; x < im.Width; x++ {
			out.Set(x, y, bandColor)
		}
	}
	cross := func(x, y int, c color.Color) {
		const arm = 4
		for d := -arm; d <= arm; d++ {
			out.Set(x+d, y, c)
			out.Set(x, y+d, c)
		}
	}
	for _, b := range a.Bands {
		if b.Empty() {
			continue
		}
		hline(b.Y1)
		hline(b.Y2 - 1)
	}
	for _, est := range a.Bars {
		if !est.Resolved {
			continue
		}
		if est.Slit < 1 || est.Slit > len(a.Bands) {
			continue
		}
		b := a.Bands[est.Slit-1]
		c := leftColor
		if bars.IsRight(est.Bar) {
			c = rightColor
		}
		cross(int(est.Pixel+0.5), (b.Y1+b.Y2)/2, c)
	}
	return png.Encode(w, out)
}
