package barimage

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"

	"github.com/keckobservatory/instruments/affine"
	"github.com/keckobservatory/instruments/bars"
	"github.com/keckobservatory/instruments/mask"
)

// Image is a single frame of detector data, row major
type Image struct {
	Width, Height int
	Pix           []float64
}

// NewImage returns a zero image
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// At returns the value at column x, row y
func (im *Image) At(x, y int) float64 {
	return im.Pix[y*im.Width+x]
}

// Row returns row y, sharing memory with the image
func (im *Image) Row(y int) []float64 {
	return im.Pix[y*im.Width : (y+1)*im.Width]
}

// ReadFITSFile reads the first image HDU of a FITS file
func ReadFITSFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	im, err := ReadFITS(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return im, nil
}

// ReadFITS reads the first two dimensional image HDU of a FITS stream.  For
// cubes, the first plane is returned.  BZERO and BSCALE are applied
func ReadFITS(r io.Reader) (*Image, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	for _, hdu := range f.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok {
			continue
		}
		hdr := img.Header()
		axes := hdr.Axes()
		if len(axes) < 2 || axes[0] == 0 || axes[1] == 0 {
			continue
		}
		w, h := axes[0], axes[1]
		pix, err := decode(img.Raw(), hdr.Bitpix(), w*h)
		if err != nil {
			return nil, err
		}
		zero, scale := 0., 1.
		if c := hdr.Get("BZERO"); c != nil {
			if v, ok := cardFloat(c.Value); ok {
				zero = v
			}
		}
		if c := hdr.Get("BSCALE"); c != nil {
			if v, ok := cardFloat(c.Value); ok {
				scale = v
			}
		}
		if zero != 0 || scale != 1 {
			for i := range pix {
				pix[i] = pix[i]*scale + zero
			}
		}
		return &Image{Width: w, Height: h, Pix: pix}, nil
	}
	return nil, errors.New("barimage: no image HDU with two or more axes")
}

// decode converts n big endian pixels of type bitpix
func decode(raw []byte, bitpix, n int) ([]float64, error) {
	size := bitpix / 8
	if size < 0 {
		size = -size
	}
	if size == 0 || len(raw) < n*size {
		return nil, fmt.Errorf("barimage: %d bytes of data, need %d for %d pixels of BITPIX %d", len(raw), n*size, n, bitpix)
	}
	out := make([]float64, n)
	be := binary.BigEndian
	for i := range out {
		b := raw[i*size : (i+1)*size]
		switch bitpix {
		case 8:
			out[i] = float64(b[0])
		case 16:
			out[i] = float64(int16(be.Uint16(b)))
		case 32:
			out[i] = float64(int32(be.Uint32(b)))
		case 64:
			out[i] = float64(int64(be.Uint64(b)))
		case -32:
			out[i] = float64(math.Float32frombits(be.Uint32(b)))
		case -64:
			out[i] = math.Float64frombits(be.Uint64(b))
		default:
			return nil, fmt.Errorf("barimage: unsupported BITPIX %d", bitpix)
		}
	}
	return out, nil
}

func cardFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	default:
		return 0, false
	}
}

// WriteFITS streams an image to w as 32-bit floats
func WriteFITS(w io.Writer, im *Image, metadata ...fitsio.Card) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	img := fitsio.NewImage(-32, []int{im.Width, im.Height})
	defer img.Close()
	if len(metadata) > 0 {
		if err := img.Header().Append(metadata...); err != nil {
			return err
		}
	}
	buf := make([]float32, len(im.Pix))
	for i, v := range im.Pix {
		buf[i] = float32(v)
	}
	if err := img.Write(buf); err != nil {
		return err
	}
	return fits.Write(img)
}

// Synthesize renders the image a mask would make under uniform
// illumination.  Each row belongs to the nearest slit; light passes between
// a slit's bars with edges blurred by a gaussian of blur pixels.  Rows
// outside the CSU are dark
func Synthesize(tf affine.Transform, m *mask.Mask, width, height int, blur float64) *Image {
	const (
		dark   = 10.
		bright = 1000.
	)
	if blur <= 0 {
		blur = 1e-3
	}
	slits := make(map[int]mask.Slit, len(m.Slits))
	for _, s := range m.Slits {
		slits[s.SlitNumber] = s
	}
	im := NewImage(width, height)
	k := 1 / (math.Sqrt2 * blur)
	for y := 0; y < height; y++ {
		row := im.Row(y)
		for x := range row {
			row[x] = dark
		}
		// the slit of a row is taken at the middle of the stroke
		mid := tf.ToPhysical(affine.Point{float64(width) / 2, float64(y)})[0]
		s, ok := slits[int(math.Round(mid[1]))]
		if !ok || !bars.ValidSlit(s.SlitNumber) {
			continue
		}
		slit := float64(s.SlitNumber)
		edges := tf.ToPixel(affine.Point{s.LeftBarPositionMM, slit}, affine.Point{s.RightBarPositionMM, slit})
		a, b := edges[0][0], edges[1][0]
		if a > b {
			a, b = b, a
		}
		for x := range row {
			fx := float64(x)
			row[x] += (bright - dark) * 0.5 * (math.Erf((fx-a)*k) - math.Erf((fx-b)*k))
		}
	}
	return im
}
