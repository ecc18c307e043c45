package utils

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/mat"
)

// Bands selects the spectral coordinates an image pixel is mapped to.
type Bands int

const (
	// BandsRGB uses sRGB components in [0,1].
	BandsRGB Bands = iota
	// BandsLab uses CIE L*a*b* (D65) as returned by go-colorful.
	BandsLab
)

func (b Bands) String() string {
	switch b {
	case BandsLab:
		return "lab"
	default:
		return "rgb"
	}
}

func ParseBands(s string) (Bands, error) {
	switch strings.ToLower(s) {
	case "", "rgb":
		return BandsRGB, nil
	case "lab":
		return BandsLab, nil
	}
	return 0, fmt.Errorf("unknown bands %q", s)
}

func (b Bands) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *Bands) UnmarshalText(text []byte) error {
	v, err := ParseBands(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// spectrum returns the band values of c.
func (b Bands) spectrum(c colorful.Color) [3]float64 {
	if b == BandsLab {
		l, a, bb := c.Lab()
		return [3]float64{l, a, bb}
	}
	return [3]float64{c.R, c.G, c.B}
}

// toColor converts band values back to a clamped sRGB color.
func (b Bands) toColor(v [3]float64) colorful.Color {
	if b == BandsLab {
		return colorful.Lab(v[0], v[1], v[2]).Clamped()
	}
	return colorful.Color{R: v[0], G: v[1], B: v[2]}.Clamped()
}

// ImageToSpectra returns the 3×(W·H) spectral matrix of img. Pixel (x, y)
// relative to the bounds origin is column y·W + x.
func ImageToSpectra(img image.Image, bands Bands) *mat.Dense {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	x := mat.NewDense(3, w*h, nil)
	for py := range h {
		for px := range w {
			r, g, b, _ := img.At(bounds.Min.X+px, bounds.Min.Y+py).RGBA()
			c := colorful.Color{
				R: float64(r) / 65535,
				G: float64(g) / 65535,
				B: float64(b) / 65535,
			}
			s := bands.spectrum(c)
			col := py*w + px
			x.Set(0, col, s[0])
			x.Set(1, col, s[1])
			x.Set(2, col, s[2])
		}
	}
	return x
}

// SpectraToImage is the inverse of ImageToSpectra for a 3×(w·h) matrix.
func SpectraToImage(x mat.Matrix, w, h int, bands Bands) (*image.RGBA, error) {
	if r, c := x.Dims(); r != 3 || c != w*h {
		return nil, fmt.Errorf("spectra are %d×%d, want 3×%d", r, c, w*h)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for py := range h {
		for px := range w {
			col := py*w + px
			c := bands.toColor([3]float64{x.At(0, col), x.At(1, col), x.At(2, col)})
			img.SetRGBA(px, py, toRGBA(c))
		}
	}
	return img, nil
}

// EndmemberPalette maps every endmember column of e to a display color.
func EndmemberPalette(e mat.Matrix, bands Bands) []colorful.Color {
	_, k := e.Dims()
	out := make([]colorful.Color, k)
	for j := range k {
		out[j] = bands.toColor([3]float64{e.At(0, j), e.At(1, j), e.At(2, j)})
	}
	return out
}

// PaletteEndmembers returns the 3×len(palette) endmember matrix of palette.
func PaletteEndmembers(palette []colorful.Color, bands Bands) *mat.Dense {
	e := mat.NewDense(3, len(palette), nil)
	for j, c := range palette {
		s := bands.spectrum(c)
		e.SetCol(j, s[:])
	}
	return e
}

// GrayLayers renders each abundance column of the (w·h)×K matrix p as an
// 8-bit mask.
func GrayLayers(p mat.Matrix, w, h int) []*image.Gray {
	m, k := p.Dims()
	if m != w*h || k == 0 {
		return nil
	}
	out := make([]*image.Gray, k)
	for j := range k {
		layer := image.NewGray(image.Rect(0, 0, w, h))
		for i := range m {
			layer.Pix[(i/w)*layer.Stride+i%w] = unit8(p.At(i, j))
		}
		out[j] = layer
	}
	return out
}

// RGBALayers renders each abundance column as its endmember color with the
// abundance as alpha.
func RGBALayers(p mat.Matrix, palette []colorful.Color, w, h int) []*image.NRGBA {
	m, k := p.Dims()
	if m != w*h || k == 0 || len(palette) != k {
		return nil
	}
	out := make([]*image.NRGBA, k)
	for j := range k {
		c := toRGBA(palette[j])
		layer := image.NewNRGBA(image.Rect(0, 0, w, h))
		for i := range m {
			layer.SetNRGBA(i%w, i/w, color.NRGBA{R: c.R, G: c.G, B: c.B, A: unit8(p.At(i, j))})
		}
		out[j] = layer
	}
	return out
}

func unit8(v float64) uint8 {
	return uint8(max(0, min(255, v*255+0.5)))
}

func toRGBA(c colorful.Color) color.RGBA {
	return color.RGBA{R: unit8(c.R), G: unit8(c.G), B: unit8(c.B), A: 255}
}
