// Package utils adapts images to and from the spectral matrices used by
// package spice: reading and writing images, pixel to band conversion,
// abundance layers and palettes.
package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

func ReadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Downscale resizes img so that its longer side is at most maxSide pixels.
// Smaller images and maxSide ≤ 0 return img unchanged.
func Downscale(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || max(w, h) <= maxSide {
		return img
	}
	scale := float64(maxSide) / float64(max(w, h))
	dw := max(1, int(float64(w)*scale+0.5))
	dh := max(1, int(float64(h)*scale+0.5))
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func SaveImage(img image.Image, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// SaveGrayLayers writes gray_00.png, gray_01.png, ... into dir.
func SaveGrayLayers(layers []*image.Gray, dir string) error {
	for i, l := range layers {
		if err := SaveImage(l, filepath.Join(dir, fmt.Sprintf("gray_%02d.png", i))); err != nil {
			return err
		}
	}
	return nil
}

// SaveRGBALayers writes rgba_00.png, rgba_01.png, ... into dir.
func SaveRGBALayers(layers []*image.NRGBA, dir string) error {
	for i, l := range layers {
		if err := SaveImage(l, filepath.Join(dir, fmt.Sprintf("rgba_%02d.png", i))); err != nil {
			return err
		}
	}
	return nil
}

// PaletteImage draws one tileSize square per color, left to right.
func PaletteImage(palette []colorful.Color, tileSize int) (*image.RGBA, error) {
	if len(palette) == 0 {
		return nil, errors.New("empty palette")
	}
	if tileSize <= 0 {
		tileSize = 64
	}
	img := image.NewRGBA(image.Rect(0, 0, tileSize*len(palette), tileSize))
	for i, c := range palette {
		tile := image.Rect(i*tileSize, 0, (i+1)*tileSize, tileSize)
		draw.Draw(img, tile, image.NewUniform(color.Color(toRGBA(c))), image.Point{}, draw.Src)
	}
	return img, nil
}

func SavePalette(palette []colorful.Color, tileSize int, filename string) error {
	img, err := PaletteImage(palette, tileSize)
	if err != nil {
		return err
	}
	return SaveImage(img, filename)
}
