package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/setanarut/spice"
	"github.com/setanarut/spice/utils"
)

// Report is written to report.yaml next to the layers.
type Report struct {
	Image             string      `yaml:"image"`
	Width             int         `yaml:"width"`
	Height            int         `yaml:"height"`
	Bands             string      `yaml:"bands"`
	Iterations        int         `yaml:"iterations"`
	Converged         bool        `yaml:"converged"`
	Objective         float64     `yaml:"objective"`
	ReconstructionMSE float64     `yaml:"reconstruction_mse"`
	Endmembers        int         `yaml:"endmembers"`
	Kept              []int       `yaml:"kept"`
	Pruned            []int       `yaml:"pruned,omitempty"`
	Palette           []string    `yaml:"palette"`
	Spectra           [][]float64 `yaml:"spectra"`
	Config            Config      `yaml:"config"`
}

// unmixImage runs the whole image pipeline and writes every output into
// cfg.Output.Dir.
func unmixImage(path string, cfg *Config, logger *logrus.Logger) (*Report, error) {
	bands, err := utils.ParseBands(cfg.Image.Bands)
	if err != nil {
		return nil, err
	}
	method, err := utils.ParsePaletteMethod(cfg.Image.Palette)
	if err != nil {
		return nil, err
	}
	opt, err := cfg.options(logger)
	if err != nil {
		return nil, err
	}

	img, err := utils.ReadImage(path)
	if err != nil {
		return nil, err
	}
	img = utils.Downscale(img, cfg.Image.MaxSide)
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	x := utils.ImageToSpectra(img, bands)
	log := logger.WithFields(logrus.Fields{"image": path, "width": w, "height": h, "bands": bands.String()})
	log.Info("image loaded")

	if w*h < opt.M0 {
		opt.M0 = max(2, w*h)
		log.WithField("m0", opt.M0).Warn("fewer pixels than endmembers, lowering m0")
	}
	if method != utils.PaletteNone {
		palette := utils.ExtractPalette(img, opt.M0, method)
		if len(palette) == opt.M0 {
			utils.SortPaletteByBrightness(palette)
			opt.InitialEndmembers = utils.PaletteEndmembers(palette, bands)
		} else {
			log.WithFields(logrus.Fields{"palette": method.String(), "colors": len(palette)}).
				Warn("palette too small, using pixel initialization")
		}
	}

	res, err := spice.Unmix(x, opt)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return nil, err
	}
	palette := utils.EndmemberPalette(res.Endmembers, bands)
	if err := utils.SaveGrayLayers(utils.GrayLayers(res.Abundances, w, h), cfg.Output.Dir); err != nil {
		return nil, err
	}
	if err := utils.SaveRGBALayers(utils.RGBALayers(res.Abundances, palette, w, h), cfg.Output.Dir); err != nil {
		return nil, err
	}
	if err := utils.SavePalette(palette, 64, filepath.Join(cfg.Output.Dir, "palette.png")); err != nil {
		return nil, err
	}
	recon, err := utils.SpectraToImage(spice.Reconstruct(res.Endmembers, res.Abundances), w, h, bands)
	if err != nil {
		return nil, err
	}
	if err := utils.SaveImage(recon, filepath.Join(cfg.Output.Dir, "recon.png")); err != nil {
		return nil, err
	}

	rep := newReport(path, w, h, bands, res, palette, *cfg)
	rep.ReconstructionMSE = spice.ReconstructionError(x, res.Endmembers, res.Abundances)
	if err := writeReport(rep, filepath.Join(cfg.Output.Dir, "report.yaml")); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"endmembers": rep.Endmembers,
		"mse":        rep.ReconstructionMSE,
		"dir":        cfg.Output.Dir,
	}).Info("outputs written")
	return rep, nil
}

func newReport(path string, w, h int, bands utils.Bands, res *spice.Result, palette []colorful.Color, cfg Config) *Report {
	n, k := res.Endmembers.Dims()
	rep := &Report{
		Image:      path,
		Width:      w,
		Height:     h,
		Bands:      bands.String(),
		Iterations: res.Iterations,
		Converged:  !res.Exhausted,
		Objective:  res.Objective,
		Endmembers: k,
		Kept:       res.Kept,
		Pruned:     res.Pruned,
		Config:     cfg,
	}
	for j := range k {
		rep.Palette = append(rep.Palette, palette[j].Hex())
		col := make([]float64, n)
		for i := range n {
			col[i] = res.Endmembers.At(i, j)
		}
		rep.Spectra = append(rep.Spectra, col)
	}
	return rep
}

func writeReport(rep *Report, filename string) error {
	out, err := yaml.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(filename, out, 0o644)
}
