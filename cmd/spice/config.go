package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/setanarut/spice"
	"github.com/setanarut/spice/qp"
	"github.com/setanarut/spice/utils"
)

type SpiceConfig struct {
	U               float64 `mapstructure:"u" yaml:"u"`
	Gamma           float64 `mapstructure:"gamma" yaml:"gamma"`
	M0              int     `mapstructure:"m0" yaml:"m0"`
	PruneThreshold  float64 `mapstructure:"prune_threshold" yaml:"prune_threshold"`
	ChangeThreshold float64 `mapstructure:"change_threshold" yaml:"change_threshold"`
	MaxIterations   int     `mapstructure:"max_iterations" yaml:"max_iterations"`
	Init            string  `mapstructure:"init" yaml:"init"`
	Seed            uint64  `mapstructure:"seed" yaml:"seed"`
	Workers         int     `mapstructure:"workers" yaml:"workers"`
	LogEvery        int     `mapstructure:"log_every" yaml:"log_every"`
	// QP backend for the abundance step: activeset or slsqp.
	Solver string `mapstructure:"solver" yaml:"solver"`
}

type ImageConfig struct {
	// Longer side after downscaling; 0 keeps the original size.
	MaxSide int    `mapstructure:"max_side" yaml:"max_side"`
	Bands   string `mapstructure:"bands" yaml:"bands"`
	// Palette method for the initial endmembers: none, dominantcolor or kmeans.
	Palette string `mapstructure:"palette" yaml:"palette"`
}

type OutputConfig struct {
	Dir      string `mapstructure:"dir" yaml:"dir"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

type Config struct {
	Spice  SpiceConfig  `mapstructure:"spice" yaml:"spice"`
	Image  ImageConfig  `mapstructure:"image" yaml:"image"`
	Output OutputConfig `mapstructure:"output" yaml:"output"`
}

func setDefaults(v *viper.Viper) {
	d := spice.DefaultOptions()
	v.SetDefault("spice.u", d.U)
	v.SetDefault("spice.gamma", d.Gamma)
	v.SetDefault("spice.m0", d.M0)
	v.SetDefault("spice.prune_threshold", d.PruneThreshold)
	v.SetDefault("spice.change_threshold", d.ChangeThreshold)
	v.SetDefault("spice.max_iterations", d.MaxIterations)
	v.SetDefault("spice.init", d.Init.String())
	v.SetDefault("spice.seed", d.Seed)
	v.SetDefault("spice.workers", d.Workers)
	v.SetDefault("spice.log_every", d.LogEvery)
	v.SetDefault("spice.solver", "activeset")

	v.SetDefault("image.max_side", 256)
	v.SetDefault("image.bands", utils.BandsRGB.String())
	v.SetDefault("image.palette", utils.PaletteNone.String())

	v.SetDefault("output.dir", "spice_out")
	v.SetDefault("output.log_level", "info")
}

// loadConfig merges defaults, the YAML file at path (if any) and the flags
// already bound to v.
func loadConfig(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// options converts the spice section into validated library options.
func (c *Config) options(logger logrus.FieldLogger) (spice.Options, error) {
	method, err := spice.ParseInitMethod(c.Spice.Init)
	if err != nil {
		return spice.Options{}, err
	}
	solver, err := solverByName(c.Spice.Solver)
	if err != nil {
		return spice.Options{}, err
	}
	opt := spice.Options{
		U:               c.Spice.U,
		Gamma:           c.Spice.Gamma,
		M0:              c.Spice.M0,
		PruneThreshold:  c.Spice.PruneThreshold,
		ChangeThreshold: c.Spice.ChangeThreshold,
		MaxIterations:   c.Spice.MaxIterations,
		Init:            method,
		Seed:            c.Spice.Seed,
		Workers:         c.Spice.Workers,
		LogEvery:        c.Spice.LogEvery,
		Solver:          solver,
		Logger:          logger,
	}
	return opt, opt.Validate()
}

func solverByName(name string) (qp.Solver, error) {
	switch strings.ToLower(name) {
	case "", "activeset":
		return qp.ActiveSet{}, nil
	case "slsqp":
		return qp.SLSQP{}, nil
	}
	return nil, fmt.Errorf("unknown solver %q", name)
}

func defaultConfig() Config {
	v := viper.New()
	cfg, err := loadConfig(v, "")
	if err != nil {
		panic(err)
	}
	return *cfg
}

func setupLogger(level string, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
