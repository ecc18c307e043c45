// Command spice unmixes images into endmember layers with SPICE.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	v := viper.New()
	var configPath string

	root := &cobra.Command{
		Use:           "spice",
		Short:         "Sparsity-promoting endmember extraction and unmixing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	v.BindPFlag("output.log_level", root.PersistentFlags().Lookup("log-level"))

	unmix := &cobra.Command{
		Use:   "unmix IMAGE",
		Short: "Extract endmembers and abundance layers from an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, configPath)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Output.LogLevel, stderr)
			rep, err := unmixImage(args[0], cfg, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%d endmembers after %d iterations, mse %.6g, written to %s\n",
				rep.Endmembers, rep.Iterations, rep.ReconstructionMSE, cfg.Output.Dir)
			return nil
		},
	}
	f := unmix.Flags()
	f.String("out", "spice_out", "output directory")
	f.Int("m0", 0, "initial number of endmembers")
	f.Float64("gamma", 0, "sparsity weight")
	f.Float64("u", 0, "spread trade-off in (0,1)")
	f.Int("max-iterations", 0, "iteration cap")
	f.Uint64("seed", 0, "random initialization seed")
	f.Int("workers", 0, "parallel abundance workers (0 = GOMAXPROCS)")
	f.String("init", "", "random or kmeans")
	f.String("solver", "", "abundance QP backend: activeset or slsqp")
	f.Int("max-side", 0, "downscale so the longer side is at most this many pixels")
	f.String("bands", "", "rgb or lab")
	f.String("palette", "", "initial endmembers from a palette: none, dominantcolor or kmeans")
	for key, flag := range map[string]string{
		"output.dir":           "out",
		"spice.m0":             "m0",
		"spice.gamma":          "gamma",
		"spice.u":              "u",
		"spice.max_iterations": "max-iterations",
		"spice.seed":           "seed",
		"spice.workers":        "workers",
		"spice.init":           "init",
		"spice.solver":         "solver",
		"image.max_side":       "max-side",
		"image.bands":          "bands",
		"image.palette":        "palette",
	} {
		v.BindPFlag(key, f.Lookup(flag))
	}

	defaults := &cobra.Command{
		Use:   "defaults",
		Short: "Print the default configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(defaultConfig())
			if err != nil {
				return err
			}
			_, err = stdout.Write(out)
			return err
		},
	}

	root.AddCommand(unmix, defaults)
	return root
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "spice:", err)
		os.Exit(1)
	}
}
