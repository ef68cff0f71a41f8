// SPDX-License-Identifier: EPL-2.0

package main

import (
	"fmt"

	"github.com/ik5/audfeed/config"
	"github.com/ik5/audfeed/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// app is the state shared by the subcommands of one root command.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:   "audfeed",
		Short: "Gapless and crossfading audio playback backend",
		Long: `audfeed decodes audio files into ring buffers the way a real-time
renderer consumes them: chunked decoding, seeking, gapless transitions and
crossfades between consecutive tracks.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is ./config.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "console", "log format (console, json)")
	pf.Int("sample-rate", 48000, "output sample rate")
	pf.Int("channels", 2, "output channel count")
	bindFlags(a.v, pf, map[string]string{
		"log.level":         "log-level",
		"log.format":        "log-format",
		"audio.sample_rate": "sample-rate",
		"audio.channels":    "channels",
	})

	root.AddCommand(
		newPlayCmd(a),
		newProbeCmd(a),
		newRenderCmd(a),
		newConfigCmd(a),
	)
	return root
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}

// init loads and validates the configuration and sets up logging.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	a.cfg = cfg
	a.log = logger.Setup(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if f := a.v.ConfigFileUsed(); f != "" {
		a.log.Debug().Str("file", f).Msg("using config file")
	}
	return nil
}
