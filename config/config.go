// SPDX-License-Identifier: EPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ik5/audfeed/backend"
	"github.com/ik5/audfeed/feeder"
	"github.com/ik5/audfeed/pipeline"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g.
// AUDFEED_AUDIO_CROSSFADE=2.5.
const EnvPrefix = "AUDFEED"

// Config holds all configuration for the player host.
type Config struct {
	Audio   AudioConfig   `mapstructure:"audio"`
	Output  OutputConfig  `mapstructure:"output"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// AudioConfig is the decoding side: what the backend receives.
type AudioConfig struct {
	SampleRate            int                   `mapstructure:"sample_rate"`
	Channels              int                   `mapstructure:"channels"`
	BufferTime            float64               `mapstructure:"buffer_time"`
	SustainedSeconds      float64               `mapstructure:"sustained_seconds"` // 0 derives it from buffer_time
	Crossfade             float64               `mapstructure:"crossfade"`
	LoudnessNormalization bool                  `mapstructure:"loudness_normalization"`
	SilenceTrimming       bool                  `mapstructure:"silence_trimming"`
	Fingerprint           bool                  `mapstructure:"fingerprint"`
	Effects               []pipeline.EffectSpec `mapstructure:"effects"`
}

// OutputConfig is the playback side.
type OutputConfig struct {
	// RingFrames sizes both ring buffers; 0 picks the smallest size that
	// holds the longest sustained queue.
	RingFrames   int           `mapstructure:"ring_frames"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	DeviceBuffer time.Duration `mapstructure:"device_buffer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type MetricsConfig struct {
	// Addr serves /metrics when set.
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers a default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.channels", 2)
	v.SetDefault("audio.buffer_time", backend.DefaultBufferLengthSeconds)
	v.SetDefault("audio.sustained_seconds", 0)
	v.SetDefault("audio.crossfade", 0)
	v.SetDefault("audio.loudness_normalization", true)
	v.SetDefault("audio.silence_trimming", true)
	v.SetDefault("audio.fingerprint", false)
	v.SetDefault("audio.effects", []pipeline.EffectSpec{})
	v.SetDefault("output.ring_frames", 0)
	v.SetDefault("output.tick_interval", "20ms")
	v.SetDefault("output.device_buffer", "40ms")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.addr", "")
}

// New returns a viper instance with defaults and environment overrides set
// up. Flags may be bound to it before Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads configuration from path (optional), the environment and
// the defaults.
func LoadConfig(path string) (*Config, error) {
	return Load(New(), path)
}

// Load reads path into v and unmarshals the result. Without a path the
// working directory and $HOME/.audfeed are searched for config.yaml; a
// missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.audfeed")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// Validate returns a *ConfigError for the first invalid field.
func (c *Config) Validate() error {
	a := c.Audio
	switch {
	case a.SampleRate < 8000 || a.SampleRate > 192000:
		return &ConfigError{Field: "audio.sample_rate", Message: fmt.Sprintf("%d outside [8000, 192000]", a.SampleRate)}
	case a.Channels < 1 || a.Channels > 8:
		return &ConfigError{Field: "audio.channels", Message: fmt.Sprintf("%d outside [1, 8]", a.Channels)}
	case a.BufferTime < backend.MinBufferLengthSeconds || a.BufferTime > backend.MaxBufferLengthSeconds:
		return &ConfigError{
			Field:   "audio.buffer_time",
			Message: fmt.Sprintf("%v outside [%v, %v]", a.BufferTime, backend.MinBufferLengthSeconds, backend.MaxBufferLengthSeconds),
		}
	case a.SustainedSeconds != 0 &&
		(a.SustainedSeconds < backend.MinSustainedAudioSeconds || a.SustainedSeconds > backend.MaxSustainedAudioSeconds):
		return &ConfigError{
			Field:   "audio.sustained_seconds",
			Message: fmt.Sprintf("%v outside [%v, %v]", a.SustainedSeconds, backend.MinSustainedAudioSeconds, backend.MaxSustainedAudioSeconds),
		}
	case a.Crossfade < 0 || a.Crossfade > backend.CrossfadeMaxDuration:
		return &ConfigError{Field: "audio.crossfade", Message: fmt.Sprintf("%v outside [0, %v]", a.Crossfade, backend.CrossfadeMaxDuration)}
	}

	for i, e := range a.Effects {
		if _, err := pipeline.NewEffects([]pipeline.EffectSpec{e}); err != nil {
			return &ConfigError{Field: fmt.Sprintf("audio.effects[%d]", i), Message: err.Error()}
		}
	}

	o := c.Output
	switch {
	case o.RingFrames != 0 && o.RingFrames < backend.RingFramesFor(a.SampleRate):
		return &ConfigError{
			Field:   "output.ring_frames",
			Message: fmt.Sprintf("%d cannot hold the sustained queue, need %d", o.RingFrames, backend.RingFramesFor(a.SampleRate)),
		}
	case o.TickInterval <= 0 || o.TickInterval > time.Duration(backend.TimeUpdateResolution*float64(time.Second)):
		return &ConfigError{Field: "output.tick_interval", Message: fmt.Sprintf("%v outside (0, 100ms]", o.TickInterval)}
	case o.DeviceBuffer <= 0:
		return &ConfigError{Field: "output.device_buffer", Message: "must be positive"}
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return &ConfigError{Field: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// RingFrames is the configured ring size or the derived default.
func (c *Config) RingFrames() int {
	if c.Output.RingFrames > 0 {
		return c.Output.RingFrames
	}
	return backend.RingFramesFor(c.Audio.SampleRate)
}

// Backend converts the audio section into an initial backend configuration
// playing into foreground and background.
func (c *Config) Backend(foreground, background feeder.RingBuffer) backend.Config {
	a := c.Audio
	return backend.Config{
		SampleRate:            a.SampleRate,
		Channels:              a.Channels,
		Foreground:            foreground,
		Background:            background,
		BufferTime:            a.BufferTime,
		SustainedSeconds:      a.SustainedSeconds,
		CrossfadeDuration:     a.Crossfade,
		LoudnessNormalization: a.LoudnessNormalization,
		SilenceTrimming:       a.SilenceTrimming,
		Effects:               append([]pipeline.EffectSpec(nil), a.Effects...),
	}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
