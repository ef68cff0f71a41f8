// SPDX-License-Identifier: EPL-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ik5/audfeed/backend"
	"github.com/ik5/audfeed/pipeline"
	"github.com/ik5/audfeed/ringbuf"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Audio.SampleRate != 48000 || cfg.Audio.Channels != 2 {
		t.Errorf("audio = %+v, want 48000 Hz stereo", cfg.Audio)
	}
	if cfg.Audio.BufferTime != backend.DefaultBufferLengthSeconds {
		t.Errorf("buffer_time = %v", cfg.Audio.BufferTime)
	}
	if cfg.Output.TickInterval != 20*time.Millisecond {
		t.Errorf("tick_interval = %v, want 20ms", cfg.Output.TickInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audfeed.yaml")
	data := []byte(`
audio:
  sample_rate: 44100
  crossfade: 4
  silence_trimming: false
  effects:
    - type: volume
      value: -1
    - type: pan
      value: 0.5
output:
  tick_interval: 10ms
log:
  level: debug
  format: json
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Audio.SampleRate != 44100 || cfg.Audio.Crossfade != 4 || cfg.Audio.SilenceTrimming {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if len(cfg.Audio.Effects) != 2 || cfg.Audio.Effects[1].Type != "pan" || cfg.Audio.Effects[1].Value != 0.5 {
		t.Errorf("effects = %+v", cfg.Audio.Effects)
	}
	if cfg.Output.TickInterval != 10*time.Millisecond {
		t.Errorf("tick_interval = %v", cfg.Output.TickInterval)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	// untouched keys keep their defaults
	if cfg.Audio.Channels != 2 {
		t.Errorf("channels = %d, want default 2", cfg.Audio.Channels)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadConfig() of a missing explicit file succeeded")
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("AUDFEED_AUDIO_CROSSFADE", "2.5")
	t.Setenv("AUDFEED_LOG_LEVEL", "warn")

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Audio.Crossfade != 2.5 {
		t.Errorf("crossfade = %v, want 2.5 from the environment", cfg.Audio.Crossfade)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q, want warn", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load(New(), "")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 100 }, "audio.sample_rate"},
		{"channels", func(c *Config) { c.Audio.Channels = 0 }, "audio.channels"},
		{"buffer time", func(c *Config) { c.Audio.BufferTime = 2 }, "audio.buffer_time"},
		{"sustained", func(c *Config) { c.Audio.SustainedSeconds = 10 }, "audio.sustained_seconds"},
		{"crossfade", func(c *Config) { c.Audio.Crossfade = 5.5 }, "audio.crossfade"},
		{"effect", func(c *Config) { c.Audio.Effects = []pipeline.EffectSpec{{Type: "pan", Value: 3}} }, "audio.effects[0]"},
		{"ring", func(c *Config) { c.Output.RingFrames = 100 }, "output.ring_frames"},
		{"tick", func(c *Config) { c.Output.TickInterval = time.Second }, "output.tick_interval"},
		{"device buffer", func(c *Config) { c.Output.DeviceBuffer = 0 }, "output.device_buffer"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := *base
			tt.mutate(&cfg)

			var ce *ConfigError
			if err := cfg.Validate(); !errors.As(err, &ce) {
				t.Fatalf("Validate() error = %v, want *ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestBackend(t *testing.T) {
	t.Parallel()

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Audio.Crossfade = 3
	cfg.Audio.Effects = []pipeline.EffectSpec{{Type: "gain", Value: 0.5}}

	fg := ringbuf.New(2, cfg.RingFrames())
	bg := ringbuf.New(2, cfg.RingFrames())
	bc := cfg.Backend(fg, bg)

	if bc.SampleRate != 48000 || bc.CrossfadeDuration != 3 || bc.Foreground != fg || bc.Background != bg {
		t.Errorf("Backend() = %+v", bc)
	}
	cfg.Audio.Effects[0].Value = 2
	if bc.Effects[0].Value != 0.5 {
		t.Error("Backend() shares the effects slice")
	}

	b := backend.New(backend.Options{})
	defer b.Close()
	if err := b.InitialAudioConfiguration(bc); err != nil {
		t.Errorf("backend rejected converted config: %v", err)
	}
}
