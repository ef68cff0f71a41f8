// SPDX-License-Identifier: EPL-2.0

package backend

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/ik5/audfeed/feeder"
	"github.com/ik5/audfeed/pipeline"
	"github.com/ik5/audfeed/source"
)

const (
	// PreloadThresholdSeconds is how long before the crossfade starts the
	// next track is requested.
	PreloadThresholdSeconds = 5.0
	TimeUpdateResolution    = 0.1

	DefaultBufferLengthSeconds = 0.4
	MinBufferLengthSeconds     = 0.4
	MaxBufferLengthSeconds     = 1.2

	SustainedBufferedAudioRatio = 2.0
	MinSustainedAudioSeconds    = 0.4
	MaxSustainedAudioSeconds    = SustainedBufferedAudioRatio * MaxBufferLengthSeconds

	CrossfadeMaxDuration = pipeline.MaxCrossfadeDuration
	// MinimumDuration is the extra length both tracks need beyond the
	// crossfade for the crossfade to apply.
	MinimumDuration = source.MinimumCrossfadeTrackPadding

	// LoadFadeInSeconds fades in playback started by a load or seek.
	LoadFadeInSeconds = 0.2
)

// Config is the initialAudioConfiguration payload.
type Config struct {
	SampleRate int
	Channels   int

	// Ring buffers the host plays from. The backend writes to both and
	// never reads.
	Foreground feeder.RingBuffer
	Background feeder.RingBuffer

	// BufferTime is the length of one decoded chunk in seconds. It is
	// snapped to a power of two frames.
	BufferTime float64
	// SustainedSeconds is how much audio the backend keeps queued.
	SustainedSeconds  float64
	CrossfadeDuration float64

	LoudnessNormalization bool
	SilenceTrimming       bool
	Effects               []pipeline.EffectSpec
}

// SustainedSecondsFor returns the default queue target for a buffer length.
func SustainedSecondsFor(bufferTime float64) float64 {
	return max(MinSustainedAudioSeconds, bufferTime*SustainedBufferedAudioRatio)
}

// RingFramesFor returns a ring buffer size that holds the largest
// sustained queue at rate.
func RingFramesFor(rate int) int {
	return int(math.Ceil(float64(rate)*MaxSustainedAudioSeconds)) + 1
}

func (c *Config) validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, c.SampleRate)
	case c.Channels <= 0:
		return fmt.Errorf("%w: channel count %d", ErrInvalidConfig, c.Channels)
	case c.Foreground == nil || c.Background == nil:
		return fmt.Errorf("%w: two ring buffers are required", ErrInvalidConfig)
	case c.Foreground.Channels() != c.Channels || c.Background.Channels() != c.Channels:
		return fmt.Errorf("%w: ring buffers must have %d channels", ErrInvalidConfig, c.Channels)
	}
	return c.validateTunables()
}

func (c *Config) validateTunables() error {
	switch {
	case c.BufferTime <= 0 || math.IsNaN(c.BufferTime):
		return fmt.Errorf("%w: buffer time %v", ErrInvalidConfig, c.BufferTime)
	case c.SustainedSeconds < 0 || math.IsNaN(c.SustainedSeconds):
		return fmt.Errorf("%w: sustained seconds %v", ErrInvalidConfig, c.SustainedSeconds)
	case c.CrossfadeDuration < 0 || c.CrossfadeDuration > CrossfadeMaxDuration:
		return fmt.Errorf("%w: crossfade %v outside [0, %v]", ErrInvalidConfig, c.CrossfadeDuration, CrossfadeMaxDuration)
	}
	return nil
}

// snap fills defaults and rounds the buffer time to a power of two frames.
func (c *Config) snap() {
	if c.SustainedSeconds == 0 {
		c.SustainedSeconds = SustainedSecondsFor(c.BufferTime)
	}
	frames := closestPowerOf2(int(math.Round(c.BufferTime * float64(c.SampleRate))))
	c.BufferTime = float64(frames) / float64(c.SampleRate)
}

func (c *Config) merge(u ConfigUpdate) {
	if u.BufferTime != nil {
		c.BufferTime = *u.BufferTime
	}
	if u.SustainedSeconds != nil {
		c.SustainedSeconds = *u.SustainedSeconds
	}
	if u.CrossfadeDuration != nil {
		c.CrossfadeDuration = *u.CrossfadeDuration
	}
	if u.LoudnessNormalization != nil {
		c.LoudnessNormalization = *u.LoudnessNormalization
	}
	if u.SilenceTrimming != nil {
		c.SilenceTrimming = *u.SilenceTrimming
	}
	if u.Effects != nil {
		c.Effects = append([]pipeline.EffectSpec(nil), u.Effects...)
	}
}

// closestPowerOf2 returns the power of two nearest to n, rounding ties up.
func closestPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	lower := 1 << (bits.Len(uint(n)) - 1)
	if lower == n {
		return n
	}
	upper := lower << 1
	if n-lower < upper-n {
		return lower
	}
	return upper
}
