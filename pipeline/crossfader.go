// SPDX-License-Identifier: EPL-2.0

package pipeline

import "sync"

// MaxCrossfadeDuration caps the crossfade window in seconds.
const MaxCrossfadeDuration = 5.0

// Crossfader shapes the start and the tail of a track. A preloaded track
// fades in over the window; every track fades out over its last window.
type Crossfader struct {
	mu       sync.Mutex
	duration float64
	fadeIn   bool
	fadeOut  bool
}

func NewCrossfader() *Crossfader {
	return &Crossfader{fadeOut: true}
}

// SetDuration sets the window, clamped to [0, MaxCrossfadeDuration].
func (c *Crossfader) SetDuration(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duration = max(0, min(seconds, MaxCrossfadeDuration))
}

func (c *Crossfader) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

func (c *Crossfader) SetFadeInEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fadeIn = enabled
}

func (c *Crossfader) SetFadeOutEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fadeOut = enabled
}

func (c *Crossfader) FadeInEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fadeIn
}

// Apply scales interleaved samples whose first frame plays at currentTime
// seconds into a track of trackDuration seconds.
func (c *Crossfader) Apply(samples []float32, channels, sampleRate int, currentTime, trackDuration float64) {
	c.mu.Lock()
	d, fadeIn, fadeOut := c.duration, c.fadeIn, c.fadeOut
	c.mu.Unlock()

	if d <= 0 || (!fadeIn && !fadeOut) || channels < 1 || sampleRate < 1 {
		return
	}

	frames := len(samples) / channels
	endTime := currentTime + float64(frames)/float64(sampleRate)
	fadeOutStart := trackDuration - d

	// Fast path: block entirely between the two windows
	if (!fadeIn || currentTime >= d) && (!fadeOut || endTime <= fadeOutStart) {
		return
	}

	for f := range frames {
		t := currentTime + float64(f)/float64(sampleRate)
		gain := 1.0
		if fadeIn && t < d {
			gain *= Smoothstep(t / d)
		}
		if fadeOut && t > fadeOutStart {
			gain *= Smoothstep((trackDuration - t) / d)
		}
		if gain == 1 {
			continue
		}

		g := float32(gain)
		for ch := range channels {
			samples[f*channels+ch] *= g
		}
	}
}
