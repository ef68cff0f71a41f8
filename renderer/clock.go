// SPDX-License-Identifier: EPL-2.0

package renderer

import (
	"context"
	"time"

	"github.com/ik5/audfeed/logger"
	"github.com/rs/zerolog"
)

// Clock consumes audio in real time without an output device.
type Clock struct {
	mixer    *Mixer
	rate     int
	interval time.Duration
	// fractional frames carried between steps
	carry float64
	buf   []float32
	out   func(samples []float32, frames int)
	log   zerolog.Logger
}

type ClockOptions struct {
	SampleRate int
	Interval   time.Duration
	// Output, when set, receives every mixed block.
	Output func(samples []float32, frames int)
	Logger zerolog.Logger
}

func NewClock(m *Mixer, opts ClockOptions) *Clock {
	return &Clock{
		mixer:    m,
		rate:     opts.SampleRate,
		interval: opts.Interval,
		out:      opts.Output,
		log:      logger.Component(opts.Logger, "renderer"),
	}
}

// Step consumes one interval worth of frames and returns how many the
// rings supplied.
func (c *Clock) Step() int {
	want := float64(c.rate)*c.interval.Seconds() + c.carry
	frames := int(want)
	c.carry = want - float64(frames)
	if frames == 0 {
		return 0
	}

	n := frames * c.mixer.Channels()
	if cap(c.buf) < n {
		c.buf = make([]float32, n)
	}
	got := c.mixer.MixFrames(c.buf[:n])
	if c.out != nil {
		c.out(c.buf[:n], frames)
	}
	return got
}

// Run steps on every value of ticks and calls tick afterwards, until ctx is
// done or ticks is closed. A nil ticks channel uses a ticker at the clock
// interval.
func (c *Clock) Run(ctx context.Context, ticks <-chan time.Time, tick func()) error {
	if ticks == nil {
		t := time.NewTicker(c.interval)
		defer t.Stop()
		ticks = t.C
	}

	c.log.Debug().Dur("interval", c.interval).Int("sample_rate", c.rate).Msg("headless clock started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-ticks:
			if !ok {
				return nil
			}
			c.Step()
			if tick != nil {
				tick()
			}
		}
	}
}

// Tick calls fn every interval until ctx is done. It drives the backend
// while an output device consumes the audio.
func Tick(ctx context.Context, interval time.Duration, fn func()) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			fn()
		}
	}
}
