// SPDX-License-Identifier: EPL-2.0

package pipeline

import (
	"fmt"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

// Effect types understood by Effects.
const (
	EffectVolume = "volume" // Value is a base-2 exponent, 0 leaves the level unchanged
	EffectGain   = "gain"   // Value is added to 1 and multiplied in
	EffectPan    = "pan"    // Value in [-1, 1], stereo only
)

// EffectSpec configures one stage of the effect chain.
type EffectSpec struct {
	Type  string  `mapstructure:"type" json:"type"`
	Value float64 `mapstructure:"value" json:"value"`
	Mute  bool    `mapstructure:"mute" json:"mute,omitempty"`
}

func (s EffectSpec) validate() error {
	switch s.Type {
	case EffectVolume, EffectGain:
		return nil
	case EffectPan:
		if s.Value < -1 || s.Value > 1 {
			return fmt.Errorf("%w: pan %v outside [-1, 1]", ErrInvalidEffect, s.Value)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEffect, s.Type)
	}
}

// Effects runs decoded blocks through a chain of beep effects. The chain is
// rebuilt on every call, so Set takes effect on the next block.
type Effects struct {
	mu    sync.Mutex
	specs []EffectSpec
	in    [][2]float64
	out   [][2]float64
}

func NewEffects(specs []EffectSpec) (*Effects, error) {
	e := &Effects{}
	if err := e.Set(specs); err != nil {
		return nil, err
	}
	return e, nil
}

// Set replaces the chain.
func (e *Effects) Set(specs []EffectSpec) error {
	for _, s := range specs {
		if err := s.validate(); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.specs = append([]EffectSpec(nil), specs...)
	return nil
}

func (e *Effects) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.specs)
}

// blockStreamer serves one decoded block to the beep chain.
type blockStreamer struct {
	samples [][2]float64
	pos     int
}

func (b *blockStreamer) Stream(samples [][2]float64) (int, bool) {
	if b.pos >= len(b.samples) {
		return 0, false
	}
	n := copy(samples, b.samples[b.pos:])
	b.pos += n
	return n, true
}

func (b *blockStreamer) Err() error { return nil }

func (e *Effects) chain(src beep.Streamer) beep.Streamer {
	st := src
	for _, s := range e.specs {
		switch s.Type {
		case EffectVolume:
			st = &effects.Volume{Streamer: st, Base: 2, Volume: s.Value, Silent: s.Mute}
		case EffectGain:
			st = &effects.Gain{Streamer: st, Gain: s.Value}
		case EffectPan:
			st = &effects.Pan{Streamer: st, Pan: s.Value}
		}
	}
	return st
}

// Apply processes interleaved samples in place. Stereo goes through beep
// as is; any other layout is processed one channel at a time as dual mono,
// which leaves panning without effect.
func (e *Effects) Apply(samples []float32, channels int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.specs) == 0 || channels < 1 {
		return
	}

	frames := len(samples) / channels
	if cap(e.in) < frames {
		e.in = make([][2]float64, frames)
		e.out = make([][2]float64, frames)
	}
	in, out := e.in[:frames], e.out[:frames]

	if channels == 2 {
		for f := range frames {
			in[f] = [2]float64{float64(samples[2*f]), float64(samples[2*f+1])}
		}
		e.run(in, out)
		for f := range frames {
			samples[2*f] = float32(out[f][0])
			samples[2*f+1] = float32(out[f][1])
		}
		return
	}

	for ch := range channels {
		for f := range frames {
			v := float64(samples[f*channels+ch])
			in[f] = [2]float64{v, v}
		}
		e.run(in, out)
		for f := range frames {
			samples[f*channels+ch] = float32((out[f][0] + out[f][1]) / 2)
		}
	}
}

func (e *Effects) run(in, out [][2]float64) {
	st := e.chain(&blockStreamer{samples: in})
	for n := 0; n < len(out); {
		got, ok := st.Stream(out[n:])
		n += got
		if !ok || got == 0 {
			clear(out[n:])
			return
		}
	}
}
