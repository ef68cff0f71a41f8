// SPDX-License-Identifier: EPL-2.0

package audio

import "fmt"

// ChannelMixer converts interleaved audio between channel layouts.
//
// Downmixing to mono averages every channel. Upmixing from mono copies the
// single channel everywhere. Any other layout change folds source channel c
// into output channel c % out and averages what landed in each output.
type ChannelMixer struct {
	src  Source
	out  int
	in   int
	tmp  []float32
	fold []float32 // per output channel 1/contributors
}

func NewChannelMixer(src Source, channels int) (*ChannelMixer, error) {
	if channels < 1 {
		return nil, ErrInvalidChannelCount
	}

	in := src.Channels()
	m := &ChannelMixer{
		src:  src,
		out:  channels,
		in:   in,
		tmp:  make([]float32, 8192),
		fold: make([]float32, channels),
	}

	counts := make([]int, channels)
	for c := range in {
		counts[c%channels]++
	}
	for c, n := range counts {
		if n > 0 {
			m.fold[c] = 1 / float32(n)
		}
	}

	return m, nil
}

// NewMonoMixer averages all channels of src into one.
func NewMonoMixer(src Source) *ChannelMixer {
	m, _ := NewChannelMixer(src, 1)
	return m
}

func (m *ChannelMixer) SampleRate() int { return m.src.SampleRate() }
func (m *ChannelMixer) Channels() int   { return m.out }
func (m *ChannelMixer) BufSize() int    { return m.src.BufSize() }
func (m *ChannelMixer) Close() error {
	err := m.src.Close()
	if err != nil {
		return fmt.Errorf("%w", err)
	}

	return nil
}

func (m *ChannelMixer) ReadSamples(dst []float32) (int, error) {
	if len(dst)%m.out != 0 {
		return 0, ErrInvalidDstSize
	}
	if len(dst) == 0 {
		return 0, nil
	}
	if m.in == m.out {
		return m.src.ReadSamples(dst)
	}

	frames := len(dst) / m.out
	samplesNeeded := frames * m.in

	// Grow tmp buffer if needed (but don't shrink to avoid thrashing)
	if cap(m.tmp) < samplesNeeded {
		m.tmp = make([]float32, samplesNeeded)
	}
	m.tmp = m.tmp[:samplesNeeded]

	n, err := m.src.ReadSamples(m.tmp)
	if n == 0 {
		return 0, err
	}
	frames = n / m.in

	switch {
	case m.out == 1:
		inv := float32(1) / float32(m.in)
		for f := range frames {
			sum := float32(0)
			base := f * m.in
			for c := range m.in {
				sum += m.tmp[base+c]
			}
			dst[f] = sum * inv
		}
	case m.in == 1:
		for f := range frames {
			v := m.tmp[f]
			base := f * m.out
			for c := range m.out {
				dst[base+c] = v
			}
		}
	default:
		for f := range frames {
			out := dst[f*m.out : (f+1)*m.out]
			clear(out)
			base := f * m.in
			for c := range m.in {
				out[c%m.out] += m.tmp[base+c]
			}
			for c := range out {
				if m.fold[c] == 0 {
					// More outputs than inputs: repeat the first channel
					out[c] = out[0]
					continue
				}
				out[c] *= m.fold[c]
			}
		}
	}

	return frames * m.out, err
}
