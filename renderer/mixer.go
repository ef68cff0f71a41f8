// SPDX-License-Identifier: EPL-2.0

package renderer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/ik5/audfeed/utils"
)

var (
	ErrNoRings         = errors.New("mixer needs at least one ring")
	ErrChannelMismatch = errors.New("ring channel count differs from the mixer")
	ErrNoDevice        = errors.New("audio output not available in this build")
)

// Ring is a ring buffer the mixer reads from.
type Ring interface {
	Channels() int
	// Mix adds up to len(dst)/Channels() frames onto dst and returns how
	// many it added.
	Mix(dst []float32) int
}

// Mixer sums its rings. MixFrames is safe for concurrent use; Read is
// meant for the single device goroutine.
type Mixer struct {
	mu       sync.Mutex
	rings    []Ring
	channels int
	scratch  []float32
}

func NewMixer(channels int, rings ...Ring) (*Mixer, error) {
	if len(rings) == 0 {
		return nil, ErrNoRings
	}
	for i, r := range rings {
		if r.Channels() != channels {
			return nil, fmt.Errorf("%w: ring %d has %d channels, want %d", ErrChannelMismatch, i, r.Channels(), channels)
		}
	}
	return &Mixer{rings: rings, channels: channels}, nil
}

func (m *Mixer) Channels() int { return m.channels }

// MixFrames overwrites dst with the sum of all rings, clamped to [-1, 1],
// and returns the largest number of frames any ring supplied. Frames no
// ring supplied are silent.
func (m *Mixer) MixFrames(dst []float32) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(dst)
	dst = dst[:len(dst)-len(dst)%m.channels]

	frames := 0
	for _, r := range m.rings {
		frames = max(frames, r.Mix(dst))
	}
	for i, v := range dst {
		dst[i] = utils.ClampSample(v)
	}
	return frames
}

// Read fills p with float32 little endian samples. It never blocks and
// always fills whole frames, padding with silence.
func (m *Mixer) Read(p []byte) (int, error) {
	frameBytes := 4 * m.channels
	n := len(p) - len(p)%frameBytes
	if n == 0 {
		return 0, nil
	}

	samples := n / 4
	if cap(m.scratch) < samples {
		m.scratch = make([]float32, samples)
	}
	buf := m.scratch[:samples]
	m.MixFrames(buf)

	for i, v := range buf {
		binary.LittleEndian.PutUint32(p[4*i:], math.Float32bits(v))
	}
	return n, nil
}
