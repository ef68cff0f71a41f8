// SPDX-License-Identifier: EPL-2.0

package ringbuf

import (
	"errors"
	"sync"
)

// MaxFrame is the modulus of the frame counter.
const MaxFrame int64 = 8388608 * 128

// ErrChannelMismatch is returned by Write when the number of channel slices
// differs from the buffer's layout.
var ErrChannelMismatch = errors.New("wrong channel count for ring buffer")

// Buffer is a fixed-capacity circular buffer of interleaved float32 frames
// with one producer and one real-time consumer.
//
// The consumer side counts every frame it plays. The counter wraps at
// MaxFrame and is the only clock the producer uses for position tracking.
type Buffer struct {
	mu sync.Mutex

	channels int
	// size in frames, one slot stays empty
	size int
	data []float32

	readPos  int
	writePos int

	frame int64

	paused       bool
	backgrounded bool
	fadeTotal    int
	fadeLeft     int

	underruns int64
}

// New creates a buffer holding up to frames-1 frames of the given channel count.
func New(channels, frames int) *Buffer {
	channels = max(1, channels)
	frames = max(2, frames)

	return &Buffer{
		channels: channels,
		size:     frames,
		data:     make([]float32, frames*channels),
	}
}

func (b *Buffer) Channels() int { return b.channels }

// Capacity is the largest number of frames the buffer can hold at once.
func (b *Buffer) Capacity() int { return b.size - 1 }

// CurrentFrameNumber returns the number of frames consumed so far, modulo MaxFrame.
func (b *Buffer) CurrentFrameNumber() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame
}

func (b *Buffer) readable() int {
	if b.writePos >= b.readPos {
		return b.writePos - b.readPos
	}
	return b.size - b.readPos + b.writePos
}

// ReadableFrames returns the number of frames waiting to be played.
func (b *Buffer) ReadableFrames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readable()
}

// WritableFrames returns the number of frames Write would accept right now.
func (b *Buffer) WritableFrames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size - 1 - b.readable()
}

// Write copies up to frames frames from the per-channel slices and returns
// how many fit.
func (b *Buffer) Write(channels [][]float32, frames int) (int, error) {
	if len(channels) != b.channels {
		return 0, ErrChannelMismatch
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(frames, b.size-1-b.readable())
	for _, ch := range channels {
		n = min(n, len(ch))
	}
	if n <= 0 {
		return 0, nil
	}

	pos := b.writePos
	for i := range n {
		base := pos * b.channels
		for c, ch := range channels {
			b.data[base+c] = ch[i]
		}
		pos++
		if pos == b.size {
			pos = 0
		}
	}
	b.writePos = pos

	return n, nil
}

// Clear discards all buffered frames. The frame counter is left untouched.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readPos = 0
	b.writePos = 0
}

// SetPaused stops consumption immediately.
func (b *Buffer) SetPaused() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
	b.fadeLeft, b.fadeTotal = 0, 0
}

// UnsetPaused resumes consumption and drops any pending fade-out.
func (b *Buffer) UnsetPaused() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = false
	b.fadeLeft, b.fadeTotal = 0, 0
}

// RequestPause keeps playing for fadeOutFrames frames with a linear fade to
// silence and pauses afterwards.
func (b *Buffer) RequestPause(fadeOutFrames int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.paused {
		return
	}
	if fadeOutFrames <= 0 {
		b.paused = true
		b.fadeLeft, b.fadeTotal = 0, 0
		return
	}
	b.fadeTotal = fadeOutFrames
	b.fadeLeft = fadeOutFrames
}

func (b *Buffer) IsPaused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

// SetBackgrounded marks the buffer as the secondary output. Running dry
// while backgrounded is not an underrun.
func (b *Buffer) SetBackgrounded() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backgrounded = true
}

func (b *Buffer) UnsetBackgrounded() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backgrounded = false
}

func (b *Buffer) IsBackgrounded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backgrounded
}

// Underruns returns how many reads came up short while in the foreground.
func (b *Buffer) Underruns() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.underruns
}

// Read overwrites the interleaved dst with buffered frames, zero-filling what
// is not available, and returns the number of frames consumed.
func (b *Buffer) Read(dst []float32) int {
	clear(dst)
	return b.Mix(dst)
}

// Mix adds buffered frames onto the interleaved dst and returns the number
// of frames consumed. Nothing is consumed while paused.
func (b *Buffer) Mix(dst []float32) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.paused {
		return 0
	}

	want := len(dst) / b.channels
	avail := b.readable()
	n := min(want, avail)

	pos := b.readPos
	i := 0
	for ; i < n; i++ {
		gain := float32(1)
		if b.fadeLeft > 0 {
			gain = float32(b.fadeLeft) / float32(b.fadeTotal)
			b.fadeLeft--
		}

		src := pos * b.channels
		out := i * b.channels
		for c := range b.channels {
			dst[out+c] += b.data[src+c] * gain
		}

		pos++
		if pos == b.size {
			pos = 0
		}

		if b.fadeTotal > 0 && b.fadeLeft == 0 {
			b.fadeTotal = 0
			b.paused = true
			i++
			break
		}
	}
	b.readPos = pos
	b.frame = (b.frame + int64(i)) % MaxFrame

	if !b.paused && b.fadeLeft > 0 && b.readable() == 0 {
		// ran dry mid-fade
		b.fadeLeft, b.fadeTotal = 0, 0
		b.paused = true
	}
	if i < want && !b.paused && !b.backgrounded {
		b.underruns++
	}

	return i
}
