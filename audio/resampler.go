// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/ik5/audfeed/utils"
)

// maxEmptyReads bounds how many consecutive (0, nil) reads are tolerated
// before a source is considered stuck.
const maxEmptyReads = 64

// Resampler streams from src to target sample rate using cubic interpolation.
// Works on interleaved samples; preserves channel count.
// Includes basic anti-aliasing filtering when downsampling.
type Resampler struct {
	src      Source
	srcRate  float64
	dstRate  float64
	ratio    float64 // srcRate / dstRate - how many source samples per output sample
	channels int

	// frames[0] = t-1, frames[1] = t0, frames[2] = t+1, frames[3] = t+2
	frames   [4][]float32
	hasFrame [4]bool
	primed   bool

	// Position between frames[1] and frames[2], in source frames
	pos float64

	// Block read from the source, consumed one frame at a time
	srcBuf []float32
	bufPos int
	bufLen int
	srcErr error
	eof    bool

	filterState []float32
	useFilter   bool
	filterAlpha float32
}

func NewResampler(src Source, dstRate int) *Resampler {
	channels := src.Channels()
	ratio := float64(src.SampleRate()) / float64(dstRate)

	// One-pole low-pass when downsampling
	useFilter := ratio > 1.0
	var filterAlpha float32
	if useFilter {
		filterAlpha = 0.5
	}

	bufSize := max(src.BufSize(), 4096)
	bufSize -= bufSize % channels

	r := &Resampler{
		src:         src,
		srcRate:     float64(src.SampleRate()),
		dstRate:     float64(dstRate),
		ratio:       ratio,
		channels:    channels,
		srcBuf:      make([]float32, bufSize),
		useFilter:   useFilter,
		filterAlpha: filterAlpha,
		filterState: make([]float32, channels),
	}

	for i := range r.frames {
		r.frames[i] = make([]float32, channels)
	}

	return r
}

func (r *Resampler) SampleRate() int { return int(r.dstRate) }
func (r *Resampler) Channels() int   { return r.channels }
func (r *Resampler) BufSize() int    { return r.src.BufSize() }

func (r *Resampler) Close() error {
	err := r.src.Close()
	if err != nil {
		return fmt.Errorf("%w", err)
	}
	return nil
}

// Reset drops interpolation history so the next read starts fresh from
// whatever the source produces next. Used after the source was repositioned.
func (r *Resampler) Reset() {
	r.primed = false
	r.hasFrame = [4]bool{}
	r.pos = 0
	r.bufPos, r.bufLen = 0, 0
	r.srcErr = nil
	r.eof = false
	clear(r.filterState)
}

// readFrame copies the next source frame into dst.
func (r *Resampler) readFrame(dst []float32) (bool, error) {
	empty := 0
	for r.bufPos >= r.bufLen {
		if r.srcErr != nil {
			return false, r.srcErr
		}

		n, err := r.src.ReadSamples(r.srcBuf)
		r.bufPos, r.bufLen = 0, n-n%r.channels
		if err != nil {
			r.srcErr = err
		}
		if n == 0 && err == nil {
			empty++
			if empty >= maxEmptyReads {
				r.srcErr = ErrNoProgress
			}
		}
	}

	copy(dst, r.srcBuf[r.bufPos:r.bufPos+r.channels])
	r.bufPos += r.channels

	if r.useFilter {
		for c := range r.channels {
			// y[n] = alpha * x[n] + (1-alpha) * y[n-1]
			dst[c] = r.filterAlpha*dst[c] + (1-r.filterAlpha)*r.filterState[c]
			r.filterState[c] = dst[c]
		}
	}

	return true, nil
}

// fetchNextFrame shifts the window and reads one frame into frames[3].
func (r *Resampler) fetchNextFrame() error {
	if r.eof {
		return io.EOF
	}

	copy(r.frames[0], r.frames[1])
	copy(r.frames[1], r.frames[2])
	copy(r.frames[2], r.frames[3])
	r.hasFrame[0] = r.hasFrame[1]
	r.hasFrame[1] = r.hasFrame[2]
	r.hasFrame[2] = r.hasFrame[3]

	ok, err := r.readFrame(r.frames[3])
	r.hasFrame[3] = ok
	if errors.Is(err, io.EOF) {
		r.eof = true
		if !r.hasFrame[2] {
			return io.EOF
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w", err)
	}

	return nil
}

// prime loads frames[1..3]; frames[0] duplicates the first frame so that the
// first output sample lands exactly on it.
func (r *Resampler) prime() error {
	for i := 1; i < 4; i++ {
		ok, err := r.readFrame(r.frames[i])
		if ok {
			r.hasFrame[i] = true
			if i == 1 && r.useFilter {
				copy(r.filterState, r.frames[1])
			}
			continue
		}

		if errors.Is(err, io.EOF) {
			r.eof = true
			if i == 1 {
				return io.EOF
			}
			// Duplicate last valid frame for the remaining slots
			for j := i; j < 4; j++ {
				copy(r.frames[j], r.frames[i-1])
			}
			r.hasFrame[2] = true
			r.hasFrame[3] = false
			break
		}
		return fmt.Errorf("%w", err)
	}

	copy(r.frames[0], r.frames[1])
	r.hasFrame[0] = true
	r.primed = true
	return nil
}

// ReadSamples produces dst samples at r.dstRate.
// dst length should be a multiple of r.channels.
func (r *Resampler) ReadSamples(dst []float32) (int, error) {
	if len(dst)%r.channels != 0 {
		return 0, ErrInvalidDstSize
	}

	if !r.primed {
		if err := r.prime(); err != nil {
			return 0, err
		}
	}

	written := 0
	framesNeeded := len(dst) / r.channels

	for written < framesNeeded {
		// pos stays in [0, 1) between frames[1] and frames[2]
		for r.pos >= 1.0 {
			r.pos -= 1.0
			if err := r.fetchNextFrame(); err != nil {
				if errors.Is(err, io.EOF) {
					return written * r.channels, io.EOF
				}
				return written * r.channels, err
			}
		}

		if !r.hasFrame[1] || !r.hasFrame[2] {
			return written * r.channels, io.EOF
		}

		alpha := float32(r.pos)

		for c := range r.channels {
			y0 := r.frames[0][c]
			y1 := r.frames[1][c]
			y2 := r.frames[2][c]
			y3 := r.frames[2][c]
			if r.hasFrame[3] {
				y3 = r.frames[3][c]
			}

			dst[written*r.channels+c] = utils.CubicInterpolate(y0, y1, y2, y3, alpha)
		}

		written++
		r.pos += r.ratio
	}

	return written * r.channels, nil
}
