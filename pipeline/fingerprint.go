// SPDX-License-Identifier: EPL-2.0

package pipeline

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/argusdusty/gofft"
)

const (
	// FingerprintSampleRate is the rate audio is decimated to before analysis.
	FingerprintSampleRate = 11025
	// FingerprintDuration is how many seconds of audio a fingerprint covers.
	FingerprintDuration = 30

	fftSize      = 2048
	fftHop       = fftSize / 2
	bandCount    = 33
	bandLowFreq  = 300.0
	bandHighFreq = 3000.0
)

// Fingerprinter hashes the first FingerprintDuration seconds of a track
// into 32-bit sub-fingerprints. Each bit is the sign of the change in energy
// difference between adjacent log-spaced bands across consecutive frames.
type Fingerprinter struct {
	mu sync.Mutex

	step    float64 // input frames per analysis sample
	phase   float64
	acc     float64
	accN    int
	mono    []float64
	fed     int
	window  []float64
	bands   []int
	prev    []float64
	words   []uint32
	scratch []complex128
}

// NewFingerprinter prepares a fingerprinter for audio at sampleRate.
func NewFingerprinter(sampleRate int) *Fingerprinter {
	f := &Fingerprinter{
		step:   max(1, float64(sampleRate)/FingerprintSampleRate),
		window: hanning(fftSize),
	}

	// band edges as FFT bin indices
	binHz := float64(FingerprintSampleRate) / fftSize
	f.bands = make([]int, bandCount+1)
	for i := range f.bands {
		freq := bandLowFreq * math.Pow(bandHighFreq/bandLowFreq, float64(i)/bandCount)
		f.bands[i] = int(freq / binHz)
	}
	return f
}

func hanning(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// NeedFrames reports whether more audio is useful.
func (f *Fingerprinter) NeedFrames() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fed < FingerprintSampleRate*FingerprintDuration
}

// NewFrames consumes interleaved samples.
func (f *Fingerprinter) NewFrames(samples []float32, channels int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if channels < 1 {
		return
	}
	limit := FingerprintSampleRate * FingerprintDuration

	for i := 0; i+channels <= len(samples) && f.fed < limit; i += channels {
		var v float64
		for ch := range channels {
			v += float64(samples[i+ch])
		}
		f.acc += v / float64(channels)
		f.accN++
		f.phase++

		if f.phase >= f.step {
			f.phase -= f.step
			f.mono = append(f.mono, f.acc/float64(f.accN))
			f.acc, f.accN = 0, 0
			f.fed++

			if len(f.mono) == fftSize {
				f.analyze()
				f.mono = append(f.mono[:0], f.mono[fftHop:]...)
			}
		}
	}
}

func (f *Fingerprinter) analyze() {
	if f.scratch == nil {
		f.scratch = make([]complex128, fftSize)
	}
	for i, v := range f.mono {
		f.scratch[i] = complex(v*f.window[i], 0)
	}
	// Size is a power of two so FFT cannot fail
	_ = gofft.FFT(f.scratch)

	energy := make([]float64, bandCount)
	for b := range bandCount {
		for i := f.bands[b]; i < max(f.bands[b+1], f.bands[b]+1); i++ {
			re, im := real(f.scratch[i]), imag(f.scratch[i])
			energy[b] += re*re + im*im
		}
	}

	if f.prev != nil {
		var word uint32
		for b := range bandCount - 1 {
			d := (energy[b] - energy[b+1]) - (f.prev[b] - f.prev[b+1])
			if d > 0 {
				word |= 1 << b
			}
		}
		f.words = append(f.words, word)
	}
	f.prev = energy
}

// SubFingerprints returns a copy of the hashes computed so far.
func (f *Fingerprinter) SubFingerprints() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.words...)
}

// Fingerprint encodes the hashes as hex.
func (f *Fingerprinter) Fingerprint() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.words) == 0 {
		return "", ErrNotEnoughAudio
	}

	var sb strings.Builder
	sb.Grow(len(f.words) * 8)
	for _, w := range f.words {
		fmt.Fprintf(&sb, "%08x", w)
	}
	return sb.String(), nil
}
