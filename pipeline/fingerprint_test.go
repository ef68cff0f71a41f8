// SPDX-License-Identifier: EPL-2.0

package pipeline

import (
	"errors"
	"math"
	"testing"
)

func sweep(rate, channels int, seconds float64) []float32 {
	frames := int(float64(rate) * seconds)
	out := make([]float32, frames*channels)
	for f := range frames {
		t := float64(f) / float64(rate)
		// 400 Hz to 2400 Hz over the clip
		freq := 400 + 2000*t/seconds
		v := float32(0.5 * math.Sin(2*math.Pi*freq*t))
		for ch := range channels {
			out[f*channels+ch] = v
		}
	}
	return out
}

func TestFingerprinter_NotEnoughAudio(t *testing.T) {
	t.Parallel()

	fp := NewFingerprinter(44100)
	fp.NewFrames(sweep(44100, 2, 0.05), 2)
	if _, err := fp.Fingerprint(); !errors.Is(err, ErrNotEnoughAudio) {
		t.Errorf("Fingerprint() error = %v, want ErrNotEnoughAudio", err)
	}
}

func TestFingerprinter_Deterministic(t *testing.T) {
	t.Parallel()

	a := NewFingerprinter(22050)
	b := NewFingerprinter(22050)

	audio := sweep(22050, 2, 3)
	a.NewFrames(audio, 2)
	// same audio in uneven pieces
	for off := 0; off < len(audio); off += 2 * 777 {
		b.NewFrames(audio[off:min(off+2*777, len(audio))], 2)
	}

	fa, err := a.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	fb, err := b.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if fa != fb {
		t.Error("fingerprints differ for identical audio")
	}
	if len(fa)%8 != 0 || len(fa) == 0 {
		t.Errorf("fingerprint length %d is not a whole number of words", len(fa))
	}
}

func TestFingerprinter_NeedFrames(t *testing.T) {
	t.Parallel()

	fp := NewFingerprinter(FingerprintSampleRate)
	if !fp.NeedFrames() {
		t.Fatal("NeedFrames() = false on a fresh fingerprinter")
	}
	fp.NewFrames(make([]float32, FingerprintSampleRate*(FingerprintDuration+1)), 1)
	if fp.NeedFrames() {
		t.Error("NeedFrames() = true after the full duration")
	}

	words := len(fp.SubFingerprints())
	fp.NewFrames(make([]float32, FingerprintSampleRate), 1)
	if got := len(fp.SubFingerprints()); got != words {
		t.Errorf("audio past the limit added %d words", got-words)
	}
}
