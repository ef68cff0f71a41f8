// SPDX-License-Identifier: EPL-2.0

package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/ik5/audfeed/utils"
)

const (
	// SilenceThreshold is the momentary loudness in LUFS below which a
	// window counts as silent.
	SilenceThreshold = -65.0
	// ReferenceLoudness is the normalization target in LUFS.
	ReferenceLoudness = -18.0
	// MaxGainOffset caps normalization boost in dB.
	MaxGainOffset = 12.0

	maxHistoryMs      = 30000
	momentaryWindowMs = 400
	blockMs           = 100
	absoluteGate      = -70.0
	enoughDataSeconds = 3
)

// LoudnessState is the persisted form of an analyzer.
type LoudnessState struct {
	SampleRate   int       `json:"sample_rate"`
	Channels     int       `json:"channels"`
	FramesAdded  int64     `json:"frames_added"`
	MaxHistoryMs int       `json:"max_history_ms"`
	Integrated   float64   `json:"integrated"`
	SamplePeak   float64   `json:"sample_peak"`
	History      []float64 `json:"history"`
}

// LoudnessAnalyzer measures program loudness over a sliding history of
// 100 ms blocks. Loudness is the mean-square level in LUFS-like units; no
// K-weighting is applied.
type LoudnessAnalyzer struct {
	mu sync.Mutex

	sampleRate int
	channels   int

	blockFrames int
	blockSum    float64
	blockFill   int

	// mean square of completed blocks, oldest first
	history    []float64
	maxBlocks  int
	peak       float64
	frames     int64
	momentary  float64
	prevGain   float64
	normalize  bool
	trimSilent bool
}

func NewLoudnessAnalyzer(sampleRate, channels int) *LoudnessAnalyzer {
	a := &LoudnessAnalyzer{
		sampleRate: sampleRate,
		channels:   max(1, channels),
		maxBlocks:  maxHistoryMs / blockMs,
		momentary:  math.NaN(),
		prevGain:   -1,
	}
	a.blockFrames = max(1, sampleRate*blockMs/1000)
	return a
}

// NewLoudnessAnalyzerFromState restores an analyzer saved with MarshalState.
func NewLoudnessAnalyzerFromState(data []byte) (*LoudnessAnalyzer, error) {
	var st LoudnessState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLoudnessState, err)
	}
	if st.SampleRate < 1 || st.Channels < 1 {
		return nil, fmt.Errorf("%w: %d ch @ %d Hz", ErrInvalidLoudnessState, st.Channels, st.SampleRate)
	}

	a := NewLoudnessAnalyzer(st.SampleRate, st.Channels)
	if st.MaxHistoryMs > 0 {
		a.maxBlocks = max(1, st.MaxHistoryMs/blockMs)
	}
	a.frames = st.FramesAdded
	a.peak = st.SamplePeak
	a.history = append(a.history, st.History...)
	if len(a.history) > a.maxBlocks {
		a.history = a.history[len(a.history)-a.maxBlocks:]
	}
	a.momentary = st.Integrated
	a.prevGain = gainFor(st.Integrated, st.SamplePeak)
	return a, nil
}

// MarshalState serializes the analyzer history.
func (a *LoudnessAnalyzer) MarshalState() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return json.Marshal(LoudnessState{
		SampleRate:   a.sampleRate,
		Channels:     a.channels,
		FramesAdded:  a.frames,
		MaxHistoryMs: a.maxBlocks * blockMs,
		Integrated:   a.integrated(),
		SamplePeak:   a.peak,
		History:      a.history,
	})
}

func (a *LoudnessAnalyzer) SampleRate() int { return a.sampleRate }
func (a *LoudnessAnalyzer) Channels() int   { return a.channels }

func (a *LoudnessAnalyzer) SetNormalizationEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.normalize = enabled
}

func (a *LoudnessAnalyzer) SetSilenceTrimmingEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trimSilent = enabled
}

// FramesAdded returns the number of frames measured so far, including any
// restored history.
func (a *LoudnessAnalyzer) FramesAdded() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

// HistoryFilled reports whether the full sliding history has been seen.
func (a *LoudnessAnalyzer) HistoryFilled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	ms := float64(a.frames) / float64(a.sampleRate) * 1000
	return ms >= float64(a.maxBlocks*blockMs+momentaryWindowMs-blockMs)
}

// Integrated returns the gated loudness of the history in LUFS, or -Inf
// before any block is complete.
func (a *LoudnessAnalyzer) Integrated() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.integrated()
}

// Peak returns the largest absolute sample seen.
func (a *LoudnessAnalyzer) Peak() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peak
}

// AddFrames measures interleaved samples without modifying them.
func (a *LoudnessAnalyzer) AddFrames(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.add(samples)
}

// Apply measures samples and, depending on the enabled features, scales
// them toward the reference loudness and reports whether every momentary
// window inside them was silent.
func (a *LoudnessAnalyzer) Apply(samples []float32) LoudnessInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	var info LoudnessInfo
	if !a.normalize && !a.trimSilent {
		return info
	}

	window := max(1, a.sampleRate*momentaryWindowMs/1000) * a.channels
	var momentary []float64

	for off := 0; off < len(samples); off += window {
		a.add(samples[off:min(off+window, len(samples))])

		if a.trimSilent && a.frames >= int64(window/a.channels) {
			m := a.momentaryLoudness()
			if math.IsNaN(a.momentary) || math.IsInf(a.momentary, 0) {
				a.momentary = m
			} else {
				a.momentary = a.momentary*0.3 + m*0.7
			}
			momentary = append(momentary, m)
		}
	}

	if a.trimSilent && a.frames > int64(window/a.channels) {
		info.IsEntirelySilent = true
		for _, m := range momentary {
			if m > SilenceThreshold {
				info.IsEntirelySilent = false
				break
			}
		}
	}

	if a.normalize {
		loudness := a.momentary
		if a.frames >= int64(a.sampleRate*enoughDataSeconds) {
			loudness = a.integrated()
		}
		if loudness > SilenceThreshold {
			gain := gainFor(loudness, a.peak)
			a.applyGain(samples, gain)
			a.prevGain = gain
		}
	}

	return info
}

func (a *LoudnessAnalyzer) add(samples []float32) {
	frames := len(samples) / a.channels
	for f := range frames {
		var sum float64
		for ch := range a.channels {
			v := float64(samples[f*a.channels+ch])
			a.peak = max(a.peak, math.Abs(v))
			sum += v * v
		}
		a.blockSum += sum / float64(a.channels)
		a.blockFill++

		if a.blockFill == a.blockFrames {
			a.history = append(a.history, a.blockSum/float64(a.blockFrames))
			if len(a.history) > a.maxBlocks {
				a.history = a.history[1:]
			}
			a.blockSum = 0
			a.blockFill = 0
		}
	}
	a.frames += int64(frames)
}

// momentaryLoudness covers the last 400 ms, counting the partial block.
func (a *LoudnessAnalyzer) momentaryLoudness() float64 {
	blocks := momentaryWindowMs / blockMs
	sum := a.blockSum
	frames := a.blockFill
	for i := len(a.history) - 1; i >= 0 && blocks > 0; i-- {
		sum += a.history[i] * float64(a.blockFrames)
		frames += a.blockFrames
		blocks--
	}
	if frames == 0 {
		return math.Inf(-1)
	}
	return toLUFS(sum / float64(frames))
}

func (a *LoudnessAnalyzer) integrated() float64 {
	var sum float64
	var n int
	for _, ms := range a.history {
		if toLUFS(ms) > absoluteGate {
			sum += ms
			n++
		}
	}
	if n == 0 {
		return math.Inf(-1)
	}
	return toLUFS(sum / float64(n))
}

// applyGain ramps linearly from the previously applied gain to gain.
func (a *LoudnessAnalyzer) applyGain(samples []float32, gain float64) {
	frames := len(samples) / a.channels
	from := a.prevGain
	if from < 0 {
		from = gain
	}

	for f := range frames {
		g := gain
		if from != gain {
			g = from + (gain-from)*float64(f)/float64(frames)
		}
		for ch := range a.channels {
			samples[f*a.channels+ch] *= float32(g)
		}
	}
}

func gainFor(loudness, peak float64) float64 {
	offset := min(ReferenceLoudness-loudness, MaxGainOffset)
	gain := utils.DBToGain(offset)
	if peak > 0 {
		gain = min(1/peak, gain)
	}
	return gain
}

func toLUFS(meanSquare float64) float64 {
	if meanSquare <= 0 {
		return math.Inf(-1)
	}
	return -0.691 + 10*math.Log10(meanSquare)
}
