// SPDX-License-Identifier: EPL-2.0

package pipeline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ik5/audfeed/audio"
	"github.com/ik5/audfeed/cancel"
	"github.com/ik5/audfeed/internal/audiotest"
)

func channelBuffers(channels, frames int) [][]float32 {
	dst := make([][]float32, channels)
	for ch := range dst {
		dst[ch] = make([]float32, frames)
	}
	return dst
}

func newTestPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()

	p, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestPipeline_DecodeChunks(t *testing.T) {
	t.Parallel()

	var ops cancel.Operations
	src := audiotest.NewRampSource(8000, 1, 1000)
	p := newTestPipeline(t, Options{
		Source:                src,
		DestinationSampleRate: 8000,
		DestinationChannels:   1,
		BufferTime:            0.032, // 256 frames
		SourceID:              7,
	})

	dst := channelBuffers(1, 256)
	var descs []BufferDescriptor
	for {
		tok := ops.TokenForBufferFill()
		if _, err := p.Decode(tok, 0, dst, 1); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if !p.HasFilledBuffer() {
			break
		}
		d, err := p.ConsumeFilledBuffer()
		if err != nil {
			t.Fatal(err)
		}
		descs = append(descs, d)
	}

	if !p.Ended() {
		t.Error("Ended() = false after the decoder was exhausted")
	}
	if len(descs) != 4 {
		t.Fatalf("got %d chunks, want 4", len(descs))
	}

	var start int64
	for i, d := range descs {
		if d.StartFrames != start {
			t.Errorf("chunk %d StartFrames = %d, want %d", i, d.StartFrames, start)
		}
		if d.EndFrames != d.StartFrames+int64(d.Length) {
			t.Errorf("chunk %d EndFrames = %d, want %d", i, d.EndFrames, d.StartFrames+int64(d.Length))
		}
		if d.SourceID != 7 || d.SampleRate != 8000 || d.ChannelCount != 1 {
			t.Errorf("chunk %d metadata = %+v", i, d)
		}
		start = d.EndFrames
	}

	// 1000 - 768 = 232 frames, padded to two render quanta
	last := descs[3]
	if last.Length != 256 {
		t.Errorf("last chunk Length = %d, want 256", last.Length)
	}
	if dst[0][240] != 0 {
		t.Errorf("padding sample = %v, want 0", dst[0][240])
	}
	if want := float32(768+10) / 1000; math.Abs(float64(dst[0][10]-want)) > 1e-6 {
		t.Errorf("last chunk sample 10 = %v, want %v", dst[0][10], want)
	}
}

func TestPipeline_PaddingNeverExceedsTarget(t *testing.T) {
	t.Parallel()

	var ops cancel.Operations
	p := newTestPipeline(t, Options{
		Source:                audiotest.NewConstantSource(8000, 2, 200, 0.5),
		DestinationSampleRate: 8000,
		DestinationChannels:   2,
		BufferTime:            0.025, // 200 frames
	})

	dst := channelBuffers(2, 300)
	if _, err := p.Decode(ops.TokenForBufferFill(), 0, dst, 1); err != nil {
		t.Fatal(err)
	}
	d, err := p.ConsumeFilledBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if d.Length != 200 {
		t.Errorf("Length = %d, want 200", d.Length)
	}
}

func TestPipeline_Errors(t *testing.T) {
	t.Parallel()

	var ops cancel.Operations
	p := newTestPipeline(t, Options{
		Source:                audiotest.NewSilentSource(8000, 2, 4000),
		DestinationSampleRate: 8000,
		DestinationChannels:   2,
		BufferTime:            0.05,
	})

	if _, err := p.ConsumeFilledBuffer(); !errors.Is(err, ErrNoFilledBuffer) {
		t.Errorf("ConsumeFilledBuffer() error = %v, want ErrNoFilledBuffer", err)
	}
	if _, err := p.Decode(ops.TokenForBufferFill(), 0, channelBuffers(1, 400), 1); !errors.Is(err, ErrChannelMismatch) {
		t.Errorf("Decode() error = %v, want ErrChannelMismatch", err)
	}

	dst := channelBuffers(2, 400)
	if _, err := p.Decode(ops.TokenForBufferFill(), 0, dst, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Decode(ops.TokenForBufferFill(), 0, dst, 1); !errors.Is(err, ErrBufferNotConsumed) {
		t.Errorf("second Decode() error = %v, want ErrBufferNotConsumed", err)
	}

	p.DropFilledBuffer()
	tok := ops.TokenForBufferFill()
	ops.CancelAllBufferFills()
	if _, err := p.Decode(tok, 0, dst, 1); !cancel.IsCancellation(err) {
		t.Errorf("Decode() with stale token error = %v, want cancellation", err)
	}
	if p.HasFilledBuffer() {
		t.Error("cancelled Decode produced a descriptor")
	}
}

func TestPipeline_FadeIn(t *testing.T) {
	t.Parallel()

	var ops cancel.Operations
	p := newTestPipeline(t, Options{
		Source:                audiotest.NewConstantSource(8000, 1, 8000, 1),
		DestinationSampleRate: 8000,
		DestinationChannels:   1,
		BufferTime:            0.05, // 400 frames
	})

	dst := channelBuffers(1, 400)
	decode := func(fade float64) {
		t.Helper()
		if _, err := p.Decode(ops.TokenForBufferFill(), fade, dst, 1); err != nil {
			t.Fatal(err)
		}
		p.DropFilledBuffer()
	}

	// 800 frames of fade across two chunks
	decode(0.1)
	if math.Abs(float64(dst[0][0])-FadeMinimumVolume) > 1e-6 {
		t.Errorf("first sample = %v, want %v", dst[0][0], FadeMinimumVolume)
	}
	mid := dst[0][399]

	decode(0.05)
	if dst[0][0] < mid || dst[0][0] >= 1 {
		t.Errorf("fade did not continue: %v after %v", dst[0][0], mid)
	}

	decode(0)
	if dst[0][0] != 1 {
		t.Errorf("sample after fade = %v, want 1", dst[0][0])
	}
}

func TestPipeline_ConvertsFormat(t *testing.T) {
	t.Parallel()

	var ops cancel.Operations
	p := newTestPipeline(t, Options{
		Source:                audiotest.NewSineSource(44100, 2, 44100, 440),
		DestinationSampleRate: 48000,
		DestinationChannels:   1,
		BufferTime:            0.1,
	})

	dst := channelBuffers(1, p.BufferFrames())
	consumed, err := p.Decode(ops.TokenForBufferFill(), 0, dst, 1)
	if err != nil {
		t.Fatal(err)
	}
	if consumed < 4410 {
		t.Errorf("consumed %d source frames, want at least 4410", consumed)
	}
	d, err := p.ConsumeFilledBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if d.Length != 4800 || d.SampleRate != 48000 || d.ChannelCount != 1 {
		t.Errorf("descriptor = %+v", d)
	}
}

func TestPipeline_SeekFrame(t *testing.T) {
	t.Parallel()

	var ops cancel.Operations
	src := audiotest.NewRampSource(1000, 1, 1000)
	p := newTestPipeline(t, Options{
		Source:                src,
		DestinationSampleRate: 2000,
		DestinationChannels:   1,
		BufferTime:            0.064,
	})

	dst := channelBuffers(1, 128)
	if _, err := p.Decode(ops.TokenForBufferFill(), 0, dst, 1); err != nil {
		t.Fatal(err)
	}

	landed, err := p.SeekFrame(500)
	if err != nil {
		t.Fatalf("SeekFrame() error = %v", err)
	}
	if landed != 500 {
		t.Errorf("SeekFrame() = %d, want 500", landed)
	}
	if p.HasFilledBuffer() {
		t.Error("SeekFrame kept a stale descriptor")
	}
	if p.Position() != 1000 {
		t.Errorf("Position() = %d, want 1000 destination frames", p.Position())
	}

	if _, err := p.Decode(ops.TokenForBufferFill(), 0, dst, 1); err != nil {
		t.Fatal(err)
	}
	d, _ := p.ConsumeFilledBuffer()
	if d.StartFrames != 1000 {
		t.Errorf("StartFrames after seek = %d, want 1000", d.StartFrames)
	}
	if math.Abs(float64(dst[0][0])-0.5) > 0.01 {
		t.Errorf("first sample after seek = %v, want ≈0.5", dst[0][0])
	}
}

func TestPipeline_Processors(t *testing.T) {
	t.Parallel()

	var ops cancel.Operations
	norm := NewLoudnessAnalyzer(8000, 1)
	norm.SetSilenceTrimmingEnabled(true)
	analyzer := NewLoudnessAnalyzer(8000, 1)
	fp := NewFingerprinter(8000)
	fx, err := NewEffects([]EffectSpec{{Type: EffectGain, Value: -0.5}})
	if err != nil {
		t.Fatal(err)
	}
	pf := &recordingPrefetcher{}

	src := audiotest.NewMockSource(8000, 1, 8000, func(i int, _ int) float32 {
		if i < 4000 {
			return 0
		}
		return 0.5
	})
	p := newTestPipeline(t, Options{
		Source:                src,
		DestinationSampleRate: 8000,
		DestinationChannels:   1,
		BufferTime:            0.5,
		MaxBytesPerFrame:      2,
		Analyzer:              analyzer,
		Normalizer:            norm,
		Effects:               fx,
		Fingerprinter:         fp,
		Prefetcher:            pf,
	})

	dst := channelBuffers(1, 4000)
	var silent []bool
	for range 2 {
		if _, err := p.Decode(ops.TokenForBufferFill(), 0, dst, 2); err != nil {
			t.Fatal(err)
		}
		d, err := p.ConsumeFilledBuffer()
		if err != nil {
			t.Fatal(err)
		}
		silent = append(silent, d.Loudness.IsEntirelySilent)
	}

	if !silent[0] || silent[1] {
		t.Errorf("silence verdicts = %v, want [true false]", silent)
	}
	if dst[0][100] != 0.25 {
		t.Errorf("effect output = %v, want 0.25", dst[0][100])
	}
	if analyzer.FramesAdded() != 8000 {
		t.Errorf("analyzer saw %d frames, want 8000", analyzer.FramesAdded())
	}
	if len(pf.sizes) != 2 || pf.sizes[0] != 0.5*8000*2*2 {
		t.Errorf("prefetch sizes = %v", pf.sizes)
	}
	if len(fp.SubFingerprints()) == 0 {
		t.Error("fingerprinter was not fed")
	}
}

type recordingPrefetcher struct {
	sizes []int64
}

func (r *recordingPrefetcher) Prefetch(tok *cancel.Token, size int64) error {
	r.sizes = append(r.sizes, size)
	return tok.Check()
}

func TestPipeline_Close(t *testing.T) {
	t.Parallel()

	src := audiotest.NewSilentSource(8000, 2, 10)
	p := newTestPipeline(t, Options{
		Source:                src,
		DestinationSampleRate: 16000,
		DestinationChannels:   1,
		BufferTime:            0.1,
	})
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if !src.Closed {
		t.Error("Close() did not reach the decoder")
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	var ops cancel.Operations
	if _, err := p.Decode(ops.TokenForBufferFill(), 0, channelBuffers(1, 800), 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Decode() after Close error = %v, want ErrClosed", err)
	}
	if _, err := p.SeekFrame(0); !errors.Is(err, ErrClosed) {
		t.Errorf("SeekFrame() after Close error = %v, want ErrClosed", err)
	}
}

// blockingPrefetcher holds Decode inside the pipeline until released.
type blockingPrefetcher struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingPrefetcher) Prefetch(tok *cancel.Token, _ int64) error {
	close(b.entered)
	<-b.release
	return tok.Check()
}

func TestPipeline_CloseWaitsForDecode(t *testing.T) {
	t.Parallel()

	src := audiotest.NewSilentSource(8000, 1, 8000)
	pf := &blockingPrefetcher{entered: make(chan struct{}), release: make(chan struct{})}
	p := newTestPipeline(t, Options{
		Source:                src,
		DestinationSampleRate: 8000,
		DestinationChannels:   1,
		BufferTime:            0.1,
		Prefetcher:            pf,
	})

	var ops cancel.Operations
	decoded := make(chan error, 1)
	go func() {
		_, err := p.Decode(ops.TokenForBufferFill(), 0, channelBuffers(1, 800), 1)
		decoded <- err
	}()
	<-pf.entered

	closed := make(chan error, 1)
	go func() { closed <- p.Close() }()

	select {
	case <-closed:
		t.Fatal("Close() returned while Decode was reading")
	case <-time.After(20 * time.Millisecond):
	}

	close(pf.release)
	if err := <-decoded; err != nil {
		t.Errorf("Decode() error = %v", err)
	}
	if err := <-closed; err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !src.Closed {
		t.Error("Close() did not reach the decoder")
	}
}

var _ audio.Source = (*stage)(nil)
