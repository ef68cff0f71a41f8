// SPDX-License-Identifier: EPL-2.0

package pipeline

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/ik5/audfeed/audio"
	"github.com/ik5/audfeed/cancel"
	"github.com/ik5/audfeed/logger"
	"github.com/rs/zerolog"
)

// maxEmptyReads bounds consecutive empty reads before a decoder is
// considered stuck.
const maxEmptyReads = 64

// Prefetcher warms the byte source ahead of decoding.
type Prefetcher interface {
	Prefetch(tok *cancel.Token, size int64) error
}

// Options configures a Pipeline. Source, DestinationSampleRate,
// DestinationChannels and BufferTime are required; every processor is
// optional.
type Options struct {
	Source                audio.Source
	DestinationSampleRate int
	DestinationChannels   int
	// BufferTime is the target chunk length in seconds.
	BufferTime float64
	// MaxBytesPerFrame sizes prefetch requests.
	MaxBytesPerFrame float64
	// Duration of the track in seconds, used by the crossfader.
	Duration float64
	SourceID int

	// Analyzer only measures; Normalizer measures and applies gain.
	Analyzer      *LoudnessAnalyzer
	Normalizer    *LoudnessAnalyzer
	Effects       *Effects
	Crossfader    *Crossfader
	Fingerprinter *Fingerprinter
	Prefetcher    Prefetcher

	Logger zerolog.Logger
}

// stage runs the per-block processors on decoded audio, before any
// channel or rate conversion.
type stage struct {
	src        audio.Source
	analyzer   *LoudnessAnalyzer
	normalizer *LoudnessAnalyzer
	effects    *Effects
	crossfader *Crossfader
	duration   float64

	// source frames handed out since the last reset
	pos int64

	sawBlock bool
	silent   bool
}

func (s *stage) SampleRate() int { return s.src.SampleRate() }
func (s *stage) Channels() int   { return s.src.Channels() }
func (s *stage) BufSize() int    { return s.src.BufSize() }
func (s *stage) Close() error    { return s.src.Close() }

func (s *stage) beginChunk() {
	s.sawBlock = false
	s.silent = true
}

func (s *stage) entirelySilent() bool {
	return s.sawBlock && s.silent
}

func (s *stage) ReadSamples(dst []float32) (int, error) {
	n, err := s.src.ReadSamples(dst)
	if n == 0 {
		return n, err
	}

	channels := s.src.Channels()
	block := dst[:n]

	if s.analyzer != nil {
		s.analyzer.AddFrames(block)
	}

	info := LoudnessInfo{}
	if s.normalizer != nil {
		info = s.normalizer.Apply(block)
	}
	s.sawBlock = true
	s.silent = s.silent && info.IsEntirelySilent

	if s.effects != nil {
		s.effects.Apply(block, channels)
	}

	if s.crossfader != nil {
		rate := s.src.SampleRate()
		s.crossfader.Apply(block, channels, rate, float64(s.pos)/float64(rate), s.duration)
	}

	s.pos += int64(n / channels)
	return n, err
}

// Pipeline turns a decoder into fixed size, de-interleaved chunks at the
// destination format. It is not safe for concurrent Decode calls.
type Pipeline struct {
	mu sync.Mutex

	stage     *stage
	tail      audio.Source
	resampler *audio.Resampler

	srcRate, dstRate int
	dstChannels      int
	bufferTime       float64
	bufferFrames     int
	maxBytesPerFrame float64
	sourceID         int

	fingerprinter *Fingerprinter
	prefetcher    Prefetcher

	interleaved []float32
	filled      *BufferDescriptor

	// destination frames since track start
	outPos int64
	eof    bool
	ended  bool
	closed bool

	fadeTotal int64
	fadePos   int64

	log zerolog.Logger
}

func New(opts Options) (*Pipeline, error) {
	if opts.Source == nil {
		return nil, errors.New("pipeline: nil source")
	}
	if opts.DestinationSampleRate < 1 || opts.DestinationChannels < 1 {
		return nil, fmt.Errorf("pipeline: invalid destination %d ch @ %d Hz",
			opts.DestinationChannels, opts.DestinationSampleRate)
	}

	st := &stage{
		src:        opts.Source,
		analyzer:   opts.Analyzer,
		normalizer: opts.Normalizer,
		effects:    opts.Effects,
		crossfader: opts.Crossfader,
		duration:   opts.Duration,
	}

	p := &Pipeline{
		stage:            st,
		tail:             st,
		srcRate:          opts.Source.SampleRate(),
		dstRate:          opts.DestinationSampleRate,
		dstChannels:      opts.DestinationChannels,
		maxBytesPerFrame: opts.MaxBytesPerFrame,
		sourceID:         opts.SourceID,
		fingerprinter:    opts.Fingerprinter,
		prefetcher:       opts.Prefetcher,
		log:              logger.Component(opts.Logger, "pipeline").With().Int("source_id", opts.SourceID).Logger(),
	}

	if opts.Source.Channels() != opts.DestinationChannels {
		mixer, err := audio.NewChannelMixer(p.tail, opts.DestinationChannels)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		p.tail = mixer
	}
	if p.srcRate != p.dstRate {
		p.resampler = audio.NewResampler(p.tail, p.dstRate)
		p.tail = p.resampler
	}

	p.SetBufferTime(opts.BufferTime)
	return p, nil
}

// SetBufferTime changes the target chunk length.
func (p *Pipeline) SetBufferTime(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bufferTime = seconds
	p.bufferFrames = max(RenderQuantum, int(seconds*float64(p.dstRate)))
}

// BufferFrames is the target chunk length in destination frames.
func (p *Pipeline) BufferFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bufferFrames
}

func (p *Pipeline) HasFilledBuffer() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filled != nil
}

// ConsumeFilledBuffer hands over the descriptor of the last Decode.
func (p *Pipeline) ConsumeFilledBuffer() (BufferDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.filled == nil {
		return BufferDescriptor{}, ErrNoFilledBuffer
	}
	d := *p.filled
	p.filled = nil
	return d, nil
}

func (p *Pipeline) DropFilledBuffer() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filled = nil
}

// Ended reports whether the decoder has nothing more to give.
func (p *Pipeline) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// Exhausted reports whether the decoder hit the end of the stream. The
// chunk decoded last, if any, is the final one.
func (p *Pipeline) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eof || p.ended
}

// Position returns the track-relative destination frame the next chunk
// starts at.
func (p *Pipeline) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outPos
}

// SeekFrame repositions the decoder to a source frame and rebinds the
// pipeline to where it landed.
func (p *Pipeline) SeekFrame(frame int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	landed, err := audio.SeekFrame(p.stage.src, frame)
	if err != nil {
		return 0, fmt.Errorf("pipeline: %w", err)
	}
	p.resetLocked(landed)
	return landed, nil
}

// Reset rebinds the pipeline after the decoder moved to baseFrame.
func (p *Pipeline) Reset(baseFrame int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked(baseFrame)
}

func (p *Pipeline) resetLocked(baseFrame int64) {
	p.stage.pos = baseFrame
	p.outPos = int64(math.Round(float64(baseFrame) * float64(p.dstRate) / float64(p.srcRate)))
	if p.resampler != nil {
		p.resampler.Reset()
	}
	p.filled = nil
	p.eof = false
	p.ended = false
	p.fadeTotal, p.fadePos = 0, 0
}

// Decode fills dst (one slice per destination channel) with the next chunk
// and returns how many source frames were consumed. A fade-in of
// fadeInSeconds starts on a call made while no fade is running and
// continues across later calls. remainingHint scales the prefetch size.
//
// After a successful call a descriptor is waiting in ConsumeFilledBuffer,
// unless the track is exhausted, in which case Ended reports true.
func (p *Pipeline) Decode(tok *cancel.Token, fadeInSeconds float64, dst [][]float32, remainingHint float64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrClosed
	}
	if p.filled != nil {
		return 0, ErrBufferNotConsumed
	}
	if len(dst) != p.dstChannels {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrChannelMismatch, len(dst), p.dstChannels)
	}
	if p.ended {
		return 0, nil
	}

	target := p.bufferFrames
	for _, ch := range dst {
		target = min(target, len(ch))
	}

	started := time.Now()

	if p.prefetcher != nil {
		size := int64(p.bufferTime * float64(p.srcRate) * math.Ceil(p.maxBytesPerFrame) * max(1, remainingHint))
		if err := p.prefetcher.Prefetch(tok, size); err != nil {
			return 0, fmt.Errorf("prefetching: %w", err)
		}
	}
	if err := tok.Check(); err != nil {
		return 0, err
	}

	want := target * p.dstChannels
	if cap(p.interleaved) < want {
		p.interleaved = make([]float32, want)
	}
	buf := p.interleaved[:want]

	p.stage.beginChunk()
	before := p.stage.pos

	got, empty := 0, 0
	for got < len(buf) && !p.eof {
		n, err := p.tail.ReadSamples(buf[got:])
		got += n

		switch {
		case errors.Is(err, io.EOF):
			p.eof = true
		case err != nil:
			if tok.IsCancelled() {
				return p.stage.pos - before, tok.Check()
			}
			return p.stage.pos - before, fmt.Errorf("decoding: %w", err)
		case n == 0:
			empty++
			if empty >= maxEmptyReads {
				return p.stage.pos - before, audio.ErrNoProgress
			}
		default:
			empty = 0
		}
	}
	consumed := p.stage.pos - before

	if err := tok.Check(); err != nil {
		return consumed, err
	}

	frames := got / p.dstChannels
	if frames == 0 {
		p.ended = true
		p.log.Debug().Int64("position", p.outPos).Msg("decoder exhausted")
		return consumed, nil
	}

	if p.fingerprinter != nil && p.fingerprinter.NeedFrames() {
		p.fingerprinter.NewFrames(buf[:frames*p.dstChannels], p.dstChannels)
	}

	if fadeInSeconds <= 0 {
		p.fadeTotal, p.fadePos = 0, 0
	} else if p.fadePos >= p.fadeTotal {
		p.fadeTotal = int64(fadeInSeconds * float64(p.dstRate))
		p.fadePos = 0
	}

	for ch, out := range dst {
		for f := range frames {
			v := buf[f*p.dstChannels+ch]
			if p.fadeTotal > 0 {
				v *= fadeInGain(p.fadePos+int64(f), p.fadeTotal)
			}
			out[f] = v
		}
	}
	if p.fadeTotal > 0 {
		p.fadePos += int64(frames)
	}

	length := frames
	if frames < target {
		length = min(target, (frames+RenderQuantum-1)/RenderQuantum*RenderQuantum)
		for _, out := range dst {
			clear(out[frames:length])
		}
	}

	p.filled = &BufferDescriptor{
		Length:       length,
		StartFrames:  p.outPos,
		EndFrames:    p.outPos + int64(length),
		Loudness:     LoudnessInfo{IsEntirelySilent: p.stage.entirelySilent()},
		SampleRate:   p.dstRate,
		ChannelCount: p.dstChannels,
		// wall time spent decoding this chunk
		DecodingLatency: time.Since(started),
		SourceID:        p.sourceID,
	}
	p.outPos += int64(length)

	p.log.Debug().
		Int("length", length).
		Int64("start", p.filled.StartFrames).
		Bool("silent", p.filled.Loudness.IsEntirelySilent).
		Msg("chunk decoded")

	return consumed, nil
}

// Close releases the decoder chain once a running Decode returned. Later
// calls are no-ops.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.filled = nil
	if err := p.tail.Close(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}
