// SPDX-License-Identifier: EPL-2.0

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ik5/audfeed/audio"
	"github.com/ik5/audfeed/cancel"
	"github.com/ik5/audfeed/logger"
	"github.com/ik5/audfeed/pipeline"
	"github.com/ik5/audfeed/utils"
	"github.com/rs/zerolog"
)

// MinimumCrossfadeTrackPadding is how much longer than the crossfade a
// track must be for the crossfade to apply.
const MinimumCrossfadeTrackPadding = 3.0

// Config is shared by every source a backend creates.
type Config struct {
	Registry *audio.Registry
	Opener   Opener
	Store    LoudnessStore

	// Destination format of every chunk.
	SampleRate int
	Channels   int
	BufferTime float64

	Effects     *pipeline.Effects
	Fingerprint bool

	Logger zerolog.Logger
}

// Metadata describes a loaded track.
type Metadata struct {
	Codec       string
	UID         uuid.UUID
	Duration    float64
	SampleRate  int
	Channels    int
	TotalFrames int64
	ByteSize    int64
}

type LoadOptions struct {
	FileReference string
	IsPreload     bool
	// CrossfadeDuration in seconds; 0 disables fades.
	CrossfadeDuration float64
	// Progress in [0, 1) to start from.
	Progress float64
}

type LoadResult struct {
	BaseTime float64
	// BaseFrame is BaseTime at the destination rate.
	BaseFrame int64
	Token     *cancel.Token
	Metadata  Metadata
}

type SeekResult struct {
	BaseTime float64
	Token    *cancel.Token
}

// ChunkFunc receives each decoded chunk. channels holds one slice per
// destination channel and is owned by the callee.
type ChunkFunc func(desc pipeline.BufferDescriptor, channels [][]float32) error

type FillOptions struct {
	// Token to bind the fill to. A fresh buffer fill token is taken when nil.
	Token         *cancel.Token
	FadeInSeconds float64
	// BufferTime overrides the configured chunk length when positive.
	BufferTime            float64
	LoudnessNormalization bool
	SilenceTrimming       bool
}

// Source owns the decoding of one track: its file, decoder and processing
// pipeline.
type Source struct {
	id  int
	cfg Config
	ops cancel.Operations
	log zerolog.Logger

	mu          sync.Mutex
	view        *FileView
	pipe        *pipeline.Pipeline
	normalizer  *pipeline.LoudnessAnalyzer
	crossfader  *pipeline.Crossfader
	fingerprint *pipeline.Fingerprinter
	meta        Metadata
	bufferTime  float64

	initialized   bool
	destroyed     bool
	ended         bool
	fillTok       *cancel.Token
	fillDone      chan struct{}
	destroyOnFill bool
}

// New creates an unloaded source.
func New(id int, cfg Config) *Source {
	return &Source{
		id:         id,
		cfg:        cfg,
		log:        logger.Component(cfg.Logger, "source").With().Int("source_id", id).Logger(),
		crossfader: pipeline.NewCrossfader(),
		bufferTime: cfg.BufferTime,
	}
}

func (s *Source) ID() int { return s.id }

func (s *Source) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Source) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

func (s *Source) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Source) FillInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fillTok != nil
}

// Duration in seconds, 0 before Load.
func (s *Source) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.Duration
}

func (s *Source) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// CrossfadeDuration is the effective crossfade, 0 for short tracks.
func (s *Source) CrossfadeDuration() float64 {
	return s.crossfader.Duration()
}

// Fingerprint returns the track fingerprint once enough audio went through
// the pipeline.
func (s *Source) Fingerprint() (string, bool) {
	s.mu.Lock()
	fp := s.fingerprint
	s.mu.Unlock()

	if fp == nil || fp.NeedFrames() {
		return "", false
	}
	v, err := fp.Fingerprint()
	if err != nil {
		return "", false
	}
	return v, true
}

func (s *Source) configureCrossfade(seconds float64, fadeIn bool) {
	if s.meta.Duration < seconds+MinimumCrossfadeTrackPadding {
		seconds = 0
	}
	s.crossfader.SetDuration(seconds)
	s.crossfader.SetFadeInEnabled(fadeIn)
	s.crossfader.SetFadeOutEnabled(true)
}

// Load opens the track and prepares the pipeline.
func (s *Source) Load(ctx context.Context, opts LoadOptions) (LoadResult, error) {
	tok := s.ops.TokenForLoad()
	log := s.log.With().Str("track", opts.FileReference).Logger()

	s.mu.Lock()
	switch {
	case s.destroyed:
		s.mu.Unlock()
		return LoadResult{}, ErrDestroyed
	case s.initialized || s.pipe != nil:
		s.mu.Unlock()
		return LoadResult{}, ErrAlreadyLoaded
	}
	s.mu.Unlock()

	f, err := s.cfg.Opener.Open(ctx, opts.FileReference)
	if err != nil {
		return LoadResult{}, fmt.Errorf("loading %s: %w", opts.FileReference, err)
	}
	view := NewFileView(f)

	fail := func(err error) (LoadResult, error) {
		view.Close()
		return LoadResult{}, err
	}
	if err := tok.Check(); err != nil {
		return fail(err)
	}

	header := make([]byte, audio.SniffSize)
	n, err := io.ReadFull(view, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fail(fmt.Errorf("reading header: %w", err))
	}
	format, err := s.cfg.Registry.Sniff(header[:n])
	if err != nil {
		return fail(fmt.Errorf("%w: %s", ErrUnsupportedFile, opts.FileReference))
	}
	if _, err := view.Seek(0, io.SeekStart); err != nil {
		return fail(err)
	}

	dec, err := format.Decoder.Decode(view)
	if err != nil {
		return fail(fmt.Errorf("invalid %s file: %w", format.Name, err))
	}
	if err := tok.Check(); err != nil {
		dec.Close()
		return fail(err)
	}

	meta := Metadata{
		Codec:       format.Name,
		UID:         TrackUID(opts.FileReference),
		SampleRate:  dec.SampleRate(),
		Channels:    dec.Channels(),
		TotalFrames: audio.Frames(dec),
		ByteSize:    view.Size(),
	}
	if meta.TotalFrames > 0 {
		meta.Duration = utils.FramesToSeconds(meta.TotalFrames, meta.SampleRate)
	}

	normalizer := s.restoreLoudness(ctx, meta)

	var fp *pipeline.Fingerprinter
	if s.cfg.Fingerprint {
		fp = pipeline.NewFingerprinter(s.cfg.SampleRate)
	}

	s.mu.Lock()
	s.meta = meta
	s.configureCrossfade(opts.CrossfadeDuration, opts.IsPreload)
	s.mu.Unlock()

	pipe, err := pipeline.New(pipeline.Options{
		Source:                dec,
		DestinationSampleRate: s.cfg.SampleRate,
		DestinationChannels:   s.cfg.Channels,
		BufferTime:            s.bufferTime,
		MaxBytesPerFrame:      format.MaxBytesPerFrame,
		Duration:              meta.Duration,
		SourceID:              s.id,
		Normalizer:            normalizer,
		Effects:               s.cfg.Effects,
		Crossfader:            s.crossfader,
		Fingerprinter:         fp,
		Prefetcher:            view,
		Logger:                s.cfg.Logger,
	})
	if err != nil {
		dec.Close()
		return fail(err)
	}

	s.mu.Lock()
	if s.destroyed || s.pipe != nil {
		err := ErrDestroyed
		if !s.destroyed {
			err = ErrAlreadyLoaded
		}
		s.mu.Unlock()
		pipe.Close()
		return fail(err)
	}
	s.view = view
	s.pipe = pipe
	s.normalizer = normalizer
	s.fingerprint = fp
	s.mu.Unlock()

	res := LoadResult{Token: tok, Metadata: meta}
	if opts.Progress > 0 && meta.Duration > 0 {
		t := min(opts.Progress*meta.Duration, meta.Duration-s.crossfader.Duration())
		sr, err := s.seek(ctx, max(0, t), opts.CrossfadeDuration, tok)
		if err != nil {
			return LoadResult{}, err
		}
		res.BaseTime = min(meta.Duration, max(0, sr.BaseTime))
		res.BaseFrame = utils.SecondsToFrames(res.BaseTime, s.cfg.SampleRate)
		// seeking turns fade-in off, a preload still wants it
		s.crossfader.SetFadeInEnabled(opts.IsPreload)
	}

	if err := tok.Check(); err != nil {
		return LoadResult{}, err
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()

	log.Info().
		Str("codec", meta.Codec).
		Float64("duration", meta.Duration).
		Int("sample_rate", meta.SampleRate).
		Int("channels", meta.Channels).
		Bool("preload", opts.IsPreload).
		Msg("track loaded")

	return res, nil
}

func (s *Source) restoreLoudness(ctx context.Context, meta Metadata) *pipeline.LoudnessAnalyzer {
	if s.cfg.Store != nil {
		data, ok, err := s.cfg.Store.LoudnessState(ctx, meta.UID)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Msg("loading loudness state")
		case ok:
			a, err := pipeline.NewLoudnessAnalyzerFromState(data)
			if err == nil && a.SampleRate() == meta.SampleRate && a.Channels() == meta.Channels {
				return a
			}
			s.log.Debug().Err(err).Msg("discarding loudness state")
		}
	}
	return pipeline.NewLoudnessAnalyzer(meta.SampleRate, meta.Channels)
}

// Seek moves decoding to at seconds. Any running fill is cancelled first.
func (s *Source) Seek(ctx context.Context, at, crossfade float64) (SeekResult, error) {
	return s.seek(ctx, at, crossfade, s.ops.TokenForSeek())
}

// TokenForBufferFill supersedes running fills and returns a token for the
// next one.
func (s *Source) TokenForBufferFill() *cancel.Token {
	return s.ops.TokenForBufferFill()
}

func (s *Source) seek(ctx context.Context, t, crossfade float64, tok *cancel.Token) (SeekResult, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return SeekResult{}, ErrDestroyed
	}
	pipe := s.pipe
	fill := s.fillDone
	s.mu.Unlock()

	if pipe == nil {
		return SeekResult{}, ErrNotInitialized
	}

	if fill != nil {
		s.ops.CancelAllBufferFills()
		select {
		case <-fill:
		case <-ctx.Done():
			return SeekResult{}, ctx.Err()
		}
	}
	if err := tok.Check(); err != nil {
		return SeekResult{}, err
	}

	rate := s.Metadata().SampleRate
	landed, err := pipe.SeekFrame(utils.SecondsToFrames(t, rate))
	if err != nil {
		return SeekResult{}, fmt.Errorf("seeking to %.3fs: %w", t, err)
	}

	s.mu.Lock()
	s.ended = false
	s.configureCrossfade(crossfade, false)
	s.mu.Unlock()

	base := utils.FramesToSeconds(landed, rate)
	s.log.Debug().Float64("requested", t).Float64("base_time", base).Msg("seeked")

	return SeekResult{BaseTime: base, Token: tok}, nil
}

// FillBuffers decodes up to count chunks and hands each to onChunk. It
// returns nil when count chunks were produced or the track ended, and a
// *cancel.CancellationError when the fill token was superseded.
func (s *Source) FillBuffers(count int, onChunk ChunkFunc, opts FillOptions) (err error) {
	s.mu.Lock()
	if s.ended || s.destroyed {
		s.mu.Unlock()
		return nil
	}
	if s.pipe == nil {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if s.fillTok != nil {
		s.mu.Unlock()
		return ErrParallelFill
	}

	tok := opts.Token
	if tok == nil {
		tok = s.ops.TokenForBufferFill()
	}
	s.fillTok = tok
	done := make(chan struct{})
	s.fillDone = done
	pipe, normalizer := s.pipe, s.normalizer
	meta := s.meta
	s.mu.Unlock()

	defer s.finishFill(tok, done)

	normalizer.SetNormalizationEnabled(opts.LoudnessNormalization)
	normalizer.SetSilenceTrimmingEnabled(opts.SilenceTrimming)
	if opts.BufferTime > 0 {
		pipe.SetBufferTime(opts.BufferTime)
	}
	target := pipe.BufferFrames()
	rate := s.cfg.SampleRate
	crossfade := s.crossfader.Duration()
	fadeIn := opts.FadeInSeconds
	bufferTime := float64(target) / float64(rate)

	for i := 0; i < count; i++ {
		started := time.Now()

		dst := make([][]float32, s.cfg.Channels)
		for ch := range dst {
			dst[ch] = make([]float32, target)
		}

		if _, err := pipe.Decode(tok, fadeIn, dst, float64(count-i)); err != nil {
			if tok.IsCancelled() {
				pipe.DropFilledBuffer()
				return tok.Check()
			}
			return fmt.Errorf("decoding chunk: %w", err)
		}

		if !pipe.HasFilledBuffer() {
			s.markEnded()
			break
		}
		desc, err := pipe.ConsumeFilledBuffer()
		if err != nil {
			return err
		}

		if fadeIn > 0 {
			fadeIn = max(0, fadeIn-float64(desc.Length)/float64(rate))
		}

		if crossfade > 0 {
			fadeOutStart := int64((meta.Duration - crossfade) * float64(rate))
			switch {
			case desc.StartFrames > fadeOutStart:
				desc.IsFadeOutBuffer = true
			case desc.EndFrames >= fadeOutStart:
				count += int(math.Ceil(crossfade / bufferTime))
			}
		}

		last := pipe.Exhausted()
		desc.IsLastBuffer = last
		desc.Length = min(desc.Length, target)
		desc.DecodingLatency = time.Since(started)

		if err := onChunk(desc, dst); err != nil {
			return err
		}
		if last {
			s.markEnded()
			break
		}
		if err := tok.Check(); err != nil {
			return err
		}
	}

	return nil
}

func (s *Source) markEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ended = true
}

func (s *Source) finishFill(tok *cancel.Token, done chan struct{}) {
	// clear the fill state first so an acknowledged fill never reads as running
	s.mu.Lock()
	s.fillTok = nil
	s.fillDone = nil
	destroy := s.destroyOnFill
	s.mu.Unlock()

	// tokens outlive a fill, so only a superseded one is acknowledged here
	if tok.IsCancelled() {
		tok.Signal()
	}
	close(done)

	if destroy {
		s.Destroy()
	}
}

// DestroyAfterBuffersFilled destroys the source now, or once the running
// fill returns. It never blocks on the fill.
func (s *Source) DestroyAfterBuffersFilled() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	if s.fillDone != nil {
		s.destroyOnFill = true
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.mu.Unlock()

	s.ops.CancelAll()
	if err := s.release(); err != nil {
		s.log.Warn().Err(err).Msg("destroying")
	}
}

// CancelAllOperations invalidates every outstanding token.
func (s *Source) CancelAllOperations() {
	s.ops.CancelAll()
}

// BufferFillAcknowledged returns a channel closed once the running fill,
// if any, stopped touching the source.
func (s *Source) BufferFillAcknowledged() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fillDone == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.fillDone
}

// Destroy cancels all work, waits for a running fill to acknowledge, saves
// the loudness state and releases the file. It is idempotent and must not
// be called from inside a ChunkFunc.
func (s *Source) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	fill := s.fillDone
	s.mu.Unlock()

	s.ops.CancelAll()
	if fill != nil {
		<-fill
	}
	return s.release()
}

// release saves the loudness state and closes the pipeline and file of a
// source already marked destroyed with no fill running.
func (s *Source) release() error {
	s.mu.Lock()
	pipe, view, normalizer, meta := s.pipe, s.view, s.normalizer, s.meta
	s.pipe, s.view = nil, nil
	s.mu.Unlock()

	var errs []error
	if normalizer != nil && s.cfg.Store != nil {
		state, err := normalizer.MarshalState()
		if err == nil {
			err = s.cfg.Store.SaveLoudnessState(context.Background(), meta.UID, state)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("saving loudness state: %w", err))
		}
	}
	if pipe != nil {
		if err := pipe.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if view != nil {
		if err := view.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.log.Debug().Msg("destroyed")
	return errors.Join(errs...)
}
