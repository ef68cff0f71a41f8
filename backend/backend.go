// SPDX-License-Identifier: EPL-2.0

package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ik5/audfeed/audio"
	"github.com/ik5/audfeed/cancel"
	"github.com/ik5/audfeed/feeder"
	"github.com/ik5/audfeed/logger"
	"github.com/ik5/audfeed/pipeline"
	"github.com/ik5/audfeed/source"
	"github.com/ik5/audfeed/utils"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SwapTarget is what the next swap exchanges.
type SwapTarget int

const (
	NoSwap SwapTarget = iota
	// SwapAll exchanges the sources and the active/passive feeders (crossfade).
	SwapAll
	// SwapAudioSources only replaces the main source (gapless).
	SwapAudioSources
)

func (t SwapTarget) String() string {
	switch t {
	case NoSwap:
		return "no-swap"
	case SwapAll:
		return "all"
	case SwapAudioSources:
		return "audio-sources"
	default:
		return "unknown"
	}
}

// Options are the backend's collaborators.
type Options struct {
	Registry *audio.Registry
	Opener   source.Opener
	Store    source.LoudnessStore
	Sink     Sink
	Observer Observer

	// Fingerprint enables the fingerprint result for every main track.
	Fingerprint bool

	Logger zerolog.Logger
}

// Status is a snapshot of the backend state.
type Status struct {
	CurrentTime float64
	TotalTime   float64
	SwapTargets SwapTarget
	// Active is the slot (0 or 1) of the foreground feeder.
	Active    int
	MainID    int
	PreloadID int
	Paused    bool
}

// Backend drives decoding for a two-buffer player. Every handler may be
// called from any goroutine; long running work happens on goroutines the
// backend owns until Close.
type Backend struct {
	opts    Options
	log     zerolog.Logger
	sink    Sink
	obs     Observer
	effects *pipeline.Effects
	now     func() time.Time

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
	cfg    *Config

	data   [2]*feeder.Data
	active int

	main       *source.Source
	preloading *source.Source
	// slot the preload writes to, -1 until it picked one
	preloadSlot    int
	preloadStarted bool
	discarded      []*source.Source

	swapTargets     SwapTarget
	seekFrameOffset int64
	lastCleanup     time.Time
	tick            chan struct{}

	nextTrackWaiters []chan struct{}
	noNextTrack      bool

	nextID          int
	fingerprintSent int
}

// New creates a backend that waits for InitialAudioConfiguration.
func New(opts Options) *Backend {
	if opts.Sink == nil {
		opts.Sink = SinkFunc(func(Result) {})
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Store == nil {
		opts.Store = source.NewMemoryStore()
	}

	effects, _ := pipeline.NewEffects(nil)
	ctx, stop := context.WithCancel(context.Background())

	return &Backend{
		opts:        opts,
		log:         logger.Component(opts.Logger, "backend"),
		sink:        opts.Sink,
		obs:         opts.Observer,
		effects:     effects,
		now:         time.Now,
		ctx:         ctx,
		stop:        stop,
		preloadSlot: -1,
		tick:        make(chan struct{}),
	}
}

// InitialAudioConfiguration sets up the feeders. It is accepted once.
func (b *Backend) InitialAudioConfiguration(cfg Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.cfg != nil {
		return ErrAlreadyConfigured
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	if err := b.effects.Set(cfg.Effects); err != nil {
		return err
	}
	cfg.snap()
	b.cfg = &cfg

	b.data[0] = feeder.New(cfg.Foreground, feeder.Foreground, b.opts.Logger)
	b.data[1] = feeder.New(cfg.Background, feeder.Background, b.opts.Logger)
	b.active = 0
	b.data[0].SetAsForeground()
	b.data[1].SetAsBackground()
	b.data[0].Pause(0)

	b.log.Info().
		Int("sample_rate", cfg.SampleRate).
		Int("channels", cfg.Channels).
		Float64("buffer_time", cfg.BufferTime).
		Float64("crossfade", cfg.CrossfadeDuration).
		Msg("backend initialized")
	return nil
}

// AudioConfigurationChange merges the set fields of u into the configuration.
func (b *Backend) AudioConfigurationChange(u ConfigUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg == nil {
		return ErrNotConfigured
	}

	next := *b.cfg
	next.merge(u)
	if err := next.validateTunables(); err != nil {
		return err
	}
	if u.Effects != nil {
		if err := b.effects.Set(next.Effects); err != nil {
			return err
		}
	}
	if u.BufferTime != nil && u.SustainedSeconds == nil {
		next.SustainedSeconds = 0
	}
	next.snap()
	*b.cfg = next

	b.log.Debug().Float64("buffer_time", next.BufferTime).Float64("crossfade", next.CrossfadeDuration).Msg("configuration changed")
	return nil
}

// Config returns the current configuration.
func (b *Backend) Config() (Config, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg == nil {
		return Config{}, ErrNotConfigured
	}
	return *b.cfg, nil
}

func (b *Backend) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{SwapTargets: b.swapTargets, Active: b.active}
	if b.cfg == nil {
		return st
	}
	st.CurrentTime = b.currentTimeLocked()
	st.TotalTime = b.totalTimeLocked()
	st.Paused = b.data[b.active].IsPaused()
	if b.main != nil {
		st.MainID = b.main.ID()
	}
	if b.preloading != nil {
		st.PreloadID = b.preloading.ID()
	}
	return st
}

// SamplesAtRelativeFramesFromCurrent copies upcoming audio of the active
// feeder for visualization. Nothing is copied while paused.
func (b *Backend) SamplesAtRelativeFramesFromCurrent(latency time.Duration, frames int, dst []float32) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg == nil {
		return 0
	}
	d := b.data[b.active]
	if d.IsPaused() {
		return 0
	}
	offset := utils.SecondsToFrames(latency.Seconds(), b.cfg.SampleRate)
	return d.SamplesAtRelativeFramesFromCurrent(offset, frames, dst)
}

// TimeUpdate is the scheduling tick.
func (b *Backend) TimeUpdate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg == nil || b.closed {
		return
	}
	b.timeUpdateLocked(true)
}

func (b *Backend) passiveLocked() int { return 1 - b.active }

func (b *Backend) currentTimeLocked() float64 {
	return utils.FramesToSeconds(b.data[b.active].CurrentlyPlayedFrame(), b.cfg.SampleRate)
}

func (b *Backend) totalTimeLocked() float64 {
	if b.main != nil && b.main.Initialized() {
		return b.main.Duration()
	}
	return 0
}

// crossfadeForLocked is the crossfade between the main source and src, 0
// when either is too short.
func (b *Backend) crossfadeForLocked(src *source.Source) float64 {
	if src == nil || !src.Initialized() || b.main == nil || !b.main.Initialized() {
		return 0
	}
	cf := b.cfg.CrossfadeDuration
	if src.Duration() < cf+MinimumDuration || b.main.Duration() < cf+MinimumDuration {
		return 0
	}
	return cf
}

func (b *Backend) timeUpdateLocked(resolveWaiters bool) {
	b.sendTimeUpdateLocked()

	if resolveWaiters {
		close(b.tick)
		b.tick = make(chan struct{})
	}

	now := b.now()
	if now.Sub(b.lastCleanup) > time.Duration(b.cfg.BufferTime*float64(time.Second)) {
		b.data[b.passiveLocked()].Cleanup()
		b.data[b.active].Cleanup()
		b.lastCleanup = now
	}
	for _, slot := range []int{b.passiveLocked(), b.active} {
		if err := b.data[slot].WriteToAudioBuffer(); err != nil {
			b.log.Warn().Err(err).Int("slot", slot).Msg("writing to ring buffer")
		}
	}

	rate := b.cfg.SampleRate
	b.obs.BufferLevels(
		b.data[b.active].QueuedAndBufferedSeconds(rate),
		b.data[b.passiveLocked()].QueuedAndBufferedSeconds(rate),
	)
}

func (b *Backend) sendTimeUpdateLocked() {
	total, current := b.totalTimeLocked(), b.currentTimeLocked()

	if total > 0 && total > current {
		remaining := total - current
		cf := b.crossfadeForLocked(b.main)
		if remaining <= cf+PreloadThresholdSeconds {
			b.requestNextTrackIfNeededLocked("time update")
		}
		if cf > 0 && remaining <= cf {
			b.checkSwapLocked()
		}
	}

	b.postTimeUpdateLocked(current, total)
}

func (b *Backend) postTimeUpdateLocked(current, total float64) {
	if total > 0 && total >= current {
		b.sink.Send(Result{Type: ResultTimeUpdate, CurrentTime: current, TotalTime: total})
	}
}

func (b *Backend) setSwapTargetsLocked(t SwapTarget, origin string) {
	if b.swapTargets != t {
		b.log.Debug().Stringer("from", b.swapTargets).Stringer("to", t).Str("origin", origin).Msg("swap targets")
	}
	b.swapTargets = t
}

// checkSwapLocked performs a pending swap and reports whether there was one.
func (b *Backend) checkSwapLocked() bool {
	target := b.swapTargets
	if target == NoSwap {
		return false
	}

	b.setSwapTargetsLocked(NoSwap, "check swap")
	b.seekFrameOffset = 0
	if b.main != nil {
		b.discarded = append(b.discarded, b.main)
	}
	b.main = b.preloading
	b.preloading = nil
	b.preloadSlot = -1
	b.preloadStarted = false

	if target == SwapAll {
		b.active = b.passiveLocked()
		b.data[b.active].SetAsForeground()
		b.data[b.passiveLocked()].SetAsBackground()
	} else {
		b.data[b.active].ClearOffsets(0)
	}

	b.obs.TrackSwapped(target)
	b.log.Info().Stringer("target", target).Int("active", b.active).Msg("preloaded track started playing")
	b.sink.Send(Result{Type: ResultPreloadedTrackStartedPlaying})
	return true
}

func (b *Backend) newSourceLocked() *source.Source {
	b.nextID++
	return source.New(b.nextID, source.Config{
		Registry:    b.opts.Registry,
		Opener:      b.opts.Opener,
		Store:       b.opts.Store,
		SampleRate:  b.cfg.SampleRate,
		Channels:    b.cfg.Channels,
		BufferTime:  b.cfg.BufferTime,
		Effects:     b.effects,
		Fingerprint: b.opts.Fingerprint,
		Logger:      b.opts.Logger,
	})
}

// requestNextTrackIfNeededLocked asks the host for the next track unless a
// request is outstanding. The returned channel, nil when nothing was
// requested, closes once the answer was handled.
func (b *Backend) requestNextTrackIfNeededLocked(origin string) <-chan struct{} {
	if b.preloading != nil || b.noNextTrack {
		return nil
	}

	b.preloading = b.newSourceLocked()
	b.preloadSlot = -1
	b.preloadStarted = false
	ch := make(chan struct{})
	b.nextTrackWaiters = append(b.nextTrackWaiters, ch)

	b.log.Debug().Str("origin", origin).Msg("requesting next track")
	b.sink.Send(Result{Type: ResultNextTrackRequest})
	return ch
}

func (b *Backend) resolveNextTrackResponsesLocked() {
	for _, ch := range b.nextTrackWaiters {
		close(ch)
	}
	b.nextTrackWaiters = nil
}

// surfaceLocked reports err to the host unless it is a cancellation.
// It returns true for cancellations.
func (b *Backend) surfaceLocked(op string, src *source.Source, err error) bool {
	if cancel.IsCancellation(err) || errors.Is(err, context.Canceled) || errors.Is(err, source.ErrDestroyed) ||
		(src != nil && src.Destroyed()) {
		b.log.Debug().Err(err).Str("op", op).Msg("operation cancelled")
		return true
	}

	oe := &OperationError{Op: op, Err: err}
	b.obs.OperationFailed(op)
	b.log.Warn().Err(err).Str("op", op).Msg("operation failed")
	b.sink.Send(Result{Type: ResultError, Message: oe.Error()})
	return false
}

// awaitLocked releases the lock until ch is closed or ctx is done.
func (b *Backend) awaitLocked(ctx context.Context, ch <-chan struct{}) error {
	b.mu.Unlock()
	defer b.mu.Lock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) waitTickLocked(ctx context.Context) error {
	return b.awaitLocked(ctx, b.tick)
}

func (b *Backend) destroyLocked(src *source.Source) {
	b.mu.Unlock()
	err := src.Destroy()
	b.mu.Lock()

	if err != nil {
		b.log.Warn().Err(err).Int("source_id", src.ID()).Msg("destroying source")
	}
	kept := b.discarded[:0]
	for _, d := range b.discarded {
		if d != src {
			kept = append(kept, d)
		}
	}
	b.discarded = kept
}

// teardown is the part of a cancellation that has to be awaited without
// the lock.
type teardown struct {
	ack     <-chan struct{}
	destroy []*source.Source
}

// cancelLoadingBuffersLocked cancels every operation of the main source and
// detaches the preload and discarded sources.
func (b *Backend) cancelLoadingBuffersLocked(reason string) teardown {
	b.setSwapTargetsLocked(NoSwap, reason)
	if b.main == nil {
		return teardown{}
	}

	td := teardown{ack: b.main.BufferFillAcknowledged()}
	b.main.CancelAllOperations()
	if b.preloading != nil {
		td.destroy = append(td.destroy, b.preloading)
		b.preloading = nil
		b.preloadSlot = -1
		b.preloadStarted = false
	}
	td.destroy = append(td.destroy, b.discarded...)
	b.discarded = nil
	b.resolveNextTrackResponsesLocked()

	b.log.Debug().Str("reason", reason).Int("destroying", len(td.destroy)).Msg("cancelled loading buffers")
	return td
}

func (b *Backend) awaitTeardownLocked(ctx context.Context, td teardown) error {
	b.mu.Unlock()
	defer b.mu.Lock()
	return td.wait(ctx, b.log)
}

func (td teardown) wait(ctx context.Context, log zerolog.Logger) error {
	g, _ := errgroup.WithContext(ctx)
	if td.ack != nil {
		g.Go(func() error {
			select {
			case <-td.ack:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	for _, src := range td.destroy {
		g.Go(func() error {
			if err := src.Destroy(); err != nil {
				log.Warn().Err(err).Int("source_id", src.ID()).Msg("destroying source")
			}
			return nil
		})
	}
	return g.Wait()
}

// spawn runs fn on a backend goroutine with the lock held.
func (b *Backend) spawnLocked(fn func(ctx context.Context)) error {
	if b.closed {
		return ErrClosed
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		fn(b.ctx)
	}()
	return nil
}

// Load replaces the main track.
func (b *Backend) Load(req LoadRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg == nil {
		return ErrNotConfigured
	}
	if b.closed {
		return ErrClosed
	}

	td := b.cancelLoadingBuffersLocked("load invalidates buffers")
	if b.main != nil {
		td.destroy = append(td.destroy, b.main)
	}
	src := b.newSourceLocked()
	b.main = src
	b.noNextTrack = false
	b.resolveNextTrackResponsesLocked()

	return b.spawnLocked(func(ctx context.Context) {
		b.load(ctx, src, req, td)
	})
}

func (b *Backend) load(ctx context.Context, src *source.Source, req LoadRequest, td teardown) {
	if err := b.awaitTeardownLocked(ctx, td); err != nil {
		return
	}
	if b.main != src {
		return
	}

	slot := b.active
	crossfade := b.cfg.CrossfadeDuration
	log := b.log.With().Int("source_id", src.ID()).Str("track", req.FileReference).Logger()

	b.mu.Unlock()
	res, err := src.Load(ctx, source.LoadOptions{
		FileReference:     req.FileReference,
		CrossfadeDuration: crossfade,
		Progress:          req.Progress,
	})
	b.mu.Lock()

	if err == nil {
		err = res.Token.Check()
	}
	if err != nil {
		if !b.surfaceLocked("load", src, err) && b.main == src {
			b.main = nil
			b.destroyLocked(src)
		}
		return
	}
	if b.main != src {
		return
	}

	log.Info().Int64("base_frame", res.BaseFrame).Float64("duration", res.Metadata.Duration).Msg("track loaded")
	b.seekFrameOffset = res.BaseFrame
	b.postTimeUpdateLocked(float64(res.BaseFrame)/float64(b.cfg.SampleRate), src.Duration())

	b.fillBuffersLoopLocked(ctx, slot, src, res.Token, fillLoopOptions{
		clear:          feeder.ClearAndSetOffset,
		overrideNeeded: true,
		resume:         req.ResumeAfterInitialization,
		fadeIn:         LoadFadeInSeconds,
	}, "load")
}

// Seek moves the main track to req.Time, clamped so the crossfade still fits.
func (b *Backend) Seek(req SeekRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg == nil {
		return ErrNotConfigured
	}
	src := b.main
	if src == nil || !src.Initialized() {
		return nil
	}

	td := b.cancelLoadingBuffersLocked("seek invalidates buffers")
	limit := b.totalTimeLocked() - b.crossfadeForLocked(src) - TimeUpdateResolution - b.cfg.BufferTime
	at := max(0, min(limit, req.Time))
	b.postTimeUpdateLocked(at, src.Duration())

	return b.spawnLocked(func(ctx context.Context) {
		b.seek(ctx, src, at, req.ResumeAfterInitialization, td)
	})
}

func (b *Backend) seek(ctx context.Context, src *source.Source, at float64, resume bool, td teardown) {
	if err := b.awaitTeardownLocked(ctx, td); err != nil {
		return
	}
	if b.main != src {
		return
	}

	crossfade := b.crossfadeForLocked(src)
	slot := b.active

	b.mu.Unlock()
	res, err := src.Seek(ctx, at, crossfade)
	b.mu.Lock()

	if err == nil {
		err = res.Token.Check()
	}
	if err != nil {
		b.surfaceLocked("seek", src, err)
		return
	}
	if b.main != src {
		return
	}

	b.seekFrameOffset = utils.SecondsToFrames(res.BaseTime, b.cfg.SampleRate)
	b.postTimeUpdateLocked(res.BaseTime, src.Duration())
	b.log.Debug().Float64("time", at).Float64("base_time", res.BaseTime).Msg("seek initialized")

	b.fillBuffersLoopLocked(ctx, slot, src, res.Token, fillLoopOptions{
		clear:          feeder.ClearAndSetOffset,
		overrideNeeded: true,
		resume:         resume,
		fadeIn:         LoadFadeInSeconds,
	}, "seek")
}

// Pause fades out the active feeder over req.FadeOutDelay seconds. The
// passive feeder pauses too when it still has audio.
func (b *Backend) Pause(req PauseRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg == nil {
		return ErrNotConfigured
	}

	frames := int(req.FadeOutDelay * float64(b.cfg.SampleRate))
	b.data[b.active].Pause(frames)
	if passive := b.data[b.passiveLocked()]; passive.QueuedAndBufferedSeconds(b.cfg.SampleRate) > 0 {
		passive.Pause(frames)
	}
	b.log.Debug().Int("fade_frames", frames).Msg("paused")
	return nil
}

func (b *Backend) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg == nil {
		return ErrNotConfigured
	}
	b.resumeLocked(true)
	return nil
}

func (b *Backend) resumeLocked(includePassive bool) {
	b.data[b.active].Resume()
	if passive := b.data[b.passiveLocked()]; includePassive && passive.QueuedAndBufferedSeconds(b.cfg.SampleRate) > 0 {
		passive.Resume()
	}
}

// NextTrackResponse starts preloading the track the host picked.
func (b *Backend) NextTrackResponse(resp NextTrackResponse) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg == nil {
		return ErrNotConfigured
	}
	return b.preloadNextTrackLocked(resp)
}

// NextTrackResponseUpdate replaces the track being preloaded.
func (b *Backend) NextTrackResponseUpdate(resp NextTrackResponse) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg == nil {
		return ErrNotConfigured
	}
	if b.preloading == nil {
		return nil
	}

	b.setSwapTargetsLocked(NoSwap, "next track updated")
	old := b.preloading
	b.preloading = b.newSourceLocked()
	b.preloadSlot = -1
	b.preloadStarted = false
	old.CancelAllOperations()
	old.DestroyAfterBuffersFilled()
	return b.preloadNextTrackLocked(resp)
}

func (b *Backend) preloadNextTrackLocked(resp NextTrackResponse) error {
	p := b.preloading
	if p == nil || b.main == nil || p.Destroyed() || p.Initialized() || b.preloadStarted {
		b.resolveNextTrackResponsesLocked()
		b.log.Debug().Msg("ignoring next track response")
		return nil
	}
	if resp.FileReference == "" {
		b.resolveNextTrackResponsesLocked()
		b.preloading = nil
		b.preloadSlot = -1
		b.noNextTrack = true
		b.log.Debug().Msg("no next track")
		return nil
	}

	b.preloadStarted = true
	return b.spawnLocked(func(ctx context.Context) {
		b.preload(ctx, p, resp.FileReference)
	})
}

func (b *Backend) preload(ctx context.Context, p *source.Source, ref string) {
	log := b.log.With().Int("source_id", p.ID()).Str("track", ref).Logger()

	fail := func(err error) {
		// a replaced preload must not touch its successor's swap targets
		if b.preloading == p {
			b.setSwapTargetsLocked(NoSwap, "preload failed or cancelled")
		}
		if b.surfaceLocked("preload", p, err) {
			return
		}
		if b.preloading == p {
			b.preloading = nil
			b.preloadSlot = -1
			b.preloadStarted = false
		}
		b.resolveNextTrackResponsesLocked()
		b.sink.Send(Result{Type: ResultStop, Reason: StopPreloadError})
		b.destroyLocked(p)
	}

	crossfade := b.cfg.CrossfadeDuration
	if b.main == nil || !b.main.Initialized() || b.main.Duration() < crossfade+MinimumDuration {
		crossfade = 0
	}

	b.mu.Unlock()
	res, err := p.Load(ctx, source.LoadOptions{
		FileReference:     ref,
		IsPreload:         true,
		CrossfadeDuration: crossfade,
	})
	b.mu.Lock()

	if err == nil {
		err = res.Token.Check()
	}
	if err != nil {
		fail(err)
		return
	}
	if b.preloading != p {
		return
	}

	crossfade = b.crossfadeForLocked(p)
	enabled := crossfade > 0
	slot := b.active
	if enabled {
		slot = b.passiveLocked()
	}
	b.preloadSlot = slot
	log.Info().Float64("crossfade", crossfade).Int("slot", slot).Msg("preload initialized")

	if !enabled {
		// gapless: the next track is queued right behind the main track
		main := b.main
		for main != nil && !main.Ended() && !main.Destroyed() {
			if err := b.waitTickLocked(ctx); err != nil {
				return
			}
			if err := res.Token.Check(); err != nil {
				fail(err)
				return
			}
		}
		if main != nil {
			if err := b.awaitLocked(ctx, b.data[slot].WaitAllBuffersWrittenFor(main)); err != nil {
				return
			}
			if err := res.Token.Check(); err != nil {
				fail(err)
				return
			}
		}
	}
	b.resolveNextTrackResponsesLocked()

	opts := fillLoopOptions{
		clear: feeder.NoClear,
		swap:  SwapAudioSources,
	}
	if enabled {
		opts = fillLoopOptions{
			clear:           feeder.ClearAndSetOffset,
			overrideNeeded:  true,
			resetSeekOffset: true,
			swap:            SwapAll,
		}
	}
	b.fillBuffersLoopLocked(ctx, slot, p, res.Token, opts, "preload")
}

// Close cancels all work, destroys every source and waits for the
// backend's goroutines.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.stop()

	var td teardown
	if b.cfg != nil {
		td = b.cancelLoadingBuffersLocked("closing")
	}
	if b.main != nil {
		td.destroy = append(td.destroy, b.main)
		b.main = nil
	}
	if b.preloading != nil {
		td.destroy = append(td.destroy, b.preloading)
		b.preloading = nil
	}
	b.resolveNextTrackResponsesLocked()
	b.mu.Unlock()

	err := td.wait(context.Background(), b.log)
	b.wg.Wait()
	return err
}
