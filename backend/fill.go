// SPDX-License-Identifier: EPL-2.0

package backend

import (
	"context"
	"math"

	"github.com/ik5/audfeed/cancel"
	"github.com/ik5/audfeed/feeder"
	"github.com/ik5/audfeed/pipeline"
	"github.com/ik5/audfeed/source"
	"github.com/ik5/audfeed/utils"
)

type fillLoopOptions struct {
	// clear applies to the first chunk only.
	clear feeder.ClearMode
	// overrideNeeded fills a full sustained queue before the first chunk
	// regardless of what is already queued.
	overrideNeeded  bool
	resume          bool
	fadeIn          float64
	resetSeekOffset bool
	swap            SwapTarget
}

// fillBuffersLoopLocked keeps the feeder at slot topped up with audio from
// src until src ends, is destroyed or tok is cancelled. When src was the
// main source it then hands playback over to the preloaded track.
func (b *Backend) fillBuffersLoopLocked(ctx context.Context, slot int, src *source.Source, tok *cancel.Token, opts fillLoopOptions, origin string) {
	log := b.log.With().Int("source_id", src.ID()).Int("slot", slot).Str("origin", origin).Logger()
	log.Debug().
		Stringer("clear", opts.clear).
		Bool("override", opts.overrideNeeded).
		Bool("resume", opts.resume).
		Stringer("swap", opts.swap).
		Msg("buffer fill loop started")

	err := b.fillLoopLocked(ctx, slot, src, tok, opts)

	cancelled := false
	if err != nil {
		cancelled = b.surfaceLocked(origin, src, err)
	}
	log.Debug().Bool("ended", src.Ended()).Bool("destroyed", src.Destroyed()).Bool("cancelled", cancelled).Msg("buffer fill loop ended")
	if cancelled {
		return
	}

	if b.preloading == src {
		b.preloading = nil
		b.preloadSlot = -1
		b.preloadStarted = false
	}
	if b.main == src {
		b.handOverLocked(ctx, slot, src, tok)
	}
	// a hand-over cut short by a seek leaves src in place
	if b.main != src {
		b.destroyLocked(src)
	}
}

func (b *Backend) fillLoopLocked(ctx context.Context, slot int, src *source.Source, tok *cancel.Token, opts fillLoopOptions) error {
	d := b.data[slot]
	initial := false

	onChunk := func(desc pipeline.BufferDescriptor, channels [][]float32) error {
		b.mu.Lock()
		defer b.mu.Unlock()

		b.timeUpdateLocked(true)
		b.sink.Send(Result{Type: ResultDecodingLatency, Value: float64(desc.DecodingLatency.Microseconds()) / 1000})
		b.obs.ChunkDecoded(desc)
		if err := tok.Check(); err != nil {
			return err
		}

		mode, seekOffset := feeder.NoClear, b.seekFrameOffset
		if !initial {
			if slot != b.active && !d.IsPaused() {
				d.Pause(0)
			}
			if opts.swap != NoSwap {
				b.setSwapTargetsLocked(opts.swap, "initial buffer loaded")
			}
			mode = opts.clear
			if opts.resetSeekOffset {
				seekOffset = 0
			}
		}

		if err := d.AddData(desc, channels, mode, seekOffset, !b.cfg.SilenceTrimming); err != nil {
			return err
		}
		if !initial && opts.resume {
			b.resumeLocked(false)
		}
		initial = true

		if src == b.main {
			b.maybeSendFingerprintLocked(src)
		}
		return nil
	}

	for !src.Ended() && !src.Destroyed() && !src.FillInProgress() {
		bufferTime, sustained := b.cfg.BufferTime, b.cfg.SustainedSeconds

		minimum := 0
		if !initial && opts.overrideNeeded {
			minimum = int(math.Round(sustained / bufferTime))
		}
		needed := max(minimum, int(math.Round((sustained-d.QueuedAndBufferedSeconds(b.cfg.SampleRate))/bufferTime)))

		if needed > 0 {
			fadeIn := opts.fadeIn
			if initial || opts.resume {
				// resuming fades in on its own
				fadeIn = 0
			}
			fill := source.FillOptions{
				Token:                 tok,
				FadeInSeconds:         fadeIn,
				BufferTime:            bufferTime,
				LoudnessNormalization: b.cfg.LoudnessNormalization,
				SilenceTrimming:       b.cfg.SilenceTrimming,
			}

			b.mu.Unlock()
			err := src.FillBuffers(needed, onChunk, fill)
			b.mu.Lock()

			if err != nil {
				return err
			}
			if err := tok.Check(); err != nil {
				return err
			}
		}

		b.timeUpdateLocked(false)
		if err := tok.Check(); err != nil {
			return err
		}

		if src.Ended() || src.Destroyed() {
			if !initial {
				b.log.Debug().Int("source_id", src.ID()).Msg("source ended before its first chunk")
				if opts.clear != feeder.NoClear {
					offset := b.seekFrameOffset
					if opts.resetSeekOffset {
						offset = 0
					}
					d.Clear(offset)
				}
				if opts.resume {
					b.resumeLocked(false)
				}
				if opts.swap != NoSwap {
					b.setSwapTargetsLocked(opts.swap, "no initial buffer")
				}
			}
			break
		}

		if err := b.waitTickLocked(ctx); err != nil {
			return err
		}
		if err := tok.Check(); err != nil {
			return err
		}
	}
	return nil
}

// handOverLocked runs after the main source src stopped decoding. It waits
// for the preloaded track to be ready and swaps to it, or ends the playlist
// when there is none.
func (b *Backend) handOverLocked(ctx context.Context, slot int, src *source.Source, tok *cancel.Token) {
	crossfade := b.crossfadeForLocked(src)
	frames := utils.SecondsToFrames(crossfade, b.cfg.SampleRate)
	d := b.data[slot]

	if ch := b.requestNextTrackIfNeededLocked("main source ending"); ch != nil {
		if err := b.awaitLocked(ctx, ch); err != nil {
			return
		}
	}

	for {
		if tok.IsCancelled() || ctx.Err() != nil {
			return
		}

		p := b.preloading
		if p == nil {
			if b.main != src {
				return
			}
			if b.noNextTrack {
				for !d.AllBuffersPlayedFor(src.ID(), 0) {
					if b.waitTickLocked(ctx) != nil || tok.IsCancelled() {
						return
					}
				}
				if b.main != src {
					return
				}
				b.log.Info().Msg("playlist ended")
				b.sink.Send(Result{Type: ResultStop, Reason: StopPlaylistEnded})
			}
			b.main = nil
			return
		}

		for slot == b.active && !d.AllBuffersPlayedFor(src.ID(), frames) {
			if b.waitTickLocked(ctx) != nil || tok.IsCancelled() {
				return
			}
		}

		for b.preloading == p && b.preloadSlot < 0 {
			if b.waitTickLocked(ctx) != nil || tok.IsCancelled() {
				return
			}
		}
		if b.preloading != p {
			continue
		}

		target := b.data[b.preloadSlot]
		if slot == b.active && !target.HasWrittenSamplesFor(p.ID()) {
			if err := b.awaitLocked(ctx, target.WaitWrittenSamplesFor(p)); err != nil {
				return
			}
			if b.preloading != p {
				continue
			}
		}

		if !b.checkSwapLocked() && b.main == src {
			b.main = nil
		}
		return
	}
}

func (b *Backend) maybeSendFingerprintLocked(src *source.Source) {
	if !b.opts.Fingerprint || b.fingerprintSent == src.ID() {
		return
	}
	fp, ok := src.Fingerprint()
	if !ok {
		return
	}
	b.fingerprintSent = src.ID()
	b.sink.Send(Result{
		Type:        ResultFingerprint,
		TrackUID:    src.Metadata().UID.String(),
		Fingerprint: fp,
	})
}
