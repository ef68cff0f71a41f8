// SPDX-License-Identifier: EPL-2.0

// Package pipeline turns decoded audio into playback chunks.
//
// A Pipeline wraps an audio.Source and, for every Decode call, pulls
// enough audio to fill one chunk of BufferTime seconds at the destination
// format. Each decoded block goes through the loudness analyzer, the
// normalizer, the effect chain and the crossfader in that order, and only
// then through channel mixing and resampling. The result is written
// de-interleaved into the caller's buffers, with an optional fade-in, and
// described by a BufferDescriptor.
//
// Processors are independent types and can be used on their own:
//
//	fx, err := pipeline.NewEffects([]pipeline.EffectSpec{{Type: pipeline.EffectGain, Value: -0.5}})
//	if err != nil {
//		return err
//	}
//	fx.Apply(samples, 2)
package pipeline
