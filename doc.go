// SPDX-License-Identifier: EPL-2.0

// Package audfeed streams decoded audio into fixed-size ring buffers for a
// real-time renderer, with seeking, gapless transitions and crossfades.
//
// The root package only carries convenience helpers around the codec
// registry. The moving parts live in subpackages:
//
//   - audio: the Source contract, codec Registry, Resampler and ChannelMixer
//   - formats/...: wav, flac, vorbis, aiff and mp3 adapters
//   - cancel: generation counter cancellation with acknowledgement
//   - pipeline: one decode call turned into one buffer descriptor
//   - source: a track's decode session (load, seek, fill, destroy)
//   - feeder: the queue between decoded chunks and a ring buffer
//   - ringbuf: the in-process ring buffer
//   - backend: the orchestrator and its swap state machine
//   - renderer: an oto output device and a headless clock
//
// # Quick Start
//
//	f, _ := os.Open("track.flac")
//	src, format, err := audfeed.Open(audfeed.DefaultRegistry(), f)
//	if err != nil {
//	    // unknown codec or corrupt file
//	}
//	out, _ := audfeed.Convert(src, 48000, 2)
//
// Playback with the backend is shown in cmd/audfeed.
package audfeed
