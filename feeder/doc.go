// SPDX-License-Identifier: EPL-2.0

// Package feeder moves decoded chunks into a ring buffer and tracks which
// track frame is audible.
//
// A Data owns a queue of chunks in playback order. Chunks are written into
// the ring as space frees up; the ring's wrapping frame counter, offset by
// the frame recorded at the last discontinuity, gives the play position:
//
//	d := feeder.New(ring, feeder.Foreground, log)
//	d.AddData(desc, channels, feeder.ClearAndSetOffset, seekFrame, true)
//	...
//	pos := d.CurrentlyPlayedFrame()
//
// Silent chunks may be skipped when the caller does not need to play them;
// the position then jumps over the skipped frames as if they had played.
package feeder
