// SPDX-License-Identifier: EPL-2.0

// Package ringbuf provides the circular sample buffer shared between the
// backend and the audio output.
//
// The backend's feeder is the only writer; a renderer is the only reader.
// The reader drives a wrapping frame counter which the writer uses as its
// playback clock:
//
//	buf := ringbuf.New(2, 8192)
//	n, _ := buf.Write([][]float32{left, right}, len(left))
//	...
//	out := make([]float32, 2*512)
//	played := buf.Read(out)
//
// A paused buffer produces nothing and its counter stands still.
// RequestPause fades the output to silence over a number of frames before
// pausing.
package ringbuf
