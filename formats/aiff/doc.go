// SPDX-License-Identifier: EPL-2.0

// Package aiff provides AIFF (Audio Interchange File Format) decoding.
//
// This package uses github.com/go-audio/aiff. Big-endian PCM at 8, 16, 24
// and 32 bits is normalized to float32 in [-1.0, 1.0]. go-audio needs an
// io.ReadSeeker; plain readers are buffered in memory first.
//
// The source knows its length from the COMM chunk but cannot seek, so
// audio.SeekFrame falls back to reading and discarding frames.
//
// Errors:
//   - ErrNotAiffFile: the input is not a FORM/AIFF container
//   - ErrUnsupportedBitDepth: sample size is not 8, 16, 24 or 32 bits
//   - ErrUnsupportedAiffLayout: missing or invalid COMM chunk
package aiff
