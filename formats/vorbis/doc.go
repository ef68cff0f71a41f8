// SPDX-License-Identifier: EPL-2.0

// Package vorbis provides Ogg Vorbis audio file decoding.
//
// This package uses github.com/jfreymuth/oggvorbis to decode Ogg Vorbis files.
// Samples are returned as float32 values normalized to [-1.0, 1.0], interleaved
// for multi-channel streams:
//
//	[L0, R0, L1, R1, L2, R2, ...]
//
// When the underlying reader is an io.ReadSeeker the stream length is known
// and the source implements audio.Seeker through granule positions:
//
//	file, _ := os.Open("audio.ogg")
//	src, err := vorbis.Decoder{}.Decode(file)
//	_, err = audio.SeekFrame(src, 48000)
//
// Streams read from a plain io.Reader report an unknown length and return
// audio.ErrNotSeekable from SeekFrame.
package vorbis
