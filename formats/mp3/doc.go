// SPDX-License-Identifier: EPL-2.0

// Package mp3 provides MP3 audio file decoding.
//
// This package uses github.com/hajimehoshi/go-mp3. Output is always
// 16-bit stereo converted to float32; mono files are duplicated by go-mp3.
//
// When the input is an io.ReadSeeker the source knows its length and can
// seek by frame:
//
//	file, _ := os.Open("audio.mp3")
//	src, err := mp3.Decoder{}.Decode(file)
//	frames := audio.Frames(src)
//	_, err = audio.SeekFrame(src, frames/2)
//
// Match recognizes an ID3v2 tag or an MPEG layer III frame header.
package mp3
