// SPDX-License-Identifier: EPL-2.0

// Package wav provides WAV audio file decoding and encoding.
//
// # Supported Formats
//
// Decoding:
//   - PCM 16-bit, parsed directly; seekable when the input is an io.Seeker
//   - PCM 24 and 32-bit through github.com/go-audio/wav (seekable input required)
//   - any channel count and sample rate
//
// Unknown chunks (LIST, fact, ...) before the data chunk are skipped.
//
// # Decoding WAV Files
//
//	file, _ := os.Open("audio.wav")
//	source, err := wav.Decoder{}.Decode(file)
//	if err != nil {
//	    // Handle error
//	}
//
// The returned source implements audio.Lengther, and audio.Seeker for 16-bit
// input, so it can be repositioned by frame.
//
// # Writing WAV Files
//
// WriteWAV16 writes a complete file from interleaved int16 samples in one go:
//
//	err := wav.WriteWAV16(file, 44100, 2, samples)
//
// Writer streams float32 audio through the go-audio encoder and patches the
// header on Close:
//
//	w := wav.NewWriter(file, 44100, 2)
//	_ = w.Write(chunk)
//	_ = w.Close()
//
// # Error Handling
//
//   - ErrNotWavFile: the input is not RIFF/WAVE
//   - ErrUnsupportedEncoding: not integer PCM
//   - ErrUnsupportedBitDepth: 8-bit, or wide PCM on a non-seekable reader
//   - ErrUnsupportedWavLayout: malformed fmt chunk
//   - ErrUnsupportedWavChunks: no data chunk before the end of input
package wav
