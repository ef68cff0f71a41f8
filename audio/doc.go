// SPDX-License-Identifier: EPL-2.0

// Package audio provides the decode-side building blocks of the feeder.
//
// This package contains:
//   - Source interface for decoded PCM, with optional Seeker and Lengther
//     capabilities for frame-accurate repositioning and track length
//   - Registry of codecs with header sniffing
//   - Resampler for sample rate conversion
//   - ChannelMixer for channel layout conversion
//
// # Source Interface
//
// The Source interface is the foundation of audio processing:
//
//	type Source interface {
//	    SampleRate() int
//	    Channels() int
//	    ReadSamples(dst []float32) (int, error)
//	    BufSize() int
//	    Close() error
//	}
//
// Decoders return sources; the resampler and mixer wrap sources, so they can
// be chained:
//
//	mixed, _ := audio.NewChannelMixer(decoded, 2)
//	out := audio.NewResampler(mixed, 48000)
//
// # Seeking
//
// SeekFrame uses the source's Seeker implementation when there is one and
// falls back to reading forward otherwise. A Resampler wrapped around a
// repositioned source must be Reset.
//
// # Format Registry
//
// Formats are registered with a header matcher and the worst-case encoded
// size of a frame:
//
//	registry := audio.NewRegistry()
//	registry.RegisterFormat(audio.Format{
//	    Name:             "wav",
//	    Decoder:          wav.Decoder{},
//	    Match:            wav.Match,
//	    MaxBytesPerFrame: wav.MaxBytesPerFrame,
//	})
//	format, err := registry.Sniff(header)
//
// # Sample Format
//
// Audio samples are represented as float32 in the range [-1.0, 1.0]:
//   - 0.0 represents silence
//   - 1.0 represents maximum positive amplitude
//   - -1.0 represents maximum negative amplitude
//
// This normalized format makes it easy to process audio without worrying
// about bit depths and ensures no clipping during intermediate processing.
//
// # Error Handling
//
// Audio processing functions return io.EOF when no more data is available.
// Other errors indicate problems with the source or processing:
//
//	for {
//	    n, err := source.ReadSamples(buf)
//	    if err == io.EOF {
//	        break // Normal end of stream
//	    }
//	    if err != nil {
//	        return err // Processing error
//	    }
//	    // Process n samples from buf
//	}
package audio
