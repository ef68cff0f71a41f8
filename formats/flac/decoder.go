// SPDX-License-Identifier: EPL-2.0

package flac

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ik5/audfeed/audio"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
)

// MaxBytesPerFrame is the uncompressed worst case for 32-bit stereo.
const MaxBytesPerFrame = 8

// stream is the subset of flac.Stream used by the source.
type stream interface {
	ParseNext() (*frame.Frame, error)
	Seek(sampleNum uint64) (uint64, error)
	Close() error
}

// Match reports whether header starts a native FLAC stream.
func Match(header []byte) bool {
	return len(header) >= 4 && bytes.Equal(header[:4], []byte("fLaC"))
}

// Format returns the registry entry for FLAC.
func Format() audio.Format {
	return audio.Format{
		Name:             "flac",
		Decoder:          Decoder{},
		Match:            Match,
		MaxBytesPerFrame: MaxBytesPerFrame,
	}
}

type source struct {
	stream     stream
	seekable   bool
	sampleRate int
	channels   int
	bitDepth   int
	frames     int64

	// decoded samples of the current FLAC frame, interleaved
	pending []float32
	// samples to drop after a seek landed before the target
	discard int
	eof     bool
}

func (s *source) SampleRate() int { return s.sampleRate }
func (s *source) Channels() int   { return s.channels }
func (s *source) BufSize() int    { return 4096 * s.channels }
func (s *source) Close() error    { return s.stream.Close() }

// Frames returns the sample count from STREAMINFO, or -1 when the encoder
// left it unset.
func (s *source) Frames() int64 {
	if s.frames == 0 {
		return -1
	}
	return s.frames
}

func (s *source) SeekFrame(frame int64) (int64, error) {
	if !s.seekable {
		return 0, audio.ErrNotSeekable
	}

	frame = max(0, frame)
	if s.frames > 0 {
		frame = min(frame, s.frames)
	}

	if s.frames > 0 && frame == s.frames {
		s.pending = s.pending[:0]
		s.discard = 0
		s.eof = true
		return frame, nil
	}

	landed, err := s.stream.Seek(uint64(frame))
	if err != nil {
		return 0, fmt.Errorf("%w", err)
	}

	s.pending = s.pending[:0]
	s.discard = int(frame-int64(landed)) * s.channels
	s.eof = false

	return frame, nil
}

// decodeNext parses one FLAC frame into s.pending.
func (s *source) decodeNext() error {
	f, err := s.stream.ParseNext()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.eof = true
			return io.EOF
		}
		return fmt.Errorf("%w", err)
	}
	if len(f.Subframes) != s.channels {
		return ErrChannelMismatch
	}

	bits := int(f.BitsPerSample)
	if bits == 0 {
		bits = s.bitDepth
	}
	scale := float32(int64(1) << (bits - 1))

	n := len(f.Subframes[0].Samples)
	s.pending = s.pending[:0]
	for i := range n {
		for _, sub := range f.Subframes {
			s.pending = append(s.pending, float32(sub.Samples[i])/scale)
		}
	}

	if s.discard > 0 {
		drop := min(s.discard, len(s.pending))
		s.pending = s.pending[drop:]
		s.discard -= drop
	}

	return nil
}

func (s *source) ReadSamples(dst []float32) (int, error) {
	want := len(dst) - len(dst)%s.channels
	if want == 0 {
		return 0, nil
	}

	written := 0
	for written < want {
		if len(s.pending) == 0 {
			if s.eof {
				return written, io.EOF
			}
			if err := s.decodeNext(); err != nil {
				if errors.Is(err, io.EOF) {
					return written, io.EOF
				}
				return written, err
			}
			continue
		}

		n := copy(dst[written:want], s.pending)
		s.pending = s.pending[n:]
		written += n
	}

	return written, nil
}

type Decoder struct{}

// Decode opens a FLAC stream. Seeking needs an io.ReadSeeker; other
// readers decode forward only.
func (Decoder) Decode(r io.Reader) (audio.Source, error) {
	var (
		st       *flac.Stream
		err      error
		seekable bool
	)

	if rs, ok := r.(io.ReadSeeker); ok {
		st, err = flac.NewSeek(rs)
		seekable = true
	} else {
		st, err = flac.New(r)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotFlacFile, err)
	}

	info := st.Info
	if info.NChannels < 1 || info.SampleRate < 1 {
		return nil, ErrChannelMismatch
	}
	switch info.BitsPerSample {
	case 8, 12, 16, 20, 24, 32:
	default:
		return nil, ErrUnsupportedBitDepth
	}

	return &source{
		stream:     st,
		seekable:   seekable,
		sampleRate: int(info.SampleRate),
		channels:   int(info.NChannels),
		bitDepth:   int(info.BitsPerSample),
		frames:     int64(info.NSamples),
	}, nil
}
