// SPDX-License-Identifier: EPL-2.0

package vorbis

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ik5/audfeed/audio"
	"github.com/jfreymuth/oggvorbis"
)

// MaxBytesPerFrame is a generous upper bound for high quality stereo Vorbis.
const MaxBytesPerFrame = 2

// oggReader is an interface for oggvorbis.Reader to allow testing
type oggReader interface {
	SampleRate() int
	Channels() int
	Read([]float32) (int, error)
	SetPosition(pos int64) error
	Length() int64
}

// Match reports whether header is the first page of an Ogg Vorbis stream.
func Match(header []byte) bool {
	if len(header) < 4 || !bytes.Equal(header[:4], []byte("OggS")) {
		return false
	}
	return bytes.Contains(header, []byte("\x01vorbis"))
}

// Format returns the registry entry for Ogg Vorbis.
func Format() audio.Format {
	return audio.Format{
		Name:             "vorbis",
		Decoder:          Decoder{},
		Match:            Match,
		MaxBytesPerFrame: MaxBytesPerFrame,
	}
}

type source struct {
	dec        oggReader
	sampleRate int
	channels   int
	frameBuf   []float32 // buffer for reading frames from decoder
}

func (s *source) SampleRate() int { return s.sampleRate }
func (s *source) Channels() int   { return s.channels }
func (s *source) Close() error    { return nil }
func (s *source) BufSize() int    { return cap(s.frameBuf) }

// Frames returns the stream length, or -1 when the granule position of the
// last page could not be read.
func (s *source) Frames() int64 {
	if n := s.dec.Length(); n > 0 {
		return n
	}
	return -1
}

func (s *source) SeekFrame(frame int64) (int64, error) {
	frame = max(0, frame)
	if n := s.dec.Length(); n > 0 {
		frame = min(frame, n)
	}

	if err := s.dec.SetPosition(frame); err != nil {
		return 0, fmt.Errorf("%w: %w", audio.ErrNotSeekable, err)
	}

	return frame, nil
}

func (s *source) ReadSamples(dst []float32) (int, error) {
	want := len(dst) - len(dst)%s.channels
	if want == 0 {
		return 0, nil
	}

	if cap(s.frameBuf) < want {
		s.frameBuf = make([]float32, want)
	}
	s.frameBuf = s.frameBuf[:want]

	// Read returns interleaved values, always whole frames
	n, err := s.dec.Read(s.frameBuf)
	n -= n % s.channels
	copy(dst, s.frameBuf[:n])

	if err != nil && err != io.EOF {
		return n, fmt.Errorf("%w", err)
	}

	return n, err
}

type Decoder struct{}

func (Decoder) Decode(r io.Reader) (audio.Source, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}

	return newSource(dec), nil
}

func newSource(dec oggReader) *source {
	return &source{
		dec:        dec,
		sampleRate: dec.SampleRate(),
		channels:   dec.Channels(),
		frameBuf:   make([]float32, 4096),
	}
}
