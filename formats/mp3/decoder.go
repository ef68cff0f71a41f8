// SPDX-License-Identifier: EPL-2.0

package mp3

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/ik5/audfeed/audio"
)

// go-mp3 always produces 16-bit little-endian stereo
const (
	channels      = 2
	bytesPerFrame = 4

	// MaxBytesPerFrame is the encoded worst case: a 320 kbps frame of 1152
	// samples at 32 kHz, rounded up.
	MaxBytesPerFrame = 1.3
)

// mp3Reader is an interface for gomp3.Decoder to allow testing
type mp3Reader interface {
	Read([]byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	SampleRate() int
	Length() int64
}

// Match reports whether header looks like MPEG audio: an ID3v2 tag or a
// layer III frame sync.
func Match(header []byte) bool {
	if bytes.HasPrefix(header, []byte("ID3")) {
		return true
	}
	if len(header) < 4 || header[0] != 0xFF || header[1]&0xE0 != 0xE0 {
		return false
	}

	version := (header[1] >> 3) & 0x03
	layer := (header[1] >> 1) & 0x03
	bitrate := header[2] >> 4
	rate := (header[2] >> 2) & 0x03

	return version != 1 && layer == 1 && bitrate != 0 && bitrate != 0x0F && rate != 0x03
}

// Format returns the registry entry for MP3.
func Format() audio.Format {
	return audio.Format{
		Name:             "mp3",
		Decoder:          Decoder{},
		Match:            Match,
		MaxBytesPerFrame: MaxBytesPerFrame,
	}
}

type source struct {
	dec        mp3Reader
	sampleRate int
	buf        []byte
}

func (s *source) SampleRate() int { return s.sampleRate }
func (s *source) Channels() int   { return channels }
func (s *source) Close() error    { return nil }
func (s *source) BufSize() int    { return cap(s.buf) / 2 } // return sample capacity, not bytes

// Frames derives the length from the decoded byte length; go-mp3 reports -1
// when the input is not seekable.
func (s *source) Frames() int64 {
	l := s.dec.Length()
	if l < 0 {
		return -1
	}
	return l / bytesPerFrame
}

func (s *source) SeekFrame(frame int64) (int64, error) {
	if s.dec.Length() < 0 {
		return 0, audio.ErrNotSeekable
	}

	frame = max(0, min(frame, s.Frames()))
	pos, err := s.dec.Seek(frame*bytesPerFrame, io.SeekStart)
	if err != nil {
		return 0, fmt.Errorf("%w", err)
	}

	return pos / bytesPerFrame, nil
}

func (s *source) ReadSamples(dst []float32) (int, error) {
	samples := len(dst) - len(dst)%channels
	if samples == 0 {
		return 0, nil
	}

	bytesNeeded := samples * 2
	if cap(s.buf) < bytesNeeded {
		s.buf = make([]byte, bytesNeeded)
	}
	s.buf = s.buf[:bytesNeeded]

	// ReadFull keeps frames whole across go-mp3's frame boundaries
	n, err := io.ReadFull(s.dec, s.buf)
	n -= n % bytesPerFrame

	for i := range n / 2 {
		val := int16(uint16(s.buf[2*i]) | uint16(s.buf[2*i+1])<<8)
		dst[i] = float32(val) / 32768.0
	}

	switch {
	case err == nil:
		return n / 2, nil
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		return n / 2, io.EOF
	default:
		return n / 2, fmt.Errorf("%w", err)
	}
}

type Decoder struct{}

func (Decoder) Decode(r io.Reader) (audio.Source, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}

	return newSource(dec), nil
}

func newSource(dec mp3Reader) *source {
	return &source{
		dec:        dec,
		sampleRate: dec.SampleRate(),
		buf:        make([]byte, 8192),
	}
}
