// SPDX-License-Identifier: EPL-2.0

package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	"github.com/ik5/audfeed/audio"
)

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE

	// MaxBytesPerFrame covers 32-bit stereo PCM.
	MaxBytesPerFrame = 8
)

// Match reports whether header starts a RIFF/WAVE file.
func Match(header []byte) bool {
	return len(header) >= 12 &&
		bytes.Equal(header[:4], []byte("RIFF")) &&
		bytes.Equal(header[8:12], []byte("WAVE"))
}

// Format returns the registry entry for WAV.
func Format() audio.Format {
	return audio.Format{
		Name:             "wav",
		Decoder:          Decoder{},
		Match:            Match,
		MaxBytesPerFrame: MaxBytesPerFrame,
	}
}

type header struct {
	audioFormat   uint16
	channels      int
	sampleRate    int
	bitsPerSample int
	blockAlign    int
	dataStart     int64
	dataSize      int64
}

// readHeader walks the RIFF chunks up to the start of "data".
func readHeader(r io.Reader) (header, error) {
	var h header

	riff := make([]byte, 12)
	if _, err := io.ReadFull(r, riff); err != nil {
		return h, fmt.Errorf("reading RIFF header: %w", err)
	}
	if !Match(riff) {
		return h, ErrNotWavFile
	}

	offset := int64(12)
	chunk := make([]byte, 8)
	haveFmt := false

	for {
		if _, err := io.ReadFull(r, chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return h, ErrUnsupportedWavChunks
			}
			return h, fmt.Errorf("reading chunk header: %w", err)
		}
		offset += 8

		id := string(chunk[:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return h, ErrUnsupportedWavLayout
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return h, fmt.Errorf("reading fmt chunk: %w", err)
			}
			h.audioFormat = binary.LittleEndian.Uint16(body[0:2])
			h.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			h.sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			h.blockAlign = int(binary.LittleEndian.Uint16(body[12:14]))
			h.bitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			offset += int64(len(body))
			haveFmt = true

		case "data":
			if !haveFmt {
				return h, ErrUnsupportedWavLayout
			}
			h.dataStart = offset
			h.dataSize = size
			return h, nil

		default:
			// Chunks are word aligned
			skip := size + size%2
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return h, ErrUnsupportedWavChunks
			}
			offset += skip
		}
	}
}

type wavSource struct {
	r          io.Reader
	sampleRate int
	channels   int
	dataStart  int64
	frames     int64
	// frames consumed so far
	pos int64
	buf []byte
}

func (s *wavSource) SampleRate() int { return s.sampleRate }
func (s *wavSource) Channels() int   { return s.channels }
func (s *wavSource) BufSize() int    { return cap(s.buf) / 2 }
func (s *wavSource) Close() error    { return nil }
func (s *wavSource) Frames() int64   { return s.frames }

func (s *wavSource) SeekFrame(frame int64) (int64, error) {
	seeker, ok := s.r.(io.Seeker)
	if !ok {
		return 0, audio.ErrNotSeekable
	}

	frame = max(0, min(frame, s.frames))
	if _, err := seeker.Seek(s.dataStart+frame*int64(s.channels)*2, io.SeekStart); err != nil {
		return 0, fmt.Errorf("%w", err)
	}
	s.pos = frame

	return frame, nil
}

func (s *wavSource) ReadSamples(dst []float32) (int, error) {
	remaining := (s.frames - s.pos) * int64(s.channels)
	if remaining <= 0 {
		return 0, io.EOF
	}
	want := min(int64(len(dst)), remaining)
	want -= want % int64(s.channels)
	if want == 0 {
		return 0, nil
	}

	if int64(cap(s.buf)) < want*2 {
		s.buf = make([]byte, want*2)
	}
	buf := s.buf[:want*2]

	n, err := io.ReadFull(s.r, buf)
	samples := n / 2
	samples -= samples % s.channels

	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(buf[2*i : 2*i+2]))
		dst[i] = float32(v) / 32768.0
	}
	s.pos += int64(samples / s.channels)

	switch {
	case err == nil:
		if s.pos >= s.frames {
			return samples, io.EOF
		}
		return samples, nil
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		// Truncated file: whatever made it is the end of the stream
		s.frames = s.pos
		return samples, io.EOF
	default:
		return samples, fmt.Errorf("%w", err)
	}
}

// pcmSource decodes 24 and 32-bit integer PCM through go-audio/wav.
type pcmSource struct {
	dec        *gowav.Decoder
	sampleRate int
	channels   int
	scale      float32
	frames     int64
	intBuf     *goaudio.IntBuffer
}

func (s *pcmSource) SampleRate() int { return s.sampleRate }
func (s *pcmSource) Channels() int   { return s.channels }
func (s *pcmSource) BufSize() int    { return 4096 }
func (s *pcmSource) Close() error    { return nil }
func (s *pcmSource) Frames() int64   { return s.frames }

func (s *pcmSource) ReadSamples(dst []float32) (int, error) {
	want := len(dst) - len(dst)%s.channels
	if want == 0 {
		return 0, nil
	}

	if s.intBuf == nil || cap(s.intBuf.Data) < want {
		s.intBuf = &goaudio.IntBuffer{
			Data:   make([]int, want),
			Format: &goaudio.Format{NumChannels: s.channels, SampleRate: s.sampleRate},
		}
	}
	s.intBuf.Data = s.intBuf.Data[:want]

	n, err := s.dec.PCMBuffer(s.intBuf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}

	for i := range n {
		dst[i] = float32(s.intBuf.Data[i]) / s.scale
	}

	return n, nil
}

type Decoder struct{}

func (Decoder) Decode(r io.Reader) (audio.Source, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	if h.audioFormat != formatPCM && h.audioFormat != formatExtensible {
		return nil, ErrUnsupportedEncoding
	}
	if h.channels < 1 || h.sampleRate < 1 || h.blockAlign < 1 {
		return nil, ErrUnsupportedWavLayout
	}

	frames := h.dataSize / int64(h.blockAlign)

	if h.bitsPerSample == 16 && h.audioFormat == formatPCM {
		return &wavSource{
			r:          r,
			sampleRate: h.sampleRate,
			channels:   h.channels,
			dataStart:  h.dataStart,
			frames:     frames,
			buf:        make([]byte, 8192),
		}, nil
	}

	// Other bit depths need a seekable reader for go-audio/wav
	if h.bitsPerSample != 24 && h.bitsPerSample != 32 {
		return nil, ErrUnsupportedBitDepth
	}
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		return nil, ErrUnsupportedBitDepth
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding wav: %w", err)
	}

	dec := gowav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, ErrNotWavFile
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("seeking to PCM data: %w", err)
	}

	return &pcmSource{
		dec:        dec,
		sampleRate: int(dec.SampleRate),
		channels:   int(dec.NumChans),
		scale:      float32(goaudio.IntMaxSignedValue(int(dec.BitDepth))),
		frames:     frames,
	}, nil
}
