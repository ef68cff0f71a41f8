// SPDX-License-Identifier: EPL-2.0

package aiff

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/ik5/audfeed/audio"
)

// mockAiffReader simulates the aiff.Decoder for testing
type mockAiffReader struct {
	sampleRate   int
	channels     int
	samples      []int
	offset       int
	returnErrors bool
}

func (m *mockAiffReader) Format() *goaudio.Format {
	return &goaudio.Format{
		SampleRate:  m.sampleRate,
		NumChannels: m.channels,
	}
}

func (m *mockAiffReader) PCMBuffer(buf *goaudio.IntBuffer) (int, error) {
	if m.returnErrors {
		return 0, io.ErrUnexpectedEOF
	}

	if m.offset >= len(m.samples) {
		return 0, io.EOF
	}

	n := min(len(buf.Data), len(m.samples)-m.offset)
	copy(buf.Data, m.samples[m.offset:m.offset+n])
	m.offset += n

	return n, nil
}

func newMockSource(channels, bitDepth int, samples []int) *source {
	return &source{
		dec:        &mockAiffReader{sampleRate: 44100, channels: channels, samples: samples},
		sampleRate: 44100,
		channels:   channels,
		bitDepth:   bitDepth,
		frames:     int64(len(samples) / channels),
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header []byte
		want   bool
	}{
		{"aiff", []byte("FORM\x00\x00\x10\x00AIFFCOMM"), true},
		{"aifc", []byte("FORM\x00\x00\x10\x00AIFCFVER"), true},
		{"iff 8svx", []byte("FORM\x00\x00\x10\x008SVX"), false},
		{"wav", []byte("RIFF\x00\x00\x10\x00WAVE"), false},
		{"short", []byte("FORM"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Match(tt.header); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecoder_InvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		r    io.Reader
	}{
		{"garbage", bytes.NewReader([]byte("This is not AIFF data"))},
		{"empty", bytes.NewReader(nil)},
		{"plain reader", io.MultiReader(bytes.NewReader([]byte("FORM\x00\x00\x00\x04WAVE")))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := (Decoder{}).Decode(tt.r); err == nil {
				t.Error("Decode() error = nil, want error for invalid data")
			}
		})
	}
}

func TestSource_Metadata(t *testing.T) {
	t.Parallel()

	src := newMockSource(2, 16, make([]int, 100))

	if src.SampleRate() != 44100 {
		t.Errorf("SampleRate() = %d, want 44100", src.SampleRate())
	}
	if src.Channels() != 2 {
		t.Errorf("Channels() = %d, want 2", src.Channels())
	}
	if got := audio.Frames(src); got != 50 {
		t.Errorf("Frames() = %d, want 50", got)
	}
	if src.BufSize() != 4096 {
		t.Errorf("BufSize() before first read = %d, want 4096", src.BufSize())
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestSource_BitDepthNormalization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bitDepth int
		raw      []int
		want     []float32
	}{
		{8, []int{0, 64, -128, 127}, []float32{0, 0.5, -1, 127.0 / 128}},
		{16, []int{0, 16384, -16384, 32767, -32768}, []float32{0, 0.5, -0.5, 32767.0 / 32768, -1}},
		{24, []int{4194304, -8388608}, []float32{0.5, -1}},
		{32, []int{1073741824, -2147483648}, []float32{0.5, -1}},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			t.Parallel()

			src := newMockSource(1, tt.bitDepth, tt.raw)
			dst := make([]float32, len(tt.raw)+4)

			n, err := src.ReadSamples(dst)
			if !errors.Is(err, io.EOF) {
				t.Errorf("ReadSamples() error = %v, want io.EOF on short read", err)
			}
			if n != len(tt.want) {
				t.Fatalf("ReadSamples() n = %d, want %d", n, len(tt.want))
			}
			for i, w := range tt.want {
				if math.Abs(float64(dst[i]-w)) > 1e-6 {
					t.Errorf("%d-bit dst[%d] = %v, want %v", tt.bitDepth, i, dst[i], w)
				}
			}
		})
	}
}

func TestSource_ReadSamples_MultipleReads(t *testing.T) {
	t.Parallel()

	raw := make([]int, 600)
	for i := range raw {
		raw[i] = i
	}
	src := newMockSource(2, 16, raw)

	total := 0
	dst := make([]float32, 33) // odd size is trimmed to whole frames
	for {
		n, err := src.ReadSamples(dst)
		if n%2 != 0 {
			t.Fatalf("ReadSamples() returned %d samples, not whole frames", n)
		}
		for i := range n {
			if want := float32(total+i) / 32768; dst[i] != want {
				t.Fatalf("sample %d = %v, want %v", total+i, dst[i], want)
			}
		}
		total += n
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadSamples() error = %v", err)
		}
	}

	if total != len(raw) {
		t.Errorf("read %d samples, want %d", total, len(raw))
	}
	if src.BufSize() != 32 {
		t.Errorf("BufSize() = %d, want 32", src.BufSize())
	}
}

func TestSource_ReadSamples_EmptyBuffer(t *testing.T) {
	t.Parallel()

	src := newMockSource(2, 16, make([]int, 10))
	if n, err := src.ReadSamples(make([]float32, 1)); n != 0 || err != nil {
		t.Errorf("ReadSamples() with sub-frame buffer = (%d, %v), want (0, nil)", n, err)
	}
}

func TestSource_ReadSamples_Error(t *testing.T) {
	t.Parallel()

	src := newMockSource(1, 16, nil)
	src.dec.(*mockAiffReader).returnErrors = true

	if _, err := src.ReadSamples(make([]float32, 8)); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadSamples() error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestSource_SeekFallsBackToSkip(t *testing.T) {
	t.Parallel()

	raw := make([]int, 100)
	for i := range raw {
		raw[i] = i * 100
	}
	src := newMockSource(1, 16, raw)

	got, err := audio.SeekFrame(src, 40)
	if err != nil {
		t.Fatalf("SeekFrame() error = %v", err)
	}
	if got != 40 {
		t.Errorf("SeekFrame() = %d, want 40", got)
	}

	dst := make([]float32, 1)
	if _, err := src.ReadSamples(dst); err != nil {
		t.Fatal(err)
	}
	if want := float32(4000) / 32768; dst[0] != want {
		t.Errorf("sample after skip = %v, want %v", dst[0], want)
	}
}
