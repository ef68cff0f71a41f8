// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/ik5/audfeed/internal/audiotest"
)

// mockDecoder is a test decoder implementation
type mockDecoder struct {
	name string
}

func (d *mockDecoder) Decode(io.Reader) (Source, error) {
	return audiotest.NewSilentSource(44100, 2, 100), nil
}

// unseekableSource hides the Seeker and Lengther methods of the mock.
type unseekableSource struct {
	*audiotest.MockSource
}

func (unseekableSource) SeekFrame() {}
func (unseekableSource) Frames()    {}

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	decoder := &mockDecoder{name: "wav"}

	registry.Register("wav", decoder)

	got, ok := registry.Get("wav")
	if !ok {
		t.Fatal("Registry.Get() failed to retrieve registered decoder")
	}

	if got != decoder {
		t.Error("Registry.Get() returned different decoder instance")
	}

	if _, ok := registry.Get("nonexistent"); ok {
		t.Error("Registry.Get() returned ok=true for non-existent format")
	}
}

func TestRegistry_Overwrite(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	first := &mockDecoder{name: "first"}
	second := &mockDecoder{name: "second"}

	registry.RegisterFormat(Format{Name: "wav", Decoder: first, MaxBytesPerFrame: 4})
	registry.RegisterFormat(Format{Name: "wav", Decoder: second, MaxBytesPerFrame: 8})

	f, ok := registry.Lookup("wav")
	if !ok {
		t.Fatal("Lookup() failed")
	}
	if f.Decoder != second || f.MaxBytesPerFrame != 8 {
		t.Errorf("Lookup() = %+v, want the second registration", f)
	}
	if len(registry.order) != 1 {
		t.Errorf("order has %d entries, want 1", len(registry.order))
	}
}

func TestRegistry_Sniff(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	registry.RegisterFormat(Format{
		Name:    "riff",
		Decoder: &mockDecoder{},
		Match:   func(h []byte) bool { return bytes.HasPrefix(h, []byte("RIFF")) },
	})
	registry.RegisterFormat(Format{
		Name:    "any",
		Decoder: &mockDecoder{},
		Match:   func(h []byte) bool { return len(h) > 0 },
	})
	registry.Register("plain", &mockDecoder{})

	tests := []struct {
		name    string
		header  []byte
		want    string
		wantErr error
	}{
		{"first match wins", []byte("RIFF....WAVE"), "riff", nil},
		{"falls through", []byte("OggS"), "any", nil},
		{"nothing matches", nil, "", ErrUnknownCodec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, err := registry.Sniff(tt.header)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Sniff() error = %v, want %v", err, tt.wantErr)
			}
			if f.Name != tt.want {
				t.Errorf("Sniff() = %q, want %q", f.Name, tt.want)
			}
		})
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("format%d", id)
			registry.Register(name, &mockDecoder{name: name})
			registry.Get(name)
			_, _ = registry.Sniff([]byte("x"))
		}(i)
	}

	wg.Wait()

	for i := range 10 {
		if _, ok := registry.Get(fmt.Sprintf("format%d", i)); !ok {
			t.Errorf("format%d missing after concurrent registration", i)
		}
	}
}

func TestSeekFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		src    func() Source
		target int64
		want   int64
		next   float32
	}{
		{
			name:   "seeker",
			src:    func() Source { return audiotest.NewRampSource(1000, 2, 1000) },
			target: 250,
			want:   250,
			next:   0.25,
		},
		{
			name:   "skip fallback",
			src:    func() Source { return unseekableSource{audiotest.NewRampSource(1000, 2, 1000)} },
			target: 500,
			want:   500,
			next:   0.5,
		},
		{
			name:   "skip past end",
			src:    func() Source { return unseekableSource{audiotest.NewRampSource(1000, 1, 100)} },
			target: 500,
			want:   100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := tt.src()
			got, err := SeekFrame(src, tt.target)
			if err != nil {
				t.Fatalf("SeekFrame() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("SeekFrame() = %d, want %d", got, tt.want)
			}
			if tt.next == 0 {
				return
			}

			buf := make([]float32, src.Channels())
			if _, err := src.ReadSamples(buf); err != nil {
				t.Fatalf("ReadSamples() error = %v", err)
			}
			if buf[0] != tt.next {
				t.Errorf("sample after seek = %v, want %v", buf[0], tt.next)
			}
		})
	}
}

func TestFrames(t *testing.T) {
	t.Parallel()

	if got := Frames(audiotest.NewSilentSource(8000, 1, 123)); got != 123 {
		t.Errorf("Frames() = %d, want 123", got)
	}
	if got := Frames(unseekableSource{audiotest.NewSilentSource(8000, 1, 123)}); got != -1 {
		t.Errorf("Frames() on unknown length = %d, want -1", got)
	}
}

func BenchmarkRegistry_Sniff(b *testing.B) {
	registry := NewRegistry()
	for i := range 8 {
		magic := []byte(fmt.Sprintf("F%03d", i))
		registry.RegisterFormat(Format{
			Name:    string(magic),
			Decoder: &mockDecoder{},
			Match:   func(h []byte) bool { return bytes.HasPrefix(h, magic) },
		})
	}
	header := []byte("F007 and the rest")

	b.ResetTimer()
	for range b.N {
		_, _ = registry.Sniff(header)
	}
}
