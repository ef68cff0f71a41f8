// SPDX-License-Identifier: EPL-2.0

package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

type Source interface {
	// SampleRate of the PCM stream in Hz.
	SampleRate() int
	// Channels count (e.g., 1=mono, 2=stereo).
	Channels() int
	// ReadSamples fills dst with interleaved float32 samples in [-1,1].
	// Returns number of float32 values written (not frames). When n == 0 with err == io.EOF, the stream is finished.
	ReadSamples(dst []float32) (n int, err error)

	BufSize() int

	// Close releases any resources.
	Close() error
}

// Seeker is implemented by sources that can reposition to an absolute frame.
// SeekFrame returns the frame the source actually landed on.
type Seeker interface {
	SeekFrame(frame int64) (int64, error)
}

// Lengther is implemented by sources that know their length in frames.
// Frames returns -1 when the length cannot be determined.
type Lengther interface {
	Frames() int64
}

// Decoder constructs a Source from an input reader.
type Decoder interface {
	Decode(r io.Reader) (Source, error)
}

// Format describes a registered codec.
type Format struct {
	// Name is the registry key (e.g., "wav", "mp3", "ogg vorbis").
	Name    string
	Decoder Decoder
	// Match reports whether a file header belongs to this format.
	Match func(header []byte) bool
	// MaxBytesPerFrame is the worst-case encoded size of one PCM frame.
	// It sizes read-ahead blocks.
	MaxBytesPerFrame float64
}

// SniffSize is the number of leading bytes Sniff looks at.
const SniffSize = 4096

// Registry for decoders by format key (e.g., "wav", "mp3", "ogg vorbis").
type Registry struct {
	codecs map[string]Format
	order  []string

	mtx *sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		codecs: make(map[string]Format),
		mtx:    &sync.Mutex{},
	}
}

// Register adds a decoder without sniffing support.
func (r *Registry) Register(format string, d Decoder) {
	r.RegisterFormat(Format{Name: format, Decoder: d})
}

// RegisterFormat adds or replaces a codec. Formats are sniffed in
// registration order.
func (r *Registry) RegisterFormat(f Format) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, ok := r.codecs[f.Name]; !ok {
		r.order = append(r.order, f.Name)
	}
	r.codecs[f.Name] = f
}

func (r *Registry) Get(format string) (Decoder, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	f, ok := r.codecs[format]
	if !ok {
		return nil, false
	}
	return f.Decoder, true
}

// Lookup returns the full Format registered under name.
func (r *Registry) Lookup(name string) (Format, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	f, ok := r.codecs[name]
	return f, ok
}

// Sniff identifies the codec of a file from its leading bytes.
func (r *Registry) Sniff(header []byte) (Format, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	for _, name := range r.order {
		f := r.codecs[name]
		if f.Match != nil && f.Match(header) {
			return f, nil
		}
	}
	return Format{}, ErrUnknownCodec
}

// SeekFrame moves src to frame. Sources without Seeker support are
// repositioned by reading and discarding, which only works forward.
func SeekFrame(src Source, frame int64) (int64, error) {
	if s, ok := src.(Seeker); ok {
		got, err := s.SeekFrame(frame)
		if err != nil {
			return 0, fmt.Errorf("seeking to frame %d: %w", frame, err)
		}
		return got, nil
	}
	return Skip(src, frame)
}

// Skip reads and drops frames from src.
func Skip(src Source, frames int64) (int64, error) {
	channels := src.Channels()
	buf := make([]float32, 4096-4096%channels)
	var skipped int64

	for skipped < frames {
		want := min(int64(len(buf)/channels), frames-skipped)
		n, err := src.ReadSamples(buf[:want*int64(channels)])
		skipped += int64(n / channels)
		if errors.Is(err, io.EOF) {
			return skipped, nil
		}
		if err != nil {
			return skipped, fmt.Errorf("skipping frames: %w", err)
		}
	}

	return skipped, nil
}

// Frames returns the length of src in frames, or -1.
func Frames(src Source) int64 {
	if l, ok := src.(Lengther); ok {
		return l.Frames()
	}
	return -1
}
