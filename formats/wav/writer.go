// SPDX-License-Identifier: EPL-2.0

package wav

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
	"github.com/ik5/audfeed/utils"
)

// Writer streams interleaved float32 audio into a 16-bit PCM WAV file.
// The header sizes are patched on Close, so the target must be seekable.
type Writer struct {
	enc    *gowav.Encoder
	buf    *goaudio.IntBuffer
	frames int64
}

func NewWriter(w io.WriteSeeker, sampleRate, channels int) *Writer {
	return &Writer{
		enc: gowav.NewEncoder(w, sampleRate, 16, channels, formatPCM),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
			SourceBitDepth: 16,
		},
	}
}

// Write appends interleaved samples.
func (w *Writer) Write(samples []float32) error {
	if cap(w.buf.Data) < len(samples) {
		w.buf.Data = make([]int, len(samples))
	}
	w.buf.Data = w.buf.Data[:len(samples)]

	for i, v := range samples {
		w.buf.Data[i] = int(utils.Float32ToInt16(v))
	}

	if err := w.enc.Write(w.buf); err != nil {
		return fmt.Errorf("writing wav frames: %w", err)
	}
	w.frames += int64(len(samples) / w.buf.Format.NumChannels)

	return nil
}

// Frames reports how many frames were written.
func (w *Writer) Frames() int64 { return w.frames }

func (w *Writer) Close() error {
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("finalizing wav: %w", err)
	}
	return nil
}
