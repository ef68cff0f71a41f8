// SPDX-License-Identifier: EPL-2.0

package audfeed

import (
	"errors"
	"fmt"
	"io"

	"github.com/ik5/audfeed/audio"
	"github.com/ik5/audfeed/formats/aiff"
	"github.com/ik5/audfeed/formats/flac"
	"github.com/ik5/audfeed/formats/mp3"
	"github.com/ik5/audfeed/formats/vorbis"
	"github.com/ik5/audfeed/formats/wav"
)

// DefaultRegistry returns a registry with every bundled codec. Container
// formats with unambiguous magic numbers are sniffed before mp3, whose frame
// sync check is the loosest.
func DefaultRegistry() *audio.Registry {
	reg := audio.NewRegistry()
	reg.RegisterFormat(wav.Format())
	reg.RegisterFormat(flac.Format())
	reg.RegisterFormat(vorbis.Format())
	reg.RegisterFormat(aiff.Format())
	reg.RegisterFormat(mp3.Format())
	return reg
}

// Sniff reads the leading bytes of rs, identifies the codec and rewinds.
func Sniff(reg *audio.Registry, rs io.ReadSeeker) (audio.Format, error) {
	header := make([]byte, audio.SniffSize)
	n, err := io.ReadFull(rs, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return audio.Format{}, fmt.Errorf("reading header: %w", err)
	}

	f, err := reg.Sniff(header[:n])
	if err != nil {
		return audio.Format{}, err
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return audio.Format{}, fmt.Errorf("rewinding: %w", err)
	}

	return f, nil
}

// Open sniffs rs and decodes it with the matching codec.
func Open(reg *audio.Registry, rs io.ReadSeeker) (audio.Source, audio.Format, error) {
	f, err := Sniff(reg, rs)
	if err != nil {
		return nil, audio.Format{}, err
	}

	src, err := f.Decoder.Decode(rs)
	if err != nil {
		return nil, f, fmt.Errorf("decoding %s: %w", f.Name, err)
	}

	return src, f, nil
}

// Convert wraps src with the channel mixer and resampler needed to produce
// channels at sampleRate. Stages that would be no-ops are skipped.
func Convert(src audio.Source, sampleRate, channels int) (audio.Source, error) {
	out := src
	if src.Channels() != channels {
		mixer, err := audio.NewChannelMixer(out, channels)
		if err != nil {
			return nil, err
		}
		out = mixer
	}
	if src.SampleRate() != sampleRate {
		out = audio.NewResampler(out, sampleRate)
	}
	return out, nil
}
