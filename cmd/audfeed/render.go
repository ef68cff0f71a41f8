// SPDX-License-Identifier: EPL-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ik5/audfeed"
	"github.com/ik5/audfeed/formats/wav"
	"github.com/ik5/audfeed/pipeline"
	"github.com/ik5/audfeed/source"
	"github.com/spf13/cobra"
)

// renderChunks is how many chunks one fill call decodes.
const renderChunks = 16

func newRenderCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render INPUT OUTPUT.wav",
		Short: "Decode a file through the playback pipeline into a 16-bit WAV",
		Long: `Decode INPUT with the same pipeline playback uses (resampling, channel
mixing, loudness normalization, silence trimming and the configured effects)
and write the result as 16-bit PCM WAV.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.render(cmd.Context(), args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.Bool("normalize", true, "apply loudness normalization")
	f.Bool("trim-silence", true, "trim leading and trailing silence")
	bindFlags(a.v, f, map[string]string{
		"audio.loudness_normalization": "normalize",
		"audio.silence_trimming":       "trim-silence",
	})
	return cmd
}

func (a *app) render(ctx context.Context, in, outPath string) error {
	cfg := a.cfg.Audio
	started := time.Now()

	effects, err := pipeline.NewEffects(cfg.Effects)
	if err != nil {
		return err
	}

	src := source.New(1, source.Config{
		Registry:   audfeed.DefaultRegistry(),
		Opener:     source.OSOpener{},
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		BufferTime: cfg.BufferTime,
		Effects:    effects,
		Logger:     a.log,
	})
	defer src.Destroy()

	res, err := src.Load(ctx, source.LoadOptions{FileReference: in})
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	w := wav.NewWriter(out, cfg.SampleRate, cfg.Channels)
	var interleaved []float32
	onChunk := func(desc pipeline.BufferDescriptor, channels [][]float32) error {
		n := desc.Length * len(channels)
		if cap(interleaved) < n {
			interleaved = make([]float32, n)
		}
		interleaved = interleaved[:n]
		for ch, data := range channels {
			for i := range desc.Length {
				interleaved[i*len(channels)+ch] = data[i]
			}
		}
		return w.Write(interleaved)
	}

	opts := source.FillOptions{
		Token:                 res.Token,
		LoudnessNormalization: cfg.LoudnessNormalization,
		SilenceTrimming:       cfg.SilenceTrimming,
	}
	for !src.Ended() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := src.FillBuffers(renderChunks, onChunk, opts); err != nil {
			return fmt.Errorf("decoding %s: %w", in, err)
		}
	}

	if err := w.Close(); err != nil {
		return err
	}

	a.log.Info().
		Str("input", in).
		Str("output", outPath).
		Str("codec", res.Metadata.Codec).
		Int64("frames", w.Frames()).
		Dur("took", time.Since(started)).
		Msg("rendered")
	return nil
}
