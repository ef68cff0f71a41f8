// SPDX-License-Identifier: EPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ik5/audfeed"
	"github.com/ik5/audfeed/backend"
	"github.com/ik5/audfeed/metrics"
	"github.com/ik5/audfeed/renderer"
	"github.com/ik5/audfeed/ringbuf"
	"github.com/ik5/audfeed/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errPlaylistEnded = errors.New("playlist ended")

func newPlayCmd(a *app) *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "play FILE...",
		Short: "Play files back to back",
		Long: `Play the given files in order. Consecutive tracks are joined gaplessly,
or crossfaded when --crossfade is set and both tracks are long enough.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.play(cmd.Context(), cmd.OutOrStdout(), args, headless)
		},
	}

	f := cmd.Flags()
	f.Float64("crossfade", 0, "crossfade duration in seconds, 0 plays gaplessly")
	f.Bool("fingerprint", false, "print an acoustic fingerprint of every track")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.BoolVar(&headless, "headless", false, "consume audio with a clock instead of an output device")
	bindFlags(a.v, f, map[string]string{
		"audio.crossfade":   "crossfade",
		"audio.fingerprint": "fingerprint",
		"metrics.addr":      "metrics-addr",
	})
	return cmd
}

func (a *app) play(ctx context.Context, out io.Writer, files []string, headless bool) error {
	cfg := a.cfg
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	channels := cfg.Audio.Channels
	rings := [2]*ringbuf.Buffer{
		ringbuf.New(channels, cfg.RingFrames()),
		ringbuf.New(channels, cfg.RingFrames()),
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}
	if err := m.WatchRing("foreground", rings[0]); err != nil {
		return err
	}
	if err := m.WatchRing("background", rings[1]); err != nil {
		return err
	}

	results := make(backend.ChanSink, 4096)
	b := backend.New(backend.Options{
		Registry:    audfeed.DefaultRegistry(),
		Opener:      source.OSOpener{},
		Store:       source.NewMemoryStore(),
		Sink:        results,
		Observer:    m,
		Fingerprint: cfg.Audio.Fingerprint,
		Logger:      a.log,
	})
	defer b.Close()

	if err := b.InitialAudioConfiguration(cfg.Backend(rings[0], rings[1])); err != nil {
		return err
	}

	mixer, err := renderer.NewMixer(channels, rings[0], rings[1])
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if headless {
		clock := renderer.NewClock(mixer, renderer.ClockOptions{
			SampleRate: cfg.Audio.SampleRate,
			Interval:   cfg.Output.TickInterval,
			Logger:     a.log,
		})
		g.Go(func() error { return clock.Run(ctx, nil, b.TimeUpdate) })
	} else {
		dev, err := renderer.OpenDevice(mixer, renderer.DeviceOptions{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   channels,
			BufferSize: cfg.Output.DeviceBuffer,
			Logger:     a.log,
		})
		if err != nil {
			return fmt.Errorf("opening audio device: %w", err)
		}
		defer dev.Close()
		dev.Play()
		g.Go(func() error { return renderer.Tick(ctx, cfg.Output.TickInterval, b.TimeUpdate) })
	}

	if addr := cfg.Metrics.Addr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			a.log.Info().Str("addr", addr).Msg("serving metrics")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	p := &player{b: b, out: out, log: a.log, files: files}
	if err := p.start(); err != nil {
		return err
	}
	g.Go(func() error { return p.handle(ctx, results) })

	err = g.Wait()
	if errors.Is(err, errPlaylistEnded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// player answers the backend's requests from a fixed list of files.
type player struct {
	b     *backend.Backend
	out   io.Writer
	log   zerolog.Logger
	files []string
	// playing is the index of the audible file, next the index of the
	// file handed out for preloading.
	playing, next int
	lastSecond    int
}

func (p *player) start() error {
	fmt.Fprintf(p.out, "playing %s\n", p.files[0])
	p.next = 1
	return p.b.Load(backend.LoadRequest{FileReference: p.files[0], ResumeAfterInitialization: true})
}

func (p *player) handle(ctx context.Context, results <-chan backend.Result) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-results:
			if err := p.result(r); err != nil {
				return err
			}
		}
	}
}

func (p *player) result(r backend.Result) error {
	switch r.Type {
	case backend.ResultNextTrackRequest:
		var resp backend.NextTrackResponse
		if p.next < len(p.files) {
			resp.FileReference = p.files[p.next]
			p.next++
		}
		return p.b.NextTrackResponse(resp)

	case backend.ResultPreloadedTrackStartedPlaying:
		p.playing = p.next - 1
		p.lastSecond = -1
		fmt.Fprintf(p.out, "playing %s\n", p.files[p.playing])

	case backend.ResultTimeUpdate:
		if s := int(r.CurrentTime); s != p.lastSecond {
			p.lastSecond = s
			p.log.Debug().Str("position", clock(r.CurrentTime)+" / "+clock(r.TotalTime)).Msg("time update")
		}

	case backend.ResultFingerprint:
		fmt.Fprintf(p.out, "fingerprint %s %s\n", r.TrackUID, r.Fingerprint)

	case backend.ResultError:
		p.log.Warn().Str("message", r.Message).Msg("backend error")
		if strings.HasPrefix(r.Message, "load:") {
			// nothing plays after a failed load; move on
			if p.next >= len(p.files) {
				return errors.New(r.Message)
			}
			p.playing = p.next
			p.next++
			fmt.Fprintf(p.out, "playing %s\n", p.files[p.playing])
			return p.b.Load(backend.LoadRequest{FileReference: p.files[p.playing], ResumeAfterInitialization: true})
		}

	case backend.ResultStop:
		if r.Reason == backend.StopPlaylistEnded {
			return errPlaylistEnded
		}
		p.log.Warn().Str("reason", r.Reason).Msg("playback stopped")
	}
	return nil
}

func clock(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
