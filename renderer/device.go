// SPDX-License-Identifier: EPL-2.0

//go:build !headless

package renderer

import (
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/ik5/audfeed/logger"
	"github.com/rs/zerolog"
)

type DeviceOptions struct {
	SampleRate int
	Channels   int
	// BufferSize is the device side latency.
	BufferSize time.Duration
	Logger     zerolog.Logger
}

// Device plays a stream of float32 little endian samples through the
// system's audio output. oto allows one context per process, so only one
// Device may be opened.
type Device struct {
	mu      sync.Mutex
	ctx     *oto.Context
	player  *oto.Player
	started bool
	log     zerolog.Logger
}

// OpenDevice opens the output and attaches r, usually a *Mixer. Playback
// starts with Play.
func OpenDevice(r io.Reader, opts DeviceOptions) (*Device, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   opts.SampleRate,
		ChannelCount: opts.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   opts.BufferSize,
	})
	if err != nil {
		return nil, err
	}
	<-ready

	d := &Device{
		ctx:    ctx,
		player: ctx.NewPlayer(r),
		log:    logger.Component(opts.Logger, "renderer"),
	}
	d.log.Info().Int("sample_rate", opts.SampleRate).Int("channels", opts.Channels).Dur("buffer", opts.BufferSize).Msg("audio device opened")
	return d, nil
}

func (d *Device) Play() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started && d.player != nil {
		d.player.Play()
		d.started = true
	}
}

func (d *Device) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started && d.player != nil {
		d.player.Pause()
		d.started = false
	}
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.player == nil {
		return nil
	}
	err := d.player.Close()
	d.player = nil
	d.started = false
	return err
}
