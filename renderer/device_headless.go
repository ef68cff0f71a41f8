// SPDX-License-Identifier: EPL-2.0

//go:build headless

package renderer

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

type DeviceOptions struct {
	SampleRate int
	Channels   int
	BufferSize time.Duration
	Logger     zerolog.Logger
}

// Device is unavailable in headless builds.
type Device struct{}

func OpenDevice(io.Reader, DeviceOptions) (*Device, error) { return nil, ErrNoDevice }

func (*Device) Play()        {}
func (*Device) Pause()       {}
func (*Device) Close() error { return nil }
