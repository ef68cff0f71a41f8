// SPDX-License-Identifier: EPL-2.0

package audio

import "errors"

var (
	ErrInvalidDstSize = errors.New("dst size must be multiple of channels")

	// ErrUnknownCodec is returned by Registry.Sniff when no format matches.
	ErrUnknownCodec = errors.New("unknown or unsupported codec")

	// ErrNoProgress is returned when a source keeps returning empty reads.
	ErrNoProgress = errors.New("source returned no data")

	// ErrNotSeekable is returned by SeekFrame implementations whose input
	// cannot be repositioned.
	ErrNotSeekable = errors.New("source is not seekable")

	// ErrInvalidChannelCount is returned for mixers configured with fewer than one channel.
	ErrInvalidChannelCount = errors.New("channel count must be positive")
)
