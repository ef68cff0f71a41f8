// SPDX-License-Identifier: EPL-2.0

package flac

import "errors"

var (
	ErrNotFlacFile         = errors.New("not a FLAC file")
	ErrUnsupportedBitDepth = errors.New("unsupported FLAC bit depth")
	// ErrChannelMismatch means a frame carried a different channel count
	// than STREAMINFO announced.
	ErrChannelMismatch = errors.New("FLAC channel layout mismatch")
)
