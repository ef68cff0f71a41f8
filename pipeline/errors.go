// SPDX-License-Identifier: EPL-2.0

package pipeline

import "errors"

var (
	// ErrBufferNotConsumed is returned by Decode while a previous descriptor
	// is still waiting for ConsumeFilledBuffer.
	ErrBufferNotConsumed = errors.New("previous buffer has not been consumed")

	// ErrNoFilledBuffer is returned by ConsumeFilledBuffer when nothing was decoded.
	ErrNoFilledBuffer = errors.New("buffer has not been filled")

	// ErrChannelMismatch means the destination has the wrong channel count.
	ErrChannelMismatch = errors.New("destination channel count mismatch")

	// ErrClosed is returned by Decode and SeekFrame after Close.
	ErrClosed = errors.New("pipeline closed")

	ErrInvalidEffect = errors.New("invalid effect")

	// ErrNotEnoughAudio is returned by Fingerprinter.Fingerprint before a
	// single analysis window was collected.
	ErrNotEnoughAudio = errors.New("not enough audio for a fingerprint")

	ErrInvalidLoudnessState = errors.New("invalid loudness analyzer state")
)
