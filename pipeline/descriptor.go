// SPDX-License-Identifier: EPL-2.0

package pipeline

import "time"

// LoudnessInfo is the analyzer's verdict for one decoded chunk.
type LoudnessInfo struct {
	IsEntirelySilent bool
}

// BufferDescriptor describes one decoded chunk. Frame positions are
// track-relative and counted at the destination sample rate.
type BufferDescriptor struct {
	// Length in frames, including render quantum padding.
	Length          int
	StartFrames     int64
	EndFrames       int64
	Loudness        LoudnessInfo
	SampleRate      int
	ChannelCount    int
	DecodingLatency time.Duration
	SourceID        int

	// Set by the owning source, not the pipeline.
	IsFadeOutBuffer bool
	IsLastBuffer    bool
}

// Duration returns the playback time covered by the chunk.
func (d BufferDescriptor) Duration() time.Duration {
	if d.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(d.Length) / float64(d.SampleRate) * float64(time.Second))
}
