// SPDX-License-Identifier: EPL-2.0

package backend

import "github.com/ik5/audfeed/pipeline"

// Observer receives instrumentation events. Methods are called with the
// backend lock held.
type Observer interface {
	ChunkDecoded(desc pipeline.BufferDescriptor)
	OperationFailed(op string)
	TrackSwapped(target SwapTarget)
	// BufferLevels reports queued plus buffered seconds per feeder.
	BufferLevels(active, passive float64)
}

type nopObserver struct{}

func (nopObserver) ChunkDecoded(pipeline.BufferDescriptor) {}
func (nopObserver) OperationFailed(string)                 {}
func (nopObserver) TrackSwapped(SwapTarget)                {}
func (nopObserver) BufferLevels(float64, float64)          {}
