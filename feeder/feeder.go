// SPDX-License-Identifier: EPL-2.0

package feeder

import (
	"time"

	"github.com/ik5/audfeed/logger"
	"github.com/ik5/audfeed/pipeline"
	"github.com/ik5/audfeed/ringbuf"
	"github.com/rs/zerolog"
)

// MaxFrame is the wraparound modulus of the ring buffer frame counter.
const MaxFrame = ringbuf.MaxFrame

// waiterTimeout releases a waiter whose condition never became true.
const waiterTimeout = 2 * time.Second

// ClearMode selects what AddData resets before queueing a chunk.
type ClearMode int

const (
	// NoClear appends to whatever is queued.
	NoClear ClearMode = iota
	// ClearAndSetOffset drops queued and buffered audio and restarts
	// position tracking at the seek offset (new track or seek).
	ClearAndSetOffset
	// OnlySetOffset keeps queued audio and rebinds the position offset.
	OnlySetOffset
)

func (m ClearMode) String() string {
	switch m {
	case NoClear:
		return "no-clear"
	case ClearAndSetOffset:
		return "clear-and-set-offset"
	case OnlySetOffset:
		return "only-set-offset"
	default:
		return "unknown"
	}
}

// Role is the initial output role of a feeder.
type Role int

const (
	Foreground Role = iota
	Background
)

// RingBuffer is the output buffer a Data writes into.
// *ringbuf.Buffer implements it.
type RingBuffer interface {
	Channels() int
	CurrentFrameNumber() int64
	ReadableFrames() int
	WritableFrames() int
	Write(channels [][]float32, frames int) (int, error)
	Clear()
	SetPaused()
	UnsetPaused()
	IsPaused() bool
	RequestPause(fadeOutFrames int)
	SetBackgrounded()
	UnsetBackgrounded()
}

// Owner is the source a queued chunk came from.
type Owner interface {
	ID() int
	Destroyed() bool
	Ended() bool
}

type entry struct {
	written     int
	length      int
	startFrames int64
	endFrames   int64
	channels    [][]float32
	sourceID    int
}

type waiter struct {
	started time.Time
	owner   Owner
	done    chan struct{}
}

func (w *waiter) release() { close(w.done) }

// Data feeds one ring buffer from a queue of decoded chunks and maps the
// ring buffer's frame counter back to track time.
//
// Data is not safe for concurrent use; the backend serializes all calls.
// Channels returned by the Wait methods may be awaited from any goroutine.
type Data struct {
	ring  RingBuffer
	queue []*entry

	// ring frame counter at the last discontinuity
	clearedFrameIndex int64
	seekFrameOffset   int64

	writeWaiters      []*waiter
	allWrittenWaiters []*waiter

	now func() time.Time
	log zerolog.Logger
}

// New binds a feeder to ring. The ring starts paused.
func New(ring RingBuffer, role Role, log zerolog.Logger) *Data {
	d := &Data{
		ring: ring,
		now:  time.Now,
		log:  logger.Component(log, "feeder"),
	}

	ring.SetPaused()
	if role == Background {
		ring.SetBackgrounded()
	} else {
		ring.UnsetBackgrounded()
	}

	return d
}

// Ring returns the ring buffer this feeder writes to.
func (d *Data) Ring() RingBuffer { return d.ring }

func (d *Data) SetAsForeground() {
	d.ring.UnsetPaused()
	d.ring.UnsetBackgrounded()
}

func (d *Data) SetAsBackground() {
	d.ring.SetBackgrounded()
}

func (d *Data) IsPaused() bool { return d.ring.IsPaused() }

// Pause fades the output out over fadeOutFrames frames, then pauses.
func (d *Data) Pause(fadeOutFrames int) {
	d.ring.RequestPause(fadeOutFrames)
}

func (d *Data) Resume() {
	d.ring.UnsetPaused()
}

// Len returns the number of queued chunks.
func (d *Data) Len() int { return len(d.queue) }

// ClearOffsets restarts position tracking at seekOffset from the ring's
// current frame.
func (d *Data) ClearOffsets(seekOffset int64) {
	d.seekFrameOffset = seekOffset
	d.clearedFrameIndex = d.ring.CurrentFrameNumber()
	d.log.Debug().
		Int64("seek_offset", seekOffset).
		Int64("frame_index", d.clearedFrameIndex).
		Msg("offsets cleared")
}

// Clear drops all queued and buffered audio.
func (d *Data) Clear(seekOffset int64) {
	d.queue = nil
	d.ring.Clear()
	d.ClearOffsets(seekOffset)
}

// AddData queues one chunk and writes as much as fits into the ring.
//
// A silent chunk is dropped when playSilence is false. Position tracking
// then behaves as if the chunk had been played.
func (d *Data) AddData(desc pipeline.BufferDescriptor, channels [][]float32, mode ClearMode, seekOffset int64, playSilence bool) error {
	switch mode {
	case ClearAndSetOffset:
		d.Clear(seekOffset)
	case OnlySetOffset:
		d.ClearOffsets(seekOffset)
	}

	if playSilence || !desc.Loudness.IsEntirelySilent {
		d.queue = append(d.queue, &entry{
			length:      desc.Length,
			startFrames: desc.StartFrames,
			endFrames:   desc.EndFrames,
			channels:    channels,
			sourceID:    desc.SourceID,
		})
	} else {
		d.clearedFrameIndex -= int64(desc.Length)
		if d.clearedFrameIndex < 0 {
			d.clearedFrameIndex += MaxFrame
		}
	}

	return d.WriteToAudioBuffer()
}

// CurrentlyPlayedFrame returns the track frame the ring is playing.
func (d *Data) CurrentlyPlayedFrame() int64 {
	current := d.ring.CurrentFrameNumber()
	if current >= d.clearedFrameIndex {
		return current - d.clearedFrameIndex + d.seekFrameOffset
	}
	return MaxFrame - d.clearedFrameIndex + current + d.seekFrameOffset
}

// SamplesAtRelativeFramesFromCurrent copies count frames, starting offset
// frames past the current play position, into the interleaved dst. Frames
// not covered by queued chunks are zeroed. It returns the number of frames
// copied from the queue.
func (d *Data) SamplesAtRelativeFramesFromCurrent(offset int64, count int, dst []float32) int {
	channels := d.ring.Channels()
	count = min(count, len(dst)/channels)

	start := d.CurrentlyPlayedFrame() + offset
	end := start + int64(count)
	copied := 0

	for _, e := range d.queue {
		if start >= end {
			break
		}
		if e.startFrames > start || start > e.endFrames {
			continue
		}

		from := int(start - e.startFrames)
		n := int(min(end-start, int64(e.length-from)))
		for c := 0; c < channels && c < len(e.channels); c++ {
			src := e.channels[c]
			for i := 0; i < n && from+i < len(src); i++ {
				dst[(copied+i)*channels+c] = src[from+i]
			}
		}
		start += int64(n)
		copied += n
	}

	clear(dst[copied*channels : count*channels])
	return copied
}

// QueuedAndBufferedSeconds returns how much audio is waiting to be played.
func (d *Data) QueuedAndBufferedSeconds(sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}

	frames := d.ring.ReadableFrames()
	for _, e := range d.queue {
		frames += e.length - e.written
	}
	return float64(frames) / float64(sampleRate)
}

// Cleanup drops the fully played prefix of the queue and releases stale waiters.
func (d *Data) Cleanup() {
	played := d.CurrentlyPlayedFrame()

	if len(d.queue) > 0 {
		// only the first monotonic run can be compared with the play position
		first := d.queue[0]
		run := 1
		for ; run < len(d.queue); run++ {
			if d.queue[run].endFrames < first.endFrames {
				break
			}
		}

		removeUntil := 0
		for j := range run {
			if d.queue[j].endFrames <= played {
				removeUntil = j + 1
			}
		}
		if removeUntil > 0 {
			clear(d.queue[:removeUntil])
			d.queue = d.queue[removeUntil:]
		}
	}

	now := d.now()
	d.allWrittenWaiters = releaseStale(d.allWrittenWaiters, now)
	d.writeWaiters = releaseStale(d.writeWaiters, now)
}

func releaseStale(waiters []*waiter, now time.Time) []*waiter {
	kept := waiters[:0]
	for _, w := range waiters {
		if now.Sub(w.started) > waiterTimeout || w.owner.Destroyed() || w.owner.Ended() {
			w.release()
			continue
		}
		kept = append(kept, w)
	}
	clear(waiters[len(kept):])
	return kept
}

// AllBuffersPlayedFor reports whether every queued chunk of the source ends
// at least frameOffset frames before the current play position.
func (d *Data) AllBuffersPlayedFor(sourceID int, frameOffset int64) bool {
	d.Cleanup()
	endPoint := d.CurrentlyPlayedFrame() - frameOffset

	for _, e := range d.queue {
		if e.sourceID == sourceID && e.endFrames > endPoint {
			return false
		}
	}
	return true
}

// HasWrittenSamplesFor reports whether any of the source's chunks reached the ring.
func (d *Data) HasWrittenSamplesFor(sourceID int) bool {
	for _, e := range d.queue {
		if e.written > 0 && e.sourceID == sourceID {
			return true
		}
	}
	return false
}

// AllBuffersWrittenFor reports whether every queued chunk of the source
// has been copied into the ring.
func (d *Data) AllBuffersWrittenFor(sourceID int) bool {
	for _, e := range d.queue {
		if e.written < e.length && e.sourceID == sourceID {
			return false
		}
	}
	return true
}

// WaitWrittenSamplesFor returns a channel closed once some of the owner's
// audio reached the ring, or the owner ended, was destroyed or waited too long.
func (d *Data) WaitWrittenSamplesFor(o Owner) <-chan struct{} {
	if d.HasWrittenSamplesFor(o.ID()) {
		return closedChan()
	}
	w := &waiter{started: d.now(), owner: o, done: make(chan struct{})}
	d.writeWaiters = append(d.writeWaiters, w)
	return w.done
}

// WaitAllBuffersWrittenFor is WaitWrittenSamplesFor for the whole of the
// owner's queued audio.
func (d *Data) WaitAllBuffersWrittenFor(o Owner) <-chan struct{} {
	if d.AllBuffersWrittenFor(o.ID()) {
		return closedChan()
	}
	w := &waiter{started: d.now(), owner: o, done: make(chan struct{})}
	d.allWrittenWaiters = append(d.allWrittenWaiters, w)
	return w.done
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func releaseFor(waiters []*waiter, sourceID int) []*waiter {
	kept := waiters[:0]
	for _, w := range waiters {
		if w.owner.ID() == sourceID || w.owner.Destroyed() || w.owner.Ended() {
			w.release()
			continue
		}
		kept = append(kept, w)
	}
	clear(waiters[len(kept):])
	return kept
}

func (d *Data) checkWriteWaiters() {
	if len(d.writeWaiters) == 0 {
		return
	}
	for _, e := range d.queue {
		if e.written > 0 {
			d.writeWaiters = releaseFor(d.writeWaiters, e.sourceID)
		}
	}
}

func (d *Data) checkAllWrittenWaiters() {
	if len(d.allWrittenWaiters) == 0 {
		return
	}

	done := make(map[int]bool)
	for _, e := range d.queue {
		if e.written >= e.length {
			done[e.sourceID] = true
		} else {
			delete(done, e.sourceID)
		}
	}
	for id := range done {
		d.allWrittenWaiters = releaseFor(d.allWrittenWaiters, id)
	}
}

// WriteToAudioBuffer copies queued audio into the ring until either the
// ring is full or the queue has nothing left to write.
func (d *Data) WriteToAudioBuffer() error {
	if len(d.queue) == 0 {
		return nil
	}

	for writable := d.ring.WritableFrames(); writable > 0; writable = d.ring.WritableFrames() {
		var e *entry
		for _, candidate := range d.queue {
			if candidate.written < candidate.length {
				e = candidate
				break
			}
		}
		if e == nil {
			break
		}

		frames := min(e.length-e.written, writable)
		rest := make([][]float32, len(e.channels))
		for c, ch := range e.channels {
			rest[c] = ch[e.written:]
		}

		written, err := d.ring.Write(rest, frames)
		if err != nil {
			return err
		}
		if written == 0 {
			break
		}
		e.written += written
		d.checkWriteWaiters()
	}

	d.checkAllWrittenWaiters()
	return nil
}
