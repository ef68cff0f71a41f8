// SPDX-License-Identifier: EPL-2.0

package backend

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ik5/audfeed/pipeline"
)

// ResultType names an outbound message.
type ResultType string

const (
	ResultTimeUpdate                   ResultType = "timeupdate"
	ResultNextTrackRequest             ResultType = "nextTrackRequest"
	ResultPreloadedTrackStartedPlaying ResultType = "preloadedTrackStartedPlaying"
	ResultStop                         ResultType = "stop"
	ResultError                        ResultType = "error"
	ResultDecodingLatency              ResultType = "decodingLatencyValue"
	ResultFingerprint                  ResultType = "fingerprint"
)

// Stop reasons.
const (
	StopPreloadError  = "preload-error"
	StopPlaylistEnded = "playlist-ended"
)

// Result is one outbound message. Only the fields of its type are set;
// numeric fields are always encoded, zero included.
type Result struct {
	Type ResultType `json:"type"`

	CurrentTime float64 `json:"currentTime"`
	TotalTime   float64 `json:"totalTime"`

	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`

	// Value is the decoding latency in milliseconds.
	Value float64 `json:"value"`

	TrackUID    string `json:"trackUid,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// Sink receives outbound messages. Send is called with the backend lock
// held and must not call back into the backend.
type Sink interface {
	Send(Result)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Result)

func (f SinkFunc) Send(r Result) { f(r) }

// ChanSink forwards results to a channel, dropping them when it is full.
type ChanSink chan Result

func (c ChanSink) Send(r Result) {
	select {
	case c <- r:
	default:
	}
}

// Recorder is a Sink that keeps every result. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *Recorder) Send(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

// Results returns a copy of everything received so far.
func (r *Recorder) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

// Count returns how many results of type t were received.
func (r *Recorder) Count(t ResultType) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, res := range r.results {
		if res.Type == t {
			n++
		}
	}
	return n
}

// Last returns the most recent result of type t.
func (r *Recorder) Last(t ResultType) (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.results) - 1; i >= 0; i-- {
		if r.results[i].Type == t {
			return r.results[i], true
		}
	}
	return Result{}, false
}

type LoadRequest struct {
	FileReference string `json:"fileReference"`
	// Progress in [0, 1) to start playback from.
	Progress                  float64 `json:"progress,omitempty"`
	ResumeAfterInitialization bool    `json:"resumeAfterInitialization,omitempty"`
}

type SeekRequest struct {
	Time                      float64 `json:"time"`
	ResumeAfterInitialization bool    `json:"resumeAfterInitialization,omitempty"`
}

type PauseRequest struct {
	// FadeOutDelay in seconds.
	FadeOutDelay float64 `json:"fadeOutDelay"`
}

// NextTrackResponse answers a nextTrackRequest. An empty FileReference
// means there is no next track.
type NextTrackResponse struct {
	FileReference string `json:"fileReference,omitempty"`
}

// ConfigUpdate carries the options of an audioConfigurationChange. Nil
// fields are left unchanged. Sample rate, channel count and the ring
// buffers are fixed at initialization.
type ConfigUpdate struct {
	BufferTime            *float64              `json:"bufferTime,omitempty"`
	SustainedSeconds      *float64              `json:"sustainedBufferedAudioSeconds,omitempty"`
	CrossfadeDuration     *float64              `json:"crossfadeDuration,omitempty"`
	LoudnessNormalization *bool                 `json:"loudnessNormalization,omitempty"`
	SilenceTrimming       *bool                 `json:"silenceTrimming,omitempty"`
	Effects               []pipeline.EffectSpec `json:"effects,omitempty"`
}

// Message is an inbound control message in its wire form.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handle decodes msg and dispatches it to the matching handler.
// initialAudioConfiguration cannot travel as a Message since it carries
// ring buffers; use InitialAudioConfiguration.
func (b *Backend) Handle(msg Message) error {
	decode := func(v any) error {
		if len(msg.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Payload, v); err != nil {
			return fmt.Errorf("decoding %s payload: %w", msg.Type, err)
		}
		return nil
	}

	switch msg.Type {
	case "timeUpdate":
		b.TimeUpdate()
		return nil

	case "audioConfigurationChange":
		var u ConfigUpdate
		if err := decode(&u); err != nil {
			return err
		}
		return b.AudioConfigurationChange(u)

	case "load":
		var req LoadRequest
		if err := decode(&req); err != nil {
			return err
		}
		return b.Load(req)

	case "seek":
		var req SeekRequest
		if err := decode(&req); err != nil {
			return err
		}
		return b.Seek(req)

	case "pause":
		var req PauseRequest
		if err := decode(&req); err != nil {
			return err
		}
		return b.Pause(req)

	case "resume":
		return b.Resume()

	case "nextTrackResponse":
		var resp NextTrackResponse
		if err := decode(&resp); err != nil {
			return err
		}
		return b.NextTrackResponse(resp)

	case "nextTrackResponseUpdate":
		var resp NextTrackResponse
		if err := decode(&resp); err != nil {
			return err
		}
		return b.NextTrackResponseUpdate(resp)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}
