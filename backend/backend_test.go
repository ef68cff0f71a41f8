// SPDX-License-Identifier: EPL-2.0

package backend

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ik5/audfeed/audio"
	"github.com/ik5/audfeed/formats/wav"
	"github.com/ik5/audfeed/pipeline"
	"github.com/ik5/audfeed/ringbuf"
	"github.com/ik5/audfeed/source"
	"github.com/rs/zerolog"
)

const (
	testRate     = 8000
	testChannels = 2
	// frames the simulated device consumes per tick
	testStep = 400
)

func sineWAV(t *testing.T, seconds float64) []byte {
	t.Helper()

	frames := int(seconds * testRate)
	samples := make([]int16, frames*testChannels)
	for f := range frames {
		v := int16(8000 * math.Sin(2*math.Pi*330*float64(f)/testRate))
		for ch := range testChannels {
			samples[f*testChannels+ch] = v
		}
	}

	var buf bytes.Buffer
	if err := wav.WriteWAV16(&buf, testRate, testChannels, samples); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type recordingObserver struct {
	mu     sync.Mutex
	swaps  []SwapTarget
	failed []string
	chunks int
}

func (o *recordingObserver) ChunkDecoded(pipeline.BufferDescriptor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chunks++
}

func (o *recordingObserver) OperationFailed(op string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, op)
}

func (o *recordingObserver) TrackSwapped(target SwapTarget) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.swaps = append(o.swaps, target)
}

func (o *recordingObserver) BufferLevels(float64, float64) {}

func (o *recordingObserver) swapped() []SwapTarget {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]SwapTarget(nil), o.swaps...)
}

// host plays the role of the audio device and the playlist.
type host struct {
	t        *testing.T
	b        *Backend
	rec      *Recorder
	obs      *recordingObserver
	opener   *source.MemoryOpener
	rings    [2]*ringbuf.Buffer
	playlist []string
	answered int
	buf      []float32
}

type hostOptions struct {
	crossfade   float64
	fingerprint bool
	tracks      map[string]float64
	playlist    []string
}

func newHost(t *testing.T, opts hostOptions) *host {
	t.Helper()

	reg := audio.NewRegistry()
	reg.RegisterFormat(wav.Format())

	h := &host{
		t:        t,
		rec:      &Recorder{},
		obs:      &recordingObserver{},
		opener:   source.NewMemoryOpener(),
		playlist: opts.playlist,
		buf:      make([]float32, testStep*testChannels),
	}
	for name, seconds := range opts.tracks {
		h.opener.Add(name, sineWAV(t, seconds))
	}
	h.opener.Add("garbage.bin", []byte("this is not an audio file at all"))

	h.b = New(Options{
		Registry:    reg,
		Opener:      h.opener,
		Sink:        h.rec,
		Observer:    h.obs,
		Fingerprint: opts.fingerprint,
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(func() { h.b.Close() })

	for i := range h.rings {
		h.rings[i] = ringbuf.New(testChannels, RingFramesFor(testRate))
	}
	err := h.b.InitialAudioConfiguration(Config{
		SampleRate:        testRate,
		Channels:          testChannels,
		Foreground:        h.rings[0],
		Background:        h.rings[1],
		BufferTime:        0.4,
		CrossfadeDuration: opts.crossfade,
	})
	if err != nil {
		t.Fatalf("InitialAudioConfiguration() error = %v", err)
	}
	return h
}

// step runs one tick: answers pending track requests, lets the backend
// schedule and consumes up to testStep frames from each ring.
func (h *host) step() {
	for h.answered < h.rec.Count(ResultNextTrackRequest) {
		var resp NextTrackResponse
		if h.answered < len(h.playlist) {
			resp.FileReference = h.playlist[h.answered]
		}
		h.answered++
		if err := h.b.NextTrackResponse(resp); err != nil {
			h.t.Errorf("NextTrackResponse() error = %v", err)
		}
	}

	h.b.TimeUpdate()
	for _, r := range h.rings {
		n := min(testStep, r.ReadableFrames())
		if n == 0 {
			continue
		}
		r.Read(h.buf[:n*testChannels])
	}
	time.Sleep(200 * time.Microsecond)
}

func (h *host) runUntil(what string, cond func() bool) {
	h.t.Helper()

	deadline := time.Now().Add(30 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s; status %+v", what, h.b.Status())
		}
		h.step()
	}
}

func (h *host) lastTime() Result {
	r, _ := h.rec.Last(ResultTimeUpdate)
	return r
}

// sawTime reports whether a time update for current was sent.
func (h *host) sawTime(current float64) bool {
	for _, r := range h.rec.Results() {
		if r.Type == ResultTimeUpdate && math.Abs(r.CurrentTime-current) < 1e-9 {
			return true
		}
	}
	return false
}

func (h *host) load(ref string) {
	h.t.Helper()
	if err := h.b.Load(LoadRequest{FileReference: ref, ResumeAfterInitialization: true}); err != nil {
		h.t.Fatalf("Load() error = %v", err)
	}
}

func TestClosestPowerOf2(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want int
	}{
		{0, 1},
		{1, 1},
		{3, 4},
		{5, 4},
		{6, 8},
		{3200, 4096},
		{17640, 16384},
		{16384, 16384},
	}
	for _, tt := range tests {
		if got := closestPowerOf2(tt.in); got != tt.want {
			t.Errorf("closestPowerOf2(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestInitialAudioConfiguration_Validation(t *testing.T) {
	t.Parallel()

	ring := ringbuf.New(2, 64)
	mono := ringbuf.New(1, 64)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no rate", Config{Channels: 2, Foreground: ring, Background: ring, BufferTime: 0.4}},
		{"no channels", Config{SampleRate: 8000, Foreground: ring, Background: ring, BufferTime: 0.4}},
		{"missing ring", Config{SampleRate: 8000, Channels: 2, Foreground: ring, BufferTime: 0.4}},
		{"channel mismatch", Config{SampleRate: 8000, Channels: 2, Foreground: ring, Background: mono, BufferTime: 0.4}},
		{"no buffer time", Config{SampleRate: 8000, Channels: 2, Foreground: ring, Background: ring}},
		{"crossfade too long", Config{SampleRate: 8000, Channels: 2, Foreground: ring, Background: ring, BufferTime: 0.4, CrossfadeDuration: 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := New(Options{Logger: zerolog.Nop()})
			defer b.Close()
			if err := b.InitialAudioConfiguration(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("InitialAudioConfiguration() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestHandlersBeforeConfiguration(t *testing.T) {
	t.Parallel()

	b := New(Options{Logger: zerolog.Nop()})
	defer b.Close()

	if err := b.Load(LoadRequest{FileReference: "a.wav"}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Load() error = %v, want ErrNotConfigured", err)
	}
	if err := b.Pause(PauseRequest{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Pause() error = %v, want ErrNotConfigured", err)
	}
	if _, err := b.Config(); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Config() error = %v, want ErrNotConfigured", err)
	}
	// ticks before configuration are ignored
	b.TimeUpdate()
}

func TestInitialAudioConfiguration_Once(t *testing.T) {
	t.Parallel()

	h := newHost(t, hostOptions{})
	cfg, err := h.b.Config()
	if err != nil {
		t.Fatal(err)
	}

	if err := h.b.InitialAudioConfiguration(cfg); !errors.Is(err, ErrAlreadyConfigured) {
		t.Errorf("second InitialAudioConfiguration() error = %v, want ErrAlreadyConfigured", err)
	}
	if cfg.BufferTime != 4096.0/testRate {
		t.Errorf("BufferTime = %v, want %v", cfg.BufferTime, 4096.0/testRate)
	}
	if cfg.SustainedSeconds != 0.8 {
		t.Errorf("SustainedSeconds = %v, want 0.8", cfg.SustainedSeconds)
	}
	if !h.rings[0].IsPaused() {
		t.Error("foreground ring should start paused")
	}
	if h.rings[0].IsBackgrounded() || !h.rings[1].IsBackgrounded() {
		t.Error("ring roles not applied")
	}
}

func TestAudioConfigurationChange(t *testing.T) {
	t.Parallel()

	h := newHost(t, hostOptions{crossfade: 2})

	bt := 1.0
	if err := h.b.AudioConfigurationChange(ConfigUpdate{BufferTime: &bt}); err != nil {
		t.Fatal(err)
	}
	cfg, _ := h.b.Config()
	if cfg.BufferTime != 8192.0/testRate {
		t.Errorf("BufferTime = %v, want %v", cfg.BufferTime, 8192.0/testRate)
	}
	if cfg.SustainedSeconds != 2 {
		t.Errorf("SustainedSeconds = %v, want 2", cfg.SustainedSeconds)
	}
	if cfg.CrossfadeDuration != 2 {
		t.Errorf("CrossfadeDuration = %v, want unchanged 2", cfg.CrossfadeDuration)
	}

	bad := 7.5
	if err := h.b.AudioConfigurationChange(ConfigUpdate{CrossfadeDuration: &bad}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("AudioConfigurationChange() error = %v, want ErrInvalidConfig", err)
	}
	if cfg, _ := h.b.Config(); cfg.CrossfadeDuration != 2 {
		t.Errorf("rejected update changed crossfade to %v", cfg.CrossfadeDuration)
	}

	err := h.b.AudioConfigurationChange(ConfigUpdate{Effects: []pipeline.EffectSpec{{Type: "bogus"}}})
	if err == nil {
		t.Error("unknown effect accepted")
	}
}

func TestHandle(t *testing.T) {
	t.Parallel()

	h := newHost(t, hostOptions{})

	if err := h.b.Handle(Message{Type: "rewind"}); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Handle(rewind) error = %v, want ErrUnknownMessage", err)
	}
	if err := h.b.Handle(Message{Type: "seek", Payload: []byte(`{"time":"soon"}`)}); err == nil {
		t.Error("Handle() accepted a malformed payload")
	}

	msg := Message{Type: "audioConfigurationChange", Payload: []byte(`{"crossfadeDuration":2.5,"silenceTrimming":true}`)}
	if err := h.b.Handle(msg); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	cfg, _ := h.b.Config()
	if cfg.CrossfadeDuration != 2.5 || !cfg.SilenceTrimming {
		t.Errorf("config = %+v, want crossfade 2.5 with silence trimming", cfg)
	}

	// seek without a track is a no-op
	if err := h.b.Handle(Message{Type: "seek", Payload: []byte(`{"time":3}`)}); err != nil {
		t.Errorf("Handle(seek) error = %v", err)
	}
	if err := h.b.Handle(Message{Type: "timeUpdate"}); err != nil {
		t.Errorf("Handle(timeUpdate) error = %v", err)
	}
}

func TestLoad_Error(t *testing.T) {
	t.Parallel()

	h := newHost(t, hostOptions{})
	h.load("garbage.bin")

	h.runUntil("error result", func() bool { return h.rec.Count(ResultError) > 0 })
	res, _ := h.rec.Last(ResultError)
	if !strings.HasPrefix(res.Message, "load:") {
		t.Errorf("error message = %q, want load: prefix", res.Message)
	}
	if st := h.b.Status(); st.MainID != 0 {
		t.Errorf("MainID = %d after failed load, want 0", st.MainID)
	}
}

func TestCrossfadeSwap(t *testing.T) {
	t.Parallel()

	h := newHost(t, hostOptions{
		crossfade: 5,
		tracks:    map[string]float64{"a.wav": 30, "b.wav": 20},
		playlist:  []string{"b.wav"},
	})
	h.load("a.wav")

	h.runUntil("swap", func() bool { return h.rec.Count(ResultPreloadedTrackStartedPlaying) > 0 })

	var before Result
	for _, r := range h.rec.Results() {
		if r.Type == ResultPreloadedTrackStartedPlaying {
			break
		}
		if r.Type == ResultTimeUpdate {
			before = r
		}
	}
	if before.TotalTime != 30 {
		t.Errorf("total before swap = %v, want 30", before.TotalTime)
	}
	if before.CurrentTime < 24.5 || before.CurrentTime > 25.1 {
		t.Errorf("swap happened at %v, want about 25", before.CurrentTime)
	}

	if got := h.obs.swapped(); len(got) != 1 || got[0] != SwapAll {
		t.Errorf("swaps = %v, want [all]", got)
	}
	st := h.b.Status()
	if st.Active != 1 || st.SwapTargets != NoSwap {
		t.Errorf("status after swap = %+v", st)
	}

	h.runUntil("second track time", func() bool { return h.lastTime().TotalTime == 20 })
	h.runUntil("playlist end", func() bool { return h.rec.Count(ResultStop) > 0 })

	if n := h.rec.Count(ResultPreloadedTrackStartedPlaying); n != 1 {
		t.Errorf("%d swaps reported, want 1", n)
	}
	stop, _ := h.rec.Last(ResultStop)
	if stop.Reason != StopPlaylistEnded {
		t.Errorf("stop reason = %q, want %q", stop.Reason, StopPlaylistEnded)
	}
	if h.rec.Count(ResultDecodingLatency) == 0 {
		t.Error("no decoding latency reported")
	}
}

func TestGaplessSwap(t *testing.T) {
	t.Parallel()

	h := newHost(t, hostOptions{
		tracks:   map[string]float64{"a.wav": 6, "b.wav": 4},
		playlist: []string{"b.wav"},
	})
	h.load("a.wav")

	h.runUntil("swap", func() bool { return h.rec.Count(ResultPreloadedTrackStartedPlaying) > 0 })
	if got := h.obs.swapped(); len(got) != 1 || got[0] != SwapAudioSources {
		t.Errorf("swaps = %v, want [audio-sources]", got)
	}
	if st := h.b.Status(); st.Active != 0 {
		t.Errorf("gapless swap changed the active feeder to %d", st.Active)
	}

	h.runUntil("second track time", func() bool { return h.lastTime().TotalTime == 4 })
	if cur := h.lastTime().CurrentTime; cur > 1 {
		t.Errorf("second track starts at %v, want near 0", cur)
	}
	h.runUntil("playlist end", func() bool { return h.rec.Count(ResultStop) > 0 })
}

func TestPreloadError(t *testing.T) {
	t.Parallel()

	h := newHost(t, hostOptions{
		tracks:   map[string]float64{"a.wav": 8},
		playlist: []string{"missing.wav"},
	})
	h.load("a.wav")

	h.runUntil("preload error", func() bool { return h.rec.Count(ResultStop) > 0 })
	stop, _ := h.rec.Last(ResultStop)
	if stop.Reason != StopPreloadError {
		t.Fatalf("stop reason = %q, want %q", stop.Reason, StopPreloadError)
	}
	errRes, ok := h.rec.Last(ResultError)
	if !ok || !strings.HasPrefix(errRes.Message, "preload:") {
		t.Errorf("error result = %+v, want a preload error", errRes)
	}

	// the current track keeps playing to its end
	before := h.lastTime().CurrentTime
	h.runUntil("playlist end", func() bool {
		r, _ := h.rec.Last(ResultStop)
		return r.Reason == StopPlaylistEnded
	})
	if h.lastTime().CurrentTime <= before {
		t.Errorf("playback did not continue after preload error")
	}
}

func TestSeek(t *testing.T) {
	t.Parallel()

	h := newHost(t, hostOptions{
		crossfade: 5,
		tracks:    map[string]float64{"a.wav": 30},
	})
	h.load("a.wav")
	h.runUntil("playback", func() bool { return h.b.Status().CurrentTime > 1 })

	if err := h.b.Seek(SeekRequest{Time: 12, ResumeAfterInitialization: true}); err != nil {
		t.Fatal(err)
	}
	if !h.sawTime(12) {
		t.Error("no immediate time update for the seek target")
	}
	h.runUntil("seeked playback", func() bool {
		cur := h.b.Status().CurrentTime
		return cur > 12.2 && cur < 14
	})

	cfg, _ := h.b.Config()
	if err := h.b.Seek(SeekRequest{Time: 29, ResumeAfterInitialization: true}); err != nil {
		t.Fatal(err)
	}
	want := 30 - 5 - TimeUpdateResolution - cfg.BufferTime
	if !h.sawTime(want) {
		t.Errorf("no time update for the clamped position %v", want)
	}
	h.runUntil("clamped playback", func() bool { return h.b.Status().CurrentTime > want })
}

func TestPauseResume(t *testing.T) {
	t.Parallel()

	h := newHost(t, hostOptions{tracks: map[string]float64{"a.wav": 20}})
	h.load("a.wav")
	h.runUntil("playback", func() bool { return h.b.Status().CurrentTime > 0.5 })

	if err := h.b.Pause(PauseRequest{}); err != nil {
		t.Fatal(err)
	}
	if !h.b.Status().Paused {
		t.Fatal("not paused")
	}
	at := h.b.Status().CurrentTime
	for range 20 {
		h.step()
	}
	if cur := h.b.Status().CurrentTime; cur != at {
		t.Errorf("time moved from %v to %v while paused", at, cur)
	}

	if err := h.b.Resume(); err != nil {
		t.Fatal(err)
	}
	h.runUntil("resumed playback", func() bool { return h.b.Status().CurrentTime > at })
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	h := newHost(t, hostOptions{
		fingerprint: true,
		// the fingerprinter wants 30s at 11025 Hz worth of frames
		tracks: map[string]float64{"a.wav": 45},
	})
	h.load("a.wav")

	h.runUntil("fingerprint", func() bool { return h.rec.Count(ResultFingerprint) > 0 })
	res, _ := h.rec.Last(ResultFingerprint)
	if res.Fingerprint == "" || res.TrackUID != source.TrackUID("a.wav").String() {
		t.Errorf("fingerprint result = %+v", res)
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	h := newHost(t, hostOptions{tracks: map[string]float64{"a.wav": 10}})
	h.load("a.wav")
	h.runUntil("playback", func() bool { return h.b.Status().CurrentTime > 0.2 })

	if err := h.b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := h.b.Load(LoadRequest{FileReference: "a.wav"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Load() after Close error = %v, want ErrClosed", err)
	}
	h.b.TimeUpdate()
	if err := h.b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestCheckSwap_NoTarget(t *testing.T) {
	t.Parallel()

	h := newHost(t, hostOptions{})
	h.b.mu.Lock()
	defer h.b.mu.Unlock()

	if h.b.checkSwapLocked() {
		t.Error("checkSwapLocked() swapped without a target")
	}
	if h.rec.Count(ResultPreloadedTrackStartedPlaying) != 0 {
		t.Error("swap reported without a target")
	}
}

func TestNextTrackResponseUpdate(t *testing.T) {
	t.Parallel()

	h := newHost(t, hostOptions{
		tracks:   map[string]float64{"a.wav": 6, "b.wav": 5, "c.wav": 3},
		playlist: []string{"b.wav"},
	})
	h.load("a.wav")

	h.runUntil("next track answer", func() bool { return h.answered > 0 })
	if err := h.b.NextTrackResponseUpdate(NextTrackResponse{FileReference: "c.wav"}); err != nil {
		t.Fatalf("NextTrackResponseUpdate() error = %v", err)
	}

	h.runUntil("swap", func() bool { return h.rec.Count(ResultPreloadedTrackStartedPlaying) > 0 })
	h.runUntil("updated track time", func() bool { return h.lastTime().TotalTime == 3 })
	for _, r := range h.rec.Results() {
		if r.Type == ResultTimeUpdate && r.TotalTime == 5 {
			t.Fatalf("replaced track was played: %+v", r)
		}
	}
	if n := h.rec.Count(ResultError); n != 0 {
		t.Errorf("%d errors reported, want 0", n)
	}
}
