// SPDX-License-Identifier: EPL-2.0

// Package metrics exports backend and ring buffer instrumentation to
// Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/ik5/audfeed/backend"
	"github.com/ik5/audfeed/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audfeed"

// Metrics implements backend.Observer.
type Metrics struct {
	chunks         prometheus.Counter
	decodedSeconds prometheus.Counter
	fadeOutChunks  prometheus.Counter
	latency        prometheus.Histogram
	failures       *prometheus.CounterVec
	swaps          *prometheus.CounterVec
	queued         *prometheus.GaugeVec

	reg   prometheus.Registerer
	mu    sync.Mutex
	rings map[string]bool
}

var _ backend.Observer = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_decoded_total",
			Help:      "Decoded chunks handed to a feeder.",
		}),
		decodedSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoded_seconds_total",
			Help:      "Seconds of audio decoded.",
		}),
		fadeOutChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fade_out_chunks_total",
			Help:      "Decoded chunks inside a crossfade fade-out.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decoding_latency_seconds",
			Help:      "Time spent decoding one chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Failed load, seek and preload operations.",
		}, []string{"op"}),
		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "track_swaps_total",
			Help:      "Hand-overs to a preloaded track.",
		}, []string{"target"}),
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_seconds",
			Help:      "Audio queued and buffered per feeder.",
		}, []string{"feeder"}),
		reg:   reg,
		rings: make(map[string]bool),
	}

	for _, c := range []prometheus.Collector{m.chunks, m.decodedSeconds, m.fadeOutChunks, m.latency, m.failures, m.swaps, m.queued} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ChunkDecoded(desc pipeline.BufferDescriptor) {
	m.chunks.Inc()
	m.latency.Observe(desc.DecodingLatency.Seconds())
	if desc.SampleRate > 0 {
		m.decodedSeconds.Add(float64(desc.Length) / float64(desc.SampleRate))
	}
	if desc.IsFadeOutBuffer {
		m.fadeOutChunks.Inc()
	}
}

func (m *Metrics) OperationFailed(op string) {
	m.failures.WithLabelValues(op).Inc()
}

func (m *Metrics) TrackSwapped(target backend.SwapTarget) {
	m.swaps.WithLabelValues(target.String()).Inc()
}

func (m *Metrics) BufferLevels(active, passive float64) {
	m.queued.WithLabelValues("active").Set(active)
	m.queued.WithLabelValues("passive").Set(passive)
}

// Ring is the part of a ring buffer the metrics read.
type Ring interface {
	Underruns() int64
	ReadableFrames() int
}

// WatchRing exports the underrun count and fill level of r under name.
// Watching the same name twice is a no-op.
func (m *Metrics) WatchRing(name string, r Ring) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rings[name] {
		return nil
	}

	labels := prometheus.Labels{"ring": name}
	underruns := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "ring_underruns_total",
		Help:        "Reads that found the ring buffer short of audio.",
		ConstLabels: labels,
	}, func() float64 { return float64(r.Underruns()) })
	readable := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "ring_readable_frames",
		Help:        "Frames waiting in the ring buffer.",
		ConstLabels: labels,
	}, func() float64 { return float64(r.ReadableFrames()) })

	if err := m.reg.Register(underruns); err != nil {
		return err
	}
	if err := m.reg.Register(readable); err != nil {
		m.reg.Unregister(underruns)
		return err
	}
	m.rings[name] = true
	return nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
