// Package metrics exposes pipeline counters through Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/awender/crosstalk/internal/audio"
)

// Metrics holds the Prometheus collectors for the capture/transcription
// pipeline. A nil *Metrics is valid: every record method no-ops.
type Metrics struct {
	registry *prometheus.Registry

	ChunksSent     *prometheus.CounterVec
	SendFailures   *prometheus.CounterVec
	Segments       *prometheus.CounterVec
	SyncRate       prometheus.Gauge
	AlignmentMiss  prometheus.Counter
	Callouts       *prometheus.CounterVec
	ChunkSize      prometheus.Histogram
	ConnectLatency prometheus.Histogram
}

// New creates the collectors on a private registry so repeated construction
// in tests does not collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ChunksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crosstalk_chunks_sent_total",
			Help: "Audio chunks flushed to the transcription backend",
		}, []string{"source"}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crosstalk_send_failures_total",
			Help: "Audio chunks dropped because the channel send failed",
		}, []string{"source"}),
		Segments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crosstalk_segments_total",
			Help: "Transcript segments received from the backend",
		}, []string{"source", "kind"}),
		SyncRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crosstalk_aec_sync_rate",
			Help: "Percentage of mic chunks aligned with a loopback reference",
		}),
		AlignmentMiss: factory.NewCounter(prometheus.CounterOpts{
			Name: "crosstalk_aec_alignment_misses_total",
			Help: "Mic chunks passed through without an aligned reference",
		}),
		Callouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crosstalk_callouts_total",
			Help: "Callout scheduler activity by outcome",
		}, []string{"outcome"}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crosstalk_chunk_flush_samples",
			Help:    "Samples per flushed audio chunk",
			Buckets: prometheus.ExponentialBuckets(256, 2, 10),
		}),
		ConnectLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crosstalk_provider_connect_seconds",
			Help:    "Time to open both transcription channels",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

// RecordChunk records a flushed chunk and its sample count.
func (m *Metrics) RecordChunk(source audio.Source, samples int) {
	if m == nil {
		return
	}
	m.ChunksSent.WithLabelValues(source.String()).Inc()
	m.ChunkSize.Observe(float64(samples))
}

// RecordSendFailure records a chunk dropped on the way to the backend.
func (m *Metrics) RecordSendFailure(source audio.Source) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(source.String()).Inc()
}

// RecordSegment records a received segment by kind.
func (m *Metrics) RecordSegment(source audio.Source, isFinal bool) {
	if m == nil {
		return
	}
	kind := "interim"
	if isFinal {
		kind = "final"
	}
	m.Segments.WithLabelValues(source.String(), kind).Inc()
}

// RecordSync updates the alignment gauge and miss counter from filter stats.
func (m *Metrics) RecordSync(syncRate float64, missed bool) {
	if m == nil {
		return
	}
	m.SyncRate.Set(syncRate)
	if missed {
		m.AlignmentMiss.Inc()
	}
}

// RecordCallout records one scheduler outcome: scheduled, cancelled, fired,
// or failed.
func (m *Metrics) RecordCallout(outcome string) {
	if m == nil {
		return
	}
	m.Callouts.WithLabelValues(outcome).Inc()
}

// RecordConnect records how long Provider.Connect took.
func (m *Metrics) RecordConnect(seconds float64) {
	if m == nil {
		return
	}
	m.ConnectLatency.Observe(seconds)
}

// Handler returns the scrape handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts a scrape listener on addr. It returns the server so the
// caller can shut it down; ListenAndServe errors surface on errc.
func (m *Metrics) Serve(addr string) (*http.Server, <-chan error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	return srv, errc
}
