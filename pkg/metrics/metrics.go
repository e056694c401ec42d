// Package metrics exposes the daemon's Prometheus instrumentation. The
// daemon keeps its own registry rather than the library default so that the
// aggregated /metrics endpoint can interleave daemon series with series
// scraped from running engine processes.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Vortextech01/OpenLLM/pkg/logging"
)

const namespace = "openllm"

// EventSink receives daemon lifecycle events. It matches the recorder
// contract used by the model manager and the scheduler, so a Recorder can be
// spliced in front of the activity log.
type EventSink interface {
	Record(ctx context.Context, kind, subject, detail string)
}

// Recorder owns the daemon's metric series.
type Recorder struct {
	log                logging.Logger
	registry           *prometheus.Registry
	eventsTotal        *prometheus.CounterVec
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	instancesLoaded    prometheus.Gauge
}

// NewRecorder creates a recorder with a fresh registry. If storeSize is
// non-nil, it is sampled on scrape to report artifact store disk usage.
func NewRecorder(log logging.Logger, storeSize func() int64) *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		log:      log,
		registry: registry,
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total daemon events by kind (import, delete, runner, generation, evict).",
			},
			[]string{"kind"},
		),
		generationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Total generation requests by runner, method and outcome.",
			},
			[]string{"runner", "method", "outcome"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Generation request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"runner", "method"},
		),
		instancesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "instances_loaded",
				Help:      "Engine instances currently loaded.",
			},
		),
	}
	registry.MustRegister(
		r.eventsTotal,
		r.generationsTotal,
		r.generationDuration,
		r.instancesLoaded,
	)

	if storeSize != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_bytes",
				Help:      "Disk usage of the artifact store in bytes.",
			},
			func() float64 {
				return float64(storeSize())
			},
		))
	}

	return r
}

// ObserveGeneration records the outcome and duration of one generation
// request.
func (r *Recorder) ObserveGeneration(runner, method string, status int, seconds float64) {
	outcome := "ok"
	if status < 200 || status > 299 {
		outcome = "error"
	}
	r.generationsTotal.WithLabelValues(runner, method, outcome).Inc()
	r.generationDuration.WithLabelValues(runner, method).Observe(seconds)
}

// SetInstancesLoaded records the number of loaded engine instances.
func (r *Recorder) SetInstancesLoaded(n int) {
	r.instancesLoaded.Set(float64(n))
}

// WrapEvents returns an event sink that counts events by kind before
// forwarding them to next. A nil next yields a counting-only sink.
func (r *Recorder) WrapEvents(next EventSink) EventSink {
	return &countingSink{events: r.eventsTotal, next: next}
}

type countingSink struct {
	events *prometheus.CounterVec
	next   EventSink
}

func (s *countingSink) Record(ctx context.Context, kind, subject, detail string) {
	s.events.WithLabelValues(kind).Inc()
	if s.next != nil {
		s.next.Record(ctx, kind, subject, detail)
	}
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns an HTTP handler serving only the daemon's own series. The
// aggregated handler should be preferred on the public surface.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
