package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/borrob/3dbag-runner/pkg/engine"
)

// Metrics collects Prometheus metrics for a batch run. It satisfies
// engine.Observer so the scheduler can report job lifecycle events.
type Metrics struct {
	tilesStarted   prometheus.Counter
	tilesCompleted *prometheus.CounterVec
	tileDuration   prometheus.Histogram
	tilesInFlight  prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		tilesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bagrunner",
			Name:      "tiles_started_total",
			Help:      "Total number of tile jobs dispatched",
		}),
		tilesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bagrunner",
			Name:      "tiles_completed_total",
			Help:      "Total number of tile jobs finished, by status",
		}, []string{"status"}),
		tileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bagrunner",
			Name:      "tile_duration_seconds",
			Help:      "Tile job execution duration",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}),
		tilesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bagrunner",
			Name:      "tiles_in_flight",
			Help:      "Tile jobs currently executing",
		}),
	}

	registry.MustRegister(m.tilesStarted, m.tilesCompleted, m.tileDuration, m.tilesInFlight)
	return m
}

// JobStarted implements engine.Observer.
func (m *Metrics) JobStarted(string) {
	m.tilesStarted.Inc()
	m.tilesInFlight.Inc()
}

// JobFinished implements engine.Observer.
func (m *Metrics) JobFinished(outcome engine.Outcome) {
	m.tilesInFlight.Dec()
	m.tilesCompleted.WithLabelValues(string(outcome.Status)).Inc()
	m.tileDuration.Observe(outcome.Duration.Seconds())
}

// Serve exposes the metrics on addr under /metrics for the duration of the
// run. Errors are logged, not fatal: metrics are a convenience during long
// batch runs, never a reason to stop reconstructing.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Str("addr", addr).Err(err).Msg("Metrics server stopped")
		}
	}()
}
