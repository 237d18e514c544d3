package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus records measurements in to its own registry, which
// is exposed for scraping via Handler.
type Prometheus struct {
	registry *prometheus.Registry

	ItemsTotal    *prometheus.CounterVec
	ItemDuration  *prometheus.HistogramVec
	BatchesTotal  prometheus.Counter
	BatchSize     prometheus.Histogram
	BatchDuration prometheus.Histogram
}

func NewPrometheus(namespace string) *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		ItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Total number of delivered items processed, by outcome",
		}, []string{"outcome"}),
		ItemDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Time taken to process a single item, by outcome",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of batches processed",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of items delivered per batch",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time taken to process a whole batch",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	reg.MustRegister(p.ItemsTotal, p.ItemDuration, p.BatchesTotal, p.BatchSize, p.BatchDuration)
	return p
}

func (p *Prometheus) ObserveItem(_ context.Context, outcome string, duration time.Duration) {
	if err := validOutcome(outcome); err != nil {
		log.Warnf("Dropping item measurement: %v\n", err)
		return
	}

	p.ItemsTotal.WithLabelValues(outcome).Inc()
	p.ItemDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (p *Prometheus) ObserveBatch(_ context.Context, size int, duration time.Duration) {
	p.BatchesTotal.Inc()
	p.BatchSize.Observe(float64(size))
	p.BatchDuration.Observe(duration.Seconds())
}

// Handler returns an HTTP handler which serves the registry in the
// Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
