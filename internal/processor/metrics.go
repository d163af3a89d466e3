package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics describes the enrichment queue. A nil registerer keeps them unregistered.
type Metrics struct {
	QueueDepth prometheus.Gauge
	InFlight   prometheus.Gauge
	Processed  *prometheus.CounterVec
	Duration   prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "neofeed_enrichment_queue_depth",
			Help: "Number of items waiting in the enrichment queue",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "neofeed_enrichment_in_flight",
			Help: "Number of items currently being enriched",
		}),
		Processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "neofeed_enrichment_processed_total",
			Help: "Total number of enrichment runs by outcome",
		}, []string{"outcome"}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "neofeed_enrichment_duration_seconds",
			Help:    "Time spent enriching one item",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
	}
}
