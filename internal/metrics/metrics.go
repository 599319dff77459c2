// Package metrics exposes the worker's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the worker records into.
type Metrics struct {
	PagesClassified *prometheus.CounterVec // kind: index|detail
	// IndexPagesWithoutLinks counts index pages that yielded no detail links,
	// the observable signal for classifier drift.
	IndexPagesWithoutLinks prometheus.Counter
	FetchOutcomes          *prometheus.CounterVec // outcome: success|failure
	Records                *prometheus.CounterVec // parser: rules|rules+llm
	DiscoveryEnqueued      prometheus.Counter
	MessagesDeleted        prometheus.Counter
	MessagesAbandoned      prometheus.Counter
	Flushes                prometheus.Counter
	FlushFailures          prometheus.Counter
	RecordsShed            prometheus.Counter
	BufferSize             prometheus.Gauge
}

// New registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PagesClassified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_pages_classified_total",
			Help: "Pages fetched, by classification.",
		}, []string{"kind"}),
		IndexPagesWithoutLinks: factory.NewCounter(prometheus.CounterOpts{
			Name: "scraper_index_pages_without_links_total",
			Help: "Index pages that produced no detail links.",
		}),
		FetchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_fetches_total",
			Help: "Completed fetch calls, by outcome.",
		}, []string{"outcome"}),
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Listing records produced, by parser.",
		}, []string{"parser"}),
		DiscoveryEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "scraper_discovery_enqueued_total",
			Help: "Detail URLs enqueued from index pages.",
		}),
		MessagesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "scraper_messages_deleted_total",
			Help: "Queue messages deleted after processing.",
		}),
		MessagesAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Name: "scraper_messages_abandoned_total",
			Help: "Queue messages left for redelivery after a processing failure.",
		}),
		Flushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "scraper_flushes_total",
			Help: "Successful batch flushes to object storage.",
		}),
		FlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "scraper_flush_failures_total",
			Help: "Batch flushes that failed and were retained for retry.",
		}),
		RecordsShed: factory.NewCounter(prometheus.CounterOpts{
			Name: "scraper_records_shed_total",
			Help: "Records dropped after the buffer safety cap was exceeded.",
		}),
		BufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_buffer_size",
			Help: "Records currently buffered for the next flush.",
		}),
	}
}
