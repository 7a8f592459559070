// Package metrics exposes the Prometheus collectors recorded by the relay pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	inboundEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_inbound_events_total",
			Help: "Webhook messages received, by outcome",
		},
		[]string{"outcome"},
	)

	retrievalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_retrieval_requests_total",
			Help: "Retrieval backend queries, by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	retrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_retrieval_duration_seconds",
			Help:    "Retrieval backend latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	completionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_completion_requests_total",
			Help: "Completion calls, by outcome",
		},
		[]string{"outcome"},
	)

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dispatch_messages_total",
			Help: "Outbound Graph API calls, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	initOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			inboundEventsTotal,
			retrievalTotal,
			retrievalDuration,
			completionTotal,
			dispatchTotal,
		)
	})
}

func RecordInbound(outcome string) {
	inboundEventsTotal.WithLabelValues(outcome).Inc()
}

func RecordRetrieval(backend, outcome string, elapsed time.Duration) {
	retrievalTotal.WithLabelValues(backend, outcome).Inc()
	retrievalDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

func RecordCompletion(outcome string) {
	completionTotal.WithLabelValues(outcome).Inc()
}

func RecordDispatch(kind, outcome string) {
	dispatchTotal.WithLabelValues(kind, outcome).Inc()
}
