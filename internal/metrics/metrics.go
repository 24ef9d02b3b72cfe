package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricehub_cache_lookups_total",
		Help: "Price store lookups by result (hit, stale, miss, negative).",
	}, []string{"result"})

	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricehub_provider_requests_total",
		Help: "Fallback provider calls by provider and outcome (ok, no_data, error, breaker_open).",
	}, []string{"provider", "outcome"})

	BreakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricehub_breaker_transitions_total",
		Help: "Circuit breaker transitions into the open state, by provider.",
	}, []string{"provider"})

	StreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricehub_stream_events_total",
		Help: "Swap events consumed from the stream by outcome (accepted, discarded).",
	}, []string{"outcome"})

	LastWriteAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricehub_last_write_age_seconds",
		Help: "Seconds since the last successful price store write.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
