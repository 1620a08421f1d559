package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	tokensGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zenwifi_rate_limit_tokens",
			Help: "Request tokens left in the local budget window",
		},
		[]string{"provider", "window"},
	)
	blockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenwifi_rate_limit_blocked_total",
			Help: "Requests blocked by the local guard",
		},
		[]string{"provider", "reason"},
	)
	cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenwifi_rate_limit_cache_hits_total",
			Help: "Blocked GET requests answered from the response cache",
		},
		[]string{"provider"},
	)
	lastStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zenwifi_rate_limit_last_status_code",
			Help: "Last HTTP status code observed by the guard",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors exposes shared rate-limit collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		tokensGauge,
		blockedTotal,
		cacheHitsTotal,
		lastStatusGauge,
	}
}
