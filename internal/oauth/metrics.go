package oauth

import "github.com/prometheus/client_golang/prometheus"

var (
	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenwifi_oauth_login_total",
			Help: "Password grant attempts by result",
		},
		[]string{"provider", "result"},
	)
	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zenwifi_oauth_refresh_total",
			Help: "Refresh token grant attempts by result",
		},
		[]string{"provider", "result"},
	)
	tokenValid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zenwifi_oauth_token_valid",
			Help: "Access token validity (1=valid, 0=invalid)",
		},
		[]string{"provider"},
	)
	tokenExpiry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zenwifi_oauth_token_expiry_timestamp_seconds",
			Help: "Access token expiry (epoch seconds, 0 when the server sent none)",
		},
		[]string{"provider"},
	)
	remotePersistOK = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zenwifi_oauth_remote_persist_ok",
			Help: "Remote blob persistence health (1=ok, 0=error)",
		},
		[]string{"provider"},
	)
)

// MetricsCollectors returns collectors for the token manager.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		loginTotal,
		refreshTotal,
		tokenValid,
		tokenExpiry,
		remotePersistOK,
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
