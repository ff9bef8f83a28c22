package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	TokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Signed tokens issued, by token type.",
		},
		[]string{"type"},
	)
	RefreshResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh attempts by outcome.",
		},
		[]string{"result"},
	)
	SessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_session_events_total",
			Help: "Session lifecycle operations by operation and outcome.",
		},
		[]string{"operation", "result"},
	)
	RateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_rate_limit_decisions_total",
			Help: "Rate limiter decisions by endpoint and result (allowed, rejected, fail_open).",
		},
		[]string{"endpoint", "result"},
	)
	ExpiredTokensSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_refresh_tokens_swept_total",
			Help: "Expired refresh token records removed by the sweeper.",
		},
	)
)

func Register(registry *prometheus.Registry) {
	registry.MustRegister(
		RequestCount,
		RequestDuration,
		TokensIssued,
		RefreshResults,
		SessionEvents,
		RateLimitDecisions,
		ExpiredTokensSwept,
	)
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
