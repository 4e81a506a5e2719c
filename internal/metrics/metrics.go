package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the deletion-request pipeline
type Metrics struct {
	ScanCount           prometheus.Counter
	ResponsesClassified *prometheus.CounterVec
	MatchCount          *prometheus.CounterVec
	SendSuccesses       prometheus.Counter
	SendFailures        prometheus.Counter
	QuotaBackoffs       prometheus.Counter
	RateLimitDenials    prometheus.Counter
	ScanDuration        prometheus.Histogram
}

// New creates the pipeline metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates the pipeline metrics on the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScanCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "optout_sentry_scan_count",
			Help: "Total number of response scan runs",
		}),
		ResponsesClassified: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "optout_sentry_responses_classified",
			Help: "Broker responses classified, by response type",
		}, []string{"response_type"}),
		MatchCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "optout_sentry_match_count",
			Help: "Responses matched to a deletion request, by strategy",
		}, []string{"matched_by"}),
		SendSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "optout_sentry_send_successes",
			Help: "Deletion request emails sent successfully",
		}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "optout_sentry_send_failures",
			Help: "Deletion request email send failures",
		}),
		QuotaBackoffs: factory.NewCounter(prometheus.CounterOpts{
			Name: "optout_sentry_quota_backoffs",
			Help: "Sends deferred by provider quota backoff",
		}),
		RateLimitDenials: factory.NewCounter(prometheus.CounterOpts{
			Name: "optout_sentry_rate_limit_denials",
			Help: "API calls denied by the per-user rate limiter",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "optout_sentry_scan_duration_seconds",
			Help:    "Time spent running a response scan",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
