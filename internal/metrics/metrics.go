package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RateLimited       *prometheus.CounterVec
	LimiterErrors     *prometheus.CounterVec
	QuotaDecisions    *prometheus.CounterVec
	QuotaStoreErrors  prometheus.Counter
	UsageRecordErrors prometheus.Counter
	BreakerOpen       prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_http_requests_total",
				Help: "Total HTTP requests handled",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "admission_http_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_rate_limited_total",
				Help: "Total requests rejected by the rate limiter",
			},
			[]string{"class"},
		),
		LimiterErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_limiter_errors_total",
				Help: "Counter store faults that caused the limiter to fail open",
			},
			[]string{"reason"},
		),
		QuotaDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "admission_quota_decisions_total",
				Help: "Quota checks by usage type and result",
			},
			[]string{"usage_type", "result"},
		),
		QuotaStoreErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "admission_quota_store_errors_total",
				Help: "Durable store faults during quota checks (failed closed)",
			},
		),
		UsageRecordErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "admission_usage_record_errors_total",
				Help: "Failed asynchronous usage increments",
			},
		),
		BreakerOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "admission_counter_store_breaker_open",
				Help: "1 while the counter store circuit breaker is open",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RateLimited,
		m.LimiterErrors,
		m.QuotaDecisions,
		m.QuotaStoreErrors,
		m.UsageRecordErrors,
		m.BreakerOpen,
	)
	return m
}

// NewUnregistered returns collectors that are not exported anywhere. Useful
// where a caller has no registry, such as tests.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
