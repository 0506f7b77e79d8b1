package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	TokensIssued      prometheus.Counter
	Redemptions       *prometheus.CounterVec
	RedeemRetries     prometheus.Counter
	AnalyticsDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qrattend",
			Name:      "tokens_issued_total",
			Help:      "Session tokens issued.",
		}),
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrattend",
			Name:      "redemptions_total",
			Help:      "Redemption attempts by outcome code.",
		}, []string{"outcome"}),
		RedeemRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qrattend",
			Name:      "redeem_retries_total",
			Help:      "Redemption transactions retried after a transient storage fault.",
		}),
		AnalyticsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qrattend",
			Name:      "analytics_duration_seconds",
			Help:      "Time to answer an analytics request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"report"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TokensIssued,
		m.Redemptions,
		m.RedeemRetries,
		m.AnalyticsDuration,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRedeem counts one redemption attempt. outcome is "OK" or an
// attendance error code.
func (m *Metrics) ObserveRedeem(outcome string) {
	m.Redemptions.WithLabelValues(outcome).Inc()
}

// OnRedeemRetry matches the retry callback signature.
func (m *Metrics) OnRedeemRetry(int, error, time.Duration) {
	m.RedeemRetries.Inc()
}

// Since records the time elapsed since start under report.
func (m *Metrics) Since(report string, start time.Time) {
	m.AnalyticsDuration.WithLabelValues(report).Observe(time.Since(start).Seconds())
}
