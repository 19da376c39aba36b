package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the prometheus instruments of the ledger service.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	postingsTotal   *prometheus.CounterVec
	postingDuration *prometheus.HistogramVec

	payoutReviewsTotal *prometheus.CounterVec

	webhooksTotal       *prometheus.CounterVec
	webhookReplaysTotal prometheus.Counter

	driftRepairsTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_api_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_api_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		postingsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_api_postings_total",
				Help: "Total number of ledger postings by transaction type and outcome",
			},
			[]string{"type", "status"},
		),
		postingDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_api_posting_duration_seconds",
				Help:    "Posting duration in seconds, lock wait included",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"type"},
		),
		payoutReviewsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_api_payout_reviews_total",
				Help: "Total number of payout review decisions",
			},
			[]string{"decision"},
		),
		webhooksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_api_webhooks_total",
				Help: "Total number of webhook deliveries by provider and outcome",
			},
			[]string{"provider", "status"},
		),
		webhookReplaysTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_api_webhook_replays_total",
				Help: "Total number of failed webhook rows retried by the replay sweep",
			},
		),
		driftRepairsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_api_balance_drift_repairs_total",
				Help: "Total number of cached balances repaired by the reconciliation sweep",
			},
		),
	}
}

func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordPosting(txType, status string, duration time.Duration) {
	m.postingsTotal.WithLabelValues(txType, status).Inc()
	m.postingDuration.WithLabelValues(txType).Observe(duration.Seconds())
}

func (m *Metrics) RecordPayoutReview(decision string) {
	m.payoutReviewsTotal.WithLabelValues(decision).Inc()
}

func (m *Metrics) RecordWebhook(provider, status string) {
	m.webhooksTotal.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) RecordWebhookReplay(count int) {
	m.webhookReplaysTotal.Add(float64(count))
}

func (m *Metrics) RecordDriftRepairs(count int) {
	m.driftRepairsTotal.Add(float64(count))
}
