package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rezonia/einvoicing/internal/model"
)

// Metrics are the gateway's prometheus collectors
type Metrics struct {
	Submissions    *prometheus.CounterVec
	Attempts       *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
	IdempotentHits *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. A nil reg uses a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "einvoicing_submissions_total",
			Help: "Total number of invoice submissions by outcome",
		}, []string{"country", "channel", "outcome"}),
		Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "einvoicing_submission_attempts_total",
			Help: "Total number of channel calls, retries included",
		}, []string{"country", "channel"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "einvoicing_submission_duration_seconds",
			Help:    "Duration of a submission including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"country", "channel"}),
		IdempotentHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "einvoicing_idempotent_hits_total",
			Help: "Sends answered from the ledger without calling the channel",
		}, []string{"country"}),
	}
}

func (m *Metrics) observeOutcome(country model.Country, channel, outcome string) {
	m.Submissions.WithLabelValues(string(country), channel, outcome).Inc()
}

func (m *Metrics) observeAttempt(country model.Country, channel string) {
	m.Attempts.WithLabelValues(string(country), channel).Inc()
}

func (m *Metrics) observeDuration(country model.Country, channel string, start time.Time) {
	m.Duration.WithLabelValues(string(country), channel).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeIdempotentHit(country model.Country) {
	m.IdempotentHits.WithLabelValues(string(country)).Inc()
}
