package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VotingMetrics records snapshot fetches, refreshes and vote submissions.
// It implements voting.Recorder.
type VotingMetrics struct {
	FetchesTotal       *prometheus.CounterVec
	RefreshesTotal     *prometheus.CounterVec
	SubmissionsTotal   *prometheus.CounterVec
	SubmissionDuration prometheus.Histogram
	BoundariesTotal    prometheus.Counter
	ActiveSessions     prometheus.Gauge
}

// NewVotingMetrics creates and registers voting metrics on the given registry.
func NewVotingMetrics(reg prometheus.Registerer) *VotingMetrics {
	m := &VotingMetrics{
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_fetches_total",
			Help:      "Total number of completed snapshot fetches, by outcome.",
		}, []string{"result"}),
		RefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Total number of refresh requests, by trigger.",
		}, []string{"trigger"}),
		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vote_submissions_total",
			Help:      "Total number of vote submissions, by result.",
		}, []string{"result"}),
		SubmissionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vote_submission_duration_seconds",
			Help:      "Duration of vote submissions including reconciliation, in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		BoundariesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_boundaries_total",
			Help:      "Total number of countdown deadlines reached.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live viewer sessions.",
		}),
	}

	reg.MustRegister(m.FetchesTotal, m.RefreshesTotal, m.SubmissionsTotal,
		m.SubmissionDuration, m.BoundariesTotal, m.ActiveSessions)
	return m
}

func (m *VotingMetrics) FetchCompleted(result string) {
	m.FetchesTotal.WithLabelValues(result).Inc()
}

func (m *VotingMetrics) RefreshRequested(trigger string) {
	m.RefreshesTotal.WithLabelValues(trigger).Inc()
}

func (m *VotingMetrics) SubmissionCompleted(result string, duration time.Duration) {
	m.SubmissionsTotal.WithLabelValues(result).Inc()
	// Precondition failures never reach the network.
	if duration > 0 {
		m.SubmissionDuration.Observe(duration.Seconds())
	}
}

func (m *VotingMetrics) BoundaryCrossed() {
	m.BoundariesTotal.Inc()
}

// SetActiveSessions matches the registry's onCount callback.
func (m *VotingMetrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}
