package payment

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counts is a point-in-time copy of the payment counters.
type Counts struct {
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
	Retries   int64 `json:"retries"`
}

// Metrics counts payment activity. Counters are exported to prometheus when
// a registerer is given.
type Metrics struct {
	attempts  prometheus.Counter
	successes prometheus.Counter
	failures  prometheus.Counter
	retries   prometheus.Counter

	n [4]atomic.Int64
}

// NewMetrics creates counters and registers them with reg if non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperclip_x402_attempts_total",
			Help: "Requests issued by the payment client.",
		}),
		successes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperclip_x402_successes_total",
			Help: "Payment flows that ended in success.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperclip_x402_failures_total",
			Help: "Payment flows that failed or expired.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paperclip_x402_retries_total",
			Help: "Signed requests retried after backoff.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.successes, m.failures, m.retries)
	}
	return m
}

func (m *Metrics) attempt() { m.attempts.Inc(); m.n[0].Add(1) }
func (m *Metrics) success() { m.successes.Inc(); m.n[1].Add(1) }
func (m *Metrics) failure() { m.failures.Inc(); m.n[2].Add(1) }
func (m *Metrics) retry()   { m.retries.Inc(); m.n[3].Add(1) }

// Snapshot returns the current counts.
func (m *Metrics) Snapshot() Counts {
	return Counts{
		Attempts:  m.n[0].Load(),
		Successes: m.n[1].Load(),
		Failures:  m.n[2].Load(),
		Retries:   m.n[3].Load(),
	}
}
