// Package metrics exports aggregator counters and run durations to
// Prometheus. The reconciler records through the Recorder interface so tests
// and one-shot runs can use Nop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "support_aggregator"

// Recorder receives per-account, per-case and per-run observations.
type Recorder interface {
	AccountProcessed(status string)
	CaseProcessed(outcome string)
	RunFinished(mode string, d time.Duration)
}

// Nop discards all observations.
type Nop struct{}

func (Nop) AccountProcessed(string)           {}
func (Nop) CaseProcessed(string)              {}
func (Nop) RunFinished(string, time.Duration) {}

// Collector records observations into Prometheus metrics.
type Collector struct {
	accounts *prometheus.CounterVec
	cases    *prometheus.CounterVec
	runs     *prometheus.HistogramVec
}

// NewCollector creates the aggregator metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		accounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_total",
			Help:      "Accounts processed, by outcome.",
		}, []string{"outcome"}),
		cases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cases_total",
			Help:      "Cases reconciled, by outcome.",
		}, []string{"outcome"}),
		runs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of aggregation runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"mode"}),
	}

	for _, collector := range []prometheus.Collector{c.accounts, c.cases, c.runs} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AccountProcessed increments the account counter for status.
func (c *Collector) AccountProcessed(status string) {
	c.accounts.WithLabelValues(status).Inc()
}

// CaseProcessed increments the case counter for outcome.
func (c *Collector) CaseProcessed(outcome string) {
	c.cases.WithLabelValues(outcome).Inc()
}

// RunFinished observes the duration of one run.
func (c *Collector) RunFinished(mode string, d time.Duration) {
	c.runs.WithLabelValues(mode).Observe(d.Seconds())
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*Collector)(nil)
)
