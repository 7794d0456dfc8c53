package edgar

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "insider"

// Metrics holds the refresh pipeline's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	refreshes    *prometheus.CounterVec
	filings      *prometheus.CounterVec
	transactions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refreshes_total",
			Help:      "Refresh runs by outcome (ok or the error kind).",
		}, []string{"outcome"}),
		filings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "filings_total",
			Help:      "Form 4 filings handled, by result.",
		}, []string{"result"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transactions_total",
			Help:      "Raw transactions handled, by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_duration_seconds",
			Help:      "Wall time of a refresh run.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.refreshes, m.filings, m.transactions, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeRefresh(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) filing(result string) {
	if m == nil {
		return
	}
	m.filings.WithLabelValues(result).Inc()
}

func (m *Metrics) transactionsAdd(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.transactions.WithLabelValues(result).Add(float64(n))
}
