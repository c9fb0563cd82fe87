package coordinator

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors coordinator state into Prometheus. A nil *Metrics is a no-op.
type Metrics struct {
	pending   prometheus.Gauge
	history   prometheus.Gauge
	decisions *prometheus.CounterVec
}

// NewMetrics registers the coordinator collectors with reg
// (prometheus.DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "txwatch",
			Name:      "pending_calls",
			Help:      "Intercepted calls waiting for a decision.",
		}),
		history: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "txwatch",
			Name:      "history_calls",
			Help:      "Decided calls retained in history.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txwatch",
			Name:      "decisions_total",
			Help:      "Terminal transitions by outcome.",
		}, []string{"decision"}),
	}

	for _, c := range []prometheus.Collector{m.pending, m.history, m.decisions} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register coordinator metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observe(pending, history int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	m.history.Set(float64(history))
}

func (m *Metrics) decided(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}
