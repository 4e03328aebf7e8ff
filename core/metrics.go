package core

import (
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics : bridge gauges and counters, registered on their own registry
type Metrics struct {
	Registry     *prometheus.Registry
	BestHeight   prometheus.Gauge
	Reorgs       prometheus.Gauge
	Headers      prometheus.Counter
	Liquidations prometheus.Gauge
	Transitions  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		BestHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "relay",
			Name:      "best_height",
			Help:      "Height of the best bitcoin header chain.",
		}),
		Reorgs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "relay",
			Name:      "reorgs",
			Help:      "Number of best chain reorganizations.",
		}),
		Headers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "relay",
			Name:      "headers_accepted_total",
			Help:      "Bitcoin headers accepted since start.",
		}),
		Liquidations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "vault",
			Name:      "liquidations",
			Help:      "Vaults moved into the liquidation vault.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bridge",
			Name:      "transitions_total",
			Help:      "State transitions by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	m.Registry.MustRegister(m.BestHeight, m.Reorgs, m.Headers, m.Liquidations, m.Transitions)
	return m
}

func (m *Metrics) observe(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = types.CodeOf(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	m.Transitions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) snapshot(state types.RelayState, lv types.LiquidationVault) {
	m.BestHeight.Set(float64(state.BestHeight))
	m.Reorgs.Set(float64(state.Reorgs))
	m.Liquidations.Set(float64(lv.Liquidations))
}
