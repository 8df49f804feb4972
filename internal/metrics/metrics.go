// Package metrics exposes Prometheus collectors for the trading engine. All
// methods are safe to call on a nil *Collectors, which disables reporting.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "papertrade"

// Collectors groups every metric the engine reports.
type Collectors struct {
	Evaluations      prometheus.Counter
	EvaluationErrors prometheus.Counter
	AutoCloses       *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
	TradesOpened     *prometheus.CounterVec
	TradesClosed     *prometheus.CounterVec
	RealizedPnL      prometheus.Gauge
	PriceTicks       *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		Evaluations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "evaluations_total",
			Help:      "Positions evaluated against their stop-loss/take-profit thresholds",
		}),
		EvaluationErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "evaluation_errors_total",
			Help:      "Per-position evaluation failures (price feed or close errors)",
		}),
		AutoCloses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "auto_closes_total",
			Help:      "Positions force-closed by the monitor",
		}, []string{"reason"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of a full sweep over all open positions",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		TradesOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "trades_opened_total",
			Help:      "Paper trades opened",
		}, []string{"symbol", "direction"}),
		TradesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "trades_closed_total",
			Help:      "Paper trades closed",
		}, []string{"reason"}),
		RealizedPnL: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "realized_pnl",
			Help:      "Sum of realized PnL across all closed paper trades since start",
		}),
		PriceTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "price_ticks_total",
			Help:      "Price change notifications emitted by the feed",
		}, []string{"symbol"}),
	}
}

func (c *Collectors) ObserveEvaluation() {
	if c != nil {
		c.Evaluations.Inc()
	}
}

func (c *Collectors) ObserveEvaluationError() {
	if c != nil {
		c.EvaluationErrors.Inc()
	}
}

func (c *Collectors) ObserveAutoClose(reason string) {
	if c != nil {
		c.AutoCloses.WithLabelValues(reason).Inc()
	}
}

func (c *Collectors) ObserveSweep(d time.Duration) {
	if c != nil {
		c.SweepDuration.Observe(d.Seconds())
	}
}

func (c *Collectors) ObserveOpen(symbol, direction string) {
	if c != nil {
		c.TradesOpened.WithLabelValues(symbol, direction).Inc()
	}
}

func (c *Collectors) ObserveClose(reason string, pnl float64) {
	if c != nil {
		c.TradesClosed.WithLabelValues(reason).Inc()
		c.RealizedPnL.Add(pnl)
	}
}

func (c *Collectors) ObserveTick(symbol string) {
	if c != nil {
		c.PriceTicks.WithLabelValues(symbol).Inc()
	}
}
