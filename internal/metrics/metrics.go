package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snackshell/KeenAI-Quant/internal/backtest"
	"github.com/snackshell/KeenAI-Quant/internal/pipeline"
	"github.com/snackshell/KeenAI-Quant/internal/pkg/circuit"
)

const namespace = "keenquant"

// Metrics 汇总实时决策、熔断与回测的 Prometheus 指标。
type Metrics struct {
	gatherer prometheus.Gatherer

	Decisions       *prometheus.CounterVec
	Signals         *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	BreakerTrips    *prometheus.CounterVec
	RealizedPnL     *prometheus.GaugeVec
	BacktestRuns    *prometheus.CounterVec
	BacktestSeconds prometheus.Histogram
}

// New 在 reg 上注册全部指标；reg 为 nil 时使用独立 registry。
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Live decision cycles by instrument and final stage.",
		}, []string{"instrument", "stage"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals chosen by the orchestrator, by strategy and direction.",
		}, []string{"strategy", "direction"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 active, 1 tripped, 2 manual override).",
		}, []string{"breaker"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_trips_total",
			Help:      "Circuit breaker trips by trigger.",
		}, []string{"breaker", "trigger"}),
		RealizedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "Cumulative realized P&L of reported live trades, by strategy.",
		}, []string{"strategy"}),
		BacktestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backtest_runs_total",
			Help:      "Finished backtest runs by status.",
		}, []string{"status"}),
		BacktestSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backtest_duration_seconds",
			Help:      "Wall time of backtest runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
	reg.MustRegister(m.Decisions, m.Signals, m.BreakerState, m.BreakerTrips, m.RealizedPnL, m.BacktestRuns, m.BacktestSeconds)
	return m
}

// Handler 暴露 /metrics。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveEvaluation(ev pipeline.Evaluation) {
	m.Decisions.WithLabelValues(ev.Instrument, string(ev.Stage)).Inc()
	if ev.Signal != nil {
		m.Signals.WithLabelValues(ev.Signal.Strategy, string(ev.Signal.Direction)).Inc()
	}
}

// BreakerChanged 满足 circuit.StateChangeHandler。
func (m *Metrics) BreakerChanged(name string, _, to circuit.State, ev *circuit.Event) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
	if ev != nil {
		m.BreakerTrips.WithLabelValues(name, ev.Trigger).Inc()
	}
}

func (m *Metrics) ObserveTrade(strategyName string, pnl float64) {
	m.RealizedPnL.WithLabelValues(strategyName).Add(pnl)
}

// ObserveRun 满足 backtest.RunHook。
func (m *Metrics) ObserveRun(_ backtest.Run, _ backtest.Result, err error, elapsed time.Duration) {
	status := backtest.RunStatusDone
	if err != nil {
		status = backtest.RunStatusFailed
	}
	m.BacktestRuns.WithLabelValues(string(status)).Inc()
	m.BacktestSeconds.Observe(elapsed.Seconds())
}
