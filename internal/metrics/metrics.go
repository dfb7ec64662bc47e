// Package metrics exposes the decision core's prometheus instruments. The
// Recorder satisfies the observer interfaces of the risk, regime and
// lifecycle packages.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perpcore/pkg/lifecycle"
	"perpcore/pkg/regime"
	"perpcore/pkg/risk"
)

const namespace = "perpcore"

var (
	_ risk.Observer      = (*Recorder)(nil)
	_ regime.Observer    = (*Recorder)(nil)
	_ lifecycle.Observer = (*Recorder)(nil)
)

// Recorder holds every metric.
type Recorder struct {
	gatherer prometheus.Gatherer

	advisoryCalls    *prometheus.CounterVec
	riskDenials      *prometheus.CounterVec
	forceCloseFailed *prometheus.CounterVec
	tradesClosed     *prometheus.CounterVec
	realizedPnL      *prometheus.CounterVec
	openPositions    *prometheus.GaugeVec
	drawdown         prometheus.Gauge
	regimeConfidence prometheus.Gauge
	decisionsEmitted *prometheus.CounterVec
}

// New registers the metrics on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		advisoryCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advisory_calls_total",
			Help:      "Advisory calls by cycle and outcome.",
		}, []string{"cycle", "outcome"}),
		riskDenials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_denials_total",
			Help:      "Entries denied by risk check.",
		}, []string{"check"}),
		forceCloseFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "force_close_failures_total",
			Help:      "Positions left open after exhausting forced-close retries.",
		}, []string{"strategy"}),
		tradesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_closed_total",
			Help:      "Closed trades by strategy and result.",
		}, []string{"strategy", "result"}),
		realizedPnL: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realized_pnl_abs_total",
			Help:      "Absolute realized PnL by strategy and sign.",
		}, []string{"strategy", "sign"}),
		openPositions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open positions per strategy.",
		}, []string{"strategy"}),
		drawdown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "global_drawdown_pct",
			Help:      "Portfolio drawdown from the high-water mark, in percent.",
		}),
		regimeConfidence: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "regime_confidence",
			Help:      "Confidence of the published market regime.",
		}),
		decisionsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decision_events_total",
			Help:      "Decision records forwarded to the event topic.",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// AdvisoryCall implements regime.Observer.
func (r *Recorder) AdvisoryCall(cycle, outcome string) {
	r.advisoryCalls.WithLabelValues(cycle, outcome).Inc()
}

// RegimeConfidence implements regime.Observer.
func (r *Recorder) RegimeConfidence(v float64) { r.regimeConfidence.Set(v) }

// RiskDenied implements risk.Observer.
func (r *Recorder) RiskDenied(check string) { r.riskDenials.WithLabelValues(check).Inc() }

// Drawdown implements risk.Observer.
func (r *Recorder) Drawdown(pct float64) { r.drawdown.Set(pct) }

// OpenPositions implements lifecycle.Observer.
func (r *Recorder) OpenPositions(strategy string, n int) {
	r.openPositions.WithLabelValues(strategy).Set(float64(n))
}

// ForceCloseFailed implements lifecycle.Observer.
func (r *Recorder) ForceCloseFailed(strategy string) {
	r.forceCloseFailed.WithLabelValues(strategy).Inc()
}

// TradeClosed implements lifecycle.Observer.
func (r *Recorder) TradeClosed(strategy string, pnl float64) {
	result, sign := "loss", "negative"
	if pnl > 0 {
		result, sign = "win", "positive"
	}
	r.tradesClosed.WithLabelValues(strategy, result).Inc()
	if pnl < 0 {
		pnl = -pnl
	}
	r.realizedPnL.WithLabelValues(strategy, sign).Add(pnl)
}

// DecisionEmitted counts decision-event publish attempts.
func (r *Recorder) DecisionEmitted(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.decisionsEmitted.WithLabelValues(result).Inc()
}
