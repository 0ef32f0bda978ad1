// Package metrics holds the prometheus collectors of the margin core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	scanDuration       prometheus.Histogram
	scanCycles         prometheus.Counter
	accountFailures    prometheus.Counter
	positionsClosed    *prometheus.CounterVec
	stopOutCascades    prometheus.Counter
	marginCalls        prometheus.Counter
	orderRejections    *prometheus.CounterVec
	settlementFailures prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		gatherer: reg,
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "margincore",
			Name:      "scan_duration_seconds",
			Help:      "Duration of one position monitor scan cycle.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}),
		scanCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "margincore",
			Name:      "scan_cycles_total",
			Help:      "Completed position monitor scan cycles.",
		}),
		accountFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "margincore",
			Name:      "scan_account_failures_total",
			Help:      "Accounts whose evaluation failed inside a scan cycle.",
		}),
		positionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "margincore",
			Name:      "positions_closed_total",
			Help:      "Positions settled, by close reason.",
		}, []string{"reason"}),
		stopOutCascades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "margincore",
			Name:      "stop_out_cascades_total",
			Help:      "Stop-out resolver runs that closed at least one position.",
		}),
		marginCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "margincore",
			Name:      "margin_calls_total",
			Help:      "Margin call notifications raised.",
		}),
		orderRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "margincore",
			Name:      "order_rejections_total",
			Help:      "Rejected order requests, by reason.",
		}, []string{"reason"}),
		settlementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "margincore",
			Name:      "settlement_failures_total",
			Help:      "Settlement attempts that failed with a consistency error.",
		}),
	}
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.scanDuration, m.scanCycles, m.accountFailures, m.positionsClosed,
		m.stopOutCascades, m.marginCalls, m.orderRejections, m.settlementFailures,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveScan(d time.Duration) {
	if m == nil {
		return
	}
	m.scanCycles.Inc()
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) AccountFailed() {
	if m == nil {
		return
	}
	m.accountFailures.Inc()
}

func (m *Metrics) PositionClosed(reason string) {
	if m == nil {
		return
	}
	m.positionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) StopOut() {
	if m == nil {
		return
	}
	m.stopOutCascades.Inc()
}

func (m *Metrics) MarginCall() {
	if m == nil {
		return
	}
	m.marginCalls.Inc()
}

func (m *Metrics) OrderRejected(reason string) {
	if m == nil {
		return
	}
	m.orderRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) SettlementFailed() {
	if m == nil {
		return
	}
	m.settlementFailures.Inc()
}
