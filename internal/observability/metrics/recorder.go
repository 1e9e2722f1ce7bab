// Package metrics records pipeline metrics with Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder owns the ChainPilot collectors. A nil *Recorder is valid and
// records nothing, so components can take one unconditionally.
type Recorder struct {
	gatherer prometheus.Gatherer

	commandsTotal     *prometheus.CounterVec
	toolCallDuration  *prometheus.HistogramVec
	transactionsTotal *prometheus.CounterVec
	refreshTotal      *prometheus.CounterVec
	directoryAccounts prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and exposes gatherer through Handler.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		gatherer: gatherer,
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpilot_commands_total",
				Help: "Commands processed by category and outcome",
			},
			[]string{"category", "outcome"},
		),
		toolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainpilot_tool_call_duration_seconds",
				Help:    "Duration of tool provider calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool", "status"},
		),
		transactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpilot_transactions_total",
				Help: "Submitted transactions by terminal state",
			},
			[]string{"state"},
		),
		refreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpilot_directory_refresh_total",
				Help: "Account directory refreshes by result",
			},
			[]string{"result"},
		),
		directoryAccounts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chainpilot_directory_accounts",
				Help: "Accounts in the current directory snapshot",
			},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainpilot_http_requests_total",
				Help: "HTTP API requests by handler, method and status code",
			},
			[]string{"handler", "method", "code"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainpilot_http_request_duration_seconds",
				Help:    "HTTP API request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"handler", "method"},
		),
	}
}

// ObserveCommand counts a finished command.
func (r *Recorder) ObserveCommand(category, outcome string) {
	if r == nil {
		return
	}
	r.commandsTotal.WithLabelValues(category, outcome).Inc()
}

// ObserveToolCall records a tool provider round trip.
func (r *Recorder) ObserveToolCall(tool, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.toolCallDuration.WithLabelValues(tool, status).Observe(duration.Seconds())
}

// ObserveTransaction counts a transaction that reached a terminal state.
func (r *Recorder) ObserveTransaction(state string) {
	if r == nil {
		return
	}
	r.transactionsTotal.WithLabelValues(state).Inc()
}

// ObserveRefresh counts a directory refresh. accounts is only applied on success.
func (r *Recorder) ObserveRefresh(success bool, accounts int) {
	if r == nil {
		return
	}
	if !success {
		r.refreshTotal.WithLabelValues("failure").Inc()
		return
	}
	r.refreshTotal.WithLabelValues("success").Inc()
	r.directoryAccounts.Set(float64(accounts))
}
