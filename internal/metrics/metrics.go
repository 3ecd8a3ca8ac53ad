// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters updated by the runner and monitor.
type Metrics struct {
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	NodesExecuted    *prometheus.CounterVec
	SessionTimeouts  prometheus.Counter
	MessagesStored   prometheus.Counter
}

// New registers the engine counters on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "graphrun_sessions_started_total",
			Help: "Sessions accepted from the intake channel.",
		}),
		SessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "graphrun_sessions_finished_total",
			Help: "Sessions that reached a terminal status.",
		}, []string{"status"}),
		NodesExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "graphrun_nodes_executed_total",
			Help: "Node executions by kind.",
		}, []string{"kind"}),
		SessionTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "graphrun_session_timeouts_total",
			Help: "Sessions expired by the timeout monitor.",
		}),
		MessagesStored: f.NewCounter(prometheus.CounterOpts{
			Name: "graphrun_messages_stored_total",
			Help: "Graph session messages appended to the store.",
		}),
	}
}
