package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MonitorRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echotimer_monitor_runs_total",
		Help: "Reconciliation sweeps by outcome",
	}, []string{"outcome"}) // outcome=ok|error

	MissedCompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echotimer_missed_completions_total",
		Help: "Overdue uncompleted timers found, by failure classification",
	}, []string{"classification"})
)
