package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScheduleOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echotimer_schedule_ops_total",
		Help: "Schedule key operations by op and outcome",
	}, []string{"op", "outcome"}) // op=schedule|update|cancel outcome=ok|skipped|error

	ExpiryNotificationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echotimer_expiry_notifications_total",
		Help: "Total expiry notifications received from the store",
	})

	CompletionLockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echotimer_completion_lock_total",
		Help: "Completion mutex acquisition attempts by outcome",
	}, []string{"outcome"}) // outcome=won|lost|error

	CompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echotimer_completions_total",
		Help: "Completion transactions by outcome",
	}, []string{"outcome"}) // outcome=ok|already_completed|error

	CompletionDelaySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "echotimer_completion_delay_seconds",
		Help:    "Delay between a timer's target time and the completion commit",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)
