package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TimerOpsTotal counts core timer operations.
// op=create|get|resolve_token|change_target|save_timestamp|force_complete outcome=ok|error
var TimerOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "echotimer_timer_ops_total",
	Help: "Core timer operations by outcome.",
}, []string{"op", "outcome"})

// IncTimerOp records one core operation outcome.
func IncTimerOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	TimerOpsTotal.WithLabelValues(op, outcome).Inc()
}
