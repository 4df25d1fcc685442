package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var PresenceOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "echotimer_presence_ops_total",
	Help: "Presence index operations by op and outcome",
}, []string{"op", "outcome"}) // op=record|remove|remove_user|heartbeat|relevance|count|cleanup outcome=ok|miss|error

// IncPresenceOp records one presence index operation.
func IncPresenceOp(op, outcome string) {
	PresenceOpsTotal.WithLabelValues(op, outcome).Inc()
}
