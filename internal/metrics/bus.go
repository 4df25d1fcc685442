package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echotimer_bus_publish_total",
		Help: "Events published to the fleet bus by topic, type and outcome",
	}, []string{"topic", "type", "outcome"}) // outcome=ok|error

	BusConsumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echotimer_bus_consume_total",
		Help: "Events consumed from the fleet bus by topic and type",
	}, []string{"topic", "type"})

	BusConsumeSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echotimer_bus_consume_skipped_total",
		Help: "Consumed events skipped before dispatch by reason",
	}, []string{"reason"}) // reason=decode|unknown_type|not_relevant

	LocalBusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echotimer_local_bus_published_total",
		Help: "Messages accepted by an in-process bus",
	}, []string{"bus"})

	LocalBusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echotimer_local_bus_dropped_total",
		Help: "Messages dropped by an in-process bus (backpressure)",
	}, []string{"bus"})
)

// IncLocalBusDrop records a dropped in-process message for the given bus.
func IncLocalBusDrop(bus string) {
	if bus == "" {
		bus = "unknown"
	}
	LocalBusDroppedTotal.WithLabelValues(bus).Inc()
}
