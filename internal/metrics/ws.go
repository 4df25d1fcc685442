package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "echotimer_ws_sessions",
		Help: "Currently connected websocket sessions",
	})

	WSPushedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echotimer_ws_pushed_total",
		Help: "Event frames pushed to websocket sessions by event type",
	}, []string{"type"})

	WSDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echotimer_ws_dropped_total",
		Help: "Frames dropped instead of pushed, by reason",
	}, []string{"reason"}) // reason=slow_client|rate_limited|bad_frame

	WSInboundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echotimer_ws_inbound_total",
		Help: "Inbound websocket frames by frame type",
	}, []string{"type"}) // type=subscribe|send|unknown
)
