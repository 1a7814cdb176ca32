package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "revibe_ws_connections",
		Help: "Current number of active websocket connections",
	})
	LiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "revibe_live_rooms",
		Help: "Current number of live room actors",
	})
	IntentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revibe_intents_total",
		Help: "Total number of client intents processed",
	}, []string{"type"})
	BroadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "revibe_state_broadcasts_total",
		Help: "Total number of room state broadcasts",
	})
)

func init() {
	prometheus.MustRegister(WsConnections, LiveRooms, IntentsTotal, BroadcastsTotal)
}
