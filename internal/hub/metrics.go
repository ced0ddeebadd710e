package hub

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_ws_connections",
			Help: "Current number of connected websockets.",
		},
	)
	wsRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_rooms",
			Help: "Current number of non-empty rooms.",
		},
	)
	roomEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_room_events_total",
			Help: "Total room membership changes by kind (join, leave).",
		},
		[]string{"kind"},
	)
	signalsRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_signals_total",
			Help: "Total signaling payloads by outcome (relayed, dropped).",
		},
		[]string{"outcome"},
	)
	broadcastsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_broadcasts_delivered_total",
			Help: "Total room broadcast messages delivered to connections.",
		},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsRooms, roomEvents, signalsRelayed, broadcastsDelivered)
}

func setConnections(n int) {
	wsConnections.Set(float64(n))
}

func setRooms(n int) {
	wsRooms.Set(float64(n))
}

func incRoomEvent(kind string) {
	roomEvents.WithLabelValues(kind).Inc()
}

func incSignal(outcome string) {
	signalsRelayed.WithLabelValues(outcome).Inc()
}

func addBroadcasts(n int) {
	broadcastsDelivered.Add(float64(n))
}
