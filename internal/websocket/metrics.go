package websocket

import "github.com/prometheus/client_golang/prometheus"

var (
	wsConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "livechat_ws_connections",
			Help: "Current number of active websocket connections.",
		},
	)
	wsRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "livechat_ws_rooms",
			Help: "Current number of websocket rooms with at least one client.",
		},
	)
	wsMessagesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_ws_messages_delivered_total",
			Help: "Total websocket messages delivered to clients.",
		},
	)
	wsEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_ws_events_published_total",
			Help: "Room events published to redis by result.",
		},
		[]string{"type", "result"},
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsRooms, wsMessagesDelivered, wsEventsPublished)
}

func incConnections() {
	wsConnections.Inc()
}

func decConnections() {
	wsConnections.Dec()
}

func setRooms(count int) {
	wsRooms.Set(float64(count))
}

func addDelivered(count int) {
	wsMessagesDelivered.Add(float64(count))
}
