package room

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_room_merges_total",
			Help: "Room merge attempts by result.",
		},
		[]string{"result"},
	)
	mergeMessagesMoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_room_merge_messages_moved_total",
			Help: "Messages moved into target rooms by merges.",
		},
	)
	knowledgeNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_knowledge_notifications_total",
			Help: "Knowledge adapter notifications by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(mergesTotal, mergeMessagesMoved, knowledgeNotifications)
}

func observeMerge(err error) {
	if err == nil {
		mergesTotal.WithLabelValues("success").Inc()
		return
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		mergesTotal.WithLabelValues(string(svcErr.Code)).Inc()
		return
	}
	mergesTotal.WithLabelValues(string(ErrorCodeInternal)).Inc()
}
