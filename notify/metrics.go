package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var notificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tusk_notifications_created_total",
	Help: "Notifications persisted by type",
}, []string{"type"})

var notificationsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tusk_notifications_failed_total",
	Help: "Notifications that could not be persisted",
})
