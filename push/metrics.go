package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tusk_push_attempts_total",
		Help: "Web Push delivery attempts by outcome",
	}, []string{"outcome"})

	deactivatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tusk_push_subscriptions_deactivated_total",
		Help: "Push subscriptions deactivated after the endpoint reported it is gone",
	})
)
