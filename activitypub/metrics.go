package activitypub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tusk_federation_deliveries_total",
	Help: "Outbound activity deliveries by outcome",
}, []string{"outcome"})

var inboundActivities = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tusk_federation_inbound_activities_total",
	Help: "Inbound activities by type and result",
}, []string{"type", "result"})
