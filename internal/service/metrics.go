package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyhub_events_triggered_total",
		Help: "Events received by the dispatcher, by result.",
	}, []string{"result"})

	ruleSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyhub_rule_skips_total",
		Help: "Rules evaluated for an event that produced no delivery record, by reason.",
	}, []string{"reason"})

	deliveriesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyhub_deliveries_created_total",
		Help: "Delivery records created, by channel.",
	}, []string{"channel"})

	deliveryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifyhub_delivery_outcomes_total",
		Help: "Delivery attempts processed by workers, by channel and outcome.",
	}, []string{"channel", "outcome"})
)
