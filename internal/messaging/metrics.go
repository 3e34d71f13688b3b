package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects broker counters. One instance is shared by all
// components wired from the same client.
type Metrics struct {
	Published    *prometheus.CounterVec
	Delivered    *prometheus.CounterVec
	Acked        *prometheus.CounterVec
	Retried      *prometheus.CounterVec
	DeadLettered *prometheus.CounterVec
	Reclaimed    *prometheus.CounterVec
	ParseErrors  *prometheus.CounterVec
}

// NewMetrics registers the broker counters on reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronow_messages_published_total",
			Help: "Messages appended to topic logs.",
		}, []string{"topic"}),
		Delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronow_messages_delivered_total",
			Help: "Messages handed to consumers, including redeliveries.",
		}, []string{"topic", "subscription"}),
		Acked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronow_messages_acked_total",
			Help: "Messages acknowledged by consumers.",
		}, []string{"topic", "subscription"}),
		Retried: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronow_messages_retried_total",
			Help: "Messages scheduled for delayed requeue.",
		}, []string{"topic", "subscription"}),
		DeadLettered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronow_messages_dead_lettered_total",
			Help: "Messages transferred to the dead-letter queue.",
		}, []string{"topic", "subscription"}),
		Reclaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronow_messages_reclaimed_total",
			Help: "In-flight messages reclaimed after the visibility timeout.",
		}, []string{"topic", "subscription"}),
		ParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chronow_entry_parse_errors_total",
			Help: "Log entries dropped because payload or headers failed to decode.",
		}, []string{"topic", "subscription"}),
	}
}

// NopMetrics returns metrics bound to a throwaway registry.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
