// Package metrics exposes the Prometheus collectors reported by the
// assistant. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "whatsapp_agent"

// Cache lookup results.
const (
	ResultHit      = "hit"
	ResultNegative = "negative"
	ResultMiss     = "miss"
)

// Metrics holds the collectors shared by the cache, registry, router and
// orchestrator.
type Metrics struct {
	cacheLookups      *prometheus.CounterVec
	inboundEvents     *prometheus.CounterVec
	reminders         *prometheus.CounterVec
	intentsRouted     *prometheus.CounterVec
	conversationsTracked prometheus.Gauge
}

// MustNewMetrics builds the collectors and registers them with reg. A
// collector that is already registered is reused, so constructing Metrics
// twice against the same registry does not panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "TTL cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		inboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound webhook messages by processing outcome.",
		}, []string{"outcome"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Inactivity reminders and final messages by delivery status.",
		}, []string{"kind", "status"}),
		intentsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_routed_total",
			Help:      "Configured intents dispatched by action type.",
		}, []string{"action"}),
		conversationsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations_tracked",
			Help:      "Conversations held in the registry, including closed ones awaiting cleanup.",
		}),
	}

	m.cacheLookups = register(reg, m.cacheLookups)
	m.inboundEvents = register(reg, m.inboundEvents)
	m.reminders = register(reg, m.reminders)
	m.intentsRouted = register(reg, m.intentsRouted)
	m.conversationsTracked = register(reg, m.conversationsTracked)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) CacheLookup(cache, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) InboundEvent(outcome string) {
	if m == nil {
		return
	}
	m.inboundEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Reminder(kind string, sent bool) {
	if m == nil {
		return
	}
	status := "sent"
	if !sent {
		status = "failed"
	}
	m.reminders.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) IntentRouted(action string) {
	if m == nil {
		return
	}
	m.intentsRouted.WithLabelValues(action).Inc()
}

func (m *Metrics) SetConversationsTracked(n int) {
	if m == nil {
		return
	}
	m.conversationsTracked.Set(float64(n))
}
