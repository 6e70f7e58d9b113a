// Package metrics регистрирует Prometheus-метрики планировщика просмотров
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы резервирования
const (
	OutcomeAccepted         = "accepted"
	OutcomeCapacityExceeded = "capacity_exceeded"
	OutcomeStaleSlot        = "stale_slot"
	OutcomeError            = "error"
)

type Metrics struct {
	reservations   *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	sweepAffected  *prometheus.CounterVec
	slotGeneration prometheus.Histogram
}

// New создаёт метрики и регистрирует их в reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visits",
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visits",
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by target status.",
		}, []string{"to"}),
		sweepAffected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visits",
			Name:      "sweep_affected_total",
			Help:      "Bookings changed by background sweeps.",
		}, []string{"kind"}),
		slotGeneration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "visits",
			Name:      "slot_generation_seconds",
			Help:      "Time spent expanding patterns into slots.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}

	reg.MustRegister(m.reservations, m.transitions, m.sweepAffected, m.slotGeneration)
	return m
}

func (m *Metrics) Reservation(outcome string) {
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(to string) {
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) SweepAffected(kind string, n int) {
	m.sweepAffected.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ObserveGeneration(d time.Duration) {
	m.slotGeneration.Observe(d.Seconds())
}
