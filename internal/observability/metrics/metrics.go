// Package metrics exposes the Prometheus instruments for the receptionist.
// All observe methods are nil-safe so wiring metrics stays optional in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "repliq"

// Metrics holds every instrument the service registers.
type Metrics struct {
	turnsTotal             *prometheus.CounterVec
	bookingsTotal          *prometheus.CounterVec
	extractorFailures      prometheus.Counter
	calendarWriteFailures  prometheus.Counter
	webhookRequestDuration *prometheus.HistogramVec
}

// New registers the receptionist instruments on reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_turns_total",
			Help:      "Conversation turns processed, by channel and outcome.",
		}, []string{"channel", "status"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Appointments booked, by channel.",
		}, []string{"channel"}),
		extractorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_failures_total",
			Help:      "Field extraction calls that degraded to an empty guess.",
		}),
		calendarWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_write_failures_total",
			Help:      "Calendar event writes that failed after a confirmed booking.",
		}),
		webhookRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_request_duration_seconds",
			Help:      "Inbound webhook handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.turnsTotal,
			m.bookingsTotal,
			m.extractorFailures,
			m.calendarWriteFailures,
			m.webhookRequestDuration,
		)
	}
	return m
}

// ObserveTurn records one processed turn.
func (m *Metrics) ObserveTurn(channel, status string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(channel, status).Inc()
}

// ObserveBooking records one confirmed appointment.
func (m *Metrics) ObserveBooking(channel string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(channel).Inc()
}

// ObserveExtractorFailure records a degraded extraction call.
func (m *Metrics) ObserveExtractorFailure() {
	if m == nil {
		return
	}
	m.extractorFailures.Inc()
}

// ObserveCalendarWriteFailure records a failed event write.
func (m *Metrics) ObserveCalendarWriteFailure() {
	if m == nil {
		return
	}
	m.calendarWriteFailures.Inc()
}

// ObserveWebhookDuration records inbound webhook latency for a route.
func (m *Metrics) ObserveWebhookDuration(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.webhookRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}
