// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "roomrelay"

// Drop reasons for MessagesDropped.
const (
	ReasonUnrouted    = "unrouted"
	ReasonRateLimited = "rate_limited"
	ReasonMalformed   = "malformed"
)

// Metrics groups the relay's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Connections        prometheus.Gauge
	Rooms              prometheus.Gauge
	MessagesReceived   prometheus.Counter
	MessagesDelivered  prometheus.Counter
	MessagesDropped    *prometheus.CounterVec
	DeliveryFailures   prometheus.Counter
	JoinsRejected      prometheus.Counter
	AdmissionsRejected prometheus.Counter
}

// New registers the relay collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Connections currently admitted to the relay.",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Message events received from clients.",
		}),
		MessagesDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Messages handed to a recipient's send queue.",
		}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped before fan-out, by reason.",
		}, []string{"reason"}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Sends that failed and caused the recipient to be disconnected.",
		}),
		JoinsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_rejected_total",
			Help:      "Join events rejected for an invalid room name.",
		}),
		AdmissionsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_rejected_total",
			Help:      "Connections rejected at the session boundary.",
		}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ConnectionOpened counts an admitted connection.
func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

// ConnectionClosed counts a connection leaving the hub.
func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

// SetRooms records the current number of live rooms.
func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.Rooms.Set(float64(n))
	}
}

// MessageReceived counts a message from an admitted sender.
func (m *Metrics) MessageReceived() {
	if m != nil {
		m.MessagesReceived.Inc()
	}
}

// Delivered adds n recipient deliveries.
func (m *Metrics) Delivered(n int) {
	if m != nil {
		m.MessagesDelivered.Add(float64(n))
	}
}

// Dropped counts a discarded inbound message labelled by reason.
func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.MessagesDropped.WithLabelValues(reason).Inc()
	}
}

// DeliveryFailed counts a recipient whose send failed.
func (m *Metrics) DeliveryFailed() {
	if m != nil {
		m.DeliveryFailures.Inc()
	}
}

// JoinRejected counts a join with an invalid room name.
func (m *Metrics) JoinRejected() {
	if m != nil {
		m.JoinsRejected.Inc()
	}
}

// AdmissionRejected counts a request refused at the session boundary.
func (m *Metrics) AdmissionRejected() {
	if m != nil {
		m.AdmissionsRejected.Inc()
	}
}
