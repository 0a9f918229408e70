package metrics

import "github.com/prometheus/client_golang/prometheus"

// FlowMetrics counts outcomes of the seat, order, payment-link and webhook
// flows, plus operational alerts raised by them. Per-event seat counts are
// exported as gauges refreshed whenever an admin reads event metrics.
type FlowMetrics struct {
	seats      *prometheus.CounterVec
	orders     *prometheus.CounterVec
	links      *prometheus.CounterVec
	webhooks   *prometheus.CounterVec
	alerts     *prometheus.CounterVec
	eventSeats *prometheus.GaugeVec
}

func NewFlowMetrics(reg prometheus.Registerer) *FlowMetrics {
	if reg == nil {
		return &FlowMetrics{}
	}
	m := &FlowMetrics{
		seats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seat_operations_total",
			Help: "Seat reservation operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_total",
			Help: "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		links: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_link_transitions_total",
			Help: "Payment link status transitions.",
		}, []string{"status"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Processor webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operational_alerts_total",
			Help: "Alerts raised for manual reconciliation.",
		}, []string{"kind"}),
		eventSeats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "event_seats",
			Help: "Seats per recital by state (available, held, sold).",
		}, []string{"event", "state"}),
	}
	reg.MustRegister(m.seats, m.orders, m.links, m.webhooks, m.alerts, m.eventSeats)
	return m
}

func (m *FlowMetrics) Seat(op, outcome string) {
	if m == nil || m.seats == nil {
		return
	}
	m.seats.WithLabelValues(label(op), label(outcome)).Inc()
}

func (m *FlowMetrics) Order(outcome string) {
	if m == nil || m.orders == nil {
		return
	}
	m.orders.WithLabelValues(label(outcome)).Inc()
}

func (m *FlowMetrics) LinkTransition(status string) {
	if m == nil || m.links == nil {
		return
	}
	m.links.WithLabelValues(label(status)).Inc()
}

func (m *FlowMetrics) Webhook(eventType, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(label(eventType), label(outcome)).Inc()
}

func (m *FlowMetrics) Alert(kind string) {
	if m == nil || m.alerts == nil {
		return
	}
	m.alerts.WithLabelValues(label(kind)).Inc()
}

// EventSeats records the current seat split of one recital.
func (m *FlowMetrics) EventSeats(event string, available, held, sold int) {
	if m == nil || m.eventSeats == nil {
		return
	}
	event = label(event)
	m.eventSeats.WithLabelValues(event, "available").Set(float64(available))
	m.eventSeats.WithLabelValues(event, "held").Set(float64(held))
	m.eventSeats.WithLabelValues(event, "sold").Set(float64(sold))
}
