package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns a private prometheus registry so tests can build as many as
// they like. A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	Transitions          *prometheus.CounterVec
	Rejections           *prometheus.CounterVec
	IdempotentReplays    *prometheus.CounterVec
	IdempotencyFailOpen  prometheus.Counter
	IdempotencyErrors    *prometheus.CounterVec
	InventoryFailures    prometheus.Counter
	InventoryDeductions  prometheus.Counter
	TicketTransitions    *prometheus.CounterVec
	EventPublishFailures *prometheus.CounterVec
	OrdersPlaced         prometheus.Counter
	OrderLatencySec      prometheus.Histogram
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Committed order status transitions.",
	}, []string{"from", "to"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_operation_rejections_total",
		Help: "Operations rejected by validation, authorization or eligibility rules.",
	}, []string{"operation", "class"})
	replays := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idempotent_replays_total",
		Help: "Requests answered from a recorded idempotency result.",
	}, []string{"operation"})
	failOpen := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "idempotency_fail_open_total",
		Help: "Requests that proceeded without an idempotency key because the store was unavailable.",
	})
	idemErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "idempotency_store_errors_total",
		Help: "Idempotency store errors by step.",
	}, []string{"step"})
	invFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_deduction_failures_total",
		Help: "Inventory deductions that failed after an order completed.",
	})
	invDeductions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inventory_deductions_total",
		Help: "Inventory deduction batches applied.",
	})
	tickets := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kitchen_ticket_transitions_total",
		Help: "Committed kitchen ticket status transitions.",
	}, []string{"to"})
	publishFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "event_publish_failures_total",
		Help: "Domain events a sink failed to accept.",
	}, []string{"sink"})
	placed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Orders placed.",
	})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "order_operation_latency_seconds",
		Help:    "Latency of order lifecycle operations.",
		Buckets: prometheus.DefBuckets,
	})

	r.MustRegister(transitions, rejections, replays, failOpen, idemErrors, invFailures,
		invDeductions, tickets, publishFailures, placed, latency)
	return &Registry{
		reg:                  r,
		Transitions:          transitions,
		Rejections:           rejections,
		IdempotentReplays:    replays,
		IdempotencyFailOpen:  failOpen,
		IdempotencyErrors:    idemErrors,
		InventoryFailures:    invFailures,
		InventoryDeductions:  invDeductions,
		TicketTransitions:    tickets,
		EventPublishFailures: publishFailures,
		OrdersPlaced:         placed,
		OrderLatencySec:      latency,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) Transition(from, to string) {
	if r == nil {
		return
	}
	r.Transitions.WithLabelValues(from, to).Inc()
}

func (r *Registry) Rejected(operation, class string) {
	if r == nil {
		return
	}
	r.Rejections.WithLabelValues(operation, class).Inc()
}

func (r *Registry) Replayed(operation string) {
	if r == nil {
		return
	}
	r.IdempotentReplays.WithLabelValues(operation).Inc()
}

func (r *Registry) FailedOpen() {
	if r == nil {
		return
	}
	r.IdempotencyFailOpen.Inc()
}

func (r *Registry) IdempotencyError(step string) {
	if r == nil {
		return
	}
	r.IdempotencyErrors.WithLabelValues(step).Inc()
}

func (r *Registry) InventoryFailed() {
	if r == nil {
		return
	}
	r.InventoryFailures.Inc()
}

func (r *Registry) InventoryDeducted() {
	if r == nil {
		return
	}
	r.InventoryDeductions.Inc()
}

func (r *Registry) TicketTransition(to string) {
	if r == nil {
		return
	}
	r.TicketTransitions.WithLabelValues(to).Inc()
}

func (r *Registry) PublishFailed(sink string) {
	if r == nil {
		return
	}
	r.EventPublishFailures.WithLabelValues(sink).Inc()
}

func (r *Registry) OrderPlaced() {
	if r == nil {
		return
	}
	r.OrdersPlaced.Inc()
}

func (r *Registry) ObserveLatency(seconds float64) {
	if r == nil {
		return
	}
	r.OrderLatencySec.Observe(seconds)
}
