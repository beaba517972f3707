package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/lease-billing/billing"
)

// Metrics holds the billing counters exposed on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	SchedulesGenerated prometheus.Counter
	PaymentsApplied    *prometheus.CounterVec // by resulting invoice status
	AmountAllocated    *prometheus.CounterVec // by bucket: principal, penalty, surplus
	CreditNotesApplied *prometheus.CounterVec // by reversed_progress
	InvoicesPromoted   prometheus.Counter
	OperationErrors    *prometheus.CounterVec // by operation and error class
}

// NewMetrics registers the billing collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SchedulesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "schedules_generated_total",
			Help:      "Contracts whose invoice schedule was generated.",
		}),
		PaymentsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "payments_applied_total",
			Help:      "Payments allocated to invoices.",
		}, []string{"status"}),
		AmountAllocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "amount_allocated_total",
			Help:      "Payment amounts by waterfall bucket, in currency units.",
		}, []string{"bucket"}),
		CreditNotesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "credit_notes_applied_total",
			Help:      "Credit notes that cancelled an invoice.",
		}, []string{"reversed_progress"}),
		InvoicesPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "invoices_promoted_total",
			Help:      "Invoices moved from future to pending by the sweep.",
		}),
		OperationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "operation_errors_total",
			Help:      "Rejected or failed billing operations.",
		}, []string{"operation", "class"}),
	}
	reg.MustRegister(
		m.SchedulesGenerated,
		m.PaymentsApplied,
		m.AmountAllocated,
		m.CreditNotesApplied,
		m.InvoicesPromoted,
		m.OperationErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePayment records a committed payment.
func (m *Metrics) ObservePayment(res *billing.PaymentResult) {
	m.PaymentsApplied.WithLabelValues(string(res.Invoice.Status)).Inc()
	m.AmountAllocated.WithLabelValues("principal").Add(res.Allocation.ToPrincipal.Value.InexactFloat64())
	m.AmountAllocated.WithLabelValues("penalty").Add(res.Allocation.ToPenalty.Value.InexactFloat64())
	m.AmountAllocated.WithLabelValues("surplus").Add(res.Allocation.Surplus.Value.InexactFloat64())
}

// ObserveCreditNote records a committed credit note.
func (m *Metrics) ObserveCreditNote(res *billing.CreditNoteResult) {
	label := "false"
	if res.CreditNote.ReversedProgress {
		label = "true"
	}
	m.CreditNotesApplied.WithLabelValues(label).Inc()
}

// ObserveError classifies a failed operation.
func (m *Metrics) ObserveError(operation string, err error) {
	m.OperationErrors.WithLabelValues(operation, errorClass(err)).Inc()
}

func errorClass(err error) string {
	switch {
	case billing.IsNotFound(err):
		return "not_found"
	case billing.IsClientError(err):
		return "invalid"
	case billing.IsConflict(err):
		return "conflict"
	default:
		return "internal"
	}
}
