package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Значения label result.
const (
	ResultOK           = "ok"
	ResultInsufficient = "insufficient"
	ResultConflict     = "conflict"
	ResultNotFound     = "not_found"
	ResultError        = "error"
)

// OrderMetrics содержит метрики жизненного цикла заказа и движения остатков.
// Все методы допускают nil-получатель.
type OrderMetrics struct {
	ordersCreated     prometheus.Counter
	ordersRejected    *prometheus.CounterVec
	ordersCanceled    prometheus.Counter
	statusTransitions *prometheus.CounterVec

	stockReservations *prometheus.CounterVec
	stockReleases     *prometheus.CounterVec
	conflictRetries   *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	inFlight prometheus.Gauge
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_orders_rejected_total",
			Help: "Total number of order operations rejected, by operation and error kind",
		}, []string{"operation", "kind"}),
		ordersCanceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_orders_canceled_total",
			Help: "Total number of orders canceled with stock restored",
		}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_order_status_transitions_total",
			Help: "Total number of applied order status transitions",
		}, []string{"from", "to"}),
		stockReservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_stock_reservations_total",
			Help: "Stock reservation attempts by result",
		}, []string{"result"}),
		stockReleases: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_stock_releases_total",
			Help: "Stock release attempts by result",
		}, []string{"result"}),
		conflictRetries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "oms_conflict_retries_total",
			Help: "Retries caused by optimistic conflicts, by kind",
		}, []string{"kind"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "oms_order_operation_duration_seconds",
			Help:    "Duration of order lifecycle operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "oms_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "oms_order_operations_in_flight",
			Help: "Number of order lifecycle operations currently executing",
		}),
	}
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderRejected учитывает отказ операции с классом ошибки kind.
func (m *OrderMetrics) RecordOrderRejected(operation, kind string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(operation, kind).Inc()
}

// RecordOrderCanceled увеличивает счётчик отменённых заказов.
func (m *OrderMetrics) RecordOrderCanceled() {
	if m == nil {
		return
	}
	m.ordersCanceled.Inc()
}

// RecordStatusTransition учитывает применённый переход статуса.
func (m *OrderMetrics) RecordStatusTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordReservation учитывает попытку резерва остатка.
func (m *OrderMetrics) RecordReservation(result string) {
	if m == nil {
		return
	}
	m.stockReservations.WithLabelValues(result).Inc()
}

// RecordRelease учитывает попытку возврата остатка.
func (m *OrderMetrics) RecordRelease(result string) {
	if m == nil {
		return
	}
	m.stockReleases.WithLabelValues(result).Inc()
}

// RecordConflictRetry учитывает повтор после конфликта (stock, order_version, product_version).
func (m *OrderMetrics) RecordConflictRetry(kind string) {
	if m == nil {
		return
	}
	m.conflictRetries.WithLabelValues(kind).Inc()
}

// ObserveOperation записывает длительность операции.
func (m *OrderMetrics) ObserveOperation(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// TrackInFlight увеличивает gauge активных операций и возвращает функцию завершения.
func (m *OrderMetrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}
