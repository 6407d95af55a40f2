package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics содержит метрики саги заказа. Методы безопасны для nil-получателя.
type SagaMetrics struct {
	// Переходы статусов
	transitions *prometheus.CounterVec
	skipped     *prometheus.CounterVec

	// Компенсации и склад
	compensations   *prometheus.CounterVec
	stockRejections prometheus.Counter
	ledgerSkips     *prometheus.CounterVec
	couponRestores  prometheus.Counter

	// Пайплайн повторов
	pipelineAttempts    *prometheus.CounterVec
	deadLetters         *prometheus.CounterVec
	deadLetterPersistKo prometheus.Counter
	handlerDuration     *prometheus.HistogramVec

	// Reaper
	reaperExpired  prometheus.Counter
	reaperFailures prometheus.Counter
}

// NewSagaMetrics создаёт метрики в регистре по умолчанию.
func NewSagaMetrics() *SagaMetrics {
	return NewSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSagaMetricsWithRegisterer создаёт метрики в указанном регистре.
func NewSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SagaMetrics{
		transitions: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_order_transitions_total",
			Help: "Total number of applied order status transitions",
		}, []string{"trigger", "to"})),
		skipped: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_order_transitions_skipped_total",
			Help: "Total number of events skipped by guard or missing order",
		}, []string{"trigger", "reason"})),
		compensations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_compensations_total",
			Help: "Total number of compensation events emitted",
		}, []string{"reason"})),
		stockRejections: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordersaga_stock_rejected_lines_total",
			Help: "Total number of order lines rejected for insufficient stock",
		})),
		ledgerSkips: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_ledger_duplicates_total",
			Help: "Total number of redelivered events skipped by the processing ledger",
		}, []string{"event_type"})),
		couponRestores: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordersaga_coupon_restores_total",
			Help: "Total number of coupons made available again",
		})),
		pipelineAttempts: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_pipeline_attempts_total",
			Help: "Total number of handler attempts by outcome",
		}, []string{"topic", "outcome"})),
		deadLetters: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ordersaga_dead_letters_total",
			Help: "Total number of messages received from dead letter topics",
		}, []string{"topic"})),
		deadLetterPersistKo: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordersaga_dead_letter_persist_failures_total",
			Help: "Total number of dead letters that could not be stored",
		})),
		handlerDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ordersaga_handler_duration_seconds",
			Help:    "Duration of event handlers in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"topic"})),
		reaperExpired: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordersaga_reaper_expired_total",
			Help: "Total number of orders cancelled by the expiry reaper",
		})),
		reaperFailures: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ordersaga_reaper_failures_total",
			Help: "Total number of orders the expiry reaper failed to cancel",
		})),
	}
}

// register регистрирует коллектор; при повторной регистрации возвращает существующий.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			existing, ok := alreadyRegistered.ExistingCollector.(T)
			if !ok {
				panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector: %v", err))
	}
	return collector
}

// RecordTransition учитывает применённый переход.
func (m *SagaMetrics) RecordTransition(trigger, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(trigger, to).Inc()
}

// RecordSkipped учитывает пропущенное событие (reason: guard, not_found).
func (m *SagaMetrics) RecordSkipped(trigger, reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(trigger, reason).Inc()
}

// RecordCompensation учитывает выпущенное событие order.cancelled.
func (m *SagaMetrics) RecordCompensation(reason string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(reason).Inc()
}

// RecordStockRejected учитывает отклонённые позиции.
func (m *SagaMetrics) RecordStockRejected(lines int) {
	if m == nil {
		return
	}
	m.stockRejections.Add(float64(lines))
}

// RecordLedgerDuplicate учитывает повторную доставку, отсеянную журналом.
func (m *SagaMetrics) RecordLedgerDuplicate(eventType string) {
	if m == nil {
		return
	}
	m.ledgerSkips.WithLabelValues(eventType).Inc()
}

// RecordCouponRestored учитывает восстановленный купон.
func (m *SagaMetrics) RecordCouponRestored() {
	if m == nil {
		return
	}
	m.couponRestores.Inc()
}

// RecordPipelineAttempt учитывает попытку обработчика по исходу.
func (m *SagaMetrics) RecordPipelineAttempt(topic, outcome string) {
	if m == nil {
		return
	}
	m.pipelineAttempts.WithLabelValues(topic, outcome).Inc()
}

// RecordDeadLetter учитывает сообщение, дошедшее до DLT.
func (m *SagaMetrics) RecordDeadLetter(topic string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(topic).Inc()
}

// RecordDeadLetterPersistFailure учитывает неудачное сохранение dead letter.
func (m *SagaMetrics) RecordDeadLetterPersistFailure() {
	if m == nil {
		return
	}
	m.deadLetterPersistKo.Inc()
}

// RecordHandlerDuration записывает время работы обработчика топика.
func (m *SagaMetrics) RecordHandlerDuration(topic string, duration time.Duration) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(topic).Observe(duration.Seconds())
}

// RecordReaperResult учитывает итог прохода reaper.
func (m *SagaMetrics) RecordReaperResult(expired, failed int) {
	if m == nil {
		return
	}
	m.reaperExpired.Add(float64(expired))
	m.reaperFailures.Add(float64(failed))
}
