package order

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/events"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
)

const (
	maxConflictRetries = 3
	conflictBaseDelay  = 10 * time.Millisecond
)

// Service применяет события жизненного цикла к заказу: guard, эффекты, сохранение и outbox
// выполняются в одной локальной транзакции.
type Service struct {
	tx       domain.Transactor
	shipping domain.ShippingClient
	logger   *log.Entry
	metrics  *metrics.SagaMetrics
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики саги.
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет часы (используется в тестах).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис заказов.
func NewService(tx domain.Transactor, shipping domain.ShippingClient, opts ...Option) *Service {
	s := &Service{
		tx:       tx,
		shipping: shipping,
		logger:   log.WithField("component", "order-service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// input: данные события, нужные эффектам перехода.
type input struct {
	reason        string
	payment       *events.PaymentConfirmed
	exchange      *events.ExchangeApproved
	rejected      []events.RejectedLine
	createdBefore time.Time
	override      domain.OrderStatus
}

// apply применяет событие брокера. Отказ guard и отсутствие заказа не считаются ошибкой.
func (s *Service) apply(ctx context.Context, orderID string, trigger domain.Trigger, in input) error {
	_, err := s.run(ctx, orderID, trigger, in)
	return err
}

// run возвращает true, если переход применён.
func (s *Service) run(ctx context.Context, orderID string, trigger domain.Trigger, in input) (bool, error) {
	logger := s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"trigger":  trigger,
	})

	d, err := s.transition(ctx, orderID, trigger, in)
	switch {
	case err == nil:
		logger.WithFields(log.Fields{
			"from": d.From,
			"to":   d.To,
		}).Info("order transition applied")
		s.recordApplied(d)
		return true, nil
	case domain.IsNotFound(err):
		logger.Warn("order not found, event skipped")
		s.metrics.RecordSkipped(string(trigger), "not_found")
		return false, nil
	case domain.IsTransitionNotAllowed(err):
		logger.WithError(err).Info("transition not allowed, event skipped")
		s.metrics.RecordSkipped(string(trigger), "guard")
		return false, nil
	default:
		logger.WithError(err).Error("order transition failed")
		return false, fmt.Errorf("%s for order %s: %w", trigger, orderID, err)
	}
}

// transition выполняет переход в транзакции и повторяет её при конфликте версий.
func (s *Service) transition(ctx context.Context, orderID string, trigger domain.Trigger, in input) (domain.Decision, error) {
	for attempt := 0; ; attempt++ {
		var decision domain.Decision
		err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			d, err := s.applyTx(ctx, tx, orderID, trigger, in)
			decision = d
			return err
		})
		if err == nil {
			return decision, nil
		}
		if !domain.IsVersionConflict(err) || attempt >= maxConflictRetries-1 {
			return domain.Decision{}, err
		}

		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt + 1,
		}).Warn("version conflict detected, retrying")

		timer := time.NewTimer(conflictBaseDelay * time.Duration(1<<uint(attempt)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.Decision{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) applyTx(ctx context.Context, tx domain.Tx, orderID string, trigger domain.Trigger, in input) (domain.Decision, error) {
	order, err := tx.Orders().GetForUpdate(ctx, orderID)
	if err != nil {
		return domain.Decision{}, err
	}
	if !in.createdBefore.IsZero() && !order.CreatedAt.Before(in.createdBefore) {
		return domain.Decision{}, fmt.Errorf("%w: order created at %s is not expired", domain.ErrTransitionNotAllowed, order.CreatedAt.Format(time.RFC3339))
	}

	var d domain.Decision
	if trigger == domain.TriggerAdminOverride {
		d, err = domain.Override(order.Status, in.override)
	} else {
		d, err = domain.Decide(order.Status, trigger)
	}
	if err != nil {
		return domain.Decision{}, err
	}

	now := s.now()
	outgoing, err := applyEffects(&order, d, in, now, s.logger)
	if err != nil {
		return domain.Decision{}, err
	}

	order.Status = d.To
	if err := tx.Orders().Save(ctx, order); err != nil {
		return domain.Decision{}, fmt.Errorf("save order: %w", err)
	}
	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     string(trigger),
		Reason:   in.reason,
		Occurred: now,
	}); err != nil {
		return domain.Decision{}, fmt.Errorf("append timeline: %w", err)
	}
	if err := saveOutbox(ctx, tx, outgoing, now); err != nil {
		return domain.Decision{}, err
	}
	return d, nil
}

func saveOutbox(ctx context.Context, tx domain.Tx, outgoing []outgoing, now time.Time) error {
	for _, out := range outgoing {
		msg, err := events.NewOutboxMessage(out.aggregateType, out.aggregateID, out.event, now)
		if err != nil {
			return err
		}
		if _, err := tx.Outbox().Save(ctx, msg); err != nil {
			return fmt.Errorf("save outbox %s: %w", msg.EventType, err)
		}
	}
	return nil
}

func (s *Service) recordApplied(d domain.Decision) {
	s.metrics.RecordTransition(string(d.Trigger), string(d.To))
	if eff, ok := d.Effect(domain.EffectEmitCompensation); ok {
		s.metrics.RecordCompensation(string(eff.Reason))
	}
}
