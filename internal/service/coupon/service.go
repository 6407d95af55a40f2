package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/events"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/retry"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
)

// Service возвращает купоны отменённых заказов.
type Service struct {
	tx      domain.Transactor
	logger  *log.Entry
	metrics *metrics.SagaMetrics
	now     func() time.Time
}

// NewService создаёт сервис купонов. logger и m могут быть nil.
func NewService(tx domain.Transactor, logger *log.Entry, m *metrics.SagaMetrics) *Service {
	if logger == nil {
		logger = log.WithField("component", "coupon-service")
	}
	return &Service{
		tx:      tx,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// LedgerKey: ключ журнала для восстановления купона.
func LedgerKey(couponID, orderID string) string {
	return couponID + ":" + orderID
}

// Restore делает купон доступным, если он использован этим заказом. Возвращает true, если купон восстановлен.
func (s *Service) Restore(ctx context.Context, ev events.CouponRestored) (bool, error) {
	logger := s.logger.WithFields(log.Fields{
		"coupon_id": ev.CouponID,
		"order_id":  ev.OrderID,
	})
	key := LedgerKey(ev.CouponID, ev.OrderID)

	var restored, duplicate bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		restored, duplicate = false, false

		done, err := tx.ProcessedEvents().Exists(ctx, events.TopicCouponRestored, key)
		if err != nil {
			return fmt.Errorf("check ledger: %w", err)
		}
		if done {
			duplicate = true
			return nil
		}

		c, err := tx.Coupons().GetForUpdate(ctx, ev.CouponID)
		if err != nil {
			return err
		}
		now := s.now()
		if c.Restore(ev.OrderID, now) {
			if err := tx.Coupons().Save(ctx, c); err != nil {
				return fmt.Errorf("save coupon: %w", err)
			}
			restored = true
		}
		return tx.ProcessedEvents().Record(ctx, domain.ProcessedEvent{
			EventType:   events.TopicCouponRestored,
			AggregateID: key,
			ProcessedAt: now,
		})
	})
	switch {
	case errors.Is(err, domain.ErrAlreadyProcessed):
		duplicate = true
	case errors.Is(err, domain.ErrCouponNotFound):
		logger.Warn("coupon not found, restore skipped")
		return false, nil
	case err != nil:
		return false, err
	}

	if duplicate {
		logger.Info("coupon restore already processed, skipping")
		s.metrics.RecordLedgerDuplicate(events.TopicCouponRestored)
		return false, nil
	}
	if restored {
		logger.Info("coupon restored")
		s.metrics.RecordCouponRestored()
	} else {
		logger.Info("coupon is not used by order, nothing to restore")
	}
	return restored, nil
}

// Routes регистрирует обработчик coupon.restored.
func (s *Service) Routes() map[string]retry.Handler {
	return map[string]retry.Handler{events.TopicCouponRestored: s.Handle}
}

// Handle декодирует coupon.restored и восстанавливает купон.
func (s *Service) Handle(ctx context.Context, msg retry.Message) error {
	topic := msg.OriginalTopic()
	_, ev, err := events.DecodeMessage(topic, msg.Value)
	if err != nil {
		return fmt.Errorf("decode %s message: %w", topic, err)
	}
	e, ok := ev.(events.CouponRestored)
	if !ok || e.CouponID == "" {
		s.logger.WithField("topic", topic).Warn("unexpected event on coupon topic skipped")
		return nil
	}
	_, err = s.Restore(ctx, e)
	return err
}
