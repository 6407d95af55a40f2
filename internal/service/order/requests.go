package order

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// RequestReturn открывает возврат в службе доставки и переводит заказ в RETURN_REQUESTED.
// Вызов службы доставки выполняется вне транзакции; статус сохраняется только после успеха.
func (s *Service) RequestReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnCase, error) {
	if _, err := s.precheck(ctx, req.OrderID, req.UserID, domain.TriggerReturnRequested); err != nil {
		return domain.ReturnCase{}, err
	}

	rc, err := s.shipping.CreateReturn(ctx, req)
	if err != nil {
		return domain.ReturnCase{}, fmt.Errorf("open return for order %s: %w", req.OrderID, err)
	}

	d, err := s.transition(ctx, req.OrderID, domain.TriggerReturnRequested, input{
		reason: fmt.Sprintf("return %s: %s", rc.ReturnID, req.Reason),
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":  req.OrderID,
			"return_id": rc.ReturnID,
		}).Error("return case opened but order status not updated")
		return domain.ReturnCase{}, err
	}
	s.recordApplied(d)
	s.logger.WithFields(log.Fields{
		"order_id":  req.OrderID,
		"return_id": rc.ReturnID,
	}).Info("return requested")
	return rc, nil
}

// RequestExchange открывает обмен и переводит заказ в EXCHANGE_REQUESTED.
func (s *Service) RequestExchange(ctx context.Context, req domain.ExchangeRequest) (domain.ExchangeCase, error) {
	order, err := s.precheck(ctx, req.OrderID, req.UserID, domain.TriggerExchangeRequested)
	if err != nil {
		return domain.ExchangeCase{}, err
	}
	lines, err := exchangeLines(order, req.Lines)
	if err != nil {
		return domain.ExchangeCase{}, err
	}
	req.Lines = lines

	ec, err := s.shipping.CreateExchange(ctx, req)
	if err != nil {
		return domain.ExchangeCase{}, fmt.Errorf("open exchange for order %s: %w", req.OrderID, err)
	}

	d, err := s.transition(ctx, req.OrderID, domain.TriggerExchangeRequested, input{
		reason: fmt.Sprintf("exchange %s: %s", ec.ExchangeID, req.Reason),
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":    req.OrderID,
			"exchange_id": ec.ExchangeID,
		}).Error("exchange case opened but order status not updated")
		return domain.ExchangeCase{}, err
	}
	s.recordApplied(d)
	return ec, nil
}

// Expire отменяет заказ в статусе CREATED, созданный раньше cutoff.
// Возвращает false, если заказ уже оплачен, отменён или ещё не просрочен.
func (s *Service) Expire(ctx context.Context, orderID string, cutoff time.Time) (bool, error) {
	return s.run(ctx, orderID, domain.TriggerOrderExpired, input{
		reason:        "payment timeout",
		createdBefore: cutoff,
	})
}

// Override: ручная смена статуса оператором без проверки guard-условий.
func (s *Service) Override(ctx context.Context, orderID string, target domain.OrderStatus, reason string) error {
	d, err := s.transition(ctx, orderID, domain.TriggerAdminOverride, input{
		reason:   reason,
		override: target,
	})
	if err != nil {
		return err
	}
	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"from":     d.From,
		"to":       d.To,
		"reason":   reason,
	}).Warn("order status overridden")
	s.recordApplied(d)
	return nil
}

// Get возвращает заказ.
func (s *Service) Get(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		order, err = tx.Orders().Get(ctx, orderID)
		return err
	})
	return order, err
}

// Timeline возвращает историю заказа.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	var items []domain.TimelineEvent
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		items, err = tx.Timeline().List(ctx, orderID)
		return err
	})
	return items, err
}

// precheck проверяет владельца и guard до обращения к службе доставки.
func (s *Service) precheck(ctx context.Context, orderID, userID string, trigger domain.Trigger) (domain.Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != userID {
		return domain.Order{}, domain.ErrOrderOwnerMismatch
	}
	if _, err := domain.Decide(order.Status, trigger); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// exchangeLines сверяет строки обмена с позициями заказа и дополняет исходный SKU.
func exchangeLines(order domain.Order, lines []domain.ExchangeLine) ([]domain.ExchangeLine, error) {
	if len(lines) == 0 {
		return nil, domain.ErrItemsRequired
	}
	byID := make(map[string]domain.OrderItem, len(order.Items))
	for _, it := range order.Items {
		byID[it.ID] = it
	}

	result := make([]domain.ExchangeLine, 0, len(lines))
	for _, l := range lines {
		item, ok := byID[l.OrderItemID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown order item %s", domain.ErrItemSkuRequired, l.OrderItemID)
		}
		if l.Qty <= 0 || l.Qty > item.Qty {
			return nil, domain.ErrItemQtyInvalid
		}
		l.OriginalSkuID = item.SkuID
		if l.NewSkuID == "" {
			l.NewSkuID = item.SkuID
		}
		result = append(result, l)
	}
	return result, nil
}
