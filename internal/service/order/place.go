package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/events"
)

// PlaceItem: позиция оформляемого заказа.
type PlaceItem struct {
	ProductID   string
	SkuID       string
	ProductName string
	ProductCode string
	Qty         int32
	UnitPrice   int64
}

// CouponUse: купон, применённый к заказу.
type CouponUse struct {
	CouponID string
	Amount   int64
}

// PlaceRequest описывает оформление заказа.
type PlaceRequest struct {
	// OrderID можно передать заранее; пустой ID генерируется.
	OrderID     string
	UserID      string
	Memo        string
	Items       []PlaceItem
	Delivery    *domain.OrderDelivery
	Coupons     []CouponUse
	PointAmount int64
}

// Place сохраняет заказ в статусе CREATED, списывает купоны и ставит в outbox запрос на списание остатков.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (domain.Order, error) {
	order, err := s.buildOrder(req)
	if err != nil {
		return domain.Order{}, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		for _, disc := range order.CouponDiscounts() {
			coupon, err := tx.Coupons().GetForUpdate(ctx, disc.ReferenceID)
			if err != nil {
				return fmt.Errorf("coupon %s: %w", disc.ReferenceID, err)
			}
			if err := coupon.Use(order.UserID, order.ID, order.CreatedAt); err != nil {
				return fmt.Errorf("coupon %s: %w", disc.ReferenceID, err)
			}
			if err := tx.Coupons().Save(ctx, coupon); err != nil {
				return fmt.Errorf("save coupon %s: %w", disc.ReferenceID, err)
			}
		}

		if err := tx.Orders().Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     "order.created",
			Occurred: order.CreatedAt,
		}); err != nil {
			return fmt.Errorf("append timeline: %w", err)
		}
		return saveOutbox(ctx, tx, []outgoing{{
			aggregateType: events.AggregateOrder,
			aggregateID:   order.ID,
			event: events.InventoryDecrease{
				RequestID: order.ID,
				OrderID:   order.ID,
				Items:     events.LineItemsFromOrder(order.Items),
			},
		}}, order.CreatedAt)
	})
	if err != nil {
		s.logger.WithError(err).WithField("user_id", req.UserID).Warn("order placement failed")
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":       order.ID,
		"order_number":   order.Number,
		"payment_amount": order.PaymentAmount,
	}).Info("order placed")
	s.metrics.RecordTransition("order.created", string(domain.OrderStatusCreated))
	return order, nil
}

func (s *Service) buildOrder(req PlaceRequest) (domain.Order, error) {
	now := s.now()
	order := domain.Order{
		ID:        req.OrderID,
		Number:    orderNumber(now.Format("20060102")),
		UserID:    req.UserID,
		Status:    domain.OrderStatusCreated,
		Memo:      req.Memo,
		Delivery:  req.Delivery,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	for _, it := range req.Items {
		line := domain.OrderItem{
			ID:          uuid.NewString(),
			ProductID:   it.ProductID,
			SkuID:       it.SkuID,
			ProductName: it.ProductName,
			ProductCode: it.ProductCode,
			Qty:         it.Qty,
			UnitPrice:   it.UnitPrice,
			LinePrice:   int64(it.Qty) * it.UnitPrice,
		}
		order.Items = append(order.Items, line)
		order.ProductAmount += line.LinePrice
	}

	for _, c := range req.Coupons {
		order.Discounts = append(order.Discounts, domain.OrderDiscount{
			ID:          uuid.NewString(),
			Type:        domain.DiscountTypeCoupon,
			ReferenceID: c.CouponID,
			Amount:      c.Amount,
		})
		order.DiscountAmount += c.Amount
	}
	if req.PointAmount != 0 {
		order.Discounts = append(order.Discounts, domain.OrderDiscount{
			ID:     uuid.NewString(),
			Type:   domain.DiscountTypePoint,
			Amount: req.PointAmount,
		})
		order.DiscountAmount += req.PointAmount
	}
	order.PaymentAmount = order.ProductAmount - order.DiscountAmount

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}
	for _, d := range order.Discounts {
		if d.Amount < 0 {
			return domain.Order{}, domain.ErrAmountNegative
		}
	}
	return order, nil
}

// orderNumber: дата оформления плюс случайный суффикс.
func orderNumber(date string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:10]
	return date + suffix
}
