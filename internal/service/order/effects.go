package order

import (
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/events"
)

// outgoing: событие, которое будет записано в outbox вместе с заказом.
type outgoing struct {
	aggregateType string
	aggregateID   string
	event         events.Event
}

// applyEffects выполняет эффекты решения над заказом и собирает исходящие события.
func applyEffects(order *domain.Order, d domain.Decision, in input, now time.Time, logger *log.Entry) ([]outgoing, error) {
	var out []outgoing
	for _, eff := range d.Effects {
		switch eff.Kind {
		case domain.EffectAttachPayment:
			if err := attachPayment(order, in.payment); err != nil {
				return nil, err
			}
		case domain.EffectEmitCompensation:
			out = append(out, outgoing{
				aggregateType: events.AggregateOrder,
				aggregateID:   order.ID,
				event:         compensation(*order, eff.Reason, in.rejected, now),
			})
		case domain.EffectEmitReplacementSkus:
			if ev, ok := replacementDecrease(*order, in.exchange, logger); ok {
				out = append(out, outgoing{
					aggregateType: events.AggregateOrder,
					aggregateID:   order.ID,
					event:         ev,
				})
			}
		case domain.EffectEmitCouponRestores:
			for _, disc := range order.CouponDiscounts() {
				out = append(out, outgoing{
					aggregateType: events.AggregateCoupon,
					aggregateID:   disc.ReferenceID,
					event: events.CouponRestored{
						CouponID: disc.ReferenceID,
						OrderID:  order.ID,
						UserID:   order.UserID,
					},
				})
			}
		case domain.EffectOpenReturnCase, domain.EffectOpenExchangeCase:
			// Кейс открывается в службе доставки до транзакции.
		}
	}
	return out, nil
}

// attachPayment прикрепляет подтверждённый платёж; повтор с тем же ключом игнорируется.
func attachPayment(order *domain.Order, p *events.PaymentConfirmed) error {
	if p == nil || order.HasPayment(p.PaymentKey) {
		return nil
	}
	payment := domain.OrderPayment{
		ID:         p.PaymentID,
		Method:     p.Method,
		Amount:     p.Amount,
		Status:     domain.PaymentStatusCompleted,
		PaymentKey: p.PaymentKey,
		PaidAt:     p.PaidAt,
	}
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if errs := payment.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	order.Payments = append(order.Payments, payment)
	return nil
}

// compensation строит order.cancelled. При отказе склада в событие попадают только списанные позиции.
func compensation(order domain.Order, reason domain.CompensationReason, rejected []events.RejectedLine, now time.Time) events.OrderCancelled {
	items := order.Items
	if reason == domain.ReasonStockRejected {
		items = committedItems(order.Items, rejected)
	}

	ev := events.OrderCancelled{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		UserID:      order.UserID,
		Reason:      string(reason),
		Items:       events.LineItemsFromOrder(items),
		CancelledAt: now,
	}
	if p, ok := order.LastCompletedPayment(); ok {
		ev.RefundAmount = p.Amount
		ev.PaymentKey = p.PaymentKey
	}
	return ev
}

// committedItems убирает по одной позиции на каждую отклонённую строку.
func committedItems(items []domain.OrderItem, rejected []events.RejectedLine) []domain.OrderItem {
	pending := make(map[string]int, len(rejected))
	for _, r := range rejected {
		pending[r.SkuID]++
	}
	result := make([]domain.OrderItem, 0, len(items))
	for _, it := range items {
		if pending[it.SkuID] > 0 {
			pending[it.SkuID]--
			continue
		}
		result = append(result, it)
	}
	return result
}

// replacementDecrease списывает только новые SKU тех строк обмена, где SKU отличается
// от снимка позиции в заказе. Строки с неизвестной позицией пропускаются.
func replacementDecrease(order domain.Order, ex *events.ExchangeApproved, logger *log.Entry) (events.InventoryDecrease, bool) {
	if ex == nil {
		return events.InventoryDecrease{}, false
	}
	byID := make(map[string]domain.OrderItem, len(order.Items))
	for _, it := range order.Items {
		byID[it.ID] = it
	}

	var lines []events.LineItem
	for _, l := range ex.Lines {
		orig, ok := byID[l.OrderItemID]
		if !ok {
			logger.WithFields(log.Fields{
				"order_id":      order.ID,
				"exchange_id":   ex.ExchangeID,
				"order_item_id": l.OrderItemID,
			}).Warn("exchange line references unknown order item, skipped")
			continue
		}
		if l.NewSkuID == "" || l.NewSkuID == orig.SkuID {
			continue
		}
		lines = append(lines, events.LineItem{
			OrderItemID: l.OrderItemID,
			SkuID:       l.NewSkuID,
			ProductID:   orig.ProductID,
			ProductName: orig.ProductName,
			ProductCode: orig.ProductCode,
			Quantity:    l.Quantity,
			UnitPrice:   orig.UnitPrice,
			TotalPrice:  int64(l.Quantity) * orig.UnitPrice,
		})
	}
	if len(lines) == 0 {
		return events.InventoryDecrease{}, false
	}
	return events.InventoryDecrease{
		RequestID: events.ExchangeRequestID(order.ID, ex.ExchangeID),
		OrderID:   order.ID,
		Items:     lines,
	}, true
}
