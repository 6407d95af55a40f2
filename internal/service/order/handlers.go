package order

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/events"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/retry"
)

// Topics: топики, которые обрабатывает сервис заказов.
func Topics() []string {
	return []string{
		events.TopicPaymentConfirmed,
		events.TopicPaymentCancelled,
		events.TopicShippingStarted,
		events.TopicShippingDelivered,
		events.TopicReturnApproved,
		events.TopicReturnInTransit,
		events.TopicReturnCompleted,
		events.TopicExchangeApproved,
		events.TopicExchangeCollecting,
		events.TopicExchangeReturnCompleted,
		events.TopicExchangeShipping,
		events.TopicExchangeCompleted,
		events.TopicStockRejected,
	}
}

// Routes возвращает обработчики для регистрации в пайплайне повторов.
func (s *Service) Routes() map[string]retry.Handler {
	routes := make(map[string]retry.Handler)
	for _, topic := range Topics() {
		routes[topic] = s.Handle
	}
	return routes
}

// Handle декодирует сообщение и применяет соответствующий переход.
// Ошибка возвращается только для сбоев, которые имеет смысл повторить.
func (s *Service) Handle(ctx context.Context, msg retry.Message) error {
	topic := msg.OriginalTopic()
	_, ev, err := events.DecodeMessage(topic, msg.Value)
	if err != nil {
		return fmt.Errorf("decode %s message: %w", topic, err)
	}

	if ev.OrderRef() == "" {
		s.logger.WithFields(log.Fields{
			"topic":  topic,
			"offset": msg.Offset,
		}).Warn("event without order reference skipped")
		return nil
	}

	switch e := ev.(type) {
	case events.PaymentConfirmed:
		return s.apply(ctx, e.OrderID, domain.TriggerPaymentConfirmed, input{
			reason:  "payment " + e.PaymentKey,
			payment: &e,
		})
	case events.PaymentCancelled:
		return s.apply(ctx, e.OrderID, domain.TriggerPaymentCancelled, input{reason: e.Reason})
	case events.ShippingStarted:
		return s.apply(ctx, e.OrderID, domain.TriggerShippingStarted, input{reason: e.TrackingNumber})
	case events.ShippingDelivered:
		return s.apply(ctx, e.OrderID, domain.TriggerShippingDelivered, input{})
	case events.ReturnApproved:
		return s.apply(ctx, e.OrderID, domain.TriggerReturnApproved, input{reason: e.ReturnID})
	case events.ReturnInTransit:
		return s.apply(ctx, e.OrderID, domain.TriggerReturnInTransit, input{reason: e.ReturnID})
	case events.ReturnCompleted:
		return s.apply(ctx, e.OrderID, domain.TriggerReturnCompleted, input{reason: e.ReturnID})
	case events.ExchangeApproved:
		return s.apply(ctx, e.OrderID, domain.TriggerExchangeApproved, input{
			reason:   e.ExchangeID,
			exchange: &e,
		})
	case events.ExchangeCollecting:
		return s.apply(ctx, e.OrderID, domain.TriggerExchangeCollecting, input{reason: e.ExchangeID})
	case events.ExchangeReturnCompleted:
		return s.apply(ctx, e.OrderID, domain.TriggerExchangeReturnCompleted, input{reason: e.ExchangeID})
	case events.ExchangeShipping:
		return s.apply(ctx, e.OrderID, domain.TriggerExchangeShipping, input{reason: e.ExchangeID})
	case events.ExchangeCompleted:
		return s.apply(ctx, e.OrderID, domain.TriggerExchangeCompleted, input{reason: e.ExchangeID})
	case events.StockRejected:
		return s.HandleStockRejected(ctx, e)
	default:
		s.logger.WithFields(log.Fields{
			"topic":      topic,
			"event_type": ev.Topic(),
		}).Debug("event is not handled by order service")
		return nil
	}
}

// HandleStockRejected переводит заказ в FAILED, если склад отклонил списание при оформлении.
// Отказ по замене в обмене требует ручного разбора: заказ не трогаем.
func (s *Service) HandleStockRejected(ctx context.Context, e events.StockRejected) error {
	if e.RequestID != "" && e.RequestID != e.OrderID {
		s.logger.WithFields(log.Fields{
			"order_id":   e.OrderID,
			"request_id": e.RequestID,
			"rejected":   len(e.Rejected),
		}).Warn("replacement stock rejected, manual follow-up required")
		s.metrics.RecordSkipped(string(domain.TriggerStockRejected), "replacement")
		return nil
	}
	return s.apply(ctx, e.OrderID, domain.TriggerStockRejected, input{
		reason:   fmt.Sprintf("%d lines rejected", len(e.Rejected)),
		rejected: e.Rejected,
	})
}
