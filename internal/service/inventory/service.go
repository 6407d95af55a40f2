package inventory

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

// Service списывает и возвращает складские остатки. Каждое событие обрабатывается
// не более одного раза благодаря журналу processed_events.
type Service struct {
	tx      domain.Transactor
	logger  *log.Entry
	metrics *metrics.SagaMetrics
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт складской сервис.
func NewService(tx domain.Transactor, opts ...Option) *Service {
	s := &Service{
		tx:     tx,
		logger: log.WithField("component", "inventory-service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DecreaseResult: итог обработки запроса на списание.
type DecreaseResult struct {
	Committed []events.LineItem
	Rejected  []events.RejectedLine
	Duplicate bool
}

// Decrease списывает остатки построчно. Отклонённые строки не мешают списанию остальных
// и попадают в одно событие stock.rejected. Запись в журнал делается, только если
// списана хотя бы одна строка: полностью отклонённый запрос можно повторить после пополнения.
func (s *Service) Decrease(ctx context.Context, req events.InventoryDecrease) (DecreaseResult, error) {
	key := req.IdempotencyKey()
	logger := s.logger.WithFields(log.Fields{
		"order_id":   req.OrderID,
		"request_id": key,
	})

	var result DecreaseResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		result = DecreaseResult{}

		done, err := tx.ProcessedEvents().Exists(ctx, events.TopicInventoryDecrease, key)
		if err != nil {
			return fmt.Errorf("check ledger: %w", err)
		}
		if done {
			result.Duplicate = true
			return nil
		}

		for _, item := range req.Items {
			rejected, err := decreaseLine(ctx, tx, item)
			if err != nil {
				return err
			}
			if rejected != nil {
				result.Rejected = append(result.Rejected, *rejected)
				continue
			}
			result.Committed = append(result.Committed, item)
		}

		now := s.now()
		if len(result.Rejected) > 0 {
			msg, err := events.NewOutboxMessage(events.AggregateOrder, req.OrderID, events.StockRejected{
				RequestID: key,
				OrderID:   req.OrderID,
				Rejected:  result.Rejected,
			}, now)
			if err != nil {
				return err
			}
			if _, err := tx.Outbox().Save(ctx, msg); err != nil {
				return fmt.Errorf("save stock.rejected: %w", err)
			}
		}
		if len(result.Committed) == 0 {
			return nil
		}
		return tx.ProcessedEvents().Record(ctx, domain.ProcessedEvent{
			EventType:   events.TopicInventoryDecrease,
			AggregateID: key,
			ProcessedAt: now,
		})
	})
	if errors.Is(err, domain.ErrAlreadyProcessed) {
		result = DecreaseResult{Duplicate: true}
		err = nil
	}
	if err != nil {
		return DecreaseResult{}, err
	}

	if result.Duplicate {
		logger.Info("inventory decrease already processed, skipping")
		s.metrics.RecordLedgerDuplicate(events.TopicInventoryDecrease)
		return result, nil
	}
	if len(result.Rejected) > 0 {
		logger.WithFields(log.Fields{
			"committed": len(result.Committed),
			"rejected":  len(result.Rejected),
		}).Warn("inventory decrease partially rejected")
		s.metrics.RecordStockRejected(len(result.Rejected))
	} else {
		logger.WithField("lines", len(result.Committed)).Info("inventory decreased")
	}
	return result, nil
}

// decreaseLine списывает одну строку; бизнес-отказ возвращается как RejectedLine.
func decreaseLine(ctx context.Context, tx domain.Tx, item events.LineItem) (*events.RejectedLine, error) {
	rejected := &events.RejectedLine{SkuID: item.SkuID, Requested: int64(item.Quantity)}

	sku, err := tx.Skus().GetForUpdate(ctx, item.SkuID)
	if errors.Is(err, domain.ErrSkuNotFound) {
		return rejected, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sku %s: %w", item.SkuID, err)
	}

	rejected.Available = sku.StockQty
	if err := sku.Decrease(int64(item.Quantity)); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) || errors.Is(err, domain.ErrItemQtyInvalid) {
			return rejected, nil
		}
		return nil, err
	}
	if err := tx.Skus().Save(ctx, sku); err != nil {
		return nil, fmt.Errorf("save sku %s: %w", item.SkuID, err)
	}
	return nil, nil
}

// Restore возвращает остатки по отменённому заказу. eventType входит в ключ журнала,
// поэтому order.cancelled и payment.cancelled учитываются раздельно.
func (s *Service) Restore(ctx context.Context, eventType, orderID string, items []events.LineItem) (bool, error) {
	logger := s.logger.WithFields(log.Fields{
		"order_id":   orderID,
		"event_type": eventType,
	})

	var (
		duplicate bool
		restored  int
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		duplicate, restored = false, 0

		done, err := tx.ProcessedEvents().Exists(ctx, eventType, orderID)
		if err != nil {
			return fmt.Errorf("check ledger: %w", err)
		}
		if done {
			duplicate = true
			return nil
		}

		for _, item := range items {
			sku, err := tx.Skus().GetForUpdate(ctx, item.SkuID)
			if errors.Is(err, domain.ErrSkuNotFound) {
				logger.WithField("sku_id", item.SkuID).Warn("sku not found, restore line skipped")
				continue
			}
			if err != nil {
				return fmt.Errorf("load sku %s: %w", item.SkuID, err)
			}
			if err := sku.Increase(int64(item.Quantity)); err != nil {
				logger.WithError(err).WithField("sku_id", item.SkuID).Warn("invalid restore line skipped")
				continue
			}
			if err := tx.Skus().Save(ctx, sku); err != nil {
				return fmt.Errorf("save sku %s: %w", item.SkuID, err)
			}
			restored++
		}

		return tx.ProcessedEvents().Record(ctx, domain.ProcessedEvent{
			EventType:   eventType,
			AggregateID: orderID,
			ProcessedAt: s.now(),
		})
	})
	if errors.Is(err, domain.ErrAlreadyProcessed) {
		duplicate, err = true, nil
	}
	if err != nil {
		return false, err
	}

	if duplicate {
		logger.Info("stock restore already processed, skipping")
		s.metrics.RecordLedgerDuplicate(eventType)
		return false, nil
	}
	logger.WithField("lines", restored).Info("stock restored")
	return true, nil
}

// Topics: топики складского сервиса.
func Topics() []string {
	return events.InventoryServiceTopics()
}

// Routes возвращает обработчики для пайплайна повторов.
func (s *Service) Routes() map[string]retry.Handler {
	routes := make(map[string]retry.Handler)
	for _, topic := range Topics() {
		routes[topic] = s.Handle
	}
	return routes
}

// Handle декодирует сообщение и выполняет списание или возврат.
func (s *Service) Handle(ctx context.Context, msg retry.Message) error {
	topic := msg.OriginalTopic()
	_, ev, err := events.DecodeMessage(topic, msg.Value)
	if err != nil {
		return fmt.Errorf("decode %s message: %w", topic, err)
	}

	switch e := ev.(type) {
	case events.InventoryDecrease:
		_, err = s.Decrease(ctx, e)
	case events.OrderCancelled:
		_, err = s.Restore(ctx, events.TopicOrderCancelled, e.OrderID, e.Items)
	case events.PaymentCancelled:
		_, err = s.Restore(ctx, events.TopicPaymentCancelled, e.OrderID, e.Items)
	default:
		s.logger.WithFields(log.Fields{
			"topic":      topic,
			"event_type": ev.Topic(),
		}).Debug("event is not handled by inventory service")
	}
	return err
}
