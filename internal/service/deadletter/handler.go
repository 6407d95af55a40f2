package deadletter

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/events"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/retry"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
)

const persistTimeout = 5 * time.Second

// Handler: терминальная обработка сообщений из DLT. Никогда не возвращает ошибку:
// сообщение логируется с контекстом и по возможности сохраняется для ручного разбора.
type Handler struct {
	tx      domain.Transactor
	logger  *log.Entry
	metrics *metrics.SagaMetrics
	now     func() time.Time
}

// NewHandler создаёт обработчик. tx может быть nil: тогда сообщения только логируются.
func NewHandler(tx domain.Transactor, logger *log.Entry, m *metrics.SagaMetrics) *Handler {
	if logger == nil {
		logger = log.WithField("component", "dead-letter")
	}
	return &Handler{
		tx:      tx,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handle совместим с retry.DeadLetterHandler.
func (h *Handler) Handle(ctx context.Context, msg retry.Message) {
	fields := log.Fields{
		"topic":          msg.Topic,
		"original_topic": msg.OriginalTopic(),
		"partition":      msg.Partition,
		"offset":         msg.Offset,
		"key":            string(msg.Key),
		"attempts":       msg.Attempt(),
		"failed_at":      msg.Header(retry.HeaderFailedAt),
	}

	env, ev, err := events.DecodeMessage(msg.OriginalTopic(), msg.Value)
	eventType := env.EventType
	if err != nil {
		fields["decode_error"] = err.Error()
	} else {
		for k, v := range diagnostics(ev) {
			fields[k] = v
		}
	}

	h.logger.WithFields(fields).
		WithField("error", msg.Header(retry.HeaderErrorMessage)).
		Error("message moved to dead letter topic")

	h.persist(ctx, domain.DeadLetter{
		ID:        uuid.NewString(),
		Topic:     msg.OriginalTopic(),
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Payload:   msg.Value,
		EventType: eventType,
		Error:     msg.Header(retry.HeaderErrorMessage),
		Attempts:  msg.Attempt(),
		FailedAt:  h.now(),
	})
}

func (h *Handler) persist(ctx context.Context, letter domain.DeadLetter) {
	if h.tx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	err := h.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.DeadLetters().Save(ctx, letter)
	})
	if err != nil {
		h.metrics.RecordDeadLetterPersistFailure()
		h.logger.WithError(err).WithFields(log.Fields{
			"topic":  letter.Topic,
			"offset": letter.Offset,
		}).Warn("failed to persist dead letter")
	}
}

// diagnostics достаёт из события поля, полезные оператору.
func diagnostics(ev events.Event) log.Fields {
	fields := log.Fields{"event_type": ev.Topic()}
	if ref := ev.OrderRef(); ref != "" {
		fields["order_id"] = ref
	}

	switch e := ev.(type) {
	case events.InventoryDecrease:
		fields["request_id"] = e.IdempotencyKey()
		fields["lines"] = len(e.Items)
	case events.StockRejected:
		fields["request_id"] = e.RequestID
		fields["rejected"] = len(e.Rejected)
	case events.OrderCancelled:
		fields["reason"] = e.Reason
		fields["refund_amount"] = e.RefundAmount
		fields["lines"] = len(e.Items)
	case events.PaymentConfirmed:
		fields["payment_key"] = e.PaymentKey
		fields["amount"] = e.Amount
	case events.PaymentCancelled:
		fields["payment_key"] = e.PaymentKey
		fields["lines"] = len(e.Items)
	case events.CouponRestored:
		fields["coupon_id"] = e.CouponID
	case events.ExchangeApproved:
		fields["exchange_id"] = e.ExchangeID
		fields["lines"] = len(e.Lines)
	case events.UnknownEvent:
		fields["payload_size"] = len(e.Raw)
	}
	return fields
}
