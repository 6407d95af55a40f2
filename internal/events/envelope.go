package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// ErrEmptyPayload возвращается при декодировании пустого сообщения.
var ErrEmptyPayload = errors.New("events: empty payload")

// Envelope: обёртка, в которой outbox-паблишер отправляет событие в брокер.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Wrap собирает envelope для строки outbox.
func Wrap(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   publishedAt.UTC(),
	}
}

// NewOutboxMessage сериализует событие в строку outbox со статусом PENDING.
func NewOutboxMessage(aggregateType, aggregateID string, event Event, now time.Time) (domain.OutboxMessage, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", event.Topic(), err)
	}
	return domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     event.Topic(),
		Payload:       payload,
		Status:        domain.OutboxStatusPending,
		CreatedAt:     now.UTC(),
	}, nil
}

// Unwrap разбирает значение сообщения брокера. Если значение не похоже на envelope,
// оно считается «голым» payload события топика topic.
func Unwrap(topic string, value []byte) (Envelope, error) {
	if len(value) == 0 {
		return Envelope{}, ErrEmptyPayload
	}
	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType == "" || len(env.Payload) == 0 {
		return Envelope{EventType: topic, Payload: json.RawMessage(value)}, nil
	}
	return env, nil
}

// Decode превращает payload в конкретный тип события. Для неизвестных типов
// возвращается UnknownEvent без ошибки.
func Decode(eventType string, payload []byte) (Event, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	var (
		ev  Event
		err error
	)
	switch eventType {
	case TopicPaymentConfirmed:
		ev, err = decodeAs[PaymentConfirmed](payload)
	case TopicPaymentCancelled:
		ev, err = decodeAs[PaymentCancelled](payload)
	case TopicShippingStarted:
		ev, err = decodeAs[ShippingStarted](payload)
	case TopicShippingDelivered:
		ev, err = decodeAs[ShippingDelivered](payload)
	case TopicReturnApproved:
		ev, err = decodeAs[ReturnApproved](payload)
	case TopicReturnInTransit:
		ev, err = decodeAs[ReturnInTransit](payload)
	case TopicReturnCompleted:
		ev, err = decodeAs[ReturnCompleted](payload)
	case TopicExchangeApproved:
		ev, err = decodeAs[ExchangeApproved](payload)
	case TopicExchangeCollecting:
		ev, err = decodeAs[ExchangeCollecting](payload)
	case TopicExchangeReturnCompleted:
		ev, err = decodeAs[ExchangeReturnCompleted](payload)
	case TopicExchangeShipping:
		ev, err = decodeAs[ExchangeShipping](payload)
	case TopicExchangeCompleted:
		ev, err = decodeAs[ExchangeCompleted](payload)
	case TopicOrderCancelled:
		ev, err = decodeAs[OrderCancelled](payload)
	case TopicInventoryDecrease:
		ev, err = decodeAs[InventoryDecrease](payload)
	case TopicStockRejected:
		ev, err = decodeAs[StockRejected](payload)
	case TopicCouponRestored:
		ev, err = decodeAs[CouponRestored](payload)
	default:
		return UnknownEvent{Type: eventType, Raw: append([]byte(nil), payload...)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return ev, nil
}

// DecodeMessage объединяет Unwrap и Decode.
func DecodeMessage(topic string, value []byte) (Envelope, Event, error) {
	env, err := Unwrap(topic, value)
	if err != nil {
		return Envelope{}, nil, err
	}
	ev, err := Decode(env.EventType, env.Payload)
	if err != nil {
		return env, nil, err
	}
	return env, ev, nil
}

func decodeAs[T Event](payload []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}
