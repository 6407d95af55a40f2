package domain

import (
	"context"
	"time"
)

// ReturnRequest: запрос на открытие возврата в службе доставки.
type ReturnRequest struct {
	OrderID string
	UserID  string
	Reason  string
}

// ReturnCase: открытый службой доставки возврат.
type ReturnCase struct {
	ReturnID    string
	Status      string
	Reason      string
	RequestedAt time.Time
}

// ExchangeLine описывает замену одной позиции заказа.
type ExchangeLine struct {
	OrderItemID   string
	OriginalSkuID string
	NewSkuID      string
	Qty           int32
}

// ExchangeRequest: запрос на открытие обмена.
type ExchangeRequest struct {
	OrderID string
	UserID  string
	Reason  string
	Lines   []ExchangeLine
}

// ExchangeCase: открытый службой доставки обмен.
type ExchangeCase struct {
	ExchangeID  string
	Status      string
	Reason      string
	RequestedAt time.Time
}

// ShippingClient описывает синхронное взаимодействие со службой доставки.
// Ошибки сводятся к ErrShippingBadRequest, ErrShippingConflict или ErrShippingUnavailable.
type ShippingClient interface {
	CreateReturn(ctx context.Context, req ReturnRequest) (ReturnCase, error)
	CreateExchange(ctx context.Context, req ExchangeRequest) (ExchangeCase, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие брокеру; ключ партиции берётся из msg.PartitionKey().
	Publish(ctx context.Context, msg OutboxMessage) error
}
