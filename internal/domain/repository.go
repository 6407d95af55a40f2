package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists, если ID или номер заняты.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
	// ListCreatedBefore возвращает ID заказов в статусе CREATED, созданных раньше cutoff.
	ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	// Delete физически удаляет заказ; используется только административными утилитами и тестами.
	Delete(ctx context.Context, id string) error
}

// OutboxRepository сохраняет события в рамках транзакции вызывающего кода.
type OutboxRepository interface {
	Save(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullPending блокирует до limit PENDING-строк, старые первыми.
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkPublished(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	Stats(ctx context.Context) (OutboxStats, error)
	// RequeueFailed переводит FAILED-строки обратно в PENDING (ручное восстановление).
	RequeueFailed(ctx context.Context, ids []string) (int, error)
}

// ProcessedEventRepository: журнал идемпотентной обработки.
type ProcessedEventRepository interface {
	Exists(ctx context.Context, eventType, aggregateID string) (bool, error)
	// Record возвращает ErrAlreadyProcessed, если пара уже записана.
	Record(ctx context.Context, event ProcessedEvent) error
	DeleteBefore(ctx context.Context, before time.Time, limit int) (int, error)
}

// SkuRepository: складские остатки; чтение под блокировкой строки.
type SkuRepository interface {
	GetForUpdate(ctx context.Context, id string) (ProductSku, error)
	Save(ctx context.Context, sku ProductSku) error
}

// CouponRepository хранит пользовательские купоны.
type CouponRepository interface {
	GetForUpdate(ctx context.Context, id string) (Coupon, error)
	Save(ctx context.Context, coupon Coupon) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// DeadLetterRepository сохраняет сообщения из DLT для ручного разбора.
type DeadLetterRepository interface {
	Save(ctx context.Context, letter DeadLetter) error
}

// Tx открывает доступ к репозиториям в рамках одной локальной транзакции.
type Tx interface {
	Orders() OrderRepository
	Outbox() OutboxRepository
	ProcessedEvents() ProcessedEventRepository
	Skus() SkuRepository
	Coupons() CouponRepository
	Timeline() TimelineRepository
	DeadLetters() DeadLetterRepository
}

// Transactor выполняет fn в транзакции: commit при nil, rollback при ошибке или панике.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
