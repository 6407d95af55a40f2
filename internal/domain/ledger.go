package domain

import "time"

// ProcessedEvent: запись журнала идемпотентной обработки.
// Пара (EventType, AggregateID) уникальна: её наличие означает, что событие уже изменило состояние.
type ProcessedEvent struct {
	EventType   string
	AggregateID string
	ProcessedAt time.Time
}
