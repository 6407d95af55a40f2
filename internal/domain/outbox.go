package domain

import "time"

// OutboxStatus: состояние строки transactional outbox.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

// OutboxMessage хранит данные для публикуемого события.
// EventType совпадает с именем топика.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Status        OutboxStatus
	LastError     string
	CreatedAt     time.Time
	PublishedAt   time.Time
}

// PartitionKey возвращает ключ партиции брокера: события одного агрегата попадают в одну партицию.
func (m OutboxMessage) PartitionKey() string {
	return m.AggregateType + "-" + m.AggregateID
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	FailedCount     int
	OldestPendingAt time.Time
}
