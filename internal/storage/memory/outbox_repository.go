package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type outboxRepository struct{ tx *txn }

// Save добавляет событие со статусом PENDING в рамках текущей транзакции.
func (r outboxRepository) Save(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.tx.now()
	}
	msg.Status = domain.OutboxStatusPending
	msg.LastError = ""
	msg.Payload = append([]byte(nil), msg.Payload...)

	if _, exists := r.tx.st.outbox[msg.ID]; exists {
		return domain.OutboxMessage{}, fmt.Errorf("outbox message %s already exists", msg.ID)
	}
	r.tx.st.seq++
	r.tx.st.outbox[msg.ID] = outboxRecord{msg: msg, seq: r.tx.st.seq}
	return msg, nil
}

// PullPending возвращает до limit сообщений PENDING, старые первыми.
// Сообщения агрегата, у которого есть более ранняя FAILED-строка, ждут её requeue.
func (r outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	blocked := make(map[[2]string]struct{})
	pending := make([]domain.OutboxMessage, 0, limit)
	for _, m := range sortedOutbox(r.tx.st, nil) {
		key := [2]string{m.AggregateType, m.AggregateID}
		switch m.Status {
		case domain.OutboxStatusFailed:
			blocked[key] = struct{}{}
		case domain.OutboxStatusPending:
			if _, ok := blocked[key]; ok {
				continue
			}
			pending = append(pending, m)
		}
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

// MarkPublished переводит PENDING в PUBLISHED.
func (r outboxRepository) MarkPublished(_ context.Context, id string) error {
	return r.finalize(id, domain.OutboxStatusPublished, "")
}

// MarkFailed переводит PENDING в FAILED и сохраняет причину.
func (r outboxRepository) MarkFailed(_ context.Context, id, reason string) error {
	return r.finalize(id, domain.OutboxStatusFailed, reason)
}

func (r outboxRepository) finalize(id string, status domain.OutboxStatus, reason string) error {
	rec, ok := r.tx.st.outbox[id]
	if !ok {
		return domain.ErrOutboxMessageNotFound
	}
	if rec.msg.Status != domain.OutboxStatusPending {
		return fmt.Errorf("outbox message %s is %s, not PENDING", id, rec.msg.Status)
	}
	rec.msg.Status = status
	rec.msg.LastError = reason
	if status == domain.OutboxStatusPublished {
		rec.msg.PublishedAt = r.tx.now()
	}
	r.tx.st.outbox[id] = rec
	return nil
}

// Stats возвращает размер backlog и возраст старейшего PENDING-сообщения.
func (r outboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	for _, rec := range r.tx.st.outbox {
		switch rec.msg.Status {
		case domain.OutboxStatusPending:
			stats.PendingCount++
			if stats.OldestPendingAt.IsZero() || rec.msg.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = rec.msg.CreatedAt
			}
		case domain.OutboxStatusFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

// RequeueFailed возвращает FAILED-сообщения в PENDING. Пустой ids означает «все FAILED».
func (r outboxRepository) RequeueFailed(_ context.Context, ids []string) (int, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	n := 0
	for id, rec := range r.tx.st.outbox {
		if rec.msg.Status != domain.OutboxStatusFailed {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[id]; !ok {
				continue
			}
		}
		rec.msg.Status = domain.OutboxStatusPending
		r.tx.st.outbox[id] = rec
		n++
	}
	return n, nil
}

var _ domain.OutboxRepository = outboxRepository{}
