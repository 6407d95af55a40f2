package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type outboxRepository struct{ t *txn }

// Save добавляет событие со статусом PENDING в транзакции вызывающего кода.
func (r outboxRepository) Save(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.t.now()
	}
	msg.Status = domain.OutboxStatusPending
	msg.LastError = ""

	_, err := r.t.tx.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload, status, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload,
		string(msg.Status), msg.CreatedAt,
	)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}

	return msg, nil
}

// PullPending блокирует PENDING-строки; параллельные relay-воркеры пропускают занятые.
// Строки агрегата за более ранней FAILED-строкой не выбираются до её requeue.
func (r outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.t.tx.QueryContext(ctx, `
		SELECT o.id, o.aggregate_type, o.aggregate_id, o.event_type, o.payload, o.status, o.created_at
		FROM outbox_messages o
		WHERE o.status = $1
		  AND NOT EXISTS (
			SELECT 1 FROM outbox_messages f
			WHERE f.status = $3
			  AND f.aggregate_type = o.aggregate_type
			  AND f.aggregate_id = o.aggregate_id
			  AND (f.created_at, f.seq) < (o.created_at, o.seq)
		  )
		ORDER BY o.created_at, o.seq
		LIMIT $2
		FOR UPDATE OF o SKIP LOCKED
	`, string(domain.OutboxStatusPending), limit, string(domain.OutboxStatusFailed))
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	defer rows.Close()

	result := make([]domain.OutboxMessage, 0, limit)
	for rows.Next() {
		var (
			msg    domain.OutboxMessage
			status string
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.AggregateType,
			&msg.AggregateID,
			&msg.EventType,
			&msg.Payload,
			&status,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msg.Status = domain.OutboxStatus(status)
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	return result, nil
}

func (r outboxRepository) MarkPublished(ctx context.Context, id string) error {
	return r.finalize(ctx, id, domain.OutboxStatusPublished, "")
}

func (r outboxRepository) MarkFailed(ctx context.Context, id, reason string) error {
	return r.finalize(ctx, id, domain.OutboxStatusFailed, reason)
}

func (r outboxRepository) finalize(ctx context.Context, id string, status domain.OutboxStatus, reason string) error {
	var publishedAt sql.NullTime
	if status == domain.OutboxStatusPublished {
		publishedAt = nullTime(r.t.now())
	}

	res, err := r.t.tx.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2,
		    last_error = $3,
		    published_at = $4
		WHERE id = $1
		  AND status = $5
	`, id, string(status), reason, publishedAt, string(domain.OutboxStatusPending))
	if err != nil {
		return fmt.Errorf("mark outbox message as %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for outbox %s: %w", status, err)
	}
	if affected == 0 {
		return fmt.Errorf("mark outbox message %s as %s: %w", id, status, domain.ErrOutboxMessageNotFound)
	}

	return nil
}

func (r outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	if err := r.t.tx.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			MIN(created_at) FILTER (WHERE status = $1)
		FROM outbox_messages
		WHERE status IN ($1, $2)
	`, string(domain.OutboxStatusPending), string(domain.OutboxStatusFailed)).Scan(
		&stats.PendingCount, &stats.FailedCount, &oldest,
	); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

// RequeueFailed возвращает FAILED-строки в PENDING. Пустой ids означает «все FAILED».
func (r outboxRepository) RequeueFailed(ctx context.Context, ids []string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if len(ids) == 0 {
		res, err = r.t.tx.ExecContext(ctx, `
			UPDATE outbox_messages SET status = $1, last_error = ''
			WHERE status = $2
		`, string(domain.OutboxStatusPending), string(domain.OutboxStatusFailed))
	} else {
		res, err = r.t.tx.ExecContext(ctx, `
			UPDATE outbox_messages SET status = $1, last_error = ''
			WHERE status = $2 AND id = ANY($3)
		`, string(domain.OutboxStatusPending), string(domain.OutboxStatusFailed), ids)
	}
	if err != nil {
		return 0, fmt.Errorf("requeue failed outbox messages: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for outbox requeue: %w", err)
	}
	return int(affected), nil
}

var _ domain.OutboxRepository = outboxRepository{}
