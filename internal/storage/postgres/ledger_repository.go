package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type ledgerRepository struct{ t *txn }

func (r ledgerRepository) Exists(ctx context.Context, eventType, aggregateID string) (bool, error) {
	var exists bool
	if err := r.t.tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_events WHERE event_type = $1 AND aggregate_id = $2
		)
	`, eventType, aggregateID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return exists, nil
}

// Record вставляет запись через ON CONFLICT DO NOTHING, чтобы дубликат не прерывал транзакцию.
func (r ledgerRepository) Record(ctx context.Context, event domain.ProcessedEvent) error {
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = r.t.now()
	}

	res, err := r.t.tx.ExecContext(ctx, `
		INSERT INTO processed_events (event_type, aggregate_id, processed_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (event_type, aggregate_id) DO NOTHING
	`, event.EventType, event.AggregateID, event.ProcessedAt)
	if err != nil {
		return fmt.Errorf("record processed event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for processed event: %w", err)
	}
	if affected == 0 {
		return domain.ErrAlreadyProcessed
	}
	return nil
}

func (r ledgerRepository) DeleteBefore(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}

	res, err := r.t.tx.ExecContext(ctx, `
		DELETE FROM processed_events
		WHERE ctid IN (
			SELECT ctid
			FROM processed_events
			WHERE processed_at < $1
			ORDER BY processed_at ASC
			LIMIT $2
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete processed events: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for processed events cleanup: %w", err)
	}
	return int(affected), nil
}

var _ domain.ProcessedEventRepository = ledgerRepository{}
