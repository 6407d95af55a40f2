package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type timelineRepository struct{ t *txn }

func (r timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = r.t.now()
	}

	if _, err := r.t.tx.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, reason, occurred)
		VALUES ($1,$2,$3,$4)
	`, event.OrderID, event.Type, event.Reason, event.Occurred); err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}

	return nil
}

func (r timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	rows, err := r.t.tx.QueryContext(ctx, `
		SELECT order_id, type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline events: %w", err)
	}

	return events, nil
}

type deadLetterRepository struct{ t *txn }

func (r deadLetterRepository) Save(ctx context.Context, letter domain.DeadLetter) error {
	if letter.ID == "" {
		letter.ID = uuid.NewString()
	}
	if letter.FailedAt.IsZero() {
		letter.FailedAt = r.t.now()
	}

	if _, err := r.t.tx.ExecContext(ctx, `
		INSERT INTO dead_letters (
			id, topic, partition, "offset", key, payload, event_type, error, attempts, failed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		letter.ID, letter.Topic, letter.Partition, letter.Offset, letter.Key, letter.Payload,
		letter.EventType, letter.Error, letter.Attempts, letter.FailedAt,
	); err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	return nil
}

var (
	_ domain.TimelineRepository   = timelineRepository{}
	_ domain.DeadLetterRepository = deadLetterRepository{}
)
