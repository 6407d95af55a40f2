package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type ledgerRepository struct{ tx *txn }

func (r ledgerRepository) Exists(_ context.Context, eventType, aggregateID string) (bool, error) {
	_, ok := r.tx.st.processed[ledgerKey{eventType, aggregateID}]
	return ok, nil
}

// Record добавляет запись; повтор пары возвращает ErrAlreadyProcessed.
func (r ledgerRepository) Record(_ context.Context, event domain.ProcessedEvent) error {
	key := ledgerKey{event.EventType, event.AggregateID}
	if _, ok := r.tx.st.processed[key]; ok {
		return domain.ErrAlreadyProcessed
	}
	if event.ProcessedAt.IsZero() {
		event.ProcessedAt = r.tx.now()
	}
	r.tx.st.processed[key] = event
	return nil
}

// DeleteBefore удаляет до limit записей старше before.
func (r ledgerRepository) DeleteBefore(_ context.Context, before time.Time, limit int) (int, error) {
	n := 0
	for key, ev := range r.tx.st.processed {
		if limit > 0 && n >= limit {
			break
		}
		if ev.ProcessedAt.Before(before) {
			delete(r.tx.st.processed, key)
			n++
		}
	}
	return n, nil
}

var _ domain.ProcessedEventRepository = ledgerRepository{}
