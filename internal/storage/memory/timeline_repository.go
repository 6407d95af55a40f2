package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// timelineRepository хранит события в памяти (для разработки/тестов).
type timelineRepository struct{ tx *txn }

// Append добавляет событие в хранилище.
func (r timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	events := append(r.tx.st.timeline[event.OrderID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	r.tx.st.timeline[event.OrderID] = events
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	events := r.tx.st.timeline[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

type deadLetterRepository struct{ tx *txn }

func (r deadLetterRepository) Save(_ context.Context, letter domain.DeadLetter) error {
	letter.Payload = append([]byte(nil), letter.Payload...)
	r.tx.st.deadLetters = append(r.tx.st.deadLetters, letter)
	return nil
}

var (
	_ domain.TimelineRepository   = timelineRepository{}
	_ domain.DeadLetterRepository = deadLetterRepository{}
)
