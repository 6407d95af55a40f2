package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type orderRepository struct{ tx *txn }

// Create сохраняет новый заказ, если ID и номер ещё не заняты.
func (r orderRepository) Create(_ context.Context, order domain.Order) error {
	st := r.tx.st
	if _, exists := st.orders[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	if _, exists := st.numbers[order.Number]; exists {
		return domain.ErrOrderAlreadyExists
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	st.orders[order.ID] = order.Clone()
	st.numbers[order.Number] = order.ID
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	order, ok := r.tx.st.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// GetForUpdate совпадает с Get: транзакции и так сериализованы.
func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r orderRepository) Save(_ context.Context, order domain.Order) error {
	current, ok := r.tx.st.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	order.UpdatedAt = r.tx.now()
	r.tx.st.orders[order.ID] = order.Clone()
	return nil
}

// ListCreatedBefore возвращает ID заказов в статусе CREATED старше cutoff, старые первыми.
func (r orderRepository) ListCreatedBefore(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	var candidates []domain.Order
	for _, o := range r.tx.st.orders {
		if o.Status == domain.OrderStatusCreated && o.CreatedAt.Before(cutoff) {
			candidates = append(candidates, o)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	ids := make([]string, 0, len(candidates))
	for _, o := range candidates {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

// Delete удаляет заказ вместе с историей.
func (r orderRepository) Delete(_ context.Context, id string) error {
	order, ok := r.tx.st.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	delete(r.tx.st.orders, id)
	delete(r.tx.st.numbers, order.Number)
	delete(r.tx.st.timeline, id)
	return nil
}

var _ domain.OrderRepository = orderRepository{}
