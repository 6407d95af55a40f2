package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

func newOrder(id string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:            id,
		Number:        "N-" + id,
		UserID:        "user-1",
		Status:        domain.OrderStatusCreated,
		ProductAmount: 500,
		PaymentAmount: 500,
		Items: []domain.OrderItem{
			{ID: "item-1", SkuID: "sku-1", Qty: 5, UnitPrice: 100, LinePrice: 500},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestStore_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedSku(domain.ProductSku{ID: "sku-1", StockQty: 10, Status: domain.SkuStatusOnSale})

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		sku, err := tx.Skus().GetForUpdate(ctx, "sku-1")
		require.NoError(t, err)
		require.NoError(t, sku.Decrease(4))
		require.NoError(t, tx.Skus().Save(ctx, sku))
		_, err = tx.Outbox().Save(ctx, domain.OutboxMessage{AggregateType: "order", AggregateID: "o1", EventType: "x"})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	sku, _ := store.Sku("sku-1")
	assert.EqualValues(t, 10, sku.StockQty, "rollback must discard stock change")
	assert.Empty(t, store.OutboxMessages(), "rollback must discard outbox row")

	err = store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		sku, err := tx.Skus().GetForUpdate(ctx, "sku-1")
		if err != nil {
			return err
		}
		if err := sku.Decrease(4); err != nil {
			return err
		}
		return tx.Skus().Save(ctx, sku)
	})
	require.NoError(t, err)
	sku, _ = store.Sku("sku-1")
	assert.EqualValues(t, 6, sku.StockQty)
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := memory.NewStore().WithinTx(ctx, func(context.Context, domain.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestOrderRepository_CreateGetSave(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	order := newOrder("o1", time.Now().UTC())

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Orders().Create(ctx, order); err != nil {
			return err
		}
		dup := order
		dup.ID = "o2"
		assert.ErrorIs(t, tx.Orders().Create(ctx, dup), domain.ErrOrderAlreadyExists, "number must be unique")
		return nil
	}))

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		stored, err := tx.Orders().GetForUpdate(ctx, "o1")
		require.NoError(t, err)
		stored.Status = domain.OrderStatusPaid
		require.NoError(t, tx.Orders().Save(ctx, stored))

		// Повторное сохранение со старой версией даёт конфликт.
		assert.ErrorIs(t, tx.Orders().Save(ctx, stored), domain.ErrOrderVersionConflict)
		_, err = tx.Orders().Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
		return nil
	}))

	stored, ok := store.Order("o1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusPaid, stored.Status)
	assert.EqualValues(t, 1, stored.Version)
}

func TestOrderRepository_ListCreatedBefore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now().UTC()

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		old := newOrder("old", now.Add(-time.Hour))
		older := newOrder("older", now.Add(-2*time.Hour))
		fresh := newOrder("fresh", now)
		paid := newOrder("paid", now.Add(-3*time.Hour))
		paid.Status = domain.OrderStatusPaid
		for _, o := range []domain.Order{old, older, fresh, paid} {
			if err := tx.Orders().Create(ctx, o); err != nil {
				return err
			}
		}
		ids, err := tx.Orders().ListCreatedBefore(ctx, now.Add(-10*time.Minute), 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"older", "old"}, ids)

		ids, err = tx.Orders().ListCreatedBefore(ctx, now.Add(-10*time.Minute), 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"older"}, ids)

		require.NoError(t, tx.Orders().Delete(ctx, "old"))
		assert.ErrorIs(t, tx.Orders().Delete(ctx, "old"), domain.ErrOrderNotFound)
		return nil
	}))
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := memory.NewStore().WithClock(func() time.Time { return base })

	var ids []string
	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		for i := 0; i < 3; i++ {
			saved, err := tx.Outbox().Save(ctx, domain.OutboxMessage{AggregateType: "order", AggregateID: "o1", EventType: "e"})
			if err != nil {
				return err
			}
			ids = append(ids, saved.ID)
		}
		return nil
	}))

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		pending, err := tx.Outbox().PullPending(ctx, 2)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		// Одинаковый created_at: порядок добавления сохраняется.
		assert.Equal(t, ids[:2], []string{pending[0].ID, pending[1].ID})

		require.NoError(t, tx.Outbox().MarkPublished(ctx, ids[0]))
		require.NoError(t, tx.Outbox().MarkFailed(ctx, ids[1], "broker down"))
		assert.Error(t, tx.Outbox().MarkFailed(ctx, ids[0], "again"), "row leaves PENDING once")
		assert.ErrorIs(t, tx.Outbox().MarkPublished(ctx, "missing"), domain.ErrOutboxMessageNotFound)

		stats, err := tx.Outbox().Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.PendingCount)
		assert.Equal(t, 1, stats.FailedCount)
		assert.Equal(t, base, stats.OldestPendingAt)

		n, err := tx.Outbox().RequeueFailed(ctx, []string{ids[1]})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	}))

	msgs := store.OutboxMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.OutboxStatusPublished, msgs[0].Status)
	assert.Equal(t, domain.OutboxStatusPending, msgs[1].Status)
	assert.Equal(t, "broker down", msgs[1].LastError)
}

func TestOutboxRepository_FailedRowHoldsItsAggregate(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := memory.NewStore()

	save := func(aggregateID string, at time.Time) string {
		var id string
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			saved, err := tx.Outbox().Save(ctx, domain.OutboxMessage{
				AggregateType: "order", AggregateID: aggregateID, EventType: "e", CreatedAt: at,
			})
			id = saved.ID
			return err
		}))
		return id
	}
	failed := save("o1", base)
	behind := save("o1", base.Add(time.Second))
	other := save("o2", base.Add(2*time.Second))

	pull := func() []string {
		var got []string
		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			pending, err := tx.Outbox().PullPending(ctx, 10)
			for _, m := range pending {
				got = append(got, m.ID)
			}
			return err
		}))
		return got
	}

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Outbox().MarkFailed(ctx, failed, "broker down")
	}))
	assert.Equal(t, []string{other}, pull(), "rows behind a failed row wait for requeue")

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Outbox().RequeueFailed(ctx, []string{failed})
		return err
	}))
	assert.Equal(t, []string{failed, behind, other}, pull())
}

func TestLedgerRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	store := memory.NewStore()

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		ledger := tx.ProcessedEvents()
		require.NoError(t, ledger.Record(ctx, domain.ProcessedEvent{EventType: "order.cancelled", AggregateID: "o1", ProcessedAt: now.Add(-48 * time.Hour)}))
		require.NoError(t, ledger.Record(ctx, domain.ProcessedEvent{EventType: "payment.cancelled", AggregateID: "o1", ProcessedAt: now}))
		assert.ErrorIs(t, ledger.Record(ctx, domain.ProcessedEvent{EventType: "order.cancelled", AggregateID: "o1"}), domain.ErrAlreadyProcessed)

		ok, err := ledger.Exists(ctx, "payment.cancelled", "o1")
		require.NoError(t, err)
		assert.True(t, ok)

		n, err := ledger.DeleteBefore(ctx, now.Add(-24*time.Hour), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	}))

	assert.False(t, store.Processed("order.cancelled", "o1"))
	assert.True(t, store.Processed("payment.cancelled", "o1"))
}

func TestSkuAndCouponRepositories(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.SeedCoupon(domain.Coupon{ID: "c1", Status: domain.CouponStatusUsed, UsedOrderID: "o1"})

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Skus().GetForUpdate(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrSkuNotFound)
		assert.Error(t, tx.Skus().Save(ctx, domain.ProductSku{ID: "s", StockQty: -1}))

		_, err = tx.Coupons().GetForUpdate(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrCouponNotFound)

		c, err := tx.Coupons().GetForUpdate(ctx, "c1")
		require.NoError(t, err)
		c.Restore("o1", time.Now())
		return tx.Coupons().Save(ctx, c)
	}))

	c, ok := store.Coupon("c1")
	require.True(t, ok)
	assert.Equal(t, domain.CouponStatusAvailable, c.Status)
}

func TestTimelineAndDeadLetters(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Now().UTC()

	require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Timeline().Append(ctx, domain.TimelineEvent{OrderID: "o1", Type: "PAID", Occurred: now}))
		require.NoError(t, tx.Timeline().Append(ctx, domain.TimelineEvent{OrderID: "o1", Type: "CREATED", Occurred: now.Add(-time.Minute)}))
		events, err := tx.Timeline().List(ctx, "o1")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "CREATED", events[0].Type)

		return tx.DeadLetters().Save(ctx, domain.DeadLetter{Topic: "order.cancelled-dlt", Payload: []byte("{}")})
	}))

	assert.Len(t, store.DeadLetterRecords(), 1)
}
