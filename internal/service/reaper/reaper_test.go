package reaper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/lock"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/order"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/shipping"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

type fakeExpirer struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeExpirer) Expire(_ context.Context, orderID string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, orderID)
	if err, ok := f.fail[orderID]; ok {
		return false, err
	}
	return true, nil
}

type fakeLocker struct {
	held     bool
	err      error
	acquired int
	released int
}

func (f *fakeLocker) TryAcquire(context.Context, string, time.Duration) (lock.Release, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if f.held {
		return nil, false, nil
	}
	f.acquired++
	return func(context.Context) error {
		f.released++
		return nil
	}, true, nil
}

func placeOrders(t *testing.T, svc *order.Service, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		o, err := svc.Place(context.Background(), order.PlaceRequest{
			UserID: "user-1",
			Items:  []order.PlaceItem{{ProductID: "p1", SkuID: "sku-1", Qty: 1, UnitPrice: 1000}},
		})
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	return ids
}

func TestSweep_ExpiresStaleCreatedOrders(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := memory.NewStore().WithClock(clock)
	svc := order.NewService(store, shipping.NewMockClient(), order.WithClock(clock))
	ids := placeOrders(t, svc, 3)

	m := metrics.NewSagaMetricsWithRegisterer(prometheus.NewRegistry())
	r := New(store, svc, WithClock(clock), WithTimeout(30*time.Minute), WithMetrics(m), WithParallelism(2))

	report, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, report, "fresh orders are not due")

	now = now.Add(time.Hour)
	fresh := placeOrders(t, svc, 1)

	report, err = r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 3, Expired: 3}, report)

	for _, id := range ids {
		o, ok := store.Order(id)
		require.True(t, ok)
		assert.Equal(t, domain.OrderStatusCanceled, o.Status)
	}
	o, ok := store.Order(fresh[0])
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusCreated, o.Status)

	report, err = r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}

func TestSweep_CollectsErrorsAndContinues(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := memory.NewStore().WithClock(clock)
	svc := order.NewService(store, shipping.NewMockClient(), order.WithClock(clock))
	ids := placeOrders(t, svc, 4)
	now = now.Add(time.Hour)

	boom := errors.New("db down")
	expirer := &fakeExpirer{fail: map[string]error{ids[1]: boom, ids[3]: boom}}

	registry := prometheus.NewRegistry()
	m := metrics.NewSagaMetricsWithRegisterer(registry)
	r := New(store, expirer, WithClock(clock), WithMetrics(m))

	report, err := r.Sweep(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), ids[1])
	assert.Contains(t, err.Error(), ids[3])
	assert.Equal(t, Report{Scanned: 4, Expired: 2, Failed: 2}, report)
	assert.ElementsMatch(t, ids, expirer.calls)

	expected := `
# HELP ordersaga_reaper_expired_total Total number of orders cancelled by the expiry reaper
# TYPE ordersaga_reaper_expired_total counter
ordersaga_reaper_expired_total 2
# HELP ordersaga_reaper_failures_total Total number of orders the expiry reaper failed to cancel
# TYPE ordersaga_reaper_failures_total counter
ordersaga_reaper_failures_total 2
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected),
		"ordersaga_reaper_expired_total", "ordersaga_reaper_failures_total"))
}

func TestSweep_BatchSizeLimitsScan(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := memory.NewStore().WithClock(clock)
	svc := order.NewService(store, shipping.NewMockClient(), order.WithClock(clock))
	placeOrders(t, svc, 5)
	now = now.Add(time.Hour)

	expirer := &fakeExpirer{}
	r := New(store, expirer, WithClock(clock), WithBatchSize(2))

	report, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Len(t, expirer.calls, 2)
}

func TestTick_RespectsLock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	store := memory.NewStore().WithClock(clock)
	svc := order.NewService(store, shipping.NewMockClient(), order.WithClock(clock))
	placeOrders(t, svc, 2)
	now = now.Add(time.Hour)

	t.Run("held by another replica", func(t *testing.T) {
		expirer := &fakeExpirer{}
		locker := &fakeLocker{held: true}
		New(store, expirer, WithClock(clock), WithLocker(locker)).tick(context.Background())
		assert.Empty(t, expirer.calls)
	})

	t.Run("lock error", func(t *testing.T) {
		expirer := &fakeExpirer{}
		locker := &fakeLocker{err: errors.New("redis down")}
		New(store, expirer, WithClock(clock), WithLocker(locker)).tick(context.Background())
		assert.Empty(t, expirer.calls)
	})

	t.Run("acquired", func(t *testing.T) {
		expirer := &fakeExpirer{}
		locker := &fakeLocker{}
		New(store, expirer, WithClock(clock), WithLocker(locker)).tick(context.Background())
		assert.Len(t, expirer.calls, 2)
		assert.Equal(t, 1, locker.acquired)
		assert.Equal(t, 1, locker.released)
	})
}

func TestRun_StopsOnCancel(t *testing.T) {
	r := New(memory.NewStore(), &fakeExpirer{}, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestNew_DefaultLoggerFollowsGlobalSettings(t *testing.T) {
	r := New(nil, nil)
	assert.Same(t, log.StandardLogger(), r.logger.Logger)
	assert.Equal(t, "order-reaper", r.logger.Data["component"])
}
