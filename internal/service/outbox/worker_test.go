package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/storage/memory"
)

func seedOutbox(t *testing.T, store *memory.Store, msgs ...domain.OutboxMessage) {
	t.Helper()
	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		for _, m := range msgs {
			if _, err := tx.Outbox().Save(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed outbox: %v", err)
	}
}

func message(id, eventType string, createdAt time.Time) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   "order-" + id,
		EventType:     eventType,
		Payload:       []byte(`{"order_id":"` + id + `"}`),
		CreatedAt:     createdAt,
	}
}

func statuses(store *memory.Store) map[string]domain.OutboxMessage {
	out := make(map[string]domain.OutboxMessage)
	for _, m := range store.OutboxMessages() {
		out[m.ID] = m
	}
	return out
}

func TestWorker_ProcessOnce_PublishesOldestFirst(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seedOutbox(t, store,
		message("msg-2", "order.cancelled", base.Add(time.Second)),
		message("msg-1", "inventory.decrease", base),
		message("msg-3", "coupon.restored", base.Add(2*time.Second)),
	)
	publisher := &stubPublisher{}

	worker := NewWorker(store, publisher, WithBatchSize(2))
	res, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if res.Published != 2 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := publisher.ids(); len(got) != 2 || got[0] != "msg-1" || got[1] != "msg-2" {
		t.Fatalf("unexpected publish order: %v", got)
	}

	byID := statuses(store)
	if byID["msg-1"].Status != domain.OutboxStatusPublished || byID["msg-3"].Status != domain.OutboxStatusPending {
		t.Fatalf("unexpected statuses: %+v", byID)
	}

	if _, err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("second ProcessOnce failed: %v", err)
	}
	if got := publisher.calls(); got != 3 {
		t.Fatalf("expected each record published exactly once, got %d calls", got)
	}
}

func TestWorker_ProcessOnce_MarksFailedWithoutRetry(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	seedOutbox(t, store,
		message("ok", "outbox.test.ok", time.Now().UTC()),
		message("bad", "outbox.test.bad", time.Now().UTC().Add(time.Millisecond)),
	)
	publisher := &stubPublisher{failIDs: map[string]error{"bad": errors.New("broker unavailable")}}
	before := testutil.ToFloat64(outboxFailedTotal.WithLabelValues("outbox.test.bad"))

	res, err := NewWorker(store, publisher).ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if res.Published != 1 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	bad := statuses(store)["bad"]
	if bad.Status != domain.OutboxStatusFailed || bad.LastError != "broker unavailable" {
		t.Fatalf("unexpected failed record: %+v", bad)
	}
	if got := publisher.calls(); got != 2 {
		t.Fatalf("expected single attempt per record, got %d calls", got)
	}
	if delta := testutil.ToFloat64(outboxFailedTotal.WithLabelValues("outbox.test.bad")) - before; delta != 1 {
		t.Fatalf("expected failed counter +1, got %v", delta)
	}

	// FAILED-строки не публикуются повторно до ручного requeue.
	if _, err := NewWorker(store, publisher).ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if got := publisher.calls(); got != 2 {
		t.Fatalf("failed record must not be retried automatically, got %d calls", got)
	}
}


func TestWorker_ProcessOnce_HoldsAggregateAfterFailure(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	first := message("first", "inventory.decrease", base)
	second := message("second", "order.cancelled", base.Add(time.Second))
	second.AggregateID = first.AggregateID
	other := message("other", "coupon.restored", base.Add(2*time.Second))

	store := memory.NewStore()
	seedOutbox(t, store, first, second, other)
	publisher := &stubPublisher{failIDs: map[string]error{"first": errors.New("broker unavailable")}}
	worker := NewWorker(store, publisher)

	res, err := worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if res.Published != 1 || res.Failed != 1 || res.Held != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := publisher.ids(); len(got) != 1 || got[0] != "other" {
		t.Fatalf("unexpected published records: %v", got)
	}
	if got := publisher.calls(); got != 2 {
		t.Fatalf("expected held record not to be attempted, got %d calls", got)
	}
	if st := statuses(store)["second"].Status; st != domain.OutboxStatusPending {
		t.Fatalf("expected held record to stay pending, got %s", st)
	}

	// Следующий цикл тоже не обгоняет FAILED-строку.
	if _, err := worker.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if got := publisher.calls(); got != 2 {
		t.Fatalf("expected no publish before requeue, got %d calls", got)
	}

	err = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Outbox().RequeueFailed(ctx, []string{"first"})
		return err
	})
	if err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	publisher.mu.Lock()
	delete(publisher.failIDs, "first")
	publisher.mu.Unlock()

	res, err = worker.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if res.Published != 2 {
		t.Fatalf("unexpected result after requeue: %+v", res)
	}
	if got := publisher.ids(); len(got) != 3 || got[1] != "first" || got[2] != "second" {
		t.Fatalf("unexpected publish order after requeue: %v", got)
	}
}

type brokenTx struct{}

func (brokenTx) WithinTx(context.Context, func(context.Context, domain.Tx) error) error {
	return errors.New("connection reset")
}

func TestWorker_ProcessOnce_TxError(t *testing.T) {
	t.Parallel()

	if _, err := NewWorker(brokenTx{}, &stubPublisher{}).ProcessOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

type stubPublisher struct {
	mu        sync.Mutex
	failIDs   map[string]error
	published []string
	callCount int
}

func (s *stubPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	if err := s.failIDs[msg.ID]; err != nil {
		return err
	}
	s.published = append(s.published, msg.ID)
	return nil
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.published...)
}

var _ domain.OutboxPublisher = (*stubPublisher)(nil)

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(
		memory.NewStore(),
		&stubPublisher{},
		WithPollInterval(5*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
