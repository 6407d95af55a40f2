package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type ledgerKey struct {
	eventType   string
	aggregateID string
}

// state: полный снимок данных in-memory хранилища.
type state struct {
	orders      map[string]domain.Order
	numbers     map[string]string
	outbox      map[string]outboxRecord
	seq         int64
	processed   map[ledgerKey]domain.ProcessedEvent
	skus        map[string]domain.ProductSku
	coupons     map[string]domain.Coupon
	timeline    map[string][]domain.TimelineEvent
	deadLetters []domain.DeadLetter
}

type outboxRecord struct {
	msg domain.OutboxMessage
	seq int64
}

func newState() *state {
	return &state{
		orders:    make(map[string]domain.Order),
		numbers:   make(map[string]string),
		outbox:    make(map[string]outboxRecord),
		processed: make(map[ledgerKey]domain.ProcessedEvent),
		skus:      make(map[string]domain.ProductSku),
		coupons:   make(map[string]domain.Coupon),
		timeline:  make(map[string][]domain.TimelineEvent),
	}
}

func (s *state) clone() *state {
	dst := newState()
	dst.seq = s.seq
	for k, v := range s.orders {
		dst.orders[k] = v.Clone()
	}
	for k, v := range s.numbers {
		dst.numbers[k] = v
	}
	for k, v := range s.outbox {
		v.msg.Payload = append([]byte(nil), v.msg.Payload...)
		dst.outbox[k] = v
	}
	for k, v := range s.processed {
		dst.processed[k] = v
	}
	for k, v := range s.skus {
		dst.skus[k] = v
	}
	for k, v := range s.coupons {
		dst.coupons[k] = v
	}
	for k, v := range s.timeline {
		dst.timeline[k] = append([]domain.TimelineEvent(nil), v...)
	}
	dst.deadLetters = append([]domain.DeadLetter(nil), s.deadLetters...)
	return dst
}

// Store: транзакционное in-memory хранилище для локальной разработки и тестов.
// Транзакции сериализуются одним мьютексом и работают над копией состояния:
// при ошибке или панике копия отбрасывается. Вложенные WithinTx не поддерживаются.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		st:  newState(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет часы хранилища (используется в тестах).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// WithinTx выполняет fn над рабочей копией и фиксирует её только при успехе.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, &txn{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

var _ domain.Transactor = (*Store)(nil)

// txn реализует domain.Tx поверх рабочей копии состояния.
type txn struct {
	st  *state
	now func() time.Time
}

func (t *txn) Orders() domain.OrderRepository                    { return orderRepository{t} }
func (t *txn) Outbox() domain.OutboxRepository                   { return outboxRepository{t} }
func (t *txn) ProcessedEvents() domain.ProcessedEventRepository { return ledgerRepository{t} }
func (t *txn) Skus() domain.SkuRepository                        { return skuRepository{t} }
func (t *txn) Coupons() domain.CouponRepository                  { return couponRepository{t} }
func (t *txn) Timeline() domain.TimelineRepository               { return timelineRepository{t} }
func (t *txn) DeadLetters() domain.DeadLetterRepository          { return deadLetterRepository{t} }

// SeedSku сохраняет SKU вне транзакции (тестовые данные и локальный запуск).
func (s *Store) SeedSku(sku domain.ProductSku) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.skus[sku.ID] = sku
}

// SeedCoupon сохраняет купон вне транзакции.
func (s *Store) SeedCoupon(c domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.coupons[c.ID] = c
}

// Sku возвращает текущее состояние SKU.
func (s *Store) Sku(id string) (domain.ProductSku, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sku, ok := s.st.skus[id]
	return sku, ok
}

// Coupon возвращает текущее состояние купона.
func (s *Store) Coupon(id string) (domain.Coupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.st.coupons[id]
	return c, ok
}

// Order возвращает копию заказа.
func (s *Store) Order(id string) (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return o.Clone(), true
}

// OutboxMessages возвращает все строки outbox в порядке добавления.
func (s *Store) OutboxMessages() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedOutbox(s.st, nil)
}

// Processed сообщает, есть ли запись в журнале обработки.
func (s *Store) Processed(eventType, aggregateID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.processed[ledgerKey{eventType, aggregateID}]
	return ok
}

// DeadLetterRecords возвращает сохранённые dead letters.
func (s *Store) DeadLetterRecords() []domain.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DeadLetter(nil), s.st.deadLetters...)
}

func sortedOutbox(st *state, keep func(domain.OutboxMessage) bool) []domain.OutboxMessage {
	records := make([]outboxRecord, 0, len(st.outbox))
	for _, rec := range st.outbox {
		if keep != nil && !keep(rec.msg) {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].msg.CreatedAt.Equal(records[j].msg.CreatedAt) {
			return records[i].msg.CreatedAt.Before(records[j].msg.CreatedAt)
		}
		return records[i].seq < records[j].seq
	})
	out := make([]domain.OutboxMessage, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.msg)
	}
	return out
}
