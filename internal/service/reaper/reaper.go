package reaper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/lock"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
)

const (
	defaultInterval    = time.Minute
	defaultTimeout     = 30 * time.Minute
	defaultBatchSize   = 100
	defaultParallelism = 8
	lockKey            = "ordersaga:reaper"
)

// Expirer отменяет просроченный заказ; false означает, что заказ пропущен guard-условием.
type Expirer interface {
	Expire(ctx context.Context, orderID string, cutoff time.Time) (bool, error)
}

// Report: итог одного прохода.
type Report struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

// Reaper периодически отменяет заказы, не оплаченные за отведённое время.
type Reaper struct {
	tx          domain.Transactor
	expirer     Expirer
	locker      lock.Locker
	metrics     *metrics.SagaMetrics
	logger      *log.Entry
	interval    time.Duration
	timeout     time.Duration
	batchSize   int
	parallelism int
	now         func() time.Time
}

// Option настраивает Reaper.
type Option func(*Reaper)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(r *Reaper) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics подключает метрики саги.
func WithMetrics(m *metrics.SagaMetrics) Option {
	return func(r *Reaper) { r.metrics = m }
}

// WithLocker включает распределённую блокировку: проход выполняет только одна реплика.
func WithLocker(l lock.Locker) Option {
	return func(r *Reaper) { r.locker = l }
}

// WithInterval задаёт период между проходами.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithTimeout задаёт срок оплаты заказа.
func WithTimeout(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBatchSize ограничивает число заказов за проход.
func WithBatchSize(n int) Option {
	return func(r *Reaper) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithParallelism ограничивает число одновременных отмен.
func WithParallelism(n int) Option {
	return func(r *Reaper) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

// New создаёт Reaper.
func New(tx domain.Transactor, expirer Expirer, opts ...Option) *Reaper {
	r := &Reaper{
		tx:          tx,
		expirer:     expirer,
		logger:      log.WithField("component", "order-reaper"),
		interval:    defaultInterval,
		timeout:     defaultTimeout,
		batchSize:   defaultBatchSize,
		parallelism: defaultParallelism,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run выполняет проходы до отмены контекста.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.WithFields(log.Fields{
		"interval": r.interval,
		"timeout":  r.timeout,
	}).Info("order reaper started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("order reaper stopped")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	if r.locker != nil {
		release, ok, err := r.locker.TryAcquire(ctx, lockKey, r.interval)
		if err != nil {
			r.logger.WithError(err).Warn("reaper lock unavailable, skipping sweep")
			return
		}
		if !ok {
			r.logger.Debug("reaper lock held by another replica")
			return
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, lock.ErrNotHeld) {
				r.logger.WithError(err).Warn("failed to release reaper lock")
			}
		}()
	}

	report, err := r.Sweep(ctx)
	entry := r.logger.WithFields(log.Fields{
		"scanned": report.Scanned,
		"expired": report.Expired,
		"skipped": report.Skipped,
		"failed":  report.Failed,
	})
	switch {
	case err != nil:
		entry.WithError(err).Error("order sweep finished with errors")
	case report.Scanned > 0:
		entry.Info("order sweep finished")
	}
}

// Sweep отменяет все заказы в CREATED старше timeout. Ошибка одного заказа
// не прерывает проход; ошибки объединяются в результат.
func (r *Reaper) Sweep(ctx context.Context) (Report, error) {
	var report Report
	cutoff := r.now().Add(-r.timeout)

	var ids []string
	err := r.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		ids, err = tx.Orders().ListCreatedBefore(ctx, cutoff, r.batchSize)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("list expired orders: %w", err)
	}
	report.Scanned = len(ids)

	var (
		mu   sync.Mutex
		errs []error
	)
	r.processInParallel(ctx, len(ids), func(index int) {
		id := ids[index]
		expired, err := r.expirer.Expire(ctx, id, cutoff)

		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			report.Failed++
			errs = append(errs, fmt.Errorf("expire order %s: %w", id, err))
		case expired:
			report.Expired++
		default:
			report.Skipped++
		}
	})

	r.metrics.RecordReaperResult(report.Expired, report.Failed)
	return report, errors.Join(errs...)
}

func (r *Reaper) processInParallel(ctx context.Context, size int, processFn func(index int)) {
	if size == 0 {
		return
	}

	limit := r.parallelism
	if limit > size {
		limit = size
	}

	semaphore := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for idx := 0; idx < size; idx++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		semaphore <- struct{}{}
		go func(index int) {
			defer wg.Done()
			defer func() { <-semaphore }()
			processFn(index)
		}(idx)
	}
	wg.Wait()
}
