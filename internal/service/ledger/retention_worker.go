package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	// DefaultRetention больше срока хранения сообщений в брокере: повторная доставка
	// старого события всё ещё будет отсеяна журналом.
	DefaultRetention        = 14 * 24 * time.Hour
	defaultCleanupInterval  = time.Hour
	defaultCleanupBatchSize = 500
)

var (
	ledgerCleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersaga_ledger_cleanup_runs_total",
		Help: "Total number of processed-event ledger cleanup runs grouped by result.",
	}, []string{"result"})
	ledgerCleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ordersaga_ledger_cleanup_deleted_total",
		Help: "Total number of deleted processed-event ledger entries.",
	})
	ledgerCleanupLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordersaga_ledger_cleanup_last_deleted",
		Help: "Number of deleted ledger entries during the last cleanup run.",
	})
)

// Options задает параметры воркера очистки журнала.
type Options struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
	Now       func() time.Time
}

// Option настраивает RetentionWorker.
type Option func(*Options)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между циклами очистки.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер batch для одного удаления.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// WithRetention задает срок хранения записей.
func WithRetention(retention time.Duration) Option {
	return func(opts *Options) {
		opts.Retention = retention
	}
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// RetentionWorker периодически удаляет записи журнала processed_events старше срока хранения.
type RetentionWorker struct {
	tx        domain.Transactor
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	retention time.Duration
	now       func() time.Time
}

// NewRetentionWorker создает воркер очистки журнала.
func NewRetentionWorker(tx domain.Transactor, options ...Option) *RetentionWorker {
	opts := Options{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
		Retention: DefaultRetention,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "ledger-retention-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &RetentionWorker{
		tx:        tx,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		retention: opts.Retention,
		now:       opts.Now,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.tx == nil {
		w.logger.Warn("ledger retention worker is disabled: transactor is nil")
		return
	}

	w.cleanup(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *RetentionWorker) cleanup(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, w.now().Add(-w.retention))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		ledgerCleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("ledger cleanup run failed")
		return
	}

	ledgerCleanupRunsTotal.WithLabelValues("ok").Inc()
	ledgerCleanupLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("ledger cleanup completed")
	}
}

// DeleteExpired удаляет записи старше before порциями batchSize; каждая порция в своей транзакции.
func (w *RetentionWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		var deleted int
		err := w.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			var err error
			deleted, err = tx.ProcessedEvents().DeleteBefore(ctx, before, w.batchSize)
			return err
		})
		if err != nil {
			return totalDeleted, err
		}

		totalDeleted += deleted
		if deleted > 0 {
			ledgerCleanupDeletedTotal.Add(float64(deleted))
		}
		if deleted < w.batchSize {
			break
		}
	}

	return totalDeleted, nil
}
