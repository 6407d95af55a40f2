package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultBatchSize    = 100
)

var (
	outboxPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersaga_outbox_publish_attempts_total",
		Help: "Total number of outbox publish attempts grouped by result.",
	}, []string{"result"})
	// outboxFailedTotal служит алертной метрикой: строка осталась в FAILED и требует ручного requeue.
	outboxFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersaga_outbox_failed_total",
		Help: "Total number of outbox records marked as failed.",
	}, []string{"event_type"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordersaga_outbox_pending_records",
		Help: "Current number of pending records in transactional outbox.",
	})
	outboxFailedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordersaga_outbox_failed_records",
		Help: "Current number of failed records waiting for manual requeue.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ordersaga_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox record.",
	})
)

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger       *log.Entry
	PollInterval time.Duration
	BatchSize    int
	Now          func() time.Time
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithClock подменяет часы для расчёта возраста backlog.
func WithClock(now func() time.Time) Option {
	return func(opts *WorkerOptions) {
		opts.Now = now
	}
}

// Result: итог одного цикла relay.
type Result struct {
	Published int
	Failed    int
	// Held: строки, отложенные из-за сбоя более ранней строки того же агрегата.
	Held int
}

// Worker публикует pending-сообщения из outbox в брокер.
// Каждая строка публикуется один раз за цикл: при ошибке она уходит в FAILED без повторов.
type Worker struct {
	tx           domain.Transactor
	publisher    domain.OutboxPublisher
	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
}

// NewWorker создаёт outbox worker.
func NewWorker(tx domain.Transactor, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Worker{
		tx:           tx,
		publisher:    publisher,
		logger:       logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		now:          opts.Now,
	}
}

// Run запускает периодический polling outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.tx == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: transactor or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if _, err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
		w.logger.WithError(err).Warn("outbox relay cycle failed")
	}
}

// ProcessOnce выполняет один цикл: в одной транзакции блокирует до batchSize PENDING-строк
// (старые первыми), публикует каждую и помечает PUBLISHED или FAILED.
// После сбоя остальные строки того же агрегата остаются PENDING, чтобы не обогнать упавшую.
func (w *Worker) ProcessOnce(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var res Result
	err := w.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		res = Result{}

		messages, err := tx.Outbox().PullPending(ctx, w.batchSize)
		if err != nil {
			return fmt.Errorf("pull pending outbox messages: %w", err)
		}

		halted := make(map[string]struct{})
		for _, msg := range messages {
			if ctx.Err() != nil {
				break
			}
			if _, ok := halted[msg.PartitionKey()]; ok {
				res.Held++
				continue
			}

			if pubErr := w.publisher.Publish(ctx, msg); pubErr != nil {
				outboxPublishAttempts.WithLabelValues("failed").Inc()
				outboxFailedTotal.WithLabelValues(msg.EventType).Inc()
				w.logger.WithError(pubErr).WithFields(log.Fields{
					"outbox_id":      msg.ID,
					"event_type":     msg.EventType,
					"aggregate_type": msg.AggregateType,
					"aggregate_id":   msg.AggregateID,
				}).Error("outbox publish failed, record marked as failed")

				if err := tx.Outbox().MarkFailed(ctx, msg.ID, pubErr.Error()); err != nil {
					return fmt.Errorf("mark outbox %s failed: %w", msg.ID, err)
				}
				halted[msg.PartitionKey()] = struct{}{}
				res.Failed++
				continue
			}

			outboxPublishAttempts.WithLabelValues("published").Inc()
			if err := tx.Outbox().MarkPublished(ctx, msg.ID); err != nil {
				return fmt.Errorf("mark outbox %s published: %w", msg.ID, err)
			}
			res.Published++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if res.Published > 0 || res.Failed > 0 {
		w.logger.WithFields(log.Fields{
			"published": res.Published,
			"failed":    res.Failed,
			"held":      res.Held,
		}).Debug("outbox relay cycle completed")
	}
	w.refreshBacklogMetrics(ctx)
	return res, nil
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	var stats domain.OutboxStats
	err := w.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		stats, err = tx.Outbox().Stats(ctx)
		return err
	})
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))
	outboxFailedRecords.Set(float64(stats.FailedCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxOldestPendingAge.Set(0)
		return
	}

	age := w.now().Sub(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxOldestPendingAge.Set(age)
}
