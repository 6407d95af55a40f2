package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/retry"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	headerReplayedFrom = "x-replayed-from"
)

// заголовки пайплайна, которые снимаются при повторной доставке
var retryHeaders = []string{
	retry.HeaderOriginalTopic,
	retry.HeaderAttempt,
	retry.HeaderNotBefore,
	retry.HeaderErrorMessage,
	retry.HeaderFailedAt,
}

type config struct {
	brokers     []string
	topic       string
	sourceTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
	policy      retry.Policy
}

// dltReader читает записи dead letter топика по партициям.
type dltReader interface {
	Partitions(topic string) ([]int32, error)
	Bounds(topic string, partition int32) (oldest, newest int64, err error)
	// Read передаёт visit записи с offset в [from, to); простой дольше idle завершает чтение.
	Read(ctx context.Context, topic string, partition int32, from, to int64, idle time.Duration, visit func(*sarama.ConsumerMessage) error) error
	Close() error
}

// replaySender публикует сообщение в исходный топик; *kafka.Producer удовлетворяет ему.
type replaySender interface {
	Send(ctx context.Context, msg retry.Message) error
	Close() error
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		log.WithError(err).Fatal("invalid arguments")
	}
	if err := run(context.Background(), cfg); err != nil {
		log.WithError(err).Fatal("dlq replay failed")
	}
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	cfg := config{policy: retry.DefaultPolicy()}
	var brokers string

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokers, "brokers", getenv("KAFKA_BROKERS"), "comma-separated Kafka brokers (default: KAFKA_BROKERS)")
	fs.StringVar(&cfg.topic, "topic", "", "base topic whose dead letters are replayed, e.g. inventory.decrease")
	fs.StringVar(&cfg.policy.DLTSuffix, "dlt-suffix", cfg.policy.DLTSuffix, "dead letter topic suffix")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of dead letters to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish replays; dry-run otherwise")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan the newest dead letters of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.brokers = splitList(brokers)
	cfg.topic = strings.TrimSpace(cfg.topic)
	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case cfg.topic == "":
		return config{}, errors.New("topic is required")
	case strings.TrimSpace(cfg.policy.DLTSuffix) == "":
		return config{}, errors.New("dlt-suffix is required")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}
	cfg.sourceTopic = cfg.policy.DLTTopic(cfg.topic)
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var openDependencies = func(cfg config) (dltReader, replaySender, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, sc)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	reader := saramaReader{client: client, consumer: consumer}
	if !cfg.execute {
		return reader, nil, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers)
	if err != nil {
		_ = reader.Close()
		return nil, nil, err
	}
	return reader, producer, nil
}

func run(ctx context.Context, cfg config) error {
	reader, sender, err := openDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if sender != nil {
			_ = sender.Close()
		}
		_ = reader.Close()
	}()

	_, err = replay(ctx, cfg, reader, sender)
	return err
}

type replayStats struct {
	scanned int
	matched int
	skipped int
}

// replay сканирует партиции DLT по возрастанию номера, пока не исчерпан limit.
func replay(ctx context.Context, cfg config, reader dltReader, sender replaySender) (replayStats, error) {
	if cfg.execute && sender == nil {
		return replayStats{}, errors.New("producer is required in execute mode")
	}

	partitions, err := reader.Partitions(cfg.sourceTopic)
	if err != nil {
		return replayStats{}, fmt.Errorf("list partitions of %s: %w", cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	r := &replayer{topic: cfg.topic, policy: cfg.policy}
	if cfg.execute {
		r.sender = sender
	}
	logger := log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.topic,
		"execute":      cfg.execute,
	})
	logger.WithField("partitions", len(partitions)).Info("starting dlq replay")

	for _, p := range partitions {
		budget := cfg.limit - r.stats.scanned
		if budget <= 0 {
			break
		}
		oldest, newest, err := reader.Bounds(cfg.sourceTopic, p)
		if err != nil {
			return r.stats, fmt.Errorf("offsets of partition %d: %w", p, err)
		}
		from, to := window(oldest, newest, budget, cfg.fromNewest)
		if from >= to {
			continue
		}
		err = reader.Read(ctx, cfg.sourceTopic, p, from, to, cfg.idleTimeout, func(msg *sarama.ConsumerMessage) error {
			return r.handle(ctx, msg)
		})
		if err != nil {
			return r.stats, err
		}
	}

	logger.WithFields(log.Fields{
		"scanned": r.stats.scanned,
		"matched": r.stats.matched,
		"skipped": r.stats.skipped,
	}).Info("dlq replay finished")
	return r.stats, nil
}

// window выбирает не больше budget offset'ов с головы или хвоста партиции.
func window(oldest, newest int64, budget int, fromNewest bool) (int64, int64) {
	if fromNewest {
		return max(newest-int64(budget), oldest), newest
	}
	return oldest, min(oldest+int64(budget), newest)
}

type replayer struct {
	topic  string
	policy retry.Policy
	// nil в режиме dry-run
	sender replaySender
	stats  replayStats
}

func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	r.stats.scanned++
	out, ok := replayMessage(msg, r.topic, r.policy)
	entry := log.WithFields(log.Fields{
		"partition":    msg.Partition,
		"offset":       msg.Offset,
		"target_topic": out.Topic,
		"key":          string(out.Key),
	})
	if !ok {
		r.stats.skipped++
		entry.Warn("dead letter belongs to another topic, skipped")
		return nil
	}

	r.stats.matched++
	if r.sender == nil {
		entry.Info("dlq replay candidate")
		return nil
	}
	if err := r.sender.Send(ctx, out); err != nil {
		return fmt.Errorf("replay offset %d of partition %d: %w", msg.Offset, msg.Partition, err)
	}
	entry.Info("dlq message replayed")
	return nil
}

// replayMessage восстанавливает сообщение базового топика из записи DLT. Счётчик попыток
// начинается заново; ok=false, если запись относится к другому базовому топику.
func replayMessage(msg *sarama.ConsumerMessage, topic string, policy retry.Policy) (retry.Message, bool) {
	m := kafka.FromSarama(msg)

	target := m.Header(retry.HeaderOriginalTopic)
	if target == "" {
		target = policy.BaseTopic(m.Topic)
	}
	for _, h := range retryHeaders {
		delete(m.Headers, h)
	}
	m.Headers[headerReplayedFrom] = fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)

	return retry.Message{
		Topic:   target,
		Key:     m.Key,
		Value:   m.Value,
		Headers: m.Headers,
	}, target == topic
}

// saramaReader читает DLT через клиент и consumer sarama.
type saramaReader struct {
	client   sarama.Client
	consumer sarama.Consumer
}

func (r saramaReader) Partitions(topic string) ([]int32, error) {
	return r.client.Partitions(topic)
}

func (r saramaReader) Bounds(topic string, partition int32) (int64, int64, error) {
	oldest, err := r.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, err
	}
	newest, err := r.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, err
	}
	return oldest, newest, nil
}

func (r saramaReader) Read(ctx context.Context, topic string, partition int32, from, to int64, idle time.Duration, visit func(*sarama.ConsumerMessage) error) error {
	pc, err := r.consumer.ConsumePartition(topic, partition, from)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	timer := time.NewTimer(idle)
	defer timer.Stop()

	errs := pc.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return fmt.Errorf("read partition %d: %w", partition, cerr)
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= to {
				return nil
			}
			if err := visit(msg); err != nil {
				return err
			}
			if msg.Offset+1 >= to {
				return nil
			}
			timer.Reset(idle)
		case <-timer.C:
			return nil
		}
	}
}

func (r saramaReader) Close() error {
	var errs []error
	if r.consumer != nil {
		errs = append(errs, r.consumer.Close())
	}
	if r.client != nil {
		errs = append(errs, r.client.Close())
	}
	return errors.Join(errs...)
}
