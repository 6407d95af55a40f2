package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/retry"
)

// Processor обрабатывает сообщение; nil разрешает коммит offset.
type Processor interface {
	Process(ctx context.Context, msg retry.Message) error
}

const defaultRejoinDelay = time.Second

// Consumer: адаптер consumer group, передающий сообщения в пайплайн повторов.
type Consumer struct {
	consumer  sarama.ConsumerGroup
	topics    []string
	processor Processor
	logger    *log.Entry
	wg        sync.WaitGroup

	// rejoinDelay: пауза перед повторным входом в группу после сбойной сессии.
	rejoinDelay   time.Duration
	sessionFailed atomic.Bool
}

// NewConsumerConfig возвращает конфигурацию consumer group.
func NewConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	// Новая группа читает с начала: события саги нельзя пропускать.
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	return config
}

// NewConsumer создает consumer group, подписанный на topics.
func NewConsumer(brokers []string, groupID string, topics []string, processor Processor) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(brokers, groupID, NewConsumerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	return NewConsumerFromGroup(group, topics, processor), nil
}

// NewConsumerFromGroup оборачивает готовую consumer group.
func NewConsumerFromGroup(group sarama.ConsumerGroup, topics []string, processor Processor) *Consumer {
	return &Consumer{
		consumer:  group,
		topics:    topics,
		processor:   processor,
		logger:      log.WithField("component", "kafka-consumer"),
		rejoinDelay: defaultRejoinDelay,
	}
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume должен вызываться в цикле, так как при rebalance он завершается
			err := c.consumer.Consume(ctx, c.topics, c)
			if err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}

			// Проверяем, не отменен ли контекст
			if ctx.Err() != nil {
				return
			}

			if c.sessionFailed.Swap(false) || err != nil {
				if !c.waitRejoin(ctx) {
					return
				}
			}
		}
	}()

	// Обработка ошибок
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// waitRejoin выдерживает паузу перед новой сессией; false, если контекст отменён.
func (c *Consumer) waitRejoin(ctx context.Context) bool {
	delay := c.rejoinDelay
	if delay <= 0 {
		delay = defaultRejoinDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition по порядку.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.processor.Process(session.Context(), FromSarama(message)); err != nil {
				// Offset не маркируем и завершаем сессию: последующие сообщения партиции
				// не должны закоммитить offset поверх необработанного.
				c.logger.WithError(err).WithFields(fields).Error("message processing failed, offset not committed")
				c.sessionFailed.Store(true)
				return err
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// FromSarama переводит сообщение sarama в сообщение пайплайна.
func FromSarama(message *sarama.ConsumerMessage) retry.Message {
	headers := make(map[string]string, len(message.Headers))
	for _, h := range message.Headers {
		if h == nil {
			continue
		}
		headers[string(h.Key)] = string(h.Value)
	}
	return retry.Message{
		Topic:     message.Topic,
		Partition: message.Partition,
		Offset:    message.Offset,
		Key:       message.Key,
		Value:     message.Value,
		Headers:   headers,
		Timestamp: message.Timestamp,
	}
}
