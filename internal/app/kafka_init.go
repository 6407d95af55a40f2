package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/retry"
	"github.com/vladislavdragonenkov/ordersaga/internal/metrics"
	"github.com/vladislavdragonenkov/ordersaga/internal/service/deadletter"
)

// initKafkaProducer создаёт producer, если список брокеров не пуст.
// Пустой список означает локальный режим без брокера: nil, nil.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		logger.Warn("KAFKA_BROKERS is empty, running without broker: outbox relay and consumers are disabled")
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// buildPipeline собирает пайплайн повторов: обработчики ролей, пересылка через
// producer и терминальный обработчик DLT.
func buildPipeline(
	policy retry.Policy,
	sender retry.Sender,
	store domain.Transactor,
	m *metrics.SagaMetrics,
	logger *log.Entry,
	routes ...map[string]retry.Handler,
) (*retry.Pipeline, error) {
	dlq := deadletter.NewHandler(store, logger.WithField("component", "dead-letter"), m)

	pipeline, err := retry.NewPipeline(policy, sender, dlq.Handle,
		retry.WithLogger(logger.WithField("component", "retry-pipeline")),
		retry.WithRecorder(m),
	)
	if err != nil {
		return nil, fmt.Errorf("build retry pipeline: %w", err)
	}

	for _, r := range routes {
		for topic, h := range r {
			pipeline.Register(topic, h)
		}
	}
	return pipeline, nil
}
