package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
	"github.com/vladislavdragonenkov/ordersaga/internal/events"
)

// OutboxPublisher публикует строки outbox: топиком служит тип события, ключом aggregateType-aggregateId.
type OutboxPublisher struct {
	producer *Producer
	tracer   trace.Tracer
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer) *OutboxPublisher {
	return &OutboxPublisher{
		producer: producer,
		tracer:   otel.Tracer("github.com/vladislavdragonenkov/ordersaga/internal/messaging/kafka"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Publish отправляет одно сообщение. Повторы здесь не выполняются.
func (p *OutboxPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	ctx, span := p.tracer.Start(ctx, "outbox.publish", trace.WithAttributes(
		attribute.String("messaging.destination", msg.EventType),
		attribute.String("outbox.id", msg.ID),
		attribute.String("outbox.partition_key", msg.PartitionKey()),
	), trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	value, err := json.Marshal(events.Wrap(msg, p.now()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal envelope")
		return fmt.Errorf("marshal outbox envelope: %w", err)
	}

	err = p.producer.send(ctx, &sarama.ProducerMessage{
		Topic:     msg.EventType,
		Key:       sarama.StringEncoder(msg.PartitionKey()),
		Value:     sarama.ByteEncoder(value),
		Timestamp: p.now(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
