package kafka

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/vladislavdragonenkov/ordersaga/internal/messaging/retry"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"order_id":"test-order-123"}` {
			t.Errorf("unexpected value %s", val)
		}
		return nil
	})

	err := producer.PublishEvent(context.Background(), "shipping.started", "order-test-order-123",
		map[string]string{"order_id": "test-order-123"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Проверяем, что все ожидания выполнены
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(context.Background(), "shipping.started", "k", map[string]string{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	if err := producer.PublishEvent(context.Background(), "t", "k", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_SendCarriesHeaders(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)
	mockProducer.ExpectSendMessageAndSucceed()

	err := producer.Send(context.Background(), retry.Message{
		Topic:   "order.cancelled-retry-0",
		Key:     []byte("order-1"),
		Value:   []byte(`{}`),
		Headers: map[string]string{retry.HeaderAttempt: "2"},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_SendCancelledContext(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := producer.Send(ctx, retry.Message{Topic: "t"}); err == nil {
		t.Fatal("expected context error")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
