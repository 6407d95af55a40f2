package shipping

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// MockClient: конфигурируемая заглушка ShippingClient для тестов и локального запуска.
type MockClient struct {
	mu sync.Mutex

	ReturnErr   error
	ExchangeErr error

	ReturnCalls   []domain.ReturnRequest
	ExchangeCalls []domain.ExchangeRequest
}

// NewMockClient возвращает mock с успешным сценарием по умолчанию.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// CreateReturn возвращает заранее настроенный результат и запоминает вызов.
func (m *MockClient) CreateReturn(_ context.Context, req domain.ReturnRequest) (domain.ReturnCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReturnCalls = append(m.ReturnCalls, req)
	if m.ReturnErr != nil {
		return domain.ReturnCase{}, m.ReturnErr
	}
	return domain.ReturnCase{
		ReturnID:    uuid.NewString(),
		Status:      "REQUESTED",
		Reason:      req.Reason,
		RequestedAt: time.Now().UTC(),
	}, nil
}

// CreateExchange возвращает заранее настроенный результат и запоминает вызов.
func (m *MockClient) CreateExchange(_ context.Context, req domain.ExchangeRequest) (domain.ExchangeCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExchangeCalls = append(m.ExchangeCalls, req)
	if m.ExchangeErr != nil {
		return domain.ExchangeCase{}, m.ExchangeErr
	}
	return domain.ExchangeCase{
		ExchangeID:  uuid.NewString(),
		Status:      "REQUESTED",
		Reason:      req.Reason,
		RequestedAt: time.Now().UTC(),
	}, nil
}

var _ domain.ShippingClient = (*MockClient)(nil)
