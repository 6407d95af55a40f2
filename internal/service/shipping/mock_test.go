package shipping

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

func TestMockClient(t *testing.T) {
	mock := NewMockClient()
	ctx := context.Background()

	rc, err := mock.CreateReturn(ctx, domain.ReturnRequest{OrderID: "o-1", UserID: "u-1", Reason: "damaged"})
	if err != nil {
		t.Fatalf("unexpected return error: %v", err)
	}
	if rc.ReturnID == "" || rc.Reason != "damaged" {
		t.Fatalf("unexpected return case: %+v", rc)
	}

	ec, err := mock.CreateExchange(ctx, domain.ExchangeRequest{OrderID: "o-1", UserID: "u-1"})
	if err != nil {
		t.Fatalf("unexpected exchange error: %v", err)
	}
	if ec.ExchangeID == "" {
		t.Fatal("expected exchange id")
	}

	mock.ReturnErr = domain.ErrShippingConflict
	mock.ExchangeErr = errors.New("exchange failed")

	if _, err := mock.CreateReturn(ctx, domain.ReturnRequest{OrderID: "o-2"}); !errors.Is(err, domain.ErrShippingConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := mock.CreateExchange(ctx, domain.ExchangeRequest{OrderID: "o-2"}); err == nil {
		t.Fatal("expected exchange error")
	}

	if len(mock.ReturnCalls) != 2 || len(mock.ExchangeCalls) != 2 {
		t.Fatalf("unexpected call counters: return=%d exchange=%d", len(mock.ReturnCalls), len(mock.ExchangeCalls))
	}
}
