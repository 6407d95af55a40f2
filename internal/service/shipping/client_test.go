package shipping

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// fakeShipping отвечает на вызовы службы доставки без сгенерированных стабов.
type fakeShipping struct {
	err        error
	lastMethod string
	lastReturn createReturnRequest
	lastSwap   createExchangeRequest
}

func (f *fakeShipping) handle(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	f.lastMethod = method
	if f.err != nil {
		return f.err
	}
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	switch method {
	case MethodCreateReturn:
		if err := stream.RecvMsg(&f.lastReturn); err != nil {
			return err
		}
		return stream.SendMsg(caseReply{ReturnID: "ret-1", Status: "REQUESTED", Reason: f.lastReturn.Reason, RequestedAt: now})
	case MethodCreateExchange:
		if err := stream.RecvMsg(&f.lastSwap); err != nil {
			return err
		}
		return stream.SendMsg(caseReply{ExchangeID: "ex-1", Status: "REQUESTED", Reason: f.lastSwap.Reason, RequestedAt: now})
	default:
		return status.Error(codes.Unimplemented, method)
	}
}

func startFake(t *testing.T, fake *fakeShipping) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ForceServerCodec(Codec()), grpc.UnknownServiceHandler(fake.handle))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn, WithTimeout(2*time.Second))
}

func TestClient_CreateReturn(t *testing.T) {
	fake := &fakeShipping{}
	client := startFake(t, fake)

	rc, err := client.CreateReturn(context.Background(), domain.ReturnRequest{OrderID: "o1", UserID: "u1", Reason: "size"})
	require.NoError(t, err)
	assert.Equal(t, "ret-1", rc.ReturnID)
	assert.Equal(t, "size", rc.Reason)
	assert.Equal(t, MethodCreateReturn, fake.lastMethod)
	assert.Equal(t, "o1", fake.lastReturn.OrderID)
}

func TestClient_CreateExchange(t *testing.T) {
	fake := &fakeShipping{}
	client := startFake(t, fake)

	ec, err := client.CreateExchange(context.Background(), domain.ExchangeRequest{
		OrderID: "o1",
		UserID:  "u1",
		Lines:   []domain.ExchangeLine{{OrderItemID: "i1", OriginalSkuID: "s1", NewSkuID: "s2", Qty: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ex-1", ec.ExchangeID)
	require.Len(t, fake.lastSwap.Lines, 1)
	assert.Equal(t, "s2", fake.lastSwap.Lines[0].NewSkuID)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "bad request", err: status.Error(codes.InvalidArgument, "no reason"), want: domain.ErrShippingBadRequest},
		{name: "already exists", err: status.Error(codes.AlreadyExists, "open return"), want: domain.ErrShippingConflict},
		{name: "failed precondition", err: status.Error(codes.FailedPrecondition, "open exchange"), want: domain.ErrShippingConflict},
		{name: "internal", err: status.Error(codes.Internal, "db"), want: domain.ErrShippingUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := startFake(t, &fakeShipping{err: tt.err})
			_, err := client.CreateReturn(context.Background(), domain.ReturnRequest{OrderID: "o1"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestMapError_NonStatus(t *testing.T) {
	assert.ErrorIs(t, mapError(errors.New("dial tcp: refused")), domain.ErrShippingUnavailable)
	assert.ErrorIs(t, mapError(context.Canceled), context.Canceled)
}
