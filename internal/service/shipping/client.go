package shipping

import (
	"context"
	"errors"
	"fmt"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// Полные имена методов службы доставки.
const (
	MethodCreateReturn   = "/shipping.v1.ShippingService/CreateReturn"
	MethodCreateExchange = "/shipping.v1.ShippingService/CreateExchange"
)

const defaultCallTimeout = 5 * time.Second

type createReturnRequest struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"`
}

type exchangeLine struct {
	OrderItemID   string `json:"order_item_id"`
	OriginalSkuID string `json:"original_sku_id"`
	NewSkuID      string `json:"new_sku_id"`
	Quantity      int32  `json:"quantity"`
}

type createExchangeRequest struct {
	OrderID string         `json:"order_id"`
	UserID  string         `json:"user_id"`
	Reason  string         `json:"reason"`
	Lines   []exchangeLine `json:"lines"`
}

type caseReply struct {
	ReturnID    string    `json:"return_id,omitempty"`
	ExchangeID  string    `json:"exchange_id,omitempty"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// Client: gRPC-клиент службы доставки.
type Client struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	logger  *log.Entry
}

// Option настраивает Client.
type Option func(*Client)

// WithTimeout задаёт таймаут одного вызова.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger задаёт логгер клиента.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Dial создаёт соединение с метриками go-grpc-prometheus.
func Dial(target string, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec())),
	}, extra...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial shipping service %s: %w", target, err)
	}
	return conn, nil
}

// NewClient оборачивает соединение.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		timeout: defaultCallTimeout,
		logger:  log.WithField("component", "shipping-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateReturn открывает возврат по заказу.
func (c *Client) CreateReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnCase, error) {
	var reply caseReply
	err := c.invoke(ctx, MethodCreateReturn, createReturnRequest{
		OrderID: req.OrderID,
		UserID:  req.UserID,
		Reason:  req.Reason,
	}, &reply)
	if err != nil {
		return domain.ReturnCase{}, err
	}
	return domain.ReturnCase{
		ReturnID:    reply.ReturnID,
		Status:      reply.Status,
		Reason:      reply.Reason,
		RequestedAt: reply.RequestedAt,
	}, nil
}

// CreateExchange открывает обмен по заказу.
func (c *Client) CreateExchange(ctx context.Context, req domain.ExchangeRequest) (domain.ExchangeCase, error) {
	lines := make([]exchangeLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, exchangeLine{
			OrderItemID:   l.OrderItemID,
			OriginalSkuID: l.OriginalSkuID,
			NewSkuID:      l.NewSkuID,
			Quantity:      l.Qty,
		})
	}
	var reply caseReply
	err := c.invoke(ctx, MethodCreateExchange, createExchangeRequest{
		OrderID: req.OrderID,
		UserID:  req.UserID,
		Reason:  req.Reason,
		Lines:   lines,
	}, &reply)
	if err != nil {
		return domain.ExchangeCase{}, err
	}
	return domain.ExchangeCase{
		ExchangeID:  reply.ExchangeID,
		Status:      reply.Status,
		Reason:      reply.Reason,
		RequestedAt: reply.RequestedAt,
	}, nil
}

func (c *Client) invoke(ctx context.Context, method string, req, reply any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.conn.Invoke(ctx, method, req, reply, grpc.ForceCodec(Codec())); err != nil {
		mapped := mapError(err)
		c.logger.WithError(err).WithField("method", method).Warn("shipping call failed")
		return mapped
	}
	return nil
}

// mapError сводит статус gRPC к доменной ошибке.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", domain.ErrShippingUnavailable, err)
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", domain.ErrShippingBadRequest, st.Message())
	case codes.AlreadyExists, codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", domain.ErrShippingConflict, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", domain.ErrShippingUnavailable, st.Code(), st.Message())
	}
}

var _ domain.ShippingClient = (*Client)(nil)
