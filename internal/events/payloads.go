package events

import (
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

// Event: закрытое объединение известных событий. Неизвестные типы декодируются в UnknownEvent.
type Event interface {
	Topic() string
	// OrderRef возвращает ID заказа, к которому относится событие, если он есть.
	OrderRef() string
}

// LineItem содержит денормализованную позицию заказа, чтобы потребителю не требовался синхронный запрос за деталями.
type LineItem struct {
	OrderItemID string `json:"order_item_id"`
	SkuID       string `json:"sku_id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	ProductCode string `json:"product_code"`
	Quantity    int32  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	TotalPrice  int64  `json:"total_price"`
}

// LineItemsFromOrder строит позиции события из снимка позиций заказа.
func LineItemsFromOrder(items []domain.OrderItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, it := range items {
		out = append(out, LineItem{
			OrderItemID: it.ID,
			SkuID:       it.SkuID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			ProductCode: it.ProductCode,
			Quantity:    it.Qty,
			UnitPrice:   it.UnitPrice,
			TotalPrice:  it.LinePrice,
		})
	}
	return out
}

type PaymentConfirmed struct {
	OrderID    string    `json:"order_id"`
	PaymentID  string    `json:"payment_id"`
	PaymentKey string    `json:"payment_key"`
	Method     string    `json:"method"`
	Amount     int64     `json:"amount"`
	PaidAt     time.Time `json:"paid_at"`
}

func (PaymentConfirmed) Topic() string     { return TopicPaymentConfirmed }
func (e PaymentConfirmed) OrderRef() string { return e.OrderID }

// PaymentCancelled несёт позиции заказа, чтобы склад мог вернуть остатки.
type PaymentCancelled struct {
	OrderID    string     `json:"order_id"`
	PaymentKey string     `json:"payment_key,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Items      []LineItem `json:"items"`
}

func (PaymentCancelled) Topic() string     { return TopicPaymentCancelled }
func (e PaymentCancelled) OrderRef() string { return e.OrderID }

type ShippingStarted struct {
	OrderID        string    `json:"order_id"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	StartedAt      time.Time `json:"started_at"`
}

func (ShippingStarted) Topic() string     { return TopicShippingStarted }
func (e ShippingStarted) OrderRef() string { return e.OrderID }

type ShippingDelivered struct {
	OrderID     string    `json:"order_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

func (ShippingDelivered) Topic() string     { return TopicShippingDelivered }
func (e ShippingDelivered) OrderRef() string { return e.OrderID }

// ReturnProgress: общие поля событий возврата.
type ReturnProgress struct {
	OrderID    string    `json:"order_id"`
	ReturnID   string    `json:"return_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e ReturnProgress) OrderRef() string { return e.OrderID }

type ReturnApproved struct{ ReturnProgress }
type ReturnInTransit struct{ ReturnProgress }
type ReturnCompleted struct{ ReturnProgress }

func (ReturnApproved) Topic() string  { return TopicReturnApproved }
func (ReturnInTransit) Topic() string { return TopicReturnInTransit }
func (ReturnCompleted) Topic() string { return TopicReturnCompleted }

// ExchangeProgress: общие поля событий обмена.
type ExchangeProgress struct {
	OrderID    string    `json:"order_id"`
	ExchangeID string    `json:"exchange_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e ExchangeProgress) OrderRef() string { return e.OrderID }

// ExchangeLine: замена позиции: NewSkuID может совпадать с OriginalSkuID.
type ExchangeLine struct {
	OrderItemID   string `json:"order_item_id"`
	OriginalSkuID string `json:"original_sku_id"`
	NewSkuID      string `json:"new_sku_id"`
	Quantity      int32  `json:"quantity"`
}

type ExchangeApproved struct {
	ExchangeProgress
	Lines []ExchangeLine `json:"lines"`
}

type ExchangeCollecting struct{ ExchangeProgress }
type ExchangeReturnCompleted struct{ ExchangeProgress }
type ExchangeShipping struct{ ExchangeProgress }
type ExchangeCompleted struct{ ExchangeProgress }

func (ExchangeApproved) Topic() string        { return TopicExchangeApproved }
func (ExchangeCollecting) Topic() string      { return TopicExchangeCollecting }
func (ExchangeReturnCompleted) Topic() string { return TopicExchangeReturnCompleted }
func (ExchangeShipping) Topic() string        { return TopicExchangeShipping }
func (ExchangeCompleted) Topic() string       { return TopicExchangeCompleted }

// OrderCancelled запускает компенсацию: склад возвращает остатки, платёжный сервис делает возврат денег.
type OrderCancelled struct {
	OrderID      string     `json:"order_id"`
	OrderNumber  string     `json:"order_number"`
	UserID       string     `json:"user_id"`
	Reason       string     `json:"reason"`
	Items        []LineItem `json:"items"`
	RefundAmount int64      `json:"refund_amount"`
	PaymentKey   string     `json:"payment_key,omitempty"`
	CancelledAt  time.Time  `json:"cancelled_at"`
}

func (OrderCancelled) Topic() string     { return TopicOrderCancelled }
func (e OrderCancelled) OrderRef() string { return e.OrderID }

// InventoryDecrease: запрос на списание остатков.
// RequestID задаёт ключ журнала идемпотентности: ID заказа или "<orderID>:exchange:<exchangeID>".
type InventoryDecrease struct {
	RequestID string     `json:"request_id"`
	OrderID   string     `json:"order_id"`
	Items     []LineItem `json:"items"`
}

func (InventoryDecrease) Topic() string     { return TopicInventoryDecrease }
func (e InventoryDecrease) OrderRef() string { return e.OrderID }

// IdempotencyKey возвращает ключ журнала; для старых сообщений без request_id это ID заказа.
func (e InventoryDecrease) IdempotencyKey() string {
	if e.RequestID != "" {
		return e.RequestID
	}
	return e.OrderID
}

// ExchangeRequestID строит ключ списания для замены по обмену.
func ExchangeRequestID(orderID, exchangeID string) string {
	return orderID + ":exchange:" + exchangeID
}

// RejectedLine: отклонённая позиция списания.
type RejectedLine struct {
	SkuID     string `json:"sku_id"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
}

// StockRejected перечисляет только отклонённые позиции.
type StockRejected struct {
	RequestID string         `json:"request_id"`
	OrderID   string         `json:"order_id"`
	Rejected  []RejectedLine `json:"rejected"`
}

func (StockRejected) Topic() string     { return TopicStockRejected }
func (e StockRejected) OrderRef() string { return e.OrderID }

// CouponRestored: одно событие на каждый купон отменённого заказа.
type CouponRestored struct {
	CouponID string `json:"coupon_id"`
	OrderID  string `json:"order_id"`
	UserID   string `json:"user_id"`
}

func (CouponRestored) Topic() string     { return TopicCouponRestored }
func (e CouponRestored) OrderRef() string { return e.OrderID }

// UnknownEvent: запасной вариант для типов, которые этот сервис не знает.
type UnknownEvent struct {
	Type string
	Raw  []byte
}

func (e UnknownEvent) Topic() string  { return e.Type }
func (UnknownEvent) OrderRef() string { return "" }
