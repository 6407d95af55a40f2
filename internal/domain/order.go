package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	OrderStatusCreated                 OrderStatus = "CREATED"
	OrderStatusPaid                    OrderStatus = "PAID"
	OrderStatusFailed                  OrderStatus = "FAILED"
	OrderStatusShipping                OrderStatus = "SHIPPING"
	OrderStatusDelivered               OrderStatus = "DELIVERED"
	OrderStatusReturnRequested         OrderStatus = "RETURN_REQUESTED"
	OrderStatusReturnApproved          OrderStatus = "RETURN_APPROVED"
	OrderStatusReturnInTransit         OrderStatus = "RETURN_IN_TRANSIT"
	OrderStatusReturned                OrderStatus = "RETURNED"
	OrderStatusExchangeRequested       OrderStatus = "EXCHANGE_REQUESTED"
	OrderStatusExchangeApproved        OrderStatus = "EXCHANGE_APPROVED"
	OrderStatusExchangeCollecting      OrderStatus = "EXCHANGE_COLLECTING"
	OrderStatusExchangeReturnCompleted OrderStatus = "EXCHANGE_RETURN_COMPLETED"
	OrderStatusExchangeShipping        OrderStatus = "EXCHANGE_SHIPPING"
	OrderStatusExchanged               OrderStatus = "EXCHANGED"
	OrderStatusCanceled                OrderStatus = "CANCELED"
)

var knownOrderStatuses = map[OrderStatus]struct{}{
	OrderStatusCreated:                 {},
	OrderStatusPaid:                    {},
	OrderStatusFailed:                  {},
	OrderStatusShipping:                {},
	OrderStatusDelivered:               {},
	OrderStatusReturnRequested:         {},
	OrderStatusReturnApproved:          {},
	OrderStatusReturnInTransit:         {},
	OrderStatusReturned:                {},
	OrderStatusExchangeRequested:       {},
	OrderStatusExchangeApproved:        {},
	OrderStatusExchangeCollecting:      {},
	OrderStatusExchangeReturnCompleted: {},
	OrderStatusExchangeShipping:        {},
	OrderStatusExchanged:               {},
	OrderStatusCanceled:                {},
}

// Valid проверяет, что статус входит в жизненный цикл заказа.
func (s OrderStatus) Valid() bool {
	_, ok := knownOrderStatuses[s]
	return ok
}

// DiscountType определяет источник скидки по заказу.
type DiscountType string

const (
	DiscountTypeCoupon DiscountType = "COUPON"
	DiscountTypePoint  DiscountType = "POINT"
)

// OrderItem: снимок каталожных данных позиции на момент оформления заказа.
type OrderItem struct {
	ID          string
	ProductID   string
	SkuID       string
	ProductName string
	ProductCode string
	Qty         int32
	// UnitPrice и LinePrice хранятся в минимальных денежных единицах.
	UnitPrice int64
	LinePrice int64
}

// OrderDelivery: адрес и получатель доставки.
type OrderDelivery struct {
	Receiver string
	Phone    string
	Address  string
	Memo     string
}

// OrderDiscount описывает применённую скидку; ReferenceID используется для компенсации.
type OrderDiscount struct {
	ID          string
	Type        DiscountType
	ReferenceID string
	Amount      int64
}

// Order: корень агрегата заказа.
type Order struct {
	ID             string
	Number         string
	UserID         string
	Status         OrderStatus
	ProductAmount  int64
	DiscountAmount int64
	PaymentAmount  int64
	Memo           string
	Items          []OrderItem
	Payments       []OrderPayment
	Delivery       *OrderDelivery
	Discounts      []OrderDiscount
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if o.Number == "" {
		errs = append(errs, ErrOrderNumberRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.ProductAmount < 0 || o.DiscountAmount < 0 || o.PaymentAmount < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	var calc int64
	for _, item := range o.Items {
		if item.SkuID == "" {
			errs = append(errs, ErrItemSkuRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice < 0 || item.LinePrice != int64(item.Qty)*item.UnitPrice {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += item.LinePrice
	}
	if calc != o.ProductAmount || o.ProductAmount-o.DiscountAmount != o.PaymentAmount {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// CouponDiscounts возвращает скидки по купонам, которые нужно вернуть при отмене.
func (o *Order) CouponDiscounts() []OrderDiscount {
	var result []OrderDiscount
	for _, d := range o.Discounts {
		if d.Type == DiscountTypeCoupon && d.ReferenceID != "" {
			result = append(result, d)
		}
	}
	return result
}

// LastCompletedPayment возвращает последний успешный платёж, если он есть.
func (o *Order) LastCompletedPayment() (OrderPayment, bool) {
	for i := len(o.Payments) - 1; i >= 0; i-- {
		if o.Payments[i].Status == PaymentStatusCompleted {
			return o.Payments[i], true
		}
	}
	return OrderPayment{}, false
}

// HasPayment сообщает, прикреплён ли уже платёж с таким ключом.
func (o *Order) HasPayment(paymentKey string) bool {
	for _, p := range o.Payments {
		if p.PaymentKey == paymentKey {
			return true
		}
	}
	return false
}

// Clone возвращает глубокую копию заказа, чтобы хранилища не делили слайсы с вызывающим кодом.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	dst.Payments = append([]OrderPayment(nil), o.Payments...)
	dst.Discounts = append([]OrderDiscount(nil), o.Discounts...)
	if o.Delivery != nil {
		d := *o.Delivery
		dst.Delivery = &d
	}
	return dst
}
