package domain

import "time"

// PaymentStatus описывает состояние платежа по заказу.
type PaymentStatus string

const (
	// PaymentStatusPending: платёж инициирован, но не подтверждён.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusCompleted: платёж подтверждён платёжным сервисом.
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	// PaymentStatusCanceled: платёж отменён или отклонён провайдером.
	PaymentStatusCanceled PaymentStatus = "CANCELED"
	// PaymentStatusRefunded: деньги возвращены клиенту.
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// OrderPayment фиксирует платёж, подтверждённый платёжным сервисом.
type OrderPayment struct {
	ID         string
	Method     string
	Amount     int64
	Status     PaymentStatus
	PaymentKey string // Внешний ключ платёжного провайдера, используется для возврата.
	PaidAt     time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *OrderPayment) Validate() []error {
	var errs []error

	switch {
	case p.PaymentKey == "":
		errs = append(errs, ErrPaymentKeyRequired)
	case p.Method == "":
		errs = append(errs, ErrPaymentMethodRequired)
	case p.Amount < 0:
		errs = append(errs, ErrPaymentAmountNegative)
	}

	return errs
}
