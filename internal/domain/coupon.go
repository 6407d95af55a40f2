package domain

import "time"

// CouponStatus описывает состояние пользовательского купона.
type CouponStatus string

const (
	CouponStatusAvailable CouponStatus = "AVAILABLE"
	CouponStatusUsed      CouponStatus = "USED"
	CouponStatusExpired   CouponStatus = "EXPIRED"
)

// Coupon: выданный пользователю купон.
type Coupon struct {
	ID          string
	UserID      string
	Status      CouponStatus
	UsedOrderID string
	UsedAt      time.Time
	UpdatedAt   time.Time
}

// Restore снова делает купон доступным, если он был использован указанным заказом.
// Возвращает false, если восстанавливать нечего (купон уже доступен или принадлежит другому заказу).
func (c *Coupon) Restore(orderID string, now time.Time) bool {
	if c.Status != CouponStatusUsed || c.UsedOrderID != orderID {
		return false
	}
	c.Status = CouponStatusAvailable
	c.UsedOrderID = ""
	c.UsedAt = time.Time{}
	c.UpdatedAt = now
	return true
}

// Use помечает купон использованным заказом orderID.
func (c *Coupon) Use(userID, orderID string, now time.Time) error {
	if c.Status != CouponStatusAvailable || c.UserID != userID {
		return ErrCouponUnavailable
	}
	c.Status = CouponStatusUsed
	c.UsedOrderID = orderID
	c.UsedAt = now
	c.UpdatedAt = now
	return nil
}
