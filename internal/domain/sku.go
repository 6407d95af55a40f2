package domain

// SkuStatus отражает доступность SKU для продажи.
type SkuStatus string

const (
	// SkuStatusOnSale: SKU доступен для заказа.
	SkuStatusOnSale SkuStatus = "ON_SALE"
	// SkuStatusSoldOut: остаток исчерпан.
	SkuStatusSoldOut SkuStatus = "SOLD_OUT"
	// SkuStatusStopped: продажа остановлена вручную, остаток не управляет статусом.
	SkuStatusStopped SkuStatus = "STOPPED"
)

// ProductSku: складская единица с неотрицательным остатком.
type ProductSku struct {
	ID        string
	ProductID string
	StockQty  int64
	Status    SkuStatus
	Version   int64
}

// Decrease списывает qty единиц. При нехватке остатка SKU не меняется и возвращается ErrInsufficientStock.
func (s *ProductSku) Decrease(qty int64) error {
	if qty <= 0 {
		return ErrItemQtyInvalid
	}
	if s.StockQty < qty {
		return ErrInsufficientStock
	}
	s.StockQty -= qty
	if s.StockQty == 0 && s.Status == SkuStatusOnSale {
		s.Status = SkuStatusSoldOut
	}
	return nil
}

// Increase возвращает qty единиц на склад (компенсация).
func (s *ProductSku) Increase(qty int64) error {
	if qty <= 0 {
		return ErrItemQtyInvalid
	}
	s.StockQty += qty
	if s.Status == SkuStatusSoldOut {
		s.Status = SkuStatusOnSale
	}
	return nil
}

// Validate проверяет ключевые поля SKU.
func (s *ProductSku) Validate() []error {
	var errs []error

	if s.ID == "" {
		errs = append(errs, ErrItemSkuRequired)
	}
	if s.StockQty < 0 {
		errs = append(errs, ErrStockNegative)
	}

	return errs
}
