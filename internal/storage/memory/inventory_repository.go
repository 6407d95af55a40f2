package memory

import (
	"context"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type skuRepository struct{ tx *txn }

func (r skuRepository) GetForUpdate(_ context.Context, id string) (domain.ProductSku, error) {
	sku, ok := r.tx.st.skus[id]
	if !ok {
		return domain.ProductSku{}, domain.ErrSkuNotFound
	}
	return sku, nil
}

func (r skuRepository) Save(_ context.Context, sku domain.ProductSku) error {
	if errs := sku.Validate(); len(errs) > 0 {
		return errs[0]
	}
	sku.Version++
	r.tx.st.skus[sku.ID] = sku
	return nil
}

type couponRepository struct{ tx *txn }

func (r couponRepository) GetForUpdate(_ context.Context, id string) (domain.Coupon, error) {
	c, ok := r.tx.st.coupons[id]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return c, nil
}

func (r couponRepository) Save(_ context.Context, c domain.Coupon) error {
	r.tx.st.coupons[c.ID] = c
	return nil
}

var (
	_ domain.SkuRepository    = skuRepository{}
	_ domain.CouponRepository = couponRepository{}
)
