package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type skuRepository struct{ t *txn }

func (r skuRepository) GetForUpdate(ctx context.Context, id string) (domain.ProductSku, error) {
	var (
		sku    domain.ProductSku
		status string
	)
	err := r.t.tx.QueryRowContext(ctx, `
		SELECT id, product_id, stock_qty, status, version
		FROM product_skus
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&sku.ID, &sku.ProductID, &sku.StockQty, &status, &sku.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProductSku{}, domain.ErrSkuNotFound
		}
		return domain.ProductSku{}, fmt.Errorf("select sku: %w", err)
	}
	sku.Status = domain.SkuStatus(status)
	return sku, nil
}

// Save создаёт или обновляет SKU; остаток не может стать отрицательным.
func (r skuRepository) Save(ctx context.Context, sku domain.ProductSku) error {
	if errs := sku.Validate(); len(errs) > 0 {
		return errs[0]
	}

	if _, err := r.t.tx.ExecContext(ctx, `
		INSERT INTO product_skus (id, product_id, stock_qty, status, version)
		VALUES ($1,$2,$3,$4,$5 + 1)
		ON CONFLICT (id) DO UPDATE
		SET product_id = EXCLUDED.product_id,
		    stock_qty = EXCLUDED.stock_qty,
		    status = EXCLUDED.status,
		    version = product_skus.version + 1
	`, sku.ID, sku.ProductID, sku.StockQty, string(sku.Status), sku.Version); err != nil {
		return fmt.Errorf("save sku: %w", err)
	}
	return nil
}

type couponRepository struct{ t *txn }

func (r couponRepository) GetForUpdate(ctx context.Context, id string) (domain.Coupon, error) {
	var (
		c         domain.Coupon
		status    string
		usedOrder sql.NullString
		usedAt    sql.NullTime
	)
	err := r.t.tx.QueryRowContext(ctx, `
		SELECT id, user_id, status, used_order_id, used_at, updated_at
		FROM coupons
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&c.ID, &c.UserID, &status, &usedOrder, &usedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}
	c.Status = domain.CouponStatus(status)
	c.UsedOrderID = usedOrder.String
	if usedAt.Valid {
		c.UsedAt = usedAt.Time
	}
	return c, nil
}

func (r couponRepository) Save(ctx context.Context, c domain.Coupon) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = r.t.now()
	}
	if _, err := r.t.tx.ExecContext(ctx, `
		INSERT INTO coupons (id, user_id, status, used_order_id, used_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    status = EXCLUDED.status,
		    used_order_id = EXCLUDED.used_order_id,
		    used_at = EXCLUDED.used_at,
		    updated_at = EXCLUDED.updated_at
	`, c.ID, c.UserID, string(c.Status), nullString(c.UsedOrderID), nullTime(c.UsedAt), c.UpdatedAt); err != nil {
		return fmt.Errorf("save coupon: %w", err)
	}
	return nil
}

var (
	_ domain.SkuRepository    = skuRepository{}
	_ domain.CouponRepository = couponRepository{}
)
