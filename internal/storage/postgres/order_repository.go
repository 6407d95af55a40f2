package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

type orderRepository struct{ t *txn }

const selectOrderSQL = `
	SELECT id, number, user_id, status, product_amount, discount_amount, payment_amount, memo,
	       delivery_receiver, delivery_phone, delivery_address, delivery_memo,
	       version, created_at, updated_at
	FROM orders
	WHERE id = $1`

func (r orderRepository) Create(ctx context.Context, order domain.Order) error {
	var receiver, phone, address, memo sql.NullString
	if d := order.Delivery; d != nil {
		receiver = sql.NullString{String: d.Receiver, Valid: true}
		phone = sql.NullString{String: d.Phone, Valid: true}
		address = sql.NullString{String: d.Address, Valid: true}
		memo = sql.NullString{String: d.Memo, Valid: true}
	}

	_, err := r.t.tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, number, user_id, status, product_amount, discount_amount, payment_amount, memo,
			delivery_receiver, delivery_phone, delivery_address, delivery_memo,
			version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		order.ID, order.Number, order.UserID, string(order.Status),
		order.ProductAmount, order.DiscountAmount, order.PaymentAmount, order.Memo,
		receiver, phone, address, memo,
		order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if _, err := r.t.tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, product_id, sku_id, product_name, product_code, qty, unit_price, line_price
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			item.ID, order.ID, i, item.ProductID, item.SkuID, item.ProductName, item.ProductCode,
			item.Qty, item.UnitPrice, item.LinePrice,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	for i, d := range order.Discounts {
		if _, err := r.t.tx.ExecContext(ctx, `
			INSERT INTO order_discounts (id, order_id, position, type, reference_id, amount)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, d.ID, order.ID, i, string(d.Type), d.ReferenceID, d.Amount); err != nil {
			return fmt.Errorf("insert order discount: %w", err)
		}
	}

	return r.upsertPayments(ctx, order)
}

func (r orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.load(ctx, selectOrderSQL, id)
}

func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.load(ctx, selectOrderSQL+" FOR UPDATE", id)
}

func (r orderRepository) load(ctx context.Context, query, id string) (domain.Order, error) {
	var (
		order                             domain.Order
		status                            string
		receiver, phone, address, dlvMemo sql.NullString
	)

	err := r.t.tx.QueryRowContext(ctx, query, id).Scan(
		&order.ID, &order.Number, &order.UserID, &status,
		&order.ProductAmount, &order.DiscountAmount, &order.PaymentAmount, &order.Memo,
		&receiver, &phone, &address, &dlvMemo,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	if receiver.Valid || address.Valid {
		order.Delivery = &domain.OrderDelivery{
			Receiver: receiver.String,
			Phone:    phone.String,
			Address:  address.String,
			Memo:     dlvMemo.String,
		}
	}

	if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	if order.Payments, err = r.loadPayments(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	if order.Discounts, err = r.loadDiscounts(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

// Save обновляет статус и суммы заказа и дописывает новые платежи.
// Позиции и скидки неизменяемы после создания.
func (r orderRepository) Save(ctx context.Context, order domain.Order) error {
	res, err := r.t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    product_amount = $2,
		    discount_amount = $3,
		    payment_amount = $4,
		    memo = $5,
		    version = version + 1,
		    updated_at = $6
		WHERE id = $7
		  AND version = $8
	`,
		string(order.Status),
		order.ProductAmount,
		order.DiscountAmount,
		order.PaymentAmount,
		order.Memo,
		r.t.now(),
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.exists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	return r.upsertPayments(ctx, order)
}

func (r orderRepository) ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.t.tx.QueryContext(ctx, `
		SELECT id
		FROM orders
		WHERE status = $1
		  AND created_at < $2
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`, string(domain.OrderStatusCreated), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired orders: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order ids: %w", err)
	}

	return ids, nil
}

func (r orderRepository) Delete(ctx context.Context, id string) error {
	res, err := r.t.tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r orderRepository) upsertPayments(ctx context.Context, order domain.Order) error {
	for i, p := range order.Payments {
		if _, err := r.t.tx.ExecContext(ctx, `
			INSERT INTO order_payments (id, order_id, position, method, amount, status, payment_key, paid_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
		`, p.ID, order.ID, i, p.Method, p.Amount, string(p.Status), p.PaymentKey, nullTime(p.PaidAt)); err != nil {
			return fmt.Errorf("upsert order payment: %w", err)
		}
	}
	return nil
}

func (r orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.t.tx.QueryContext(ctx, `
		SELECT id, product_id, sku_id, product_name, product_code, qty, unit_price, line_price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.SkuID, &item.ProductName, &item.ProductCode,
			&item.Qty, &item.UnitPrice, &item.LinePrice,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func (r orderRepository) loadPayments(ctx context.Context, orderID string) ([]domain.OrderPayment, error) {
	rows, err := r.t.tx.QueryContext(ctx, `
		SELECT id, method, amount, status, payment_key, paid_at
		FROM order_payments
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.OrderPayment
	for rows.Next() {
		var (
			p      domain.OrderPayment
			status string
			paidAt sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.Method, &p.Amount, &status, &p.PaymentKey, &paidAt); err != nil {
			return nil, fmt.Errorf("scan order payment: %w", err)
		}
		p.Status = domain.PaymentStatus(status)
		if paidAt.Valid {
			p.PaidAt = paidAt.Time
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order payments: %w", err)
	}

	return payments, nil
}

func (r orderRepository) loadDiscounts(ctx context.Context, orderID string) ([]domain.OrderDiscount, error) {
	rows, err := r.t.tx.QueryContext(ctx, `
		SELECT id, type, reference_id, amount
		FROM order_discounts
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order discounts: %w", err)
	}
	defer rows.Close()

	var discounts []domain.OrderDiscount
	for rows.Next() {
		var (
			d   domain.OrderDiscount
			typ string
		)
		if err := rows.Scan(&d.ID, &typ, &d.ReferenceID, &d.Amount); err != nil {
			return nil, fmt.Errorf("scan order discount: %w", err)
		}
		d.Type = domain.DiscountType(typ)
		discounts = append(discounts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order discounts: %w", err)
	}

	return discounts, nil
}

func (r orderRepository) exists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.t.tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

var _ domain.OrderRepository = orderRepository{}
