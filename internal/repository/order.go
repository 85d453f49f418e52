package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/template-storefront/internal/model"
)

var ErrOrderNotFound = errors.New("order not found")

type OrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *model.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	UpdateState(ctx context.Context, id uuid.UUID, state model.OrderState) error
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus) error
}

type pgOrderRepo struct{ pool *pgxpool.Pool }

func NewOrderRepository(pool *pgxpool.Pool) OrderRepository {
	return &pgOrderRepo{pool: pool}
}

func (r *pgOrderRepo) Create(ctx context.Context, tx pgx.Tx, order *model.Order) error {
	q := pick(r.pool, tx)

	var address []byte
	if order.Address != nil {
		b, err := json.Marshal(order.Address)
		if err != nil {
			return fmt.Errorf("encode address: %w", err)
		}
		address = b
	}

	order.ID = uuid.New()
	err := q.QueryRow(ctx,
		`INSERT INTO orders (id, user_id, address_id, address, total_price, shipping_fee,
			promo_code, discount_amount, discount_percentage, order_state, payment_method,
			payment_status, paymob_order_id, paymob_transaction_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		 RETURNING created_at, updated_at`,
		order.ID, order.UserID, order.AddressID, address, order.TotalPrice, order.ShippingFee,
		order.PromoCode, order.DiscountAmount, order.DiscountPercentage, order.State,
		order.PaymentMethod, order.PaymentStatus, order.PaymobOrderID, order.PaymobTransactionID,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.ID = uuid.New()
		item.OrderID = order.ID
		_, err = q.Exec(ctx,
			`INSERT INTO order_items (id, order_id, product_id, variant_id, size, color, sku, quantity, price, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			item.ID, item.OrderID, item.ProductID, item.VariantID, item.Size, item.Color,
			item.SKU, item.Quantity, item.Price, i,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

// GetByID returns nil, nil when the order does not exist.
func (r *pgOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order := &model.Order{}
	var address []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, address_id, address, total_price, shipping_fee, promo_code,
			discount_amount, discount_percentage, order_state, payment_method, payment_status,
			paymob_order_id, paymob_transaction_id, tracking_number, shipped_at, delivered_at,
			created_at, updated_at
		 FROM orders WHERE id = $1`, id,
	).Scan(
		&order.ID, &order.UserID, &order.AddressID, &address, &order.TotalPrice, &order.ShippingFee,
		&order.PromoCode, &order.DiscountAmount, &order.DiscountPercentage, &order.State,
		&order.PaymentMethod, &order.PaymentStatus, &order.PaymobOrderID, &order.PaymobTransactionID,
		&order.TrackingNumber, &order.ShippedAt, &order.DeliveredAt, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if len(address) > 0 {
		order.Address = &model.Address{}
		if err := json.Unmarshal(address, order.Address); err != nil {
			return nil, fmt.Errorf("decode address: %w", err)
		}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, product_id, variant_id, size, color, sku, quantity, price
		 FROM order_items WHERE order_id = $1 ORDER BY position`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.VariantID, &item.Size, &item.Color,
			&item.SKU, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.OrderID = order.ID
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return order, nil
}

// UpdateState also stamps shipped_at / delivered_at the first time an order
// reaches those states.
func (r *pgOrderRepo) UpdateState(ctx context.Context, id uuid.UUID, state model.OrderState) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET order_state = $2,
			shipped_at = CASE WHEN $2 = 'Shipped' AND shipped_at IS NULL THEN NOW() ELSE shipped_at END,
			delivered_at = CASE WHEN $2 = 'Delivered' AND delivered_at IS NULL THEN NOW() ELSE delivered_at END,
			updated_at = NOW()
		 WHERE id = $1`, id, state,
	)
	if err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *pgOrderRepo) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status model.PaymentStatus) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_status = $2, updated_at = NOW() WHERE id = $1`, id, status,
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}
