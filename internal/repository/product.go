package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/template-storefront/internal/model"
)

// ProductRepository is the inventory store. Variant quantity is only ever
// reduced through TryDecrementVariant; there is no read-then-write path.
type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	GetWithVariants(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Product, error)
	TryDecrementVariant(ctx context.Context, tx pgx.Tx, productID, variantID uuid.UUID, amount int) (bool, error)
}

type pgProductRepo struct{ pool *pgxpool.Pool }

func NewProductRepository(pool *pgxpool.Pool) ProductRepository {
	return &pgProductRepo{pool: pool}
}

func (r *pgProductRepo) Create(ctx context.Context, product *model.Product) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	product.ID = uuid.New()
	err = tx.QueryRow(ctx,
		`INSERT INTO products (id, name, price, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW()) RETURNING created_at, updated_at`,
		product.ID, product.Name, product.Price,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}

	for i := range product.Variants {
		v := &product.Variants[i]
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO product_variants (id, product_id, color, size, sku, quantity, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			v.ID, product.ID, v.Color, v.Size, v.SKU, v.Quantity, i,
		)
		if err != nil {
			return fmt.Errorf("create variant: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// GetWithVariants returns nil, nil when the product does not exist.
func (r *pgProductRepo) GetWithVariants(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Product, error) {
	q := pick(r.pool, tx)

	p := &model.Product{}
	err := q.QueryRow(ctx,
		`SELECT id, name, price, created_at, updated_at FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT id, color, size, sku, quantity FROM product_variants
		 WHERE product_id = $1 ORDER BY position, id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("get variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v model.Variant
		if err := rows.Scan(&v.ID, &v.Color, &v.Size, &v.SKU, &v.Quantity); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		p.Variants = append(p.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return p, nil
}

// TryDecrementVariant subtracts amount from the variant's quantity only if
// at least amount units remain. It reports false when no row matched.
func (r *pgProductRepo) TryDecrementVariant(ctx context.Context, tx pgx.Tx, productID, variantID uuid.UUID, amount int) (bool, error) {
	ct, err := pick(r.pool, tx).Exec(ctx,
		`UPDATE product_variants SET quantity = quantity - $3
		 WHERE product_id = $1 AND id = $2 AND quantity >= $3`,
		productID, variantID, amount,
	)
	if err != nil {
		return false, fmt.Errorf("decrement variant stock: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
