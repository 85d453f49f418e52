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

var ErrTemplateNotFound = errors.New("template not found")

type TemplateRepository interface {
	Create(ctx context.Context, template *model.Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Template, error)
	IncrementPurchaseCount(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

type pgTemplateRepo struct{ pool *pgxpool.Pool }

func NewTemplateRepository(pool *pgxpool.Pool) TemplateRepository {
	return &pgTemplateRepo{pool: pool}
}

func (r *pgTemplateRepo) Create(ctx context.Context, template *model.Template) error {
	template.ID = uuid.New()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO templates (id, title, price, purchase_count, created_at)
		 VALUES ($1, $2, $3, $4, NOW()) RETURNING created_at`,
		template.ID, template.Title, template.Price, template.PurchaseCount,
	).Scan(&template.CreatedAt)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (r *pgTemplateRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	t := &model.Template{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, price, purchase_count, created_at FROM templates WHERE id = $1`, id,
	).Scan(&t.ID, &t.Title, &t.Price, &t.PurchaseCount, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (r *pgTemplateRepo) IncrementPurchaseCount(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	ct, err := pick(r.pool, tx).Exec(ctx,
		`UPDATE templates SET purchase_count = purchase_count + 1 WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("increment purchase count: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}
