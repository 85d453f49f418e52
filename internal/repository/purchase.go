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

// PurchaseRepository stores template purchases. The Mark* methods are
// conditional updates and report whether the row actually transitioned, so
// redelivered notifications become no-ops.
type PurchaseRepository interface {
	Create(ctx context.Context, purchase *model.Purchase) error
	GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Purchase, error)
	GetByPaymobOrderID(ctx context.Context, tx pgx.Tx, paymobOrderID string) (*model.Purchase, error)
	SetPaymobOrderID(ctx context.Context, id, userID uuid.UUID, paymobOrderID string) (bool, error)
	MarkPaid(ctx context.Context, tx pgx.Tx, id uuid.UUID, paymobOrderID, transactionID string) (bool, error)
	MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, from ...model.PaymentStatus) (bool, error)
	ListOwned(ctx context.Context, userID uuid.UUID) ([]model.Purchase, error)
	RecordDownload(ctx context.Context, id, userID uuid.UUID) (*model.Purchase, error)
}

type pgPurchaseRepo struct{ pool *pgxpool.Pool }

func NewPurchaseRepository(pool *pgxpool.Pool) PurchaseRepository {
	return &pgPurchaseRepo{pool: pool}
}

const purchaseColumns = `id, user_id, template_id, price, payment_status, status, paymob_order_id,
	paymob_transaction_id, download_count, last_downloaded_at, created_at, updated_at`

func scanPurchase(row pgx.Row) (*model.Purchase, error) {
	p := &model.Purchase{}
	err := row.Scan(
		&p.ID, &p.UserID, &p.TemplateID, &p.Price, &p.PaymentStatus, &p.Status, &p.PaymobOrderID,
		&p.PaymobTransactionID, &p.DownloadCount, &p.LastDownloadedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *pgPurchaseRepo) Create(ctx context.Context, purchase *model.Purchase) error {
	purchase.ID = uuid.New()
	if purchase.PaymentStatus == "" {
		purchase.PaymentStatus = model.PaymentStatusPending
	}
	if purchase.Status == "" {
		purchase.Status = model.PurchaseStatusPending
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO purchases (id, user_id, template_id, price, payment_status, status,
			paymob_order_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW()) RETURNING created_at, updated_at`,
		purchase.ID, purchase.UserID, purchase.TemplateID, purchase.Price,
		purchase.PaymentStatus, purchase.Status, purchase.PaymobOrderID,
	).Scan(&purchase.CreatedAt, &purchase.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create purchase: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the purchase does not exist.
func (r *pgPurchaseRepo) GetByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Purchase, error) {
	p, err := scanPurchase(pick(r.pool, tx).QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return p, nil
}

func (r *pgPurchaseRepo) GetByPaymobOrderID(ctx context.Context, tx pgx.Tx, paymobOrderID string) (*model.Purchase, error) {
	if paymobOrderID == "" {
		return nil, nil
	}
	p, err := scanPurchase(pick(r.pool, tx).QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE paymob_order_id = $1
		 ORDER BY created_at DESC LIMIT 1`, paymobOrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get purchase by paymob order: %w", err)
	}
	return p, nil
}

// SetPaymobOrderID links a pending purchase owned by userID to the order the
// provider created for it. It reports false when no such purchase exists.
func (r *pgPurchaseRepo) SetPaymobOrderID(ctx context.Context, id, userID uuid.UUID, paymobOrderID string) (bool, error) {
	ct, err := r.pool.Exec(ctx,
		`UPDATE purchases SET paymob_order_id = $3, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND payment_status = 'pending'`,
		id, userID, paymobOrderID,
	)
	if err != nil {
		return false, fmt.Errorf("set paymob order id: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *pgPurchaseRepo) MarkPaid(ctx context.Context, tx pgx.Tx, id uuid.UUID, paymobOrderID, transactionID string) (bool, error) {
	ct, err := pick(r.pool, tx).Exec(ctx,
		`UPDATE purchases SET payment_status = 'paid', status = 'active',
			paymob_transaction_id = $2,
			paymob_order_id = CASE WHEN paymob_order_id = '' THEN $3 ELSE paymob_order_id END,
			updated_at = NOW()
		 WHERE id = $1 AND payment_status <> 'paid'`,
		id, transactionID, paymobOrderID,
	)
	if err != nil {
		return false, fmt.Errorf("mark purchase paid: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *pgPurchaseRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id uuid.UUID, from ...model.PaymentStatus) (bool, error) {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}
	ct, err := pick(r.pool, tx).Exec(ctx,
		`UPDATE purchases SET payment_status = 'failed', updated_at = NOW()
		 WHERE id = $1 AND payment_status = ANY($2)`,
		id, allowed,
	)
	if err != nil {
		return false, fmt.Errorf("mark purchase failed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ListOwned returns the purchases in the user's owned-templates set.
func (r *pgPurchaseRepo) ListOwned(ctx context.Context, userID uuid.UUID) ([]model.Purchase, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.user_id, p.template_id, p.price, p.payment_status, p.status, p.paymob_order_id,
			p.paymob_transaction_id, p.download_count, p.last_downloaded_at, p.created_at, p.updated_at
		 FROM user_purchased_templates upt
		 JOIN purchases p ON p.id = upt.purchase_id
		 WHERE upt.user_id = $1
		 ORDER BY upt.added_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list owned purchases: %w", err)
	}
	defer rows.Close()

	var purchases []model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return purchases, nil
}

// RecordDownload bumps the download counters of a paid purchase owned by
// userID. It returns nil, nil when no such purchase exists.
func (r *pgPurchaseRepo) RecordDownload(ctx context.Context, id, userID uuid.UUID) (*model.Purchase, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx,
		`UPDATE purchases SET download_count = download_count + 1, last_downloaded_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND payment_status = 'paid'
		 RETURNING `+purchaseColumns, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("record download: %w", err)
	}
	return p, nil
}
