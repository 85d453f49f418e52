package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flicky/template-storefront/internal/audit"
	"github.com/flicky/template-storefront/internal/model"
	"github.com/flicky/template-storefront/internal/paymob"
	"github.com/flicky/template-storefront/internal/repository"
)

// IdempotencyStore remembers processed webhook deliveries.
type IdempotencyStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// CallbackResult tells the browser callback where to send the buyer.
type CallbackResult struct {
	Success    bool
	PurchaseID uuid.UUID
}

type PaymentService struct {
	tx             repository.Transactor
	purchases      repository.PurchaseRepository
	templates      repository.TemplateRepository
	users          repository.UserRepository
	verifier       *paymob.Verifier
	seen           IdempotencyStore
	verifyCallback bool
	audit          AuditLogger
	log            *slog.Logger
}

func NewPaymentService(
	tx repository.Transactor,
	purchases repository.PurchaseRepository,
	templates repository.TemplateRepository,
	users repository.UserRepository,
	verifier *paymob.Verifier,
	seen IdempotencyStore,
	verifyCallback bool,
	auditLog AuditLogger,
	log *slog.Logger,
) *PaymentService {
	return &PaymentService{
		tx:             tx,
		purchases:      purchases,
		templates:      templates,
		users:          users,
		verifier:       verifier,
		seen:           seen,
		verifyCallback: verifyCallback,
		audit:          auditLog,
		log:            log.With("component", "paymob"),
	}
}

// HandleWebhook applies a signed server-to-server transaction notification.
// Only signature failures are returned; everything after verification is
// logged and swallowed so the provider stops redelivering.
func (s *PaymentService) HandleWebhook(ctx context.Context, obj map[string]any, signature string) error {
	if err := s.verifier.Verify(obj, signature); err != nil {
		s.log.Warn("rejected webhook", "error", err)
		return err
	}

	txn := paymob.ParseTransaction(obj)
	log := s.log.With("transaction_id", txn.ID, "paymob_order_id", txn.OrderID, "merchant_order_id", txn.MerchantOrderID)

	outcome := "failed"
	switch {
	case txn.Success:
		outcome = "paid"
	case txn.Pending:
		// Not settled yet; a final notification follows, so it is not a failure.
		log.Info("transaction still pending, nothing to apply")
		return nil
	}

	key := fmt.Sprintf("paymob:webhook:%s:%s", txn.ID, outcome)
	if s.seen != nil && txn.ID != "" {
		done, err := s.seen.Seen(ctx, key)
		if err != nil {
			log.Warn("idempotency lookup failed, processing anyway", "error", err)
		}
		if done {
			log.Info("webhook already processed, skipping")
			return nil
		}
	}

	if err := s.reconcile(ctx, txn, log); err != nil {
		log.Error("process webhook", "error", err)
		return nil
	}

	if s.seen != nil && txn.ID != "" {
		if err := s.seen.Mark(ctx, key); err != nil {
			log.Warn("set idempotency key", "error", err)
		}
	}
	return nil
}

func (s *PaymentService) reconcile(ctx context.Context, txn paymob.Transaction, log *slog.Logger) error {
	purchase, err := s.findPurchase(ctx, txn)
	if err != nil {
		return err
	}
	if purchase == nil {
		log.Warn("transaction does not map to a purchase")
		return nil
	}
	log = log.With("purchase_id", purchase.ID)

	if txn.Success {
		applied, err := s.markPaid(ctx, purchase, txn)
		if err != nil {
			return err
		}
		log.Info("purchase paid", "applied", applied)
		return nil
	}

	applied, err := s.purchases.MarkFailed(ctx, nil, purchase.ID, model.PaymentStatusPending)
	if err != nil {
		return err
	}
	if applied {
		s.recordPayment(ctx, purchase, model.PaymentStatusFailed, txn.ID)
	}
	log.Info("purchase payment failed", "applied", applied)
	return nil
}

// findPurchase locates the purchase a transaction settles: by the id embedded
// in the merchant order id, falling back to the provider's order id.
func (s *PaymentService) findPurchase(ctx context.Context, txn paymob.Transaction) (*model.Purchase, error) {
	if id, ok := txn.PurchaseID(); ok {
		p, err := s.purchases.GetByID(ctx, nil, id)
		if err != nil {
			return nil, fmt.Errorf("get purchase: %w", err)
		}
		if p != nil {
			return p, nil
		}
	}
	if txn.OrderID == "" {
		return nil, nil
	}
	p, err := s.purchases.GetByPaymobOrderID(ctx, nil, txn.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get purchase by paymob order: %w", err)
	}
	return p, nil
}

// markPaid moves a purchase to paid and, only on the call that actually makes
// that transition, credits the template and the buyer's owned set. Replays
// of an already applied transaction report false and change nothing.
func (s *PaymentService) markPaid(ctx context.Context, purchase *model.Purchase, txn paymob.Transaction) (bool, error) {
	if purchase.PaymentStatus == model.PaymentStatusPaid {
		return false, nil
	}

	var applied bool
	err := s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		applied = false
		ok, err := s.purchases.MarkPaid(ctx, tx, purchase.ID, txn.OrderID, txn.ID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := s.templates.IncrementPurchaseCount(ctx, tx, purchase.TemplateID); err != nil {
			return err
		}
		if _, err := s.users.AddPurchasedTemplate(ctx, tx, purchase.UserID, purchase.ID); err != nil {
			return fmt.Errorf("add purchased template: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		s.recordPayment(ctx, purchase, model.PaymentStatusPaid, txn.ID)
	}
	return applied, nil
}

func (s *PaymentService) recordPayment(ctx context.Context, purchase *model.Purchase, status model.PaymentStatus, txID string) {
	s.audit.LogEvent(ctx, "payment", audit.Event{
		Actor:    "paymob",
		Resource: "purchase:" + purchase.ID.String(),
		Action:   "set_payment_status",
		Result:   audit.ResultSuccess,
		Details: map[string]any{
			"payment_status": string(status),
			"transaction_id": txID,
			"user_id":        purchase.UserID.String(),
		},
	})
}

// HandleCallback applies the browser redirect that follows a payment. It
// never returns an error: any problem sends the buyer to the failure page.
func (s *PaymentService) HandleCallback(ctx context.Context, q url.Values) CallbackResult {
	if s.verifyCallback {
		if err := s.verifier.VerifyQuery(q, q.Get("hmac")); err != nil {
			s.log.Warn("rejected callback", "error", err)
			return CallbackResult{}
		}
	}

	txn := paymob.ParseCallback(q)
	log := s.log.With("transaction_id", txn.ID, "paymob_order_id", txn.OrderID, "merchant_order_id", txn.MerchantOrderID)

	purchase, err := s.findPurchase(ctx, txn)
	if err != nil {
		log.Error("callback purchase lookup", "error", err)
		return CallbackResult{}
	}
	if purchase == nil {
		log.Warn("callback does not map to a purchase")
		return CallbackResult{}
	}

	if txn.Success {
		if _, err := s.markPaid(ctx, purchase, txn); err != nil {
			log.Error("callback mark paid", "purchase_id", purchase.ID, "error", err)
			return CallbackResult{PurchaseID: purchase.ID}
		}
		return CallbackResult{Success: true, PurchaseID: purchase.ID}
	}

	if purchase.PaymentStatus == model.PaymentStatusPending {
		applied, err := s.purchases.MarkFailed(ctx, nil, purchase.ID, model.PaymentStatusPending)
		if err != nil {
			log.Error("callback mark failed", "purchase_id", purchase.ID, "error", err)
		} else if applied {
			s.recordPayment(ctx, purchase, model.PaymentStatusFailed, txn.ID)
		}
	}
	return CallbackResult{PurchaseID: purchase.ID}
}

// StartPurchase opens a pending purchase of a template and returns the
// merchant order id to hand to the payment provider.
func (s *PaymentService) StartPurchase(ctx context.Context, userID, templateID uuid.UUID) (*model.Purchase, string, error) {
	tmpl, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, "", fmt.Errorf("get template: %w", err)
	}
	if tmpl == nil {
		return nil, "", ErrTemplateNotFound
	}

	purchase := &model.Purchase{
		UserID:        userID,
		TemplateID:    tmpl.ID,
		Price:         tmpl.Price,
		PaymentStatus: model.PaymentStatusPending,
		Status:        model.PurchaseStatusPending,
	}
	if err := s.purchases.Create(ctx, purchase); err != nil {
		return nil, "", fmt.Errorf("create purchase: %w", err)
	}
	return purchase, MerchantOrderID(purchase.ID, time.Now()), nil
}

// AttachPaymobOrder records the provider order created for a pending
// purchase, so notifications that carry only that id can still be matched.
func (s *PaymentService) AttachPaymobOrder(ctx context.Context, userID, purchaseID uuid.UUID, paymobOrderID string) (*model.Purchase, error) {
	paymobOrderID = strings.TrimSpace(paymobOrderID)
	if paymobOrderID == "" {
		return nil, NewValidationError(nil, FieldError{Path: "paymobOrderId", Message: "is required", Code: "required"})
	}

	p, err := s.purchases.GetByID(ctx, nil, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	if p == nil || p.UserID != userID {
		return nil, ErrPurchaseNotFound
	}
	if p.PaymentStatus != model.PaymentStatusPending {
		return nil, ErrPurchaseNotPending
	}

	ok, err := s.purchases.SetPaymobOrderID(ctx, purchaseID, userID, paymobOrderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPurchaseNotPending
	}
	p.PaymobOrderID = paymobOrderID
	return p, nil
}

// MerchantOrderID is the reference the provider echoes back on every
// notification. The purchase id comes first, followed by a timestamp that
// keeps retried checkouts unique.
func MerchantOrderID(purchaseID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s_%d", purchaseID, at.UnixMilli())
}

func (s *PaymentService) ListOwned(ctx context.Context, userID uuid.UUID) ([]model.Purchase, error) {
	purchases, err := s.purchases.ListOwned(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list owned: %w", err)
	}
	return purchases, nil
}

// RecordDownload counts a download of a paid, owned purchase.
func (s *PaymentService) RecordDownload(ctx context.Context, userID, purchaseID uuid.UUID) (*model.Purchase, error) {
	p, err := s.purchases.GetByID(ctx, nil, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	if p == nil || p.UserID != userID {
		return nil, ErrPurchaseNotFound
	}
	updated, err := s.purchases.RecordDownload(ctx, purchaseID, userID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrPurchaseNotDownloadable
	}
	return updated, nil
}
