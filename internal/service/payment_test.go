package service

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/template-storefront/internal/model"
	"github.com/flicky/template-storefront/internal/paymob"
)

const paymobSecret = "webhook-secret"

type paymentFixture struct {
	store    *memStore
	audit    *fakeAudit
	seen     *fakeSeen
	svc      *PaymentService
	buyer    uuid.UUID
	template *model.Template
}

func newPaymentFixture(t *testing.T, secret string, verifyCallback bool) *paymentFixture {
	t.Helper()
	store := newMemStore()
	f := &paymentFixture{store: store, audit: &fakeAudit{}, seen: &fakeSeen{}, buyer: uuid.New()}
	f.svc = NewPaymentService(store, memPurchases{store}, memTemplates{store}, memUsers{store},
		paymob.NewVerifier(secret), f.seen, verifyCallback, f.audit, discardLogger())

	f.template = &model.Template{Title: "Landing page", Price: decimal.NewFromInt(50)}
	require.NoError(t, memTemplates{store}.Create(context.Background(), f.template))
	return f
}

func (f *paymentFixture) startPurchase(t *testing.T) (*model.Purchase, string) {
	t.Helper()
	p, merchantOrderID, err := f.svc.StartPurchase(context.Background(), f.buyer, f.template.ID)
	require.NoError(t, err)
	return p, merchantOrderID
}

func (f *paymentFixture) purchase(t *testing.T, id uuid.UUID) *model.Purchase {
	t.Helper()
	p, err := memPurchases{f.store}.GetByID(context.Background(), nil, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (f *paymentFixture) purchaseCount(t *testing.T) int {
	t.Helper()
	tmpl, err := memTemplates{f.store}.GetByID(context.Background(), f.template.ID)
	require.NoError(t, err)
	return tmpl.PurchaseCount
}

func (f *paymentFixture) owned(t *testing.T) []uuid.UUID {
	t.Helper()
	owned, err := memPurchases{f.store}.ListOwned(context.Background(), f.buyer)
	require.NoError(t, err)
	var ids []uuid.UUID
	for _, p := range owned {
		ids = append(ids, p.ID)
	}
	return ids
}

func webhookObj(txID int, orderID int, merchantOrderID string, success bool) map[string]any {
	return map[string]any{
		"amount_cents":           5000,
		"created_at":             "2024-03-01T12:00:00.000000",
		"currency":               "EGP",
		"error_occured":          false,
		"has_parent_transaction": false,
		"id":                     txID,
		"integration_id":         4097558,
		"is_3d_secure":           true,
		"is_auth":                false,
		"is_capture":             false,
		"is_refunded":            false,
		"is_standalone_payment":  true,
		"is_voided":              false,
		"order":                  map[string]any{"id": orderID, "merchant_order_id": merchantOrderID},
		"owner":                  302852,
		"pending":                false,
		"source_data":            map[string]any{"pan": "2346", "sub_type": "MasterCard", "type": "card"},
		"success":                success,
	}
}

func sign(obj map[string]any) string {
	return paymob.Sign(paymob.CanonicalString(obj), paymobSecret)
}

func callbackQuery(txID, orderID int, merchantOrderID string, success bool) url.Values {
	q := url.Values{}
	q.Set("amount_cents", "5000")
	q.Set("created_at", "2024-03-01T12:00:00.000000")
	q.Set("currency", "EGP")
	q.Set("error_occured", "false")
	q.Set("has_parent_transaction", "false")
	q.Set("id", strconv.Itoa(txID))
	q.Set("integration_id", "4097558")
	q.Set("is_3d_secure", "true")
	q.Set("is_auth", "false")
	q.Set("is_capture", "false")
	q.Set("is_refunded", "false")
	q.Set("is_standalone_payment", "true")
	q.Set("is_voided", "false")
	q.Set("order", strconv.Itoa(orderID))
	q.Set("merchant_order_id", merchantOrderID)
	q.Set("owner", "302852")
	q.Set("pending", "false")
	q.Set("source_data.pan", "2346")
	q.Set("source_data.sub_type", "MasterCard")
	q.Set("source_data.type", "card")
	q.Set("success", strconv.FormatBool(success))
	q.Set("hmac", paymob.Sign(paymob.CanonicalQueryString(q), paymobSecret))
	return q
}

func TestPaymentService_StartPurchase(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	p, merchantOrderID := f.startPurchase(t)

	assert.Equal(t, model.PaymentStatusPending, p.PaymentStatus)
	assert.Equal(t, model.PurchaseStatusPending, p.Status)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(50)))
	assert.True(t, strings.HasPrefix(merchantOrderID, p.ID.String()+"_"))

	_, _, err := f.svc.StartPurchase(context.Background(), f.buyer, uuid.New())
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestMerchantOrderID(t *testing.T) {
	id := uuid.MustParse("8f14e45f-ceea-467f-a8f0-1a3c2d4b5e6f")
	got := MerchantOrderID(id, time.UnixMilli(1690000000000))
	assert.Equal(t, "8f14e45f-ceea-467f-a8f0-1a3c2d4b5e6f_1690000000000", got)

	parsed, ok := paymob.Transaction{MerchantOrderID: got}.PurchaseID()
	require.True(t, ok)
	assert.Equal(t, id, parsed)
}

func TestPaymentService_HandleWebhook_PaidOnce(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	p, merchantOrderID := f.startPurchase(t)
	obj := webhookObj(1001, 555, merchantOrderID, true)

	require.NoError(t, f.svc.HandleWebhook(context.Background(), obj, sign(obj)))

	got := f.purchase(t, p.ID)
	assert.Equal(t, model.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, model.PurchaseStatusActive, got.Status)
	assert.Equal(t, "1001", got.PaymobTransactionID)
	assert.Equal(t, "555", got.PaymobOrderID)
	assert.Equal(t, 1, f.purchaseCount(t))
	assert.Equal(t, []uuid.UUID{p.ID}, f.owned(t))
	assert.True(t, f.seen.keys["paymob:webhook:1001:paid"])
}

func TestPaymentService_HandleWebhook_Redelivery(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	p, merchantOrderID := f.startPurchase(t)
	obj := webhookObj(1001, 555, merchantOrderID, true)

	require.NoError(t, f.svc.HandleWebhook(context.Background(), obj, sign(obj)))
	// Without the idempotency marker the conditional transition still holds.
	f.seen.keys = nil
	require.NoError(t, f.svc.HandleWebhook(context.Background(), obj, sign(obj)))
	require.NoError(t, f.svc.HandleWebhook(context.Background(), obj, sign(obj)))

	assert.Equal(t, 1, f.purchaseCount(t))
	assert.Equal(t, []uuid.UUID{p.ID}, f.owned(t))

	var paid int
	for _, e := range f.audit.events {
		if e.Details["payment_status"] == "paid" {
			paid++
		}
	}
	assert.Equal(t, 1, paid)
}

func TestPaymentService_HandleWebhook_IdempotencyLookupFailure(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	p, merchantOrderID := f.startPurchase(t)
	f.seen.seenErr = errBoom
	obj := webhookObj(1001, 555, merchantOrderID, true)

	require.NoError(t, f.svc.HandleWebhook(context.Background(), obj, sign(obj)))
	assert.Equal(t, model.PaymentStatusPaid, f.purchase(t, p.ID).PaymentStatus)
}

func TestPaymentService_HandleWebhook_BadSignature(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	p, merchantOrderID := f.startPurchase(t)
	obj := webhookObj(1001, 555, merchantOrderID, true)
	sig := sign(obj)
	obj["amount_cents"] = 1

	err := f.svc.HandleWebhook(context.Background(), obj, sig)
	require.ErrorIs(t, err, paymob.ErrInvalidSignature)

	assert.Equal(t, model.PaymentStatusPending, f.purchase(t, p.ID).PaymentStatus)
	assert.Zero(t, f.purchaseCount(t))
	assert.Empty(t, f.owned(t))
	assert.Empty(t, f.seen.keys)
}

func TestPaymentService_HandleWebhook_MissingSecret(t *testing.T) {
	f := newPaymentFixture(t, "", true)
	p, merchantOrderID := f.startPurchase(t)
	obj := webhookObj(1001, 555, merchantOrderID, true)

	err := f.svc.HandleWebhook(context.Background(), obj, sign(obj))
	require.ErrorIs(t, err, paymob.ErrSecretMissing)
	assert.Equal(t, model.PaymentStatusPending, f.purchase(t, p.ID).PaymentStatus)
}

func TestPaymentService_HandleWebhook_FallbackToPaymobOrderID(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	ctx := context.Background()
	p, _ := f.startPurchase(t)

	attached, err := f.svc.AttachPaymobOrder(ctx, f.buyer, p.ID, " 777 ")
	require.NoError(t, err)
	assert.Equal(t, "777", attached.PaymobOrderID)
	assert.Equal(t, "777", f.purchase(t, p.ID).PaymobOrderID)

	// The notification carries no merchant reference, only the provider order.
	obj := webhookObj(2002, 777, "", true)
	require.NoError(t, f.svc.HandleWebhook(ctx, obj, sign(obj)))

	assert.Equal(t, model.PaymentStatusPaid, f.purchase(t, p.ID).PaymentStatus)
	assert.Equal(t, 1, f.purchaseCount(t))
	assert.Equal(t, []uuid.UUID{p.ID}, f.owned(t))
}

func TestPaymentService_AttachPaymobOrder_Rejects(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	ctx := context.Background()
	p, merchantOrderID := f.startPurchase(t)

	_, err := f.svc.AttachPaymobOrder(ctx, f.buyer, p.ID, "  ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "paymobOrderId", verr.Details[0].Path)

	_, err = f.svc.AttachPaymobOrder(ctx, uuid.New(), p.ID, "777")
	assert.ErrorIs(t, err, ErrPurchaseNotFound)

	_, err = f.svc.AttachPaymobOrder(ctx, f.buyer, uuid.New(), "777")
	assert.ErrorIs(t, err, ErrPurchaseNotFound)

	obj := webhookObj(2003, 555, merchantOrderID, true)
	require.NoError(t, f.svc.HandleWebhook(ctx, obj, sign(obj)))

	_, err = f.svc.AttachPaymobOrder(ctx, f.buyer, p.ID, "999")
	assert.ErrorIs(t, err, ErrPurchaseNotPending)
	assert.Equal(t, "555", f.purchase(t, p.ID).PaymobOrderID)
}

func TestPaymentService_HandleWebhook_Unmapped(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	p, _ := f.startPurchase(t)

	obj := webhookObj(3003, 999, uuid.NewString()+"_1", true)
	require.NoError(t, f.svc.HandleWebhook(context.Background(), obj, sign(obj)))

	assert.Equal(t, model.PaymentStatusPending, f.purchase(t, p.ID).PaymentStatus)
	assert.Zero(t, f.purchaseCount(t))
}

func TestPaymentService_HandleWebhook_Failed(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	p, merchantOrderID := f.startPurchase(t)

	obj := webhookObj(4004, 555, merchantOrderID, false)
	require.NoError(t, f.svc.HandleWebhook(context.Background(), obj, sign(obj)))

	assert.Equal(t, model.PaymentStatusFailed, f.purchase(t, p.ID).PaymentStatus)
	assert.Zero(t, f.purchaseCount(t))
	assert.Empty(t, f.owned(t))

	// A later successful attempt for the same purchase still settles it.
	obj = webhookObj(4005, 555, merchantOrderID, true)
	require.NoError(t, f.svc.HandleWebhook(context.Background(), obj, sign(obj)))
	assert.Equal(t, model.PaymentStatusPaid, f.purchase(t, p.ID).PaymentStatus)
	assert.Equal(t, 1, f.purchaseCount(t))
}

func TestPaymentService_HandleWebhook_FailureAfterPaidIgnored(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	p, merchantOrderID := f.startPurchase(t)

	obj := webhookObj(5005, 555, merchantOrderID, true)
	require.NoError(t, f.svc.HandleWebhook(context.Background(), obj, sign(obj)))
	obj = webhookObj(5006, 555, merchantOrderID, false)
	require.NoError(t, f.svc.HandleWebhook(context.Background(), obj, sign(obj)))

	assert.Equal(t, model.PaymentStatusPaid, f.purchase(t, p.ID).PaymentStatus)
}

func TestPaymentService_HandleWebhook_PendingIgnored(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	p, merchantOrderID := f.startPurchase(t)

	obj := webhookObj(6006, 555, merchantOrderID, false)
	obj["pending"] = true
	require.NoError(t, f.svc.HandleWebhook(context.Background(), obj, sign(obj)))

	assert.Equal(t, model.PaymentStatusPending, f.purchase(t, p.ID).PaymentStatus)
}

func TestPaymentService_HandleCallback(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	p, merchantOrderID := f.startPurchase(t)

	res := f.svc.HandleCallback(context.Background(), callbackQuery(7007, 555, merchantOrderID, true))
	assert.Equal(t, CallbackResult{Success: true, PurchaseID: p.ID}, res)
	assert.Equal(t, model.PaymentStatusPaid, f.purchase(t, p.ID).PaymentStatus)
	assert.Equal(t, 1, f.purchaseCount(t))

	// The webhook for the same transaction arriving afterwards changes nothing.
	obj := webhookObj(7007, 555, merchantOrderID, true)
	require.NoError(t, f.svc.HandleWebhook(context.Background(), obj, sign(obj)))
	assert.Equal(t, 1, f.purchaseCount(t))
	assert.Len(t, f.owned(t), 1)

	// A stale failure redirect never downgrades a paid purchase.
	res = f.svc.HandleCallback(context.Background(), callbackQuery(7008, 555, merchantOrderID, false))
	assert.False(t, res.Success)
	assert.Equal(t, model.PaymentStatusPaid, f.purchase(t, p.ID).PaymentStatus)
}

func TestPaymentService_HandleCallback_Failure(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	p, merchantOrderID := f.startPurchase(t)

	res := f.svc.HandleCallback(context.Background(), callbackQuery(8008, 555, merchantOrderID, false))
	assert.Equal(t, CallbackResult{PurchaseID: p.ID}, res)
	assert.Equal(t, model.PaymentStatusFailed, f.purchase(t, p.ID).PaymentStatus)
}

func TestPaymentService_HandleCallback_Rejected(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	p, merchantOrderID := f.startPurchase(t)

	q := callbackQuery(9009, 555, merchantOrderID, true)
	q.Set("amount_cents", "1")

	res := f.svc.HandleCallback(context.Background(), q)
	assert.False(t, res.Success)
	assert.Equal(t, model.PaymentStatusPending, f.purchase(t, p.ID).PaymentStatus)

	res = f.svc.HandleCallback(context.Background(), callbackQuery(9010, 555, uuid.NewString()+"_1", true))
	assert.Equal(t, CallbackResult{}, res)
}

func TestPaymentService_HandleCallback_Unverified(t *testing.T) {
	f := newPaymentFixture(t, "", false)
	p, merchantOrderID := f.startPurchase(t)

	q := callbackQuery(1111, 555, merchantOrderID, true)
	q.Del("hmac")

	res := f.svc.HandleCallback(context.Background(), q)
	assert.True(t, res.Success)
	assert.Equal(t, model.PaymentStatusPaid, f.purchase(t, p.ID).PaymentStatus)
}

func TestPaymentService_OwnedAndDownloads(t *testing.T) {
	f := newPaymentFixture(t, paymobSecret, true)
	p, merchantOrderID := f.startPurchase(t)
	ctx := context.Background()

	_, err := f.svc.RecordDownload(ctx, f.buyer, p.ID)
	assert.ErrorIs(t, err, ErrPurchaseNotDownloadable)

	obj := webhookObj(1212, 555, merchantOrderID, true)
	require.NoError(t, f.svc.HandleWebhook(ctx, obj, sign(obj)))

	owned, err := f.svc.ListOwned(ctx, f.buyer)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, p.ID, owned[0].ID)

	got, err := f.svc.RecordDownload(ctx, f.buyer, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DownloadCount)
	assert.NotNil(t, got.LastDownloadedAt)

	_, err = f.svc.RecordDownload(ctx, uuid.New(), p.ID)
	assert.ErrorIs(t, err, ErrPurchaseNotFound)
	_, err = f.svc.RecordDownload(ctx, f.buyer, uuid.New())
	assert.ErrorIs(t, err, ErrPurchaseNotFound)
}
