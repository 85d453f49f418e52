package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flicky/template-storefront/internal/audit"
	"github.com/flicky/template-storefront/internal/model"
	"github.com/flicky/template-storefront/internal/repository"
)

// memStore is an in-memory stand-in for the Postgres repositories. WithinTx
// serializes transactions and rolls back every table when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products  map[uuid.UUID]*model.Product
	orders    map[uuid.UUID]*model.Order
	users     map[uuid.UUID]*model.User
	templates map[uuid.UUID]*model.Template
	purchases map[uuid.UUID]*model.Purchase
	owned     map[uuid.UUID][]uuid.UUID

	createOrderErr error
	getUserErr     error
	txRuns         int
}

func newMemStore() *memStore {
	return &memStore{
		products:  make(map[uuid.UUID]*model.Product),
		orders:    make(map[uuid.UUID]*model.Order),
		users:     make(map[uuid.UUID]*model.User),
		templates: make(map[uuid.UUID]*model.Template),
		purchases: make(map[uuid.UUID]*model.Purchase),
		owned:     make(map[uuid.UUID][]uuid.UUID),
	}
}

type memSnapshot struct {
	products  map[uuid.UUID]*model.Product
	orders    map[uuid.UUID]*model.Order
	templates map[uuid.UUID]*model.Template
	purchases map[uuid.UUID]*model.Purchase
	owned     map[uuid.UUID][]uuid.UUID
}

func (s *memStore) WithinTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	s.txRuns++
	snap := memSnapshot{
		products:  make(map[uuid.UUID]*model.Product, len(s.products)),
		orders:    make(map[uuid.UUID]*model.Order, len(s.orders)),
		templates: make(map[uuid.UUID]*model.Template, len(s.templates)),
		purchases: make(map[uuid.UUID]*model.Purchase, len(s.purchases)),
		owned:     make(map[uuid.UUID][]uuid.UUID, len(s.owned)),
	}
	for id, p := range s.products {
		snap.products[id] = cloneProduct(p)
	}
	for id, o := range s.orders {
		cp := *o
		snap.orders[id] = &cp
	}
	for id, t := range s.templates {
		cp := *t
		snap.templates[id] = &cp
	}
	for id, p := range s.purchases {
		cp := *p
		snap.purchases[id] = &cp
	}
	for id, set := range s.owned {
		snap.owned[id] = slices.Clone(set)
	}
	s.mu.Unlock()

	if err := fn(nil); err != nil {
		s.mu.Lock()
		s.products, s.orders, s.templates = snap.products, snap.orders, snap.templates
		s.purchases, s.owned = snap.purchases, snap.owned
		s.mu.Unlock()
		return err
	}
	return nil
}

func cloneProduct(p *model.Product) *model.Product {
	cp := *p
	cp.Variants = slices.Clone(p.Variants)
	return &cp
}

func (s *memStore) addProduct(name string, variants ...model.Variant) *model.Product {
	p := &model.Product{ID: uuid.New(), Name: name, Variants: variants}
	for i := range p.Variants {
		if p.Variants[i].ID == uuid.Nil {
			p.Variants[i].ID = uuid.New()
		}
	}
	s.mu.Lock()
	s.products[p.ID] = cloneProduct(p)
	s.mu.Unlock()
	return p
}

func (s *memStore) variantQty(productID, variantID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.products[productID].Variant(variantID)
	return v.Quantity
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// --- products ---

type memProducts struct{ *memStore }

func (m memProducts) Create(_ context.Context, p *model.Product) error {
	*p = *m.addProduct(p.Name, p.Variants...)
	return nil
}

func (m memProducts) GetWithVariants(_ context.Context, _ pgx.Tx, id uuid.UUID) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return cloneProduct(p), nil
}

func (m memProducts) TryDecrementVariant(_ context.Context, _ pgx.Tx, productID, variantID uuid.UUID, amount int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return false, nil
	}
	v, ok := p.Variant(variantID)
	if !ok || v.Quantity < amount {
		return false, nil
	}
	v.Quantity -= amount
	return true, nil
}

// --- orders ---

type memOrders struct{ *memStore }

func (m memOrders) Create(_ context.Context, _ pgx.Tx, o *model.Order) error {
	if m.createOrderErr != nil {
		return m.createOrderErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = uuid.New()
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	for i := range o.Items {
		o.Items[i].ID = uuid.New()
		o.Items[i].OrderID = o.ID
	}
	cp := *o
	cp.Items = slices.Clone(o.Items)
	m.orders[o.ID] = &cp
	return nil
}

func (m memOrders) GetByID(_ context.Context, id uuid.UUID) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m memOrders) UpdateState(_ context.Context, id uuid.UUID, state model.OrderState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.State = state
	return nil
}

func (m memOrders) UpdatePaymentStatus(_ context.Context, id uuid.UUID, status model.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.PaymentStatus = status
	return nil
}

// --- users ---

type memUsers struct{ *memStore }

func (m memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return repository.ErrDuplicateEmail
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m memUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	if m.getUserErr != nil {
		return nil, m.getUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (m memUsers) AddPurchasedTemplate(_ context.Context, _ pgx.Tx, userID, purchaseID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Contains(m.owned[userID], purchaseID) {
		return false, nil
	}
	m.owned[userID] = append(m.owned[userID], purchaseID)
	return true, nil
}

// --- templates ---

type memTemplates struct{ *memStore }

func (m memTemplates) Create(_ context.Context, t *model.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	cp := *t
	m.templates[t.ID] = &cp
	return nil
}

func (m memTemplates) GetByID(_ context.Context, id uuid.UUID) (*model.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m memTemplates) IncrementPurchaseCount(_ context.Context, _ pgx.Tx, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return repository.ErrTemplateNotFound
	}
	t.PurchaseCount++
	return nil
}

// --- purchases ---

type memPurchases struct{ *memStore }

func (m memPurchases) Create(_ context.Context, p *model.Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.purchases[p.ID] = &cp
	return nil
}

func (m memPurchases) GetByID(_ context.Context, _ pgx.Tx, id uuid.UUID) (*model.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m memPurchases) GetByPaymobOrderID(_ context.Context, _ pgx.Tx, paymobOrderID string) (*model.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if p.PaymobOrderID == paymobOrderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m memPurchases) SetPaymobOrderID(_ context.Context, id, userID uuid.UUID, paymobOrderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok || p.UserID != userID || p.PaymentStatus != model.PaymentStatusPending {
		return false, nil
	}
	p.PaymobOrderID = paymobOrderID
	return true, nil
}

func (m memPurchases) MarkPaid(_ context.Context, _ pgx.Tx, id uuid.UUID, paymobOrderID, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok || p.PaymentStatus == model.PaymentStatusPaid {
		return false, nil
	}
	p.PaymentStatus = model.PaymentStatusPaid
	p.Status = model.PurchaseStatusActive
	p.PaymobTransactionID = transactionID
	if p.PaymobOrderID == "" {
		p.PaymobOrderID = paymobOrderID
	}
	return true, nil
}

func (m memPurchases) MarkFailed(_ context.Context, _ pgx.Tx, id uuid.UUID, from ...model.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok || !slices.Contains(from, p.PaymentStatus) {
		return false, nil
	}
	p.PaymentStatus = model.PaymentStatusFailed
	return true, nil
}

func (m memPurchases) ListOwned(_ context.Context, userID uuid.UUID) ([]model.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Purchase
	for _, id := range m.owned[userID] {
		if p, ok := m.purchases[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m memPurchases) RecordDownload(_ context.Context, id, userID uuid.UUID) (*model.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok || p.UserID != userID || p.PaymentStatus != model.PaymentStatusPaid {
		return nil, nil
	}
	p.DownloadCount++
	now := time.Now()
	p.LastDownloadedAt = &now
	cp := *p
	return &cp, nil
}

// --- side effects ---

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []any
	err    error
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, _ string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, payload)
	return nil
}

func (f *fakeBroadcaster) last() model.NewOrderEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1].(model.NewOrderEvent)
}

type fakeAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (f *fakeAudit) LogEvent(_ context.Context, _ string, e audit.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

type fakeSeen struct {
	keys    map[string]bool
	seenErr error
}

func (f *fakeSeen) Seen(_ context.Context, key string) (bool, error) {
	if f.seenErr != nil {
		return false, f.seenErr
	}
	return f.keys[key], nil
}

func (f *fakeSeen) Mark(_ context.Context, key string) error {
	if f.keys == nil {
		f.keys = make(map[string]bool)
	}
	f.keys[key] = true
	return nil
}

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
