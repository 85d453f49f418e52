package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/flicky/template-storefront/internal/audit"
	"github.com/flicky/template-storefront/internal/broadcast"
	"github.com/flicky/template-storefront/internal/dto"
	"github.com/flicky/template-storefront/internal/model"
	"github.com/flicky/template-storefront/internal/repository"
)

const guestName = "Guest"

// Broadcaster pushes real-time events to connected admin clients.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, payload any) error
}

type AuditLogger interface {
	LogEvent(ctx context.Context, kind string, e audit.Event)
}

// Caller identifies the authenticated user behind a request. A nil *Caller
// is a guest.
type Caller struct {
	UserID  uuid.UUID
	IsAdmin bool
}

func (c *Caller) actor() string {
	if c == nil {
		return "guest"
	}
	return c.UserID.String()
}

type OrderService struct {
	tx       repository.Transactor
	products repository.ProductRepository
	orders   repository.OrderRepository
	users    repository.UserRepository
	events   Broadcaster
	audit    AuditLogger
	log      *slog.Logger
}

func NewOrderService(tx repository.Transactor, products repository.ProductRepository, orders repository.OrderRepository,
	users repository.UserRepository, events Broadcaster, auditLog AuditLogger, log *slog.Logger) *OrderService {
	return &OrderService{
		tx: tx, products: products, orders: orders, users: users,
		events: events, audit: auditLog, log: log,
	}
}

// PlaceOrder reserves stock for every line and persists the order in a single
// transaction. Either every decrement and the order insert commit together or
// nothing changes. The broadcast and audit record happen after commit and
// never fail the order.
func (s *OrderService) PlaceOrder(ctx context.Context, caller *Caller, req dto.CreateOrderRequest) (*model.Order, error) {
	owner, err := resolveOwner(caller, req.UserID)
	if err != nil {
		return nil, err
	}
	items, err := NormalizeItems(req.Products)
	if err != nil {
		return nil, err
	}
	draft, err := newOrderDraft(owner, req, items)
	if err != nil {
		return nil, err
	}

	var order *model.Order
	err = s.tx.WithinTx(ctx, func(tx pgx.Tx) error {
		// The closure may run again on a serialization retry, so every
		// attempt works on a fresh copy of the draft.
		o := *draft
		o.Items = make([]model.OrderItem, len(draft.Items))
		copy(o.Items, draft.Items)

		for i := range o.Items {
			if err := s.reserve(ctx, tx, &o.Items[i]); err != nil {
				return err
			}
		}
		if err := s.orders.Create(ctx, tx, &o); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		order = &o
		return nil
	})
	if err != nil {
		s.audit.LogEvent(ctx, "order", audit.Event{
			Actor:   caller.actor(),
			Action:  "create",
			Result:  audit.ResultFailure,
			Details: map[string]any{"error": err.Error(), "items": len(items)},
		})
		return nil, err
	}

	s.announce(context.WithoutCancel(ctx), caller, order)
	return order, nil
}

// reserve resolves the variant an item refers to and takes its quantity from
// stock with a conditional decrement. On success the item carries the
// resolved variant's id and attributes.
func (s *OrderService) reserve(ctx context.Context, tx pgx.Tx, item *model.OrderItem) error {
	product, err := s.products.GetWithVariants(ctx, tx, item.ProductID)
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}
	if product == nil {
		return &NotFoundError{Resource: "product", ID: item.ProductID}
	}
	// Products without variants carry no stock.
	if len(product.Variants) == 0 {
		return nil
	}

	variant := resolveVariant(product, item)
	if variant == nil {
		return NewValidationError(fmt.Errorf("%w for %q", ErrInvalidVariant, product.Name), FieldError{
			Path:    "products." + item.ProductID.String() + ".variantId",
			Message: "missing or invalid variant selection",
			Code:    "invalid_variant",
		})
	}

	ok, err := s.products.TryDecrementVariant(ctx, tx, product.ID, variant.ID, item.Quantity)
	if err != nil {
		return err
	}
	if !ok {
		return s.explainMiss(ctx, tx, product, variant, item.Quantity)
	}

	id := variant.ID
	item.VariantID = &id
	if item.Size == "" {
		item.Size = variant.Size
	}
	if item.Color == "" {
		item.Color = variant.Color
	}
	if item.SKU == "" {
		item.SKU = variant.SKU
	}
	return nil
}

// explainMiss re-reads the product after a failed decrement to tell a vanished
// variant apart from plain insufficient stock.
func (s *OrderService) explainMiss(ctx context.Context, tx pgx.Tx, product *model.Product, variant *model.Variant, requested int) error {
	current, err := s.products.GetWithVariants(ctx, tx, product.ID)
	if err != nil {
		return fmt.Errorf("reload product: %w", err)
	}
	if current == nil {
		return &NotFoundError{Resource: "product", ID: product.ID, Name: product.Name}
	}
	v, found := current.Variant(variant.ID)
	if !found {
		return &NotFoundError{Resource: "variant", ID: variant.ID, Name: product.Name}
	}
	return &InsufficientStockError{
		ProductID:   product.ID,
		ProductName: product.Name,
		VariantID:   v.ID,
		Size:        v.Size,
		Color:       v.Color,
		Available:   v.Quantity,
		Requested:   requested,
	}
}

// resolveVariant prefers an explicit variant id; otherwise it matches on
// whichever of size and color the item specifies.
func resolveVariant(product *model.Product, item *model.OrderItem) *model.Variant {
	if item.VariantID != nil {
		if v, ok := product.Variant(*item.VariantID); ok {
			return v
		}
	}
	if item.Size == "" && item.Color == "" {
		return nil
	}
	for i := range product.Variants {
		v := &product.Variants[i]
		if item.Size != "" && !strings.EqualFold(v.Size, item.Size) {
			continue
		}
		if item.Color != "" && !strings.EqualFold(v.Color, item.Color) {
			continue
		}
		return v
	}
	return nil
}

func (s *OrderService) announce(ctx context.Context, caller *Caller, order *model.Order) {
	event := model.NewOrderEvent{
		OrderID:       order.ID,
		TotalPrice:    order.TotalPrice,
		OrderState:    order.State,
		PaymentStatus: order.PaymentStatus,
		CreatedAt:     order.CreatedAt,
	}
	if order.UserID != nil {
		user, err := s.users.GetByID(ctx, *order.UserID)
		if err != nil {
			s.log.Warn("lookup order customer", "order_id", order.ID, "error", err)
		}
		if user != nil {
			event.CustomerName = user.DisplayName()
			event.CustomerEmail = user.Email
		}
	}
	if order.Address != nil {
		if event.CustomerName == "" {
			event.CustomerName = order.Address.Name
		}
		event.CustomerPhone = order.Address.Phone
	}
	if event.CustomerName == "" {
		event.CustomerName = guestName
	}

	if err := s.events.Broadcast(ctx, broadcast.EventNewOrder, event); err != nil {
		s.log.Warn("broadcast new order", "order_id", order.ID, "error", err)
	}
	s.audit.LogEvent(ctx, "order", audit.Event{
		Actor:    caller.actor(),
		Resource: "order:" + order.ID.String(),
		Action:   "create",
		Result:   audit.ResultSuccess,
		Details: map[string]any{
			"items":          len(order.Items),
			"total_price":    order.TotalPrice.String(),
			"payment_method": string(order.PaymentMethod),
		},
	})
	s.log.Info("order placed", "order_id", order.ID, "items", len(order.Items), "total", order.TotalPrice.String())
}

// resolveOwner decides which user an order belongs to. Guests may not name an
// owner and customers may only name themselves.
func resolveOwner(caller *Caller, requested *uuid.UUID) (*uuid.UUID, error) {
	if caller == nil {
		if requested != nil {
			return nil, &AuthorizationError{Reason: "guests cannot place orders for a user account"}
		}
		return nil, nil
	}
	if requested == nil || *requested == caller.UserID {
		id := caller.UserID
		return &id, nil
	}
	if !caller.IsAdmin {
		return nil, &AuthorizationError{Reason: "cannot place an order for another user"}
	}
	id := *requested
	return &id, nil
}

func newOrderDraft(owner *uuid.UUID, req dto.CreateOrderRequest, items []model.OrderItem) (*model.Order, error) {
	method := model.PaymentMethod(req.PaymentMethod)
	if method == "" {
		method = model.PaymentMethodCashOnDelivery
	}
	if !method.Valid() {
		return nil, NewValidationError(fmt.Errorf("unknown payment method %q", req.PaymentMethod), FieldError{
			Path: "paymentMethod", Message: "must be cash_on_delivery or paymob", Code: "invalid_enum",
		})
	}

	order := &model.Order{
		UserID:              owner,
		AddressID:           req.AddressID,
		Items:               items,
		ShippingFee:         req.ShippingFee.Or(decimal.Zero),
		PromoCode:           strings.TrimSpace(req.PromoCode),
		DiscountAmount:      req.DiscountAmount.Or(decimal.Zero),
		DiscountPercentage:  req.DiscountPercentage.Or(decimal.Zero),
		State:               model.OrderStatePending,
		PaymentMethod:       method,
		PaymentStatus:       model.PaymentStatusPending,
		PaymobOrderID:       string(req.PaymobOrderID),
		PaymobTransactionID: string(req.PaymobTransactionID),
	}
	if req.Address != nil {
		order.Address = &model.Address{
			Name: req.Address.Name, Phone: req.Address.Phone,
			Address: req.Address.Address, City: req.Address.City, State: req.Address.State,
		}
	}
	order.TotalPrice = req.TotalPrice.Or(itemsTotal(items).Add(order.ShippingFee).Sub(order.DiscountAmount))

	if order.TotalPrice.IsNegative() {
		return nil, NewValidationError(errors.New("total price must not be negative"), FieldError{
			Path: "totalPrice", Message: "must not be negative", Code: "too_small",
		})
	}
	if err := order.Validate(); err != nil {
		return nil, orderValidationError(err)
	}
	return order, nil
}

func itemsTotal(items []model.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

func orderValidationError(err error) error {
	field := FieldError{Message: err.Error(), Code: "invalid"}
	switch {
	case errors.Is(err, model.ErrAddressNotExclusive):
		field.Path, field.Code = "address", "address_exclusive"
	case errors.Is(err, model.ErrOrderWithoutItems):
		field.Path, field.Code = "products", "too_small"
	case errors.Is(err, model.ErrInvalidItemQuantity):
		field.Path = "products.quantity"
	case errors.Is(err, model.ErrInvalidItemPrice):
		field.Path = "products.price"
	}
	return NewValidationError(err, field)
}

// GetOrder returns an order to its owner or to an admin.
func (s *OrderService) GetOrder(ctx context.Context, caller *Caller, id uuid.UUID) (*model.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if caller == nil {
		return nil, ErrOrderAccessDenied
	}
	if !caller.IsAdmin && (order.UserID == nil || *order.UserID != caller.UserID) {
		return nil, ErrOrderAccessDenied
	}
	return order, nil
}

func (s *OrderService) UpdateState(ctx context.Context, caller *Caller, id uuid.UUID, state string) (*model.Order, error) {
	st := model.OrderState(state)
	if !st.Valid() {
		return nil, NewValidationError(fmt.Errorf("unknown order state %q", state), FieldError{
			Path: "orderState", Message: "unknown order state", Code: "invalid_enum",
		})
	}
	if err := s.orders.UpdateState(ctx, id, st); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	s.audit.LogEvent(ctx, "order", audit.Event{
		Actor: caller.actor(), Resource: "order:" + id.String(),
		Action: "update_state", Result: audit.ResultSuccess,
		Details: map[string]any{"order_state": state},
	})
	return s.GetOrder(ctx, caller, id)
}

func (s *OrderService) UpdatePaymentStatus(ctx context.Context, caller *Caller, id uuid.UUID, status string) (*model.Order, error) {
	ps := model.PaymentStatus(status)
	if !ps.Valid() {
		return nil, NewValidationError(fmt.Errorf("unknown payment status %q", status), FieldError{
			Path: "paymentStatus", Message: "unknown payment status", Code: "invalid_enum",
		})
	}
	if err := s.orders.UpdatePaymentStatus(ctx, id, ps); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	s.audit.LogEvent(ctx, "order", audit.Event{
		Actor: caller.actor(), Resource: "order:" + id.String(),
		Action: "update_payment_status", Result: audit.ResultSuccess,
		Details: map[string]any{"payment_status": status},
	})
	return s.GetOrder(ctx, caller, id)
}
